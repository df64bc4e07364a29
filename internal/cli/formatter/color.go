package formatter

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/alexanderramin/blueprint/internal/conversation"
	"github.com/alexanderramin/blueprint/internal/intelligence"
	"github.com/alexanderramin/blueprint/internal/validation"
)

// Gruvbox-inspired color palette.
var (
	ColorGreen  = lipgloss.Color("#8ec07c")
	ColorYellow = lipgloss.Color("#fabd2f")
	ColorRed    = lipgloss.Color("#fb4934")
	ColorBlue   = lipgloss.Color("#83a598")
	ColorPurple = lipgloss.Color("#d3869b")
	ColorDim    = lipgloss.Color("#928374")
	ColorFg     = lipgloss.Color("#ebdbb2")
	ColorHeader = lipgloss.Color("#fe8019")
)

// Predefined lipgloss styles.
var (
	StyleGreen  = lipgloss.NewStyle().Foreground(ColorGreen)
	StyleYellow = lipgloss.NewStyle().Foreground(ColorYellow)
	StyleRed    = lipgloss.NewStyle().Foreground(ColorRed)
	StyleBlue   = lipgloss.NewStyle().Foreground(ColorBlue)
	StylePurple = lipgloss.NewStyle().Foreground(ColorPurple)
	StyleDim    = lipgloss.NewStyle().Foreground(ColorDim)
	StyleFg     = lipgloss.NewStyle().Foreground(ColorFg)
	StyleHeader = lipgloss.NewStyle().Foreground(ColorHeader).Bold(true)
	StyleBold   = lipgloss.NewStyle().Foreground(ColorFg).Bold(true)
)

// OutcomeBadge returns a colored label for an event outcome.
func OutcomeBadge(o conversation.Outcome) string {
	switch o {
	case conversation.OutcomeAdvanced, conversation.OutcomeCompleted, conversation.OutcomeStarted:
		return StyleGreen.Render("● " + strings.ToUpper(string(o)))
	case conversation.OutcomeUpdated, conversation.OutcomeEdited, conversation.OutcomeReset:
		return StyleBlue.Render("● " + strings.ToUpper(string(o)))
	case conversation.OutcomeStayed:
		return StyleYellow.Render("○ STAYED")
	case conversation.OutcomeRejected, conversation.OutcomeStale:
		return StyleRed.Render("✖ " + strings.ToUpper(string(o)))
	default:
		return StyleDim.Render(string(o))
	}
}

// SourceBadge marks whether a message came from the language model or the
// built-in fallback.
func SourceBadge(src intelligence.Source) string {
	if src == intelligence.SourceLLM {
		return StylePurple.Render("llm")
	}
	return StyleDim.Render(string(src))
}

// SeverityColor returns the style for a validation issue.
func SeverityColor(sev validation.Severity) lipgloss.Style {
	switch sev {
	case validation.SeverityError:
		return StyleRed
	case validation.SeverityWarning:
		return StyleYellow
	default:
		return StyleBlue
	}
}

// Header renders a section header with the orange header style and an underline.
func Header(text string) string {
	upper := strings.ToUpper(text)
	line := strings.Repeat("─", lipgloss.Width(upper))
	return fmt.Sprintf("%s\n%s", StyleHeader.Render(upper), StyleDim.Render(line))
}

// Dim renders text in the muted/dim color.
func Dim(text string) string {
	return StyleDim.Render(text)
}

// Bold renders text in bold with the foreground color.
func Bold(text string) string {
	return StyleBold.Render(text)
}
