package cli

import (
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/alexanderramin/blueprint/internal/cli/formatter"
	"github.com/alexanderramin/blueprint/internal/domain"
)

// blueprintHuhTheme matches huh forms to the formatter palette.
func blueprintHuhTheme() *huh.Theme {
	t := huh.ThemeBase()

	t.Focused.Title = lipgloss.NewStyle().Foreground(formatter.ColorHeader).Bold(true)
	t.Focused.SelectSelector = lipgloss.NewStyle().Foreground(formatter.ColorHeader)
	t.Focused.SelectedOption = lipgloss.NewStyle().Foreground(formatter.ColorGreen)
	t.Focused.UnselectedOption = lipgloss.NewStyle().Foreground(formatter.ColorFg)
	t.Focused.FocusedButton = lipgloss.NewStyle().Foreground(formatter.ColorFg).Background(formatter.ColorHeader).Padding(0, 1)
	t.Focused.BlurredButton = lipgloss.NewStyle().Foreground(formatter.ColorDim).Padding(0, 1)
	t.Focused.Description = lipgloss.NewStyle().Foreground(formatter.ColorDim)

	t.Blurred.Title = lipgloss.NewStyle().Foreground(formatter.ColorDim)
	t.Blurred.SelectSelector = lipgloss.NewStyle().Foreground(formatter.ColorDim)
	t.Blurred.SelectedOption = lipgloss.NewStyle().Foreground(formatter.ColorDim)
	t.Blurred.UnselectedOption = lipgloss.NewStyle().Foreground(formatter.ColorDim)

	return t
}

func huhConfirm(title string) (bool, error) {
	var ok bool
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Affirmative("Yes").
				Negative("No").
				Value(&ok),
		),
	).WithTheme(blueprintHuhTheme()).WithShowHelp(false).Run()
	return ok, err
}

func huhPickStep(title string, options []domain.StepRef) (domain.StepRef, error) {
	opts := make([]huh.Option[domain.StepRef], 0, len(options))
	for _, ref := range options {
		label := ref.String()
		if step, ok := domain.LookupStep(ref); ok {
			label = step.Title + "  " + formatter.Dim(ref.String())
		}
		opts = append(opts, huh.NewOption(label, ref))
	}

	var picked domain.StepRef
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[domain.StepRef]().
				Title(title).
				Options(opts...).
				Value(&picked),
		),
	).WithTheme(blueprintHuhTheme()).WithShowHelp(false).Run()
	return picked, err
}
