package formatter

import (
	"fmt"
	"strings"

	"github.com/alexanderramin/blueprint/internal/conversation"
)

const (
	filledBlock = "█"
	emptyBlock  = "░"
)

// RenderBar renders a bar like [████░░░░] 45%. The bar is green above 66%,
// yellow from 33% and red below.
func RenderBar(pct int, width int) string {
	pct = min(max(pct, 0), 100)
	width = max(width, 2)

	filled := pct * width / 100
	bar := strings.Repeat(filledBlock, filled) + strings.Repeat(emptyBlock, width-filled)

	style := StyleGreen
	switch {
	case pct < 33:
		style = StyleRed
	case pct < 66:
		style = StyleYellow
	}
	return fmt.Sprintf("[%s] %3d%%", style.Render(bar), pct)
}

// RenderProgress renders the bar plus the step ordinal and stage.
func RenderProgress(p conversation.Progress, width int) string {
	return fmt.Sprintf("%s  %s %d/%d  %s",
		RenderBar(p.Percentage, width),
		Dim("step"), p.CurrentOrdinal, p.TotalOrdinals,
		StylePurple.Render(string(p.CurrentStageID)),
	)
}
