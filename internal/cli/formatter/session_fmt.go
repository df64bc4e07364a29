package formatter

import (
	"fmt"
	"strings"
	"time"

	"github.com/alexanderramin/blueprint/internal/conversation"
	"github.com/alexanderramin/blueprint/internal/domain"
	"github.com/alexanderramin/blueprint/internal/repository"
)

const progressWidth = 20

// FormatResult renders the outcome of one event.
func FormatResult(res conversation.Result) string {
	var b strings.Builder

	head := OutcomeBadge(res.Outcome)
	if !res.Step.IsZero() {
		head += "  " + Bold(res.Step.String())
	}
	if res.Source != "" {
		head += "  " + SourceBadge(res.Source)
	}
	b.WriteString(head + "\n")

	switch {
	case res.Detail == "" || res.Detail == res.Message:
	case res.Outcome == conversation.OutcomeRejected || res.Outcome == conversation.OutcomeStale:
		b.WriteString(StyleRed.Render(res.Detail) + "\n")
	default:
		b.WriteString(StyleBlue.Render(res.Detail) + "\n")
	}
	for _, is := range res.Issues {
		b.WriteString(SeverityColor(is.Severity).Render("  ! "+is.Message) + "\n")
	}
	for _, sf := range res.Shortfalls {
		b.WriteString(StyleYellow.Render("  - "+sf.String()) + "\n")
	}
	for _, s := range res.Suggestions {
		b.WriteString(Dim("  › "+s) + "\n")
	}
	if res.Message != "" {
		b.WriteString("\n" + res.Message + "\n")
	}
	if res.MicroFlow != nil {
		b.WriteString("\n" + FormatMicroFlow(*res.MicroFlow))
	}
	if res.Recap != nil {
		b.WriteString("\n" + FormatRecap(*res.Recap) + "\n")
	}
	if res.Warning != "" {
		b.WriteString("\n" + StyleYellow.Render("warning: "+res.Warning) + "\n")
	}
	if len(res.NextActions) > 0 {
		b.WriteString("\n" + Dim("next: "+strings.Join(res.NextActions, ", ")) + "\n")
	}
	b.WriteString(RenderProgress(res.Progress, progressWidth) + "\n")
	return b.String()
}

// FormatMicroFlow lists the working and suggested items of a compound step.
func FormatMicroFlow(mf domain.MicroFlowState) string {
	var b strings.Builder
	mode := string(mf.Mode)
	if mf.Mode == domain.ModeRefining && mf.RefineIndex >= 0 && mf.RefineIndex < len(mf.Working) {
		mode = fmt.Sprintf("%s item %d", mode, mf.RefineIndex+1)
	}
	b.WriteString(fmt.Sprintf("%s %s\n", StyleHeader.Render("WORKING ITEMS"), Dim("("+mode+")")))
	if len(mf.Working) == 0 {
		b.WriteString(Dim("  none yet") + "\n")
	} else {
		b.WriteString(FormatItems(mf.Working))
	}
	if dropped := missingSuggestions(mf); len(dropped) > 0 {
		b.WriteString(StyleHeader.Render("SUGGESTED") + "\n")
		for _, i := range dropped {
			it := mf.Suggested[i]
			b.WriteString(fmt.Sprintf("  %s %s %s\n", Dim(fmt.Sprintf("s%d.", i+1)), groupTag(it.Group), it.Title))
		}
	}
	return b.String()
}

// missingSuggestions returns indexes of suggestions no longer in the working set.
func missingSuggestions(mf domain.MicroFlowState) []int {
	have := map[string]bool{}
	for _, it := range mf.Working {
		have[it.ID] = true
	}
	var out []int
	for i, it := range mf.Suggested {
		if !have[it.ID] {
			out = append(out, i)
		}
	}
	return out
}

// FormatItems renders items as a 1-based numbered list.
func FormatItems(items []domain.Item) string {
	var b strings.Builder
	for i, it := range items {
		line := fmt.Sprintf("  %2d. %s %s", i+1, groupTag(it.Group), it.Title)
		if it.Description != "" {
			line += Dim(" · " + it.Description)
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func groupTag(g domain.ItemGroup) string {
	if g == "" {
		return ""
	}
	return StyleBlue.Render("[" + string(g) + "]")
}

// FormatSession renders every step of the workflow with its captured value.
func FormatSession(sess *domain.Session, p conversation.Progress) string {
	var b strings.Builder
	b.WriteString(Header("Session "+sess.ID) + "\n")
	b.WriteString(RenderProgress(p, progressWidth) + "\n")

	current := sess.CurrentRef()
	for _, stage := range domain.Stages() {
		b.WriteString("\n" + StyleHeader.Render(fmt.Sprintf("%d. %s", stage.Ordinal, stage.Title)) + "\n")
		for _, step := range stage.Steps {
			ref := domain.StepRef{Stage: stage.ID, Step: step.ID}
			marker := "  "
			if ref == current {
				marker = StyleGreen.Render("▸ ")
			}
			b.WriteString(marker + Bold(step.Title) + "  " + formatValue(sess.Record, ref) + "\n")
			if v, ok := sess.Record.Get(ref); ok && len(v.Items) > 0 {
				b.WriteString(FormatItems(v.Items))
			}
		}
	}
	if sess.MicroFlow != nil {
		b.WriteString("\n" + FormatMicroFlow(*sess.MicroFlow))
	}
	if sess.Complete() {
		b.WriteString("\n" + StyleGreen.Render("✔ Blueprint complete") + "\n")
	}
	return b.String()
}

func formatValue(rec domain.Record, ref domain.StepRef) string {
	v, ok := rec.Get(ref)
	switch {
	case !ok:
		return Dim("(pending)")
	case v.Skipped:
		return Dim("(skipped)")
	case len(v.Items) > 0:
		return Dim(fmt.Sprintf("%d items, %s", len(v.Items), v.Method))
	default:
		return v.Text
	}
}

// FormatRecap renders one stage recap in a box.
func FormatRecap(r domain.StageRecap) string {
	title := string(r.Stage)
	if st, _, ok := domain.LookupStage(r.Stage); ok {
		title = st.Title + " recap"
	}
	return RenderBox(title, r.Summary)
}

// FormatRecaps renders recaps in stage order, or a placeholder when empty.
func FormatRecaps(recaps []domain.StageRecap) string {
	if len(recaps) == 0 {
		return Dim("No stages completed yet.") + "\n"
	}
	parts := make([]string, 0, len(recaps))
	for _, r := range recaps {
		parts = append(parts, FormatRecap(r))
	}
	return strings.Join(parts, "\n") + "\n"
}

// FormatSessionList renders stored sessions as a table.
func FormatSessionList(list []repository.SessionSummary, now time.Time) string {
	if len(list) == 0 {
		return Dim("No sessions found.") + "\n"
	}
	rows := make([][]string, 0, len(list))
	for _, s := range list {
		state := StyleYellow.Render("○ open")
		if s.Complete {
			state = StyleGreen.Render("✔ done")
		}
		step := string(s.Step)
		if step == "" {
			step = "-"
		}
		rows = append(rows, []string{
			s.ID,
			string(s.Stage),
			step,
			state,
			HumanTimestamp(s.UpdatedAt, now),
		})
	}
	return RenderTable([]string{"ID", "STAGE", "STEP", "STATE", "UPDATED"}, rows)
}
