package intelligence

import (
	"fmt"
	"strings"

	"github.com/alexanderramin/blueprint/internal/domain"
	"github.com/alexanderramin/blueprint/internal/validation"
)

// stepPrompts are the fixed questions asked for each step.
var stepPrompts = map[domain.StepID]string{
	domain.StepBigIdea:           "What is the big idea? Describe the concept students should understand by the end, in a sentence or two.",
	domain.StepEssentialQuestion: "What essential question drives the project? Open-ended questions starting with \"How might\" or \"Why\" work best.",
	domain.StepChallenge:         "What authentic challenge will students take on? Lead with the action (design, build, investigate...) and say who it is for.",
	domain.StepDuration:          "How long will the project run? For example \"6 weeks\" or \"one semester\".",
	domain.StepPhases:            "Let's break the project into phases. Review the suggestions, then refine, rename, reorder or accept them.",
	domain.StepResources:         "What resources will you need: materials, partners, tools or spaces? You can skip this step.",
	domain.StepDeliverables:      "Now the outputs: milestones to check progress, artifacts students create, and the criteria you will assess.",
	domain.StepExhibition:        "How will students share their final work, and with whom?",
}

// StepPrompt returns the deterministic question for ref.
func StepPrompt(ref domain.StepRef) string {
	if p, ok := stepPrompts[ref.Step]; ok {
		return p
	}
	return "What would you like to add?"
}

// DeterministicMessage builds the template reply for req. It never fails and
// depends only on req.
func DeterministicMessage(req ComposeRequest) Composition {
	var b strings.Builder
	switch req.Action {
	case ComposeWelcome:
		b.WriteString("Welcome! We'll design your project in three stages: Foundation, Plan and Outputs. ")
		writeStageIntro(&b, req.Step)
		b.WriteString(StepPrompt(req.Step))
	case ComposeRetry:
		writeIssues(&b, req.Issues, req.Hints)
		b.WriteString(StepPrompt(req.Step))
	case ComposeAdvanced, ComposeSkipped:
		if req.Action == ComposeSkipped {
			fmt.Fprintf(&b, "Skipped %s. ", stepTitle(req.Previous))
		} else {
			b.WriteString("Got it. ")
		}
		if req.Recap != nil {
			fmt.Fprintf(&b, "That wraps up %s. %s ", stageTitle(req.Recap.Stage), req.Recap.Summary)
			writeStageIntro(&b, req.Step)
		}
		b.WriteString(StepPrompt(req.Step))
	case ComposeEdit:
		fmt.Fprintf(&b, "Back to %s. ", stepTitle(req.Step))
		if prev := describeValue(req.Record, req.Step); prev != "" {
			fmt.Fprintf(&b, "Your current answer is: %s. Send a new answer, or advance to keep it. ", prev)
		}
		b.WriteString(StepPrompt(req.Step))
	case ComposeReset:
		fmt.Fprintf(&b, "Starting over from %s. ", stageTitle(req.Step.Stage))
		b.WriteString(StepPrompt(req.Step))
	case ComposeItems:
		writeItems(&b, req)
	case ComposeComplete:
		if req.Recap != nil {
			fmt.Fprintf(&b, "That wraps up %s. %s ", stageTitle(req.Recap.Stage), req.Recap.Summary)
		}
		b.WriteString("Your project blueprint is complete. You can review it, edit any step, or start over.")
	default:
		writeStageIntro(&b, req.Step)
		b.WriteString(StepPrompt(req.Step))
	}
	return Composition{
		Text:        strings.TrimSpace(b.String()),
		NextActions: AvailableActions(req.Step, req.Record, req.MicroFlow),
		Source:      SourceDeterministic,
	}
}

// AvailableActions lists the actions that make sense in the given state.
func AvailableActions(ref domain.StepRef, rec domain.Record, mf *domain.MicroFlowState) []string {
	if ref.IsZero() {
		return []string{string(domain.ActionEdit), string(domain.ActionReset)}
	}
	step, ok := domain.LookupStep(ref)
	if !ok {
		return nil
	}
	if step.IsCompound() {
		actions := []string{
			string(domain.ActionAcceptAll), string(domain.ActionRefineItem), string(domain.ActionRenameItem),
			string(domain.ActionReorder), string(domain.ActionRemoveItem), string(domain.ActionRegenerate),
		}
		if mf != nil && mf.Mode == domain.ModeRefining {
			actions = actions[1:]
		}
		return append(actions, string(domain.ActionEdit))
	}
	actions := []string{"answer"}
	if rec.Has(ref) {
		actions = append(actions, string(domain.ActionAdvance))
	}
	if step.Skippable {
		actions = append(actions, string(domain.ActionSkip))
	}
	if pos, _ := domain.PositionOf(ref); pos.StepsBefore() > 0 {
		actions = append(actions, string(domain.ActionEdit))
	}
	return actions
}

func writeStageIntro(b *strings.Builder, ref domain.StepRef) {
	st, _, ok := domain.LookupStage(ref.Stage)
	if !ok {
		return
	}
	if first := st.Steps[0].ID; first != ref.Step {
		return
	}
	fmt.Fprintf(b, "Stage %d, %s: %s ", st.Ordinal, st.Title, st.Purpose)
}

func writeIssues(b *strings.Builder, issues []validation.Issue, hints []string) {
	wrote := false
	for _, is := range issues {
		if is.Severity == validation.SeverityError {
			b.WriteString(is.Message + " ")
			wrote = true
			break
		}
	}
	if !wrote {
		b.WriteString("Let's tighten that up. ")
	}
	if len(hints) > 0 {
		b.WriteString(hints[0] + " ")
	}
}

func writeItems(b *strings.Builder, req ComposeRequest) {
	mf := req.MicroFlow
	if mf == nil {
		b.WriteString(StepPrompt(req.Step))
		return
	}
	step, _ := domain.LookupStep(mf.Step)
	// Items are numbered by their position in the working set, which is what
	// the index-based item actions address.
	for _, g := range step.Groups {
		n := len(domain.ItemsInGroup(mf.Working, g.Group))
		fmt.Fprintf(b, "%s (%d, need %d):", capitalize(g.Label), n, g.Min)
		if n == 0 {
			b.WriteString(" none yet.\n")
			continue
		}
		b.WriteString("\n")
		for i, it := range mf.Working {
			if it.Group == g.Group {
				fmt.Fprintf(b, "  %d. %s\n", i+1, it.Title)
			}
		}
	}
	for _, h := range req.Hints {
		b.WriteString(h + "\n")
	}
	if short := validation.Shortfalls(mf.Working, step); len(short) == 0 {
		b.WriteString("Accept all when you're happy, or keep refining.")
	} else {
		b.WriteString("Add or regenerate items until every list meets its minimum.")
	}
}

func describeValue(rec domain.Record, ref domain.StepRef) string {
	v, ok := rec.Get(ref)
	switch {
	case !ok:
		return ""
	case v.Skipped:
		return "skipped"
	case len(v.Items) > 0:
		titles := make([]string, len(v.Items))
		for i, it := range v.Items {
			titles[i] = it.Title
		}
		return strings.Join(titles, ", ")
	}
	return strings.TrimRight(v.Text, ".")
}

func stepTitle(ref domain.StepRef) string {
	if step, ok := domain.LookupStep(ref); ok {
		return strings.ToLower(step.Title)
	}
	return "that step"
}

func stageTitle(id domain.StageID) string {
	if st, _, ok := domain.LookupStage(id); ok {
		return st.Title
	}
	return string(id)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
