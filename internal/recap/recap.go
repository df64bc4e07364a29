// Package recap builds the deterministic summary written when a stage is
// exited. Summaries are derived only from the stage's captured values.
package recap

import (
	"fmt"
	"strings"
	"time"

	"github.com/alexanderramin/blueprint/internal/domain"
)

const maxListed = 4

// Generate builds the recap for stage from its captured slice.
func Generate(stage domain.StageID, slice map[domain.StepID]domain.CapturedValue, now time.Time) domain.StageRecap {
	snapshot := make(map[domain.StepID]domain.CapturedValue, len(slice))
	for k, v := range slice {
		snapshot[k] = v.Clone()
	}

	var summary string
	switch stage {
	case domain.StageFoundation:
		summary = foundationSummary(snapshot)
	case domain.StagePlan:
		summary = planSummary(snapshot)
	case domain.StageOutputs:
		summary = outputsSummary(snapshot)
	default:
		summary = genericSummary(stage, snapshot)
	}

	return domain.StageRecap{
		Stage:     stage,
		Summary:   summary,
		Snapshot:  snapshot,
		CreatedAt: now,
	}
}

func foundationSummary(s map[domain.StepID]domain.CapturedValue) string {
	return fmt.Sprintf("Big idea: %s Essential question: %s Challenge: %s",
		sentence(text(s, domain.StepBigIdea)),
		question(text(s, domain.StepEssentialQuestion)),
		sentence(text(s, domain.StepChallenge)))
}

func planSummary(s map[domain.StepID]domain.CapturedValue) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Duration: %s", sentence(text(s, domain.StepDuration)))

	phases := s[domain.StepPhases]
	if len(phases.Items) > 0 {
		fmt.Fprintf(&b, " %s: %s.", countNoun(len(phases.Items), "phase", "phases"), titleList(phases.Items, " → "))
	} else {
		fmt.Fprintf(&b, " Phases: %s", sentence(text(s, domain.StepPhases)))
	}

	fmt.Fprintf(&b, " Resources: %s", sentence(text(s, domain.StepResources)))
	return b.String()
}

func outputsSummary(s map[domain.StepID]domain.CapturedValue) string {
	var b strings.Builder
	d := s[domain.StepDeliverables]
	if len(d.Items) > 0 {
		var parts []string
		for _, g := range []struct {
			group            domain.ItemGroup
			singular, plural string
		}{
			{domain.GroupMilestone, "milestone", "milestones"},
			{domain.GroupArtifact, "artifact", "artifacts"},
			{domain.GroupCriterion, "assessment criterion", "assessment criteria"},
		} {
			items := domain.ItemsInGroup(d.Items, g.group)
			if len(items) == 0 {
				continue
			}
			parts = append(parts, fmt.Sprintf("%s (%s)", countNoun(len(items), g.singular, g.plural), titleList(items, ", ")))
		}
		fmt.Fprintf(&b, "Deliverables: %s.", joinAnd(parts))
	} else {
		fmt.Fprintf(&b, "Deliverables: %s", sentence(text(s, domain.StepDeliverables)))
	}
	fmt.Fprintf(&b, " Exhibition: %s", sentence(text(s, domain.StepExhibition)))
	return b.String()
}

func genericSummary(stage domain.StageID, s map[domain.StepID]domain.CapturedValue) string {
	return fmt.Sprintf("Stage %s captured %d answers.", stage, len(s))
}

func text(s map[domain.StepID]domain.CapturedValue, id domain.StepID) string {
	v, ok := s[id]
	switch {
	case !ok:
		return ""
	case v.Skipped:
		return "skipped"
	case v.Text != "":
		return v.Text
	case len(v.Items) > 0:
		return titleList(v.Items, ", ")
	}
	return ""
}

func sentence(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "not captured."
	}
	if strings.HasSuffix(s, ".") || strings.HasSuffix(s, "?") || strings.HasSuffix(s, "!") {
		return s
	}
	return s + "."
}

func question(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "not captured."
	}
	return s
}

func titleList(items []domain.Item, sep string) string {
	titles := make([]string, 0, maxListed+1)
	for i, it := range items {
		if i == maxListed {
			titles = append(titles, fmt.Sprintf("+%d more", len(items)-maxListed))
			break
		}
		titles = append(titles, it.Title)
	}
	return strings.Join(titles, sep)
}

func countNoun(n int, singular, plural string) string {
	if n == 1 {
		return "1 " + singular
	}
	return fmt.Sprintf("%d %s", n, plural)
}

func joinAnd(parts []string) string {
	switch len(parts) {
	case 0:
		return "none"
	case 1:
		return parts[0]
	}
	return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
}
