package intelligence

import (
	"strings"

	"github.com/alexanderramin/blueprint/internal/domain"
)

type seed struct {
	group domain.ItemGroup
	title string
	desc  string
}

// fallbackSets holds the template item sets per compound step. Regenerate
// rotates through the variants.
var fallbackSets = map[domain.StepID][][]seed{
	domain.StepPhases: {
		{
			{domain.GroupPhase, "Launch", "Introduce the challenge and spark questions."},
			{domain.GroupPhase, "Investigate", "Research, interview experts and gather evidence."},
			{domain.GroupPhase, "Create", "Draft, prototype and revise the product."},
			{domain.GroupPhase, "Share", "Present the work to the audience and reflect."},
		},
		{
			{domain.GroupPhase, "Explore", "Build background knowledge and need-to-knows."},
			{domain.GroupPhase, "Plan", "Form teams and map out the work."},
			{domain.GroupPhase, "Build", "Produce and test the solution with feedback."},
			{domain.GroupPhase, "Exhibit", "Share publicly and reflect on learning."},
		},
	},
	domain.StepDeliverables: {
		{
			{domain.GroupMilestone, "Research summary", "Evidence gathered and sources cited."},
			{domain.GroupMilestone, "Draft or prototype", "First version reviewed by peers."},
			{domain.GroupMilestone, "Final revision", "Feedback incorporated and ready to present."},
			{domain.GroupArtifact, "Final product", "The solution or work created for the audience."},
			{domain.GroupArtifact, "Process journal", "Notes and reflections kept throughout."},
			{domain.GroupCriterion, "Depth of understanding", "Accurate use of the big idea."},
			{domain.GroupCriterion, "Quality of the product", "Craft, completeness and revision."},
			{domain.GroupCriterion, "Communication", "Clear presentation to the audience."},
		},
		{
			{domain.GroupMilestone, "Project proposal", "Plan approved with roles and timeline."},
			{domain.GroupMilestone, "Midpoint check-in", "Progress shared and next steps agreed."},
			{domain.GroupMilestone, "Presentation rehearsal", "Dry run with critique."},
			{domain.GroupArtifact, "Public presentation", "Talk, demo or exhibit for the audience."},
			{domain.GroupArtifact, "Written report", "Findings and recommendations."},
			{domain.GroupCriterion, "Use of evidence", "Claims backed by research."},
			{domain.GroupCriterion, "Collaboration", "Shared work and accountability."},
			{domain.GroupCriterion, "Reflection", "Honest account of what was learned."},
		},
	},
}

// DeterministicItems returns the template item set for ref. Titles listed in
// avoid are left out. The result is empty only for scalar steps.
func DeterministicItems(ref domain.StepRef, variant int, avoid []string) []domain.Item {
	sets := fallbackSets[ref.Step]
	if len(sets) == 0 {
		return nil
	}
	if variant < 0 {
		variant = -variant
	}
	skip := map[string]bool{}
	for _, a := range avoid {
		skip[strings.ToLower(strings.TrimSpace(a))] = true
	}

	set := sets[variant%len(sets)]
	items := make([]domain.Item, 0, len(set))
	for _, s := range set {
		if skip[strings.ToLower(s.title)] {
			continue
		}
		items = append(items, domain.Item{Group: s.group, Title: s.title, Description: s.desc})
	}
	if len(items) == 0 {
		for _, s := range set {
			items = append(items, domain.Item{Group: s.group, Title: s.title, Description: s.desc})
		}
	}
	return items
}

// DeterministicRefine applies instruction to item without a model. The
// instruction is recorded in the description; a "rename to X" or
// "call it X" instruction replaces the title.
func DeterministicRefine(item domain.Item, instruction string) domain.Item {
	out := item.Clone()
	instr := strings.TrimSpace(instruction)
	if instr == "" {
		return out
	}
	lower := strings.ToLower(instr)
	for _, prefix := range []string{"rename to ", "rename it to ", "call it ", "retitle to "} {
		if strings.HasPrefix(lower, prefix) {
			if title := strings.Trim(strings.TrimSpace(instr[len(prefix):]), `"'`); title != "" {
				out.Title = title
				return out
			}
		}
	}
	note := capitalize(strings.TrimRight(instr, ".")) + "."
	if out.Description == "" {
		out.Description = note
	} else {
		out.Description = strings.TrimRight(out.Description, ".") + ". " + note
	}
	return out
}
