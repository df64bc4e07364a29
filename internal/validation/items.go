package validation

import (
	"fmt"
	"strings"

	"github.com/alexanderramin/blueprint/internal/domain"
)

// Shortfall names a group that has fewer items than its rule requires.
type Shortfall struct {
	Group domain.ItemGroup `json:"group"`
	Label string           `json:"label"`
	Have  int              `json:"have"`
	Min   int              `json:"min"`
}

func (s Shortfall) String() string {
	return fmt.Sprintf("%s needs at least %d (has %d)", s.Label, s.Min, s.Have)
}

// Shortfalls lists every group of step below its minimum, in rule order.
func Shortfalls(items []domain.Item, step domain.Step) []Shortfall {
	var out []Shortfall
	for _, r := range step.Groups {
		have := len(domain.ItemsInGroup(items, r.Group))
		if have < r.Min {
			out = append(out, Shortfall{Group: r.Group, Label: r.Label, Have: have, Min: r.Min})
		}
	}
	return out
}

// ValidateItems applies the item shape rules for a compound step: every item
// needs a title, belongs to one of the step's groups, and titles are unique
// within a group. Minimum counts are checked separately by Shortfalls.
func ValidateItems(items []domain.Item, step domain.Step) Outcome {
	var issues []Issue
	seen := map[domain.ItemGroup]map[string]int{}
	for i, it := range items {
		if strings.TrimSpace(it.Title) == "" {
			issues = append(issues, Issue{
				Type: IssueStructure, Severity: SeverityError, Code: "empty_title",
				Message: fmt.Sprintf("Item %d has no title.", i+1),
			})
			continue
		}
		if _, ok := step.Group(it.Group); !ok {
			issues = append(issues, Issue{
				Type: IssueStructure, Severity: SeverityError, Code: "unknown_group",
				Message: fmt.Sprintf("Item %q is in group %q, which this step does not use.", it.Title, it.Group),
			})
			continue
		}
		key := strings.ToLower(strings.Join(strings.Fields(it.Title), " "))
		if seen[it.Group] == nil {
			seen[it.Group] = map[string]int{}
		}
		if first, dup := seen[it.Group][key]; dup {
			issues = append(issues, Issue{
				Type: IssueStructure, Severity: SeverityError, Code: "duplicate_title",
				Message: fmt.Sprintf("Items %d and %d share the title %q.", first+1, i+1, it.Title),
			})
			continue
		}
		seen[it.Group][key] = i
	}
	return outcome(issues, nil, "")
}
