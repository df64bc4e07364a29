// Package validation holds the per-step input rules. Every function here is
// pure: no I/O, no logging, and malformed input always yields an Outcome.
package validation

import (
	"strings"

	"github.com/alexanderramin/blueprint/internal/domain"
)

// IssueType classifies what an issue is about.
type IssueType string

const (
	IssueStructure IssueType = "structure"
	IssueContent   IssueType = "content"
	IssueClarity   IssueType = "clarity"
	IssueAlignment IssueType = "alignment"
)

// Severity of an issue. Only SeverityError blocks advancement.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Issue is one finding against an input.
type Issue struct {
	Type     IssueType `json:"type"`
	Severity Severity  `json:"severity"`
	Code     string    `json:"code"`
	Message  string    `json:"message"`
}

// Outcome is the result of validating one input.
type Outcome struct {
	Valid       bool     `json:"isValid"`
	Issues      []Issue  `json:"issues,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	// Transformed is the canonical value to capture. It is set whenever the
	// input could be canonicalized, valid or not.
	Transformed string `json:"transformedInput,omitempty"`
}

// Errors returns only the blocking issues.
func (o Outcome) Errors() []Issue {
	var out []Issue
	for _, is := range o.Issues {
		if is.Severity == SeverityError {
			out = append(out, is)
		}
	}
	return out
}

// HasSeverity reports whether any issue has severity s.
func (o Outcome) HasSeverity(s Severity) bool {
	for _, is := range o.Issues {
		if is.Severity == s {
			return true
		}
	}
	return false
}

// Context carries what a rule may consult besides the input itself.
type Context struct {
	Record domain.Record
}

type rule func(text string, ctx Context) ([]Issue, []string)

var rules = map[domain.StepID]rule{
	domain.StepBigIdea:           bigIdeaRule,
	domain.StepEssentialQuestion: essentialQuestionRule,
	domain.StepChallenge:         challengeRule,
	domain.StepDuration:          durationRule,
	domain.StepResources:         resourcesRule,
	domain.StepExhibition:        exhibitionRule,
}

// Validate transforms raw for ref and checks the result against ref's rules.
func Validate(raw string, ref domain.StepRef, ctx Context) Outcome {
	step, ok := domain.LookupStep(ref)
	if !ok {
		return outcome([]Issue{{
			Type: IssueStructure, Severity: SeverityError, Code: "unknown_step",
			Message: "This step does not exist.",
		}}, nil, "")
	}

	text := Transform(raw, ref)
	if text == "" {
		sugg := []string{"Type a response for " + strings.ToLower(step.Title) + "."}
		if step.Skippable {
			sugg = append(sugg, "This step is optional; you can skip it.")
		}
		return outcome([]Issue{{
			Type: IssueStructure, Severity: SeverityError, Code: "empty",
			Message: "A response is required.",
		}}, sugg, "")
	}

	r, ok := rules[step.ID]
	if !ok {
		return outcome(nil, nil, text)
	}
	issues, sugg := r(text, ctx)
	if step.DependsOn != "" {
		if is, ok := alignmentIssue(text, step, ctx); ok {
			issues = append(issues, is)
		}
	}
	return outcome(issues, sugg, text)
}

func outcome(issues []Issue, suggestions []string, transformed string) Outcome {
	o := Outcome{Valid: true, Issues: issues, Suggestions: suggestions, Transformed: transformed}
	for _, is := range issues {
		if is.Severity == SeverityError {
			o.Valid = false
			break
		}
	}
	return o
}

// Transform canonicalizes raw for ref. It is idempotent:
// Transform(Transform(x)) == Transform(x).
func Transform(raw string, ref domain.StepRef) string {
	text := strings.Join(strings.Fields(raw), " ")
	if text == "" {
		return ""
	}
	switch ref.Step {
	case domain.StepDuration, domain.StepResources:
		return text
	case domain.StepEssentialQuestion:
		text = capitalize(text)
		if hasQuestionStem(text) && !strings.HasSuffix(text, "?") {
			text = strings.TrimRight(text, ".!;, ")
			if !strings.HasSuffix(text, "?") {
				text += "?"
			}
		}
		return text
	default:
		return capitalize(text)
	}
}

func capitalize(s string) string {
	for i, r := range s {
		if r >= 'a' && r <= 'z' {
			return s[:i] + string(r-'a'+'A') + s[i+1:]
		}
		return s
	}
	return s
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
