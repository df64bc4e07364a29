package validation

import (
	"strings"
	"unicode"

	"github.com/alexanderramin/blueprint/internal/domain"
)

var stopwords = map[string]bool{
	"about": true, "after": true, "also": true, "because": true, "been": true, "before": true,
	"being": true, "between": true, "could": true, "does": true, "each": true, "from": true,
	"have": true, "into": true, "just": true, "like": true, "make": true, "more": true,
	"most": true, "much": true, "need": true, "only": true, "other": true, "over": true,
	"should": true, "some": true, "such": true, "than": true, "that": true, "their": true,
	"them": true, "then": true, "there": true, "these": true, "they": true, "this": true,
	"those": true, "through": true, "very": true, "what": true, "when": true, "where": true,
	"which": true, "while": true, "will": true, "with": true, "within": true, "would": true,
	"your": true, "student": true, "might": true, "ways": true, "extent": true, "project": true,
}

// Vocabulary returns the meaningful words of s: lowercase tokens of four or
// more letters, stopwords removed, with a plural "s" stripped.
func Vocabulary(s string) map[string]bool {
	out := map[string]bool{}
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range fields {
		if len(w) < 4 {
			continue
		}
		if strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") && len(w) > 4 {
			w = strings.TrimSuffix(w, "s")
		}
		if stopwords[w] {
			continue
		}
		out[w] = true
	}
	return out
}

// Overlap counts words the two vocabularies share.
func Overlap(a, b map[string]bool) int {
	n := 0
	for w := range a {
		if b[w] {
			n++
		}
	}
	return n
}

func alignmentIssue(text string, step domain.Step, ctx Context) (Issue, bool) {
	dep, err := domain.ParseStepRef(string(step.DependsOn))
	if err != nil {
		return Issue{}, false
	}
	prior := ctx.Record.Text(dep)
	if prior == "" {
		return Issue{}, false
	}
	if Overlap(Vocabulary(text), Vocabulary(prior)) > 0 {
		return Issue{}, false
	}
	depStep, _ := domain.LookupStep(dep)
	return Issue{
		Type:     IssueAlignment,
		Severity: SeverityInfo,
		Code:     "unaligned",
		Message:  "This shares no key words with your " + strings.ToLower(depStep.Title) + "; check they still connect.",
	}, true
}
