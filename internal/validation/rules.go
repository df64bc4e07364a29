package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	bigIdeaMinWords    = 5
	bigIdeaMaxWords    = 60
	exhibitionMinWords = 4
	maxDurationDays    = 365
)

var (
	openStems = []string{
		"in what ways", "to what extent", "how might", "how can", "what if",
		"how", "what", "why", "who", "where", "when", "which",
	}
	closedStems = []string{"is", "are", "do", "does", "did", "can", "could", "will", "would", "should"}

	actionVerbs = map[string]bool{
		"create": true, "design": true, "build": true, "develop": true, "launch": true,
		"investigate": true, "produce": true, "propose": true, "plan": true, "write": true,
		"make": true, "organize": true, "present": true, "construct": true, "prototype": true,
		"research": true, "analyze": true, "compose": true, "host": true, "publish": true,
		"redesign": true, "solve": true, "improve": true, "advocate": true, "curate": true,
	}
	subjectPrefixes = []string{
		"students will", "learners will", "the class will", "we will", "they will",
		"students", "learners", "teams", "to",
	}
	audienceWords = []string{
		"for", "community", "audience", "stakeholder", "resident", "council", "families",
		"family", "parents", "public", "local", "partner", "client", "user", "city",
		"neighborhood", "neighbourhood", "peers", "expert", "organization", "visitors",
		"school board", "younger students", "customers", "leaders",
	}
)

func bigIdeaRule(text string, _ Context) ([]Issue, []string) {
	n := wordCount(text)
	switch {
	case n < bigIdeaMinWords:
		return []Issue{{
			Type: IssueStructure, Severity: SeverityError, Code: "min_depth",
			Message: fmt.Sprintf("Describe the big idea in at least %d words (got %d).", bigIdeaMinWords, n),
		}}, []string{
			"Name the concept and why it matters, e.g. \"Ecosystems depend on a balance between living and nonliving parts.\"",
		}
	case n > bigIdeaMaxWords:
		return []Issue{{
			Type: IssueClarity, Severity: SeverityWarning, Code: "verbose",
			Message: "The big idea is long; a single sentence is easier to build on.",
		}}, []string{"Trim it to the one idea students should remember."}
	}
	return nil, nil
}

func essentialQuestionRule(text string, _ Context) ([]Issue, []string) {
	stem := leadingStem(text, openStems)
	closed := leadingStem(text, closedStems)
	if !strings.Contains(text, "?") && stem == "" && closed == "" {
		return []Issue{{
			Type: IssueStructure, Severity: SeverityError, Code: "not_a_question",
			Message: "The essential question must be phrased as a question.",
		}}, []string{
			"Start with \"How\", \"Why\" or \"In what ways\".",
			"Example: \"How might " + strings.ToLower(strings.TrimRight(text, ".!")) + "?\"",
		}
	}
	var issues []Issue
	var sugg []string
	if closed != "" && stem == "" {
		issues = append(issues, Issue{
			Type: IssueClarity, Severity: SeverityWarning, Code: "closed_question",
			Message: fmt.Sprintf("Questions starting with %q invite a yes/no answer.", closed),
		})
		sugg = append(sugg, "Reframe it as an open question, e.g. starting with \"How\" or \"To what extent\".")
	}
	if wordCount(text) < 5 {
		issues = append(issues, Issue{
			Type: IssueContent, Severity: SeverityWarning, Code: "shallow_question",
			Message: "Very short questions rarely sustain a whole project.",
		})
	}
	return issues, sugg
}

func challengeRule(text string, _ Context) ([]Issue, []string) {
	var issues []Issue
	var sugg []string
	switch verbPosition(text) {
	case verbAbsent:
		issues = append(issues, Issue{
			Type: IssueStructure, Severity: SeverityError, Code: "no_action_verb",
			Message: "The challenge needs an action students will take.",
		})
		sugg = append(sugg, "Start with a verb such as create, design, build or investigate.")
	case verbNotLeading:
		issues = append(issues, Issue{
			Type: IssueClarity, Severity: SeverityWarning, Code: "buried_action_verb",
			Message: "Lead with the action so the task is clear at a glance.",
		})
	}
	if !mentionsAudience(text) {
		issues = append(issues, Issue{
			Type: IssueContent, Severity: SeverityWarning, Code: "no_audience",
			Message: "Say who the work is for or who benefits from it.",
		})
		sugg = append(sugg, "Add an audience, e.g. \"... for the city council\".")
	}
	return issues, sugg
}

var (
	durationRe = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve|fifteen|twenty)\s*(?:(?:-|to)\s*(\d+(?:\.\d+)?)\s*)?(day|week|month|semester|term|quarter|year|lesson|class|session)s?\b`)

	numberWords = map[string]float64{
		"one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6, "seven": 7, "eight": 8,
		"nine": 9, "ten": 10, "eleven": 11, "twelve": 12, "fifteen": 15, "twenty": 20,
	}
	unitDays = map[string]float64{
		"day": 1, "lesson": 1, "class": 1, "session": 1, "week": 7, "month": 30,
		"quarter": 91, "term": 120, "semester": 120, "year": 365,
	}
)

func durationRule(text string, _ Context) ([]Issue, []string) {
	m := durationRe.FindStringSubmatch(text)
	if m == nil {
		return []Issue{{
			Type: IssueStructure, Severity: SeverityError, Code: "no_duration",
			Message: "Give a length with a number and a unit of time.",
		}}, []string{"For example \"6 weeks\" or \"one semester\"."}
	}
	amount := parseAmount(m[1])
	if m[2] != "" {
		amount = parseAmount(m[2])
	}
	if amount*unitDays[strings.ToLower(m[3])] > maxDurationDays {
		return []Issue{{
			Type: IssueContent, Severity: SeverityWarning, Code: "long_duration",
			Message: "Projects longer than a year are hard to keep focused.",
		}}, nil
	}
	return nil, nil
}

func parseAmount(s string) float64 {
	if n, ok := numberWords[strings.ToLower(s)]; ok {
		return n
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func resourcesRule(text string, _ Context) ([]Issue, []string) {
	if wordCount(text) == 1 {
		return []Issue{{
			Type: IssueClarity, Severity: SeverityInfo, Code: "single_resource",
			Message: "Only one resource listed; partners, tools or materials can help too.",
		}}, nil
	}
	return nil, nil
}

func exhibitionRule(text string, _ Context) ([]Issue, []string) {
	var issues []Issue
	var sugg []string
	if n := wordCount(text); n < exhibitionMinWords {
		issues = append(issues, Issue{
			Type: IssueStructure, Severity: SeverityError, Code: "min_depth",
			Message: fmt.Sprintf("Describe the exhibition in at least %d words (got %d).", exhibitionMinWords, n),
		})
		sugg = append(sugg, "Say what students present, where, and to whom.")
	}
	if !mentionsAudience(text) {
		issues = append(issues, Issue{
			Type: IssueContent, Severity: SeverityWarning, Code: "no_audience",
			Message: "Name the audience who will see the final work.",
		})
	}
	return issues, sugg
}

// leadingStem returns the first stem text starts with, matched on word
// boundaries and case-insensitively.
func leadingStem(text string, stems []string) string {
	lower := strings.ToLower(text)
	for _, s := range stems {
		if !strings.HasPrefix(lower, s) {
			continue
		}
		rest := lower[len(s):]
		if rest == "" || !isLetter(rest[0]) {
			return s
		}
	}
	return ""
}

func hasQuestionStem(text string) bool {
	return leadingStem(text, openStems) != "" || leadingStem(text, closedStems) != ""
}

type verbPlacement int

const (
	verbAbsent verbPlacement = iota
	verbLeading
	verbNotLeading
)

func verbPosition(text string) verbPlacement {
	words := strings.Fields(strings.ToLower(text))
	rest := strings.Join(words, " ")
	for _, p := range subjectPrefixes {
		if strings.HasPrefix(rest, p+" ") {
			rest = rest[len(p)+1:]
			break
		}
	}
	first := strings.Fields(rest)
	if len(first) > 0 && isActionVerb(first[0]) {
		return verbLeading
	}
	for _, w := range words {
		if isActionVerb(w) {
			return verbNotLeading
		}
	}
	return verbAbsent
}

func isActionVerb(w string) bool {
	w = strings.Trim(w, ".,;:!?\"'()")
	if actionVerbs[w] {
		return true
	}
	for _, suffix := range []string{"s", "es"} {
		if strings.HasSuffix(w, suffix) && actionVerbs[strings.TrimSuffix(w, suffix)] {
			return true
		}
	}
	return false
}

func mentionsAudience(text string) bool {
	lower := " " + strings.ToLower(text) + " "
	lower = strings.NewReplacer(",", " ", ".", " ", ";", " ", "!", " ", "?", " ").Replace(lower)
	for _, w := range audienceWords {
		if strings.Contains(lower, " "+w+" ") || strings.Contains(lower, " "+w+"s ") {
			return true
		}
	}
	return false
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
