// Package contextwindow keeps the bounded conversation history handed to the
// generative service.
package contextwindow

import (
	"fmt"
	"strings"

	"github.com/alexanderramin/blueprint/internal/domain"
)

const (
	DefaultLimit        = 10
	DefaultSummaryChars = 600
	excerptChars        = 80
)

// Manager bounds history to Limit regular turns. Turns evicted past the limit
// are folded into a single leading summary turn.
type Manager struct {
	Limit        int
	SummaryChars int
}

// New returns a manager keeping limit turns; limit <= 0 uses DefaultLimit.
func New(limit int) Manager {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return Manager{Limit: limit, SummaryChars: DefaultSummaryChars}
}

// Append returns history with turn added. The argument slice is not modified.
func (m Manager) Append(history []domain.Turn, turn domain.Turn) []domain.Turn {
	limit := m.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	var summary *domain.Turn
	regular := make([]domain.Turn, 0, len(history)+1)
	for _, t := range history {
		if t.Role == domain.RoleSummary {
			s := t
			summary = &s
			continue
		}
		regular = append(regular, t)
	}
	regular = append(regular, turn)

	if len(regular) <= limit {
		return withSummary(summary, regular)
	}

	evicted := regular[:len(regular)-limit]
	kept := regular[len(regular)-limit:]

	parts := make([]string, 0, len(evicted)+1)
	if summary != nil {
		parts = append(parts, summary.Content)
	}
	for _, t := range evicted {
		parts = append(parts, describe(t))
	}
	merged := domain.Turn{
		Role:    domain.RoleSummary,
		Content: m.clip(strings.Join(parts, "; ")),
		At:      evicted[len(evicted)-1].At,
	}
	return withSummary(&merged, kept)
}

// Window returns the turns relevant to composing for ref: the summary plus
// turns from ref's stage or the stage just before it. Turns without a stage
// are always kept.
func (m Manager) Window(history []domain.Turn, ref domain.StepRef) []domain.Turn {
	relevant := map[domain.StageID]bool{ref.Stage: true}
	if _, idx, ok := domain.LookupStage(ref.Stage); ok && idx > 0 {
		relevant[domain.Stages()[idx-1].ID] = true
	}
	if ref.IsZero() || ref.Stage == domain.StageDone {
		relevant[domain.Stages()[domain.StageCount()-1].ID] = true
	}

	out := make([]domain.Turn, 0, len(history))
	for _, t := range history {
		if t.Role == domain.RoleSummary || t.Stage == "" || relevant[t.Stage] {
			out = append(out, t)
		}
	}
	return out
}

func (m Manager) clip(s string) string {
	limit := m.SummaryChars
	if limit <= 0 {
		limit = DefaultSummaryChars
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return "…" + string(r[len(r)-limit+1:])
}

func withSummary(summary *domain.Turn, turns []domain.Turn) []domain.Turn {
	if summary == nil {
		return turns
	}
	return append([]domain.Turn{*summary}, turns...)
}

func describe(t domain.Turn) string {
	content := strings.Join(strings.Fields(t.Content), " ")
	if r := []rune(content); len(r) > excerptChars {
		content = string(r[:excerptChars-1]) + "…"
	}
	where := ""
	if t.Step != "" {
		where = fmt.Sprintf(" (%s)", t.Step)
	}
	return fmt.Sprintf("%s%s: %s", t.Role, where, content)
}
