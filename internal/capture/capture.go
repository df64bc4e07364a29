// Package capture writes confirmed answers into a domain.Record. Writes never
// mutate the record passed in and never fail: input that cannot be parsed is
// stored verbatim and flagged as raw.
package capture

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alexanderramin/blueprint/internal/domain"
	"github.com/alexanderramin/blueprint/internal/extract"
)

// Input is an answer on its way into the record. For compound steps either
// Items or Text (parsed into items) is used.
type Input struct {
	Text    string
	Items   []domain.Item
	Method  domain.CaptureMethod
	Skipped bool
}

// Capture returns a new record with ref set from in, along with the stored
// value. An unknown ref leaves the record untouched.
func Capture(rec domain.Record, ref domain.StepRef, in Input, now time.Time) (domain.Record, domain.CapturedValue) {
	value := domain.CapturedValue{Method: in.Method, ConfirmedAt: now}
	if value.Method == "" {
		value.Method = domain.MethodTyped
	}

	step, ok := domain.LookupStep(ref)
	if !ok {
		value.Text = in.Text
		value.Raw = true
		return rec, value
	}

	switch {
	case in.Skipped:
		value.Skipped = true
		value.Method = domain.MethodSkipped
	case step.IsCompound():
		items := in.Items
		if len(items) == 0 {
			res := ParseItems(in.Text, step)
			items = res.Items
			if res.Raw {
				value.Raw = true
				value.Text = strings.TrimSpace(in.Text)
			}
		}
		value.Items = EnsureIDs(Normalize(items, step))
	default:
		value.Text = strings.TrimSpace(in.Text)
	}
	return rec.With(ref, value), value
}

// ParseItems runs the tolerant parser chain with step's groups.
func ParseItems(text string, step domain.Step) extract.Result {
	return extract.Items(text, Options(step))
}

// Options builds parser options for step.
func Options(step domain.Step) extract.Options {
	groups := make([]domain.ItemGroup, 0, len(step.Groups))
	for _, g := range step.Groups {
		groups = append(groups, g.Group)
	}
	return extract.Options{DefaultGroup: step.DefaultGroup(), Groups: groups}
}

// Normalize trims item text and moves items with a missing or foreign group
// into step's default group. The input slice is not modified.
func Normalize(items []domain.Item, step domain.Step) []domain.Item {
	out := domain.CloneItems(items)
	for i := range out {
		out[i].Title = strings.Join(strings.Fields(out[i].Title), " ")
		out[i].Description = strings.TrimSpace(out[i].Description)
		if _, ok := step.Group(out[i].Group); !ok {
			out[i].Group = step.DefaultGroup()
		}
	}
	return out
}

// EnsureIDs gives every item without an id a fresh one. The input slice is
// not modified.
func EnsureIDs(items []domain.Item) []domain.Item {
	out := domain.CloneItems(items)
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = uuid.NewString()
		}
	}
	return out
}
