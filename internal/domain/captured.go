package domain

import (
	"encoding/json"
	"sort"
	"time"
)

// CaptureMethod records how a confirmed value was obtained.
type CaptureMethod string

const (
	MethodTyped    CaptureMethod = "typed"
	MethodSelected CaptureMethod = "selected"
	MethodRefined  CaptureMethod = "refined"
	MethodSkipped  CaptureMethod = "skipped"
)

// Item is one element of a compound step's answer. Extensions holds any
// extra fields a generated item carried beyond the typed core.
type Item struct {
	ID          string            `json:"id"`
	Group       ItemGroup         `json:"group"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Extensions  map[string]string `json:"extensions,omitempty"`
}

// Clone returns a deep copy of the item.
func (it Item) Clone() Item {
	out := it
	if it.Extensions != nil {
		out.Extensions = make(map[string]string, len(it.Extensions))
		for k, v := range it.Extensions {
			out.Extensions[k] = v
		}
	}
	return out
}

// CloneItems deep-copies a slice of items.
func CloneItems(items []Item) []Item {
	if items == nil {
		return nil
	}
	out := make([]Item, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}

// ItemsInGroup filters items belonging to g, preserving order.
func ItemsInGroup(items []Item, g ItemGroup) []Item {
	var out []Item
	for _, it := range items {
		if it.Group == g {
			out = append(out, it)
		}
	}
	return out
}

// CapturedValue is the confirmed answer for one step: either Text or Items.
type CapturedValue struct {
	Text        string        `json:"text,omitempty"`
	Items       []Item        `json:"items,omitempty"`
	Skipped     bool          `json:"skipped,omitempty"`
	Raw         bool          `json:"raw,omitempty"` // structured parse failed; Text holds the input verbatim
	Method      CaptureMethod `json:"method"`
	ConfirmedAt time.Time     `json:"confirmed_at"`
}

// Clone returns a deep copy of the value.
func (v CapturedValue) Clone() CapturedValue {
	out := v
	out.Items = CloneItems(v.Items)
	return out
}

// Record maps each confirmed step to its value. A Record is never mutated
// after construction; With and Without return new records.
type Record struct {
	values map[StepRef]CapturedValue
}

// NewRecord returns an empty record.
func NewRecord() Record {
	return Record{values: map[StepRef]CapturedValue{}}
}

// Len is the number of captured steps.
func (r Record) Len() int { return len(r.values) }

// Get returns the value captured for ref.
func (r Record) Get(ref StepRef) (CapturedValue, bool) {
	v, ok := r.values[ref]
	if !ok {
		return CapturedValue{}, false
	}
	return v.Clone(), true
}

// Has reports whether ref has a captured value.
func (r Record) Has(ref StepRef) bool {
	_, ok := r.values[ref]
	return ok
}

// With returns a copy of r with ref set to v.
func (r Record) With(ref StepRef, v CapturedValue) Record {
	next := r.copy()
	next.values[ref] = v.Clone()
	return next
}

// Without returns a copy of r with every ref for which drop returns true removed.
func (r Record) Without(drop func(StepRef) bool) Record {
	next := NewRecord()
	for k, v := range r.values {
		if !drop(k) {
			next.values[k] = v.Clone()
		}
	}
	return next
}

// StageSlice returns the captured values for one stage keyed by step.
func (r Record) StageSlice(stage StageID) map[StepID]CapturedValue {
	out := map[StepID]CapturedValue{}
	for k, v := range r.values {
		if k.Stage == stage {
			out[k.Step] = v.Clone()
		}
	}
	return out
}

// Refs lists captured refs in workflow order.
func (r Record) Refs() []StepRef {
	refs := make([]StepRef, 0, len(r.values))
	for k := range r.values {
		refs = append(refs, k)
	}
	sort.Slice(refs, func(i, j int) bool {
		pi, _ := PositionOf(refs[i])
		pj, _ := PositionOf(refs[j])
		return pi.Compare(pj) < 0
	})
	return refs
}

// Text returns the captured text for ref, or "" when absent or skipped.
func (r Record) Text(ref StepRef) string {
	v, ok := r.values[ref]
	if !ok || v.Skipped {
		return ""
	}
	return v.Text
}

func (r Record) copy() Record {
	next := Record{values: make(map[StepRef]CapturedValue, len(r.values)+1)}
	for k, v := range r.values {
		next.values[k] = v
	}
	return next
}

func (r Record) MarshalJSON() ([]byte, error) {
	if r.values == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(r.values)
}

func (r *Record) UnmarshalJSON(b []byte) error {
	values := map[StepRef]CapturedValue{}
	if err := json.Unmarshal(b, &values); err != nil {
		return err
	}
	r.values = values
	return nil
}
