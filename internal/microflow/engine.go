// Package microflow resolves compound steps: it proposes a candidate item
// set, lets the user edit it item by item and gates acceptance on the step's
// group minimums and item shape rules.
package microflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/alexanderramin/blueprint/internal/capture"
	"github.com/alexanderramin/blueprint/internal/domain"
	"github.com/alexanderramin/blueprint/internal/intelligence"
	"github.com/alexanderramin/blueprint/internal/observability"
	"github.com/alexanderramin/blueprint/internal/validation"
)

// Outcome of applying one action.
type Outcome string

const (
	OutcomeUpdated  Outcome = "updated"
	OutcomeStayed   Outcome = "stayed"
	OutcomeAccepted Outcome = "accepted"
)

// Reason explains a stayed outcome.
type Reason string

const (
	ReasonBelowMinimum    Reason = "below_minimum"
	ReasonInvalidItems    Reason = "invalid_items"
	ReasonRefining        Reason = "refining"
	ReasonBadIndex        Reason = "bad_index"
	ReasonEmptyInput      Reason = "empty_input"
	ReasonAlreadySelected Reason = "already_selected"
	ReasonAccepted        Reason = "already_accepted"
	ReasonUnsupported     Reason = "unsupported"
)

// Result is the outcome of Apply. State is always the state to keep; on a
// stayed outcome it equals the input state.
type Result struct {
	State      domain.MicroFlowState
	Outcome    Outcome
	Reason     Reason
	Message    string
	Shortfalls []validation.Shortfall
	Issues     []validation.Issue
	// Items is the accepted item set, set only when Outcome is accepted.
	Items  []domain.Item
	Source intelligence.Source
}

// Context is what generation may use besides the state itself.
type Context struct {
	Record  domain.Record
	Turns   []domain.Turn
	Timeout time.Duration
}

// Engine drives micro-flows. It holds no per-session state.
type Engine struct {
	composer intelligence.Composer
}

// New returns an Engine that generates candidates through composer.
func New(composer intelligence.Composer) *Engine {
	return &Engine{composer: composer}
}

// Init starts a micro-flow for ref in suggesting mode with a generated
// candidate set. The only error is cancellation of ctx.
func (e *Engine) Init(ctx context.Context, ref domain.StepRef, gc Context) (domain.MicroFlowState, error) {
	step, ok := domain.LookupStep(ref)
	if !ok || !step.IsCompound() {
		return domain.MicroFlowState{}, fmt.Errorf("step %q is not a compound step", ref)
	}
	set, err := e.generate(ctx, ref, gc, 0, nil)
	if err != nil {
		return domain.MicroFlowState{}, err
	}
	return domain.MicroFlowState{
		Step:      ref,
		Suggested: set.Items,
		Working:   domain.CloneItems(set.Items),
		Mode:      domain.ModeSuggesting,
		Source:    string(set.Source),
	}, nil
}

// Resume reopens an accepted item set, for example after the user edits
// back into the step. No generation happens.
func Resume(ref domain.StepRef, items []domain.Item) domain.MicroFlowState {
	items = capture.EnsureIDs(items)
	return domain.MicroFlowState{
		Step:      ref,
		Suggested: items,
		Working:   domain.CloneItems(items),
		Mode:      domain.ModeSuggesting,
	}
}

// Apply applies ev to state. state is never modified; the returned Result
// carries the state to keep. The only error is cancellation of ctx.
func (e *Engine) Apply(ctx context.Context, state domain.MicroFlowState, ev domain.Event, gc Context) (Result, error) {
	ctx, span := observability.Tracer().Start(ctx, "microflow.apply")
	defer span.End()
	span.SetAttributes(
		attribute.String("blueprint.step", state.Step.String()),
		attribute.String("blueprint.event", eventName(ev)),
		attribute.String("blueprint.mode", string(state.Mode)),
	)

	step, ok := domain.LookupStep(state.Step)
	if !ok || !step.IsCompound() {
		return stay(state, ReasonUnsupported, "This step does not take items."), nil
	}
	if state.Mode == domain.ModeAccepting {
		return stay(state, ReasonAccepted, "These items were already accepted."), nil
	}

	next := state.Clone()
	if next.Mode == domain.ModeRefining {
		return e.applyRefining(ctx, next, step, ev, gc)
	}

	switch ev.Kind {
	case domain.EventText:
		return addItems(next, step, ev.Value), nil
	case domain.EventSelection:
		return selectSuggestion(next, ev.ItemIndex), nil
	}

	switch ev.Action {
	case domain.ActionAcceptAll, domain.ActionAdvance:
		return accept(next, step), nil
	case domain.ActionRefineItem:
		if !inRange(next.Working, ev.Index) {
			return badIndex(state, ev.Index), nil
		}
		next.Mode = domain.ModeRefining
		next.RefineIndex = ev.Index
		if strings.TrimSpace(ev.Instruction) == "" {
			return Result{
				State:   next,
				Outcome: OutcomeUpdated,
				Message: fmt.Sprintf("How should %q change?", next.Working[ev.Index].Title),
			}, nil
		}
		return e.refine(ctx, next, gc, ev.Instruction)
	case domain.ActionRenameItem:
		return rename(next, ev), nil
	case domain.ActionReorder:
		return reorder(next, ev.From, ev.To), nil
	case domain.ActionRemoveItem:
		return remove(next, ev.Index), nil
	case domain.ActionRegenerate:
		return e.regenerate(ctx, next, gc)
	}
	return stay(state, ReasonUnsupported, fmt.Sprintf("%q is not available while choosing items.", ev.Action)), nil
}

// applyRefining handles events while a refinement awaits its instruction.
// Acceptance is blocked until the refinement finishes.
func (e *Engine) applyRefining(ctx context.Context, next domain.MicroFlowState, step domain.Step, ev domain.Event, gc Context) (Result, error) {
	switch {
	case ev.Kind == domain.EventText:
		if strings.TrimSpace(ev.Value) == "" {
			return stay(next, ReasonEmptyInput, "Describe how the item should change."), nil
		}
		return e.refine(ctx, next, gc, ev.Value)
	case ev.Kind == domain.EventControl && ev.Action == domain.ActionRefineItem:
		if !inRange(next.Working, ev.Index) {
			return badIndex(next, ev.Index), nil
		}
		next.RefineIndex = ev.Index
		if strings.TrimSpace(ev.Instruction) == "" {
			return Result{State: next, Outcome: OutcomeUpdated, Message: fmt.Sprintf("How should %q change?", next.Working[ev.Index].Title)}, nil
		}
		return e.refine(ctx, next, gc, ev.Instruction)
	}
	return stay(next, ReasonRefining, "Finish refining the current item first."), nil
}

func (e *Engine) refine(ctx context.Context, next domain.MicroFlowState, gc Context, instruction string) (Result, error) {
	idx := next.RefineIndex
	if !inRange(next.Working, idx) {
		next.Mode = domain.ModeSuggesting
		return badIndex(next, idx), nil
	}
	target := next.Working[idx]
	refined, src := e.composer.RefineItem(ctx, intelligence.RefineRequest{
		Step:        next.Step,
		Item:        target,
		Instruction: instruction,
		Record:      gc.Record,
		Timeout:     gc.Timeout,
	})
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	// Identity and group belong to the slot, not to the generated text.
	refined.ID = target.ID
	refined.Group = target.Group
	if strings.TrimSpace(refined.Title) == "" {
		refined.Title = target.Title
	}
	next.Working[idx] = refined
	next.Mode = domain.ModeSuggesting
	next.RefineIndex = 0
	return Result{
		State:   next,
		Outcome: OutcomeUpdated,
		Message: fmt.Sprintf("Updated item %d.", idx+1),
		Source:  src,
	}, nil
}

func (e *Engine) regenerate(ctx context.Context, next domain.MicroFlowState, gc Context) (Result, error) {
	avoid := make([]string, 0, len(next.Suggested))
	for _, it := range next.Suggested {
		avoid = append(avoid, it.Title)
	}
	gen := next.Generation + 1
	set, err := e.generate(ctx, next.Step, gc, gen, avoid)
	if err != nil {
		return Result{}, err
	}
	next.Generation = gen
	next.Suggested = set.Items
	next.Working = domain.CloneItems(set.Items)
	next.Source = string(set.Source)
	return Result{
		State:   next,
		Outcome: OutcomeUpdated,
		Message: "Here is a fresh set of suggestions.",
		Source:  set.Source,
	}, nil
}

func (e *Engine) generate(ctx context.Context, ref domain.StepRef, gc Context, variant int, avoid []string) (intelligence.ItemSet, error) {
	set := e.composer.SuggestItems(ctx, intelligence.ItemsRequest{
		Step:    ref,
		Record:  gc.Record,
		Context: gc.Turns,
		Variant: variant,
		Avoid:   avoid,
		Timeout: gc.Timeout,
	})
	if err := ctx.Err(); err != nil {
		return intelligence.ItemSet{}, err
	}
	if len(set.Items) == 0 {
		set = intelligence.ItemSet{
			Items:  intelligence.DeterministicItems(ref, variant, nil),
			Source: intelligence.SourceDeterministic,
		}
	}
	set.Items = capture.EnsureIDs(set.Items)
	return set, nil
}

func accept(next domain.MicroFlowState, step domain.Step) Result {
	if short := validation.Shortfalls(next.Working, step); len(short) > 0 {
		parts := make([]string, len(short))
		for i, s := range short {
			parts[i] = s.String()
		}
		r := stay(next, ReasonBelowMinimum, "Not enough items yet: "+strings.Join(parts, "; ")+".")
		r.Shortfalls = short
		return r
	}
	if out := validation.ValidateItems(next.Working, step); !out.Valid {
		r := stay(next, ReasonInvalidItems, out.Errors()[0].Message)
		r.Issues = out.Issues
		return r
	}
	next.Mode = domain.ModeAccepting
	return Result{
		State:   next,
		Outcome: OutcomeAccepted,
		Items:   domain.CloneItems(next.Working),
		Message: fmt.Sprintf("Accepted %d items.", len(next.Working)),
	}
}

func addItems(next domain.MicroFlowState, step domain.Step, text string) Result {
	if strings.TrimSpace(text) == "" {
		return stay(next, ReasonEmptyInput, "Type one or more items to add.")
	}
	res := capture.ParseItems(text, step)
	items := capture.EnsureIDs(capture.Normalize(res.Items, step))
	next.Working = append(next.Working, items...)
	msg := fmt.Sprintf("Added %d item(s).", len(items))
	if len(items) == 1 {
		msg = fmt.Sprintf("Added %q.", items[0].Title)
	}
	return Result{State: next, Outcome: OutcomeUpdated, Message: msg}
}

func selectSuggestion(next domain.MicroFlowState, idx int) Result {
	if !inRange(next.Suggested, idx) {
		return badIndex(next, idx)
	}
	pick := next.Suggested[idx]
	for _, it := range next.Working {
		if it.ID == pick.ID {
			return stay(next, ReasonAlreadySelected, fmt.Sprintf("%q is already in the list.", pick.Title))
		}
	}
	next.Working = append(next.Working, pick.Clone())
	return Result{State: next, Outcome: OutcomeUpdated, Message: fmt.Sprintf("Added %q back.", pick.Title)}
}

func rename(next domain.MicroFlowState, ev domain.Event) Result {
	if !inRange(next.Working, ev.Index) {
		return badIndex(next, ev.Index)
	}
	title := strings.Join(strings.Fields(ev.Value), " ")
	if title == "" {
		return stay(next, ReasonEmptyInput, "A new title is required.")
	}
	next.Working[ev.Index].Title = title
	return Result{State: next, Outcome: OutcomeUpdated, Message: fmt.Sprintf("Renamed item %d to %q.", ev.Index+1, title)}
}

func reorder(next domain.MicroFlowState, from, to int) Result {
	if !inRange(next.Working, from) {
		return badIndex(next, from)
	}
	if !inRange(next.Working, to) {
		return badIndex(next, to)
	}
	if from == to {
		return Result{State: next, Outcome: OutcomeUpdated}
	}
	it := next.Working[from]
	rest := append(next.Working[:from:from], next.Working[from+1:]...)
	out := make([]domain.Item, 0, len(next.Working))
	out = append(out, rest[:to]...)
	out = append(out, it)
	out = append(out, rest[to:]...)
	next.Working = out
	return Result{State: next, Outcome: OutcomeUpdated, Message: fmt.Sprintf("Moved %q to position %d.", it.Title, to+1)}
}

func remove(next domain.MicroFlowState, idx int) Result {
	if !inRange(next.Working, idx) {
		return badIndex(next, idx)
	}
	gone := next.Working[idx]
	next.Working = append(next.Working[:idx:idx], next.Working[idx+1:]...)
	return Result{State: next, Outcome: OutcomeUpdated, Message: fmt.Sprintf("Removed %q.", gone.Title)}
}

func stay(state domain.MicroFlowState, reason Reason, msg string) Result {
	return Result{State: state, Outcome: OutcomeStayed, Reason: reason, Message: msg}
}

func badIndex(state domain.MicroFlowState, idx int) Result {
	return stay(state, ReasonBadIndex, fmt.Sprintf("There is no item %d.", idx+1))
}

func inRange(items []domain.Item, idx int) bool {
	return idx >= 0 && idx < len(items)
}

func eventName(ev domain.Event) string {
	if ev.Kind == domain.EventControl {
		return string(ev.Action)
	}
	return string(ev.Kind)
}
