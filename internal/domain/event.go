package domain

import "fmt"

// EventKind classifies a user event entering the state machine.
type EventKind string

const (
	EventText      EventKind = "text"
	EventSelection EventKind = "selection"
	EventControl   EventKind = "control"
)

// ControlAction is the action carried by a control event.
type ControlAction string

const (
	ActionAdvance    ControlAction = "advance"
	ActionEdit       ControlAction = "edit"
	ActionSkip       ControlAction = "skip"
	ActionReset      ControlAction = "reset"
	ActionAcceptAll  ControlAction = "accept_all"
	ActionRefineItem ControlAction = "refine_item"
	ActionRenameItem ControlAction = "rename_item"
	ActionReorder    ControlAction = "reorder"
	ActionRegenerate ControlAction = "regenerate"
	ActionRemoveItem ControlAction = "remove_item"
)

var validActions = map[ControlAction]bool{
	ActionAdvance: true, ActionEdit: true, ActionSkip: true, ActionReset: true,
	ActionAcceptAll: true, ActionRefineItem: true, ActionRenameItem: true,
	ActionReorder: true, ActionRegenerate: true, ActionRemoveItem: true,
}

// IsMicroFlowAction reports whether a belongs to the compound-step flow.
func (a ControlAction) IsMicroFlowAction() bool {
	switch a {
	case ActionAcceptAll, ActionRefineItem, ActionRenameItem, ActionReorder, ActionRegenerate, ActionRemoveItem:
		return true
	}
	return false
}

// Event is one user event. Fields beyond Kind are interpreted per kind.
type Event struct {
	Kind      EventKind     `json:"kind"`
	Value     string        `json:"value,omitempty"`
	ItemIndex int           `json:"itemIndex,omitempty"`
	Action    ControlAction `json:"action,omitempty"`

	// Target is the step an edit moves to.
	Target StepRef `json:"target,omitempty"`
	// PreserveEarlier keeps stages before the current one on reset.
	PreserveEarlier bool `json:"preserveEarlier,omitempty"`

	// Micro-flow arguments.
	Index       int    `json:"index,omitempty"`
	From        int    `json:"from,omitempty"`
	To          int    `json:"to,omitempty"`
	Instruction string `json:"instruction,omitempty"`

	// Expect, when set, is the step the client believed was current.
	// Events addressed to any other step are rejected as stale.
	Expect StepRef `json:"expect,omitempty"`
}

// Validate checks the event is well formed for its kind.
func (e Event) Validate() error {
	switch e.Kind {
	case EventText:
		return nil
	case EventSelection:
		if e.ItemIndex < 0 {
			return fmt.Errorf("selection index must not be negative")
		}
		return nil
	case EventControl:
		if !validActions[e.Action] {
			return fmt.Errorf("unknown control action %q", e.Action)
		}
		if e.Action == ActionEdit && e.Target.IsZero() {
			return fmt.Errorf("edit requires a target step")
		}
		return nil
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
}

// TextEvent builds a free-text event.
func TextEvent(value string) Event {
	return Event{Kind: EventText, Value: value}
}

// SelectionEvent builds a selection event.
func SelectionEvent(index int, value string) Event {
	return Event{Kind: EventSelection, ItemIndex: index, Value: value}
}

// ControlEvent builds a control event with no arguments.
func ControlEvent(action ControlAction) Event {
	return Event{Kind: EventControl, Action: action}
}

// EditEvent builds an edit control event.
func EditEvent(target StepRef) Event {
	return Event{Kind: EventControl, Action: ActionEdit, Target: target}
}

// ResetEvent builds a reset control event.
func ResetEvent(preserveEarlier bool) Event {
	return Event{Kind: EventControl, Action: ActionReset, PreserveEarlier: preserveEarlier}
}
