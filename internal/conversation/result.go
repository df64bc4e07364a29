package conversation

import (
	"github.com/alexanderramin/blueprint/internal/domain"
	"github.com/alexanderramin/blueprint/internal/intelligence"
	"github.com/alexanderramin/blueprint/internal/microflow"
	"github.com/alexanderramin/blueprint/internal/validation"
)

// Outcome is what an event did to the session.
type Outcome string

const (
	OutcomeAdvanced  Outcome = "advanced"
	OutcomeStayed    Outcome = "stayed"
	OutcomeRejected  Outcome = "rejected"
	OutcomeStale     Outcome = "stale"
	OutcomeUpdated   Outcome = "updated"
	OutcomeEdited    Outcome = "edited"
	OutcomeReset     Outcome = "reset"
	OutcomeCompleted Outcome = "completed"
	OutcomeStarted   Outcome = "started"
)

// Moved reports whether the cursor changed.
func (o Outcome) Moved() bool {
	switch o {
	case OutcomeAdvanced, OutcomeEdited, OutcomeReset, OutcomeCompleted:
		return true
	}
	return false
}

// RejectReason types a rejected or stayed outcome.
type RejectReason string

const (
	ReasonInvalidEvent  RejectReason = "invalid_event"
	ReasonValidation    RejectReason = "validation_failed"
	ReasonFutureStep    RejectReason = "future_step"
	ReasonUnknownStep   RejectReason = "unknown_step"
	ReasonNotSkippable  RejectReason = "not_skippable"
	ReasonNotCompound   RejectReason = "not_compound"
	ReasonInputRequired RejectReason = "input_required"
	ReasonComplete      RejectReason = "session_complete"
	ReasonStale         RejectReason = "stale_event"
	ReasonMicroFlow     RejectReason = "micro_flow"
)

// Progress is derived from the cursor and the static stage table only.
type Progress struct {
	CurrentOrdinal int            `json:"currentOrdinal"`
	TotalOrdinals  int            `json:"totalOrdinals"`
	Percentage     int            `json:"percentage"`
	CurrentStageID domain.StageID `json:"currentStageId"`
}

// ProgressAt computes progress for a cursor position.
func ProgressAt(p domain.Position) Progress {
	total := domain.TotalSteps()
	done := p.StepsBefore()
	pr := Progress{
		CurrentOrdinal: done + 1,
		TotalOrdinals:  total,
		Percentage:     done * 100 / total,
		CurrentStageID: domain.StageDone,
	}
	if p.IsDone() {
		pr.CurrentOrdinal = total
		return pr
	}
	if stage, _, ok := domain.StepAt(p); ok {
		pr.CurrentStageID = stage.ID
	}
	return pr
}

// Result is returned for every event. Illegal requests produce a rejected
// Result rather than an error.
type Result struct {
	Outcome     Outcome                `json:"outcome"`
	Reason      RejectReason           `json:"reason,omitempty"`
	Detail      string                 `json:"detail,omitempty"`
	Step        domain.StepRef         `json:"step"`
	Position    domain.Position        `json:"position"`
	Issues      []validation.Issue     `json:"issues,omitempty"`
	Suggestions []string               `json:"suggestions,omitempty"`
	Shortfalls  []validation.Shortfall `json:"shortfalls,omitempty"`
	Message     string                 `json:"message"`
	NextActions []string               `json:"suggestedNextActions"`
	Source      intelligence.Source    `json:"source"`
	MicroFlow   *domain.MicroFlowState `json:"microFlow,omitempty"`
	Recap       *domain.StageRecap     `json:"recap,omitempty"`
	Progress    Progress               `json:"progress"`
	MicroReason microflow.Reason       `json:"microReason,omitempty"`
	Captured    *domain.CapturedValue  `json:"captured,omitempty"`
	Warning     string                 `json:"warning,omitempty"`
}
