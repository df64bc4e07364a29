package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrCorruptSnapshot indicates a persisted session could not be restored.
// It is the only unrecoverable failure and is surfaced separately from
// in-session errors.
var ErrCorruptSnapshot = errors.New("corrupt session snapshot")

// SnapshotVersion is the current snapshot format version.
const SnapshotVersion = 1

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSummary   = "summary"
)

// Turn is one entry of the bounded conversation history.
type Turn struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	Stage   StageID   `json:"stage,omitempty"`
	Step    StepID    `json:"step,omitempty"`
	At      time.Time `json:"at"`
}

// MicroFlowMode is the state of a compound step's nested flow.
type MicroFlowMode string

const (
	ModeSuggesting MicroFlowMode = "suggesting"
	ModeRefining   MicroFlowMode = "refining"
	ModeAccepting  MicroFlowMode = "accepting"
)

// MicroFlowState holds the candidate and working item sets of an active
// compound step.
type MicroFlowState struct {
	Step      StepRef       `json:"step"`
	Suggested []Item        `json:"suggested_items"`
	Working   []Item        `json:"working_items"`
	Mode      MicroFlowMode `json:"mode"`
	Source    string        `json:"source,omitempty"` // "llm" or "deterministic"

	// RefineIndex is the working item awaiting an instruction while Mode is
	// refining.
	RefineIndex int `json:"refine_index"`
	// Generation counts regenerate calls for this step instance.
	Generation int `json:"generation"`
}

// Clone returns a deep copy of the state.
func (m MicroFlowState) Clone() MicroFlowState {
	out := m
	out.Suggested = CloneItems(m.Suggested)
	out.Working = CloneItems(m.Working)
	return out
}

// StageRecap is the deterministic summary produced when a stage is exited.
type StageRecap struct {
	Stage     StageID                  `json:"stage"`
	Summary   string                   `json:"summary"`
	Snapshot  map[StepID]CapturedValue `json:"snapshot"`
	CreatedAt time.Time                `json:"created_at"`
}

// Session is the root aggregate for one workflow instance.
type Session struct {
	ID        string
	Cursor    Position
	Record    Record
	MicroFlow *MicroFlowState
	Recaps    map[StageID]StageRecap
	History   []Turn
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewSession creates a session positioned at the first step.
func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:        id,
		Record:    NewRecord(),
		Recaps:    map[StageID]StageRecap{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Complete reports whether the final stage has been finished.
func (s *Session) Complete() bool {
	return s.Cursor.IsDone()
}

// CurrentRef returns the step under the cursor (zero at done).
func (s *Session) CurrentRef() StepRef {
	return RefAt(s.Cursor)
}

// CurrentStageID returns the current stage, or StageDone.
func (s *Session) CurrentStageID() StageID {
	if s.Cursor.IsDone() {
		return StageDone
	}
	return stageTable[s.Cursor.StageIndex].ID
}

// Clone returns a deep copy so callers can prepare changes and commit them
// only on success.
func (s *Session) Clone() *Session {
	out := *s
	out.Record = s.Record.copy()
	if s.MicroFlow != nil {
		mf := s.MicroFlow.Clone()
		out.MicroFlow = &mf
	}
	out.Recaps = make(map[StageID]StageRecap, len(s.Recaps))
	for k, v := range s.Recaps {
		out.Recaps[k] = v
	}
	out.History = append([]Turn(nil), s.History...)
	return &out
}

// Snapshot is the plain serializable form of a session.
type Snapshot struct {
	Version   int                    `json:"version"`
	ID        string                 `json:"id"`
	Cursor    Position               `json:"cursor"`
	Record    Record                 `json:"record"`
	MicroFlow *MicroFlowState        `json:"micro_flow,omitempty"`
	Recaps    map[StageID]StageRecap `json:"recaps"`
	History   []Turn                 `json:"history"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Snapshot captures the session without live references.
func (s *Session) Snapshot() Snapshot {
	c := s.Clone()
	return Snapshot{
		Version:   SnapshotVersion,
		ID:        c.ID,
		Cursor:    c.Cursor,
		Record:    c.Record,
		MicroFlow: c.MicroFlow,
		Recaps:    c.Recaps,
		History:   c.History,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

// RestoreSession rebuilds a session from a snapshot, rejecting snapshots
// whose cursor, micro-flow or recaps do not fit the stage table.
func RestoreSession(snap Snapshot) (*Session, error) {
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptSnapshot, snap.Version)
	}
	if snap.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrCorruptSnapshot)
	}
	if !snap.Cursor.Valid() {
		return nil, fmt.Errorf("%w: cursor %d/%d out of range", ErrCorruptSnapshot, snap.Cursor.StageIndex, snap.Cursor.StepIndex)
	}
	if snap.MicroFlow != nil {
		step, ok := LookupStep(snap.MicroFlow.Step)
		if !ok || !step.IsCompound() || snap.MicroFlow.Step != RefAt(snap.Cursor) {
			return nil, fmt.Errorf("%w: micro-flow for %q does not match cursor", ErrCorruptSnapshot, snap.MicroFlow.Step)
		}
	}
	for stage := range snap.Recaps {
		if _, idx, ok := LookupStage(stage); !ok || idx > snap.Cursor.StageIndex {
			return nil, fmt.Errorf("%w: recap for unreached stage %q", ErrCorruptSnapshot, stage)
		}
	}

	recaps := snap.Recaps
	if recaps == nil {
		recaps = map[StageID]StageRecap{}
	}
	record := snap.Record
	if record.values == nil {
		record = NewRecord()
	}
	sess := &Session{
		ID:        snap.ID,
		Cursor:    snap.Cursor,
		Record:    record,
		MicroFlow: snap.MicroFlow,
		Recaps:    recaps,
		History:   snap.History,
		CreatedAt: snap.CreatedAt,
		UpdatedAt: snap.UpdatedAt,
	}
	return sess.Clone(), nil
}
