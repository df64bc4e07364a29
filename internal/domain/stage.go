package domain

import (
	"fmt"
	"strings"
)

// StageID identifies a workflow stage.
type StageID string

const (
	StageFoundation StageID = "foundation"
	StagePlan       StageID = "plan"
	StageOutputs    StageID = "outputs"

	// StageDone is reported once the final stage has been completed. It has
	// no steps and never appears in the stage table.
	StageDone StageID = "done"
)

// StepID identifies a step within a stage.
type StepID string

const (
	StepBigIdea           StepID = "big_idea"
	StepEssentialQuestion StepID = "essential_question"
	StepChallenge         StepID = "challenge"
	StepDuration          StepID = "duration"
	StepPhases            StepID = "phases"
	StepResources         StepID = "resources"
	StepDeliverables      StepID = "deliverables"
	StepExhibition        StepID = "exhibition"
)

// StepKind distinguishes single-answer steps from item-set steps.
type StepKind string

const (
	StepScalar   StepKind = "scalar"
	StepCompound StepKind = "compound"
)

// ItemGroup names one list inside a compound step's answer.
type ItemGroup string

const (
	GroupPhase     ItemGroup = "phase"
	GroupMilestone ItemGroup = "milestone"
	GroupArtifact  ItemGroup = "artifact"
	GroupCriterion ItemGroup = "criterion"
)

// GroupRule is the acceptance rule for one item group.
type GroupRule struct {
	Group ItemGroup
	Label string // plural, for messages
	Min   int
}

// Step is one question/answer unit within a stage.
type Step struct {
	ID        StepID
	Key       string
	Title     string
	Objective string
	Kind      StepKind
	Skippable bool
	Groups    []GroupRule // compound steps only
	DependsOn StepID      // earlier step the answer should align with
}

// IsCompound reports whether the step is resolved through a micro-flow.
func (s Step) IsCompound() bool { return s.Kind == StepCompound }

// Group returns the rule for g, if the step defines one.
func (s Step) Group(g ItemGroup) (GroupRule, bool) {
	for _, r := range s.Groups {
		if r.Group == g {
			return r, true
		}
	}
	return GroupRule{}, false
}

// DefaultGroup is the group assigned to items that arrive without one.
func (s Step) DefaultGroup() ItemGroup {
	if len(s.Groups) == 0 {
		return ""
	}
	return s.Groups[0].Group
}

// Stage is an ordered phase of the workflow.
type Stage struct {
	ID      StageID
	Ordinal int
	Title   string
	Purpose string
	Steps   []Step
}

// stageTable is the static transition table. Order is significant.
var stageTable = []Stage{
	{
		ID:      StageFoundation,
		Ordinal: 1,
		Title:   "Foundation",
		Purpose: "Pin down the big idea, the driving question and the real-world challenge.",
		Steps: []Step{
			{
				ID:        StepBigIdea,
				Key:       "foundation.big_idea",
				Title:     "Big idea",
				Objective: "Describe the foundational concept students should walk away understanding.",
				Kind:      StepScalar,
			},
			{
				ID:        StepEssentialQuestion,
				Key:       "foundation.essential_question",
				Title:     "Essential question",
				Objective: "Frame an open-ended question that drives the whole project.",
				Kind:      StepScalar,
				DependsOn: StepBigIdea,
			},
			{
				ID:        StepChallenge,
				Key:       "foundation.challenge",
				Title:     "Authentic challenge",
				Objective: "State the real task students will take on and who it serves.",
				Kind:      StepScalar,
				DependsOn: StepEssentialQuestion,
			},
		},
	},
	{
		ID:      StagePlan,
		Ordinal: 2,
		Title:   "Plan",
		Purpose: "Lay out the timeline, the phases of work and the resources needed.",
		Steps: []Step{
			{
				ID:        StepDuration,
				Key:       "plan.duration",
				Title:     "Duration",
				Objective: "Say how long the project runs.",
				Kind:      StepScalar,
			},
			{
				ID:        StepPhases,
				Key:       "plan.phases",
				Title:     "Phases",
				Objective: "Break the project into an ordered sequence of phases.",
				Kind:      StepCompound,
				Groups: []GroupRule{
					{Group: GroupPhase, Label: "phases", Min: 2},
				},
			},
			{
				ID:        StepResources,
				Key:       "plan.resources",
				Title:     "Resources",
				Objective: "List materials, partners or tools the project depends on.",
				Kind:      StepScalar,
				Skippable: true,
			},
		},
	},
	{
		ID:      StageOutputs,
		Ordinal: 3,
		Title:   "Outputs",
		Purpose: "Decide what students produce, how progress is checked and how work is shared.",
		Steps: []Step{
			{
				ID:        StepDeliverables,
				Key:       "outputs.deliverables",
				Title:     "Milestones, artifacts and criteria",
				Objective: "Agree on checkpoints, the artifacts students create and how they are assessed.",
				Kind:      StepCompound,
				Groups: []GroupRule{
					{Group: GroupMilestone, Label: "milestones", Min: 3},
					{Group: GroupArtifact, Label: "artifacts", Min: 1},
					{Group: GroupCriterion, Label: "assessment criteria", Min: 2},
				},
			},
			{
				ID:        StepExhibition,
				Key:       "outputs.exhibition",
				Title:     "Exhibition",
				Objective: "Describe how and to whom students present their final work.",
				Kind:      StepScalar,
				DependsOn: StepChallenge,
			},
		},
	},
}

// Stages returns the stage table. Callers must not modify the result.
func Stages() []Stage {
	return stageTable
}

// StageCount is the number of stages in the workflow.
func StageCount() int {
	return len(stageTable)
}

// TotalSteps is the number of steps across all stages.
func TotalSteps() int {
	n := 0
	for _, s := range stageTable {
		n += len(s.Steps)
	}
	return n
}

// LookupStage returns the stage with the given id.
func LookupStage(id StageID) (Stage, int, bool) {
	for i, s := range stageTable {
		if s.ID == id {
			return s, i, true
		}
	}
	return Stage{}, -1, false
}

// StepRef addresses one step of one stage ("stageStepId").
type StepRef struct {
	Stage StageID
	Step  StepID
}

func (r StepRef) String() string {
	if r.Stage == "" && r.Step == "" {
		return ""
	}
	if r.Step == "" {
		return string(r.Stage)
	}
	return string(r.Stage) + "/" + string(r.Step)
}

// IsZero reports whether r addresses nothing.
func (r StepRef) IsZero() bool { return r.Stage == "" && r.Step == "" }

// Valid reports whether r names a step in the stage table.
func (r StepRef) Valid() bool {
	_, ok := PositionOf(r)
	return ok
}

// MarshalText lets StepRef act as a JSON object key.
func (r StepRef) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText parses and validates a step reference.
func (r *StepRef) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*r = StepRef{}
		return nil
	}
	ref, err := ParseStepRef(string(b))
	if err != nil {
		return err
	}
	*r = ref
	return nil
}

// ParseStepRef parses "stage/step" (or a bare unique step id) and rejects
// combinations that are not in the stage table.
func ParseStepRef(s string) (StepRef, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return StepRef{}, fmt.Errorf("step reference is empty")
	}
	stage, step, found := strings.Cut(s, "/")
	if !found {
		step = stage
		for _, st := range stageTable {
			for _, sp := range st.Steps {
				if string(sp.ID) == step {
					return StepRef{Stage: st.ID, Step: sp.ID}, nil
				}
			}
		}
		return StepRef{}, fmt.Errorf("unknown step %q", s)
	}
	ref := StepRef{Stage: StageID(stage), Step: StepID(step)}
	if !ref.Valid() {
		return StepRef{}, fmt.Errorf("unknown step %q", s)
	}
	return ref, nil
}

// Position is the (stageIndex, stepIndex) cursor.
type Position struct {
	StageIndex int `json:"stage_index"`
	StepIndex  int `json:"step_index"`
}

// DonePosition is the terminal cursor, one past the final stage.
func DonePosition() Position {
	return Position{StageIndex: len(stageTable)}
}

// IsDone reports whether p is the terminal position.
func (p Position) IsDone() bool {
	return p.StageIndex >= len(stageTable)
}

// Compare orders positions: -1 if p is before q, 0 if equal, 1 if after.
func (p Position) Compare(q Position) int {
	switch {
	case p.StageIndex < q.StageIndex:
		return -1
	case p.StageIndex > q.StageIndex:
		return 1
	case p.StepIndex < q.StepIndex:
		return -1
	case p.StepIndex > q.StepIndex:
		return 1
	default:
		return 0
	}
}

// Valid reports whether p points at a step or at the done position.
func (p Position) Valid() bool {
	if p.IsDone() {
		return p.StageIndex == len(stageTable) && p.StepIndex == 0
	}
	if p.StageIndex < 0 || p.StepIndex < 0 {
		return false
	}
	return p.StepIndex < len(stageTable[p.StageIndex].Steps)
}

// Next returns the position after p and whether p was the last step of its stage.
func (p Position) Next() (Position, bool) {
	if p.IsDone() {
		return p, false
	}
	stage := stageTable[p.StageIndex]
	if p.StepIndex+1 < len(stage.Steps) {
		return Position{StageIndex: p.StageIndex, StepIndex: p.StepIndex + 1}, false
	}
	return Position{StageIndex: p.StageIndex + 1}, true
}

// StepsBefore counts the steps strictly before p in workflow order.
func (p Position) StepsBefore() int {
	if p.IsDone() {
		return TotalSteps()
	}
	n := 0
	for i := 0; i < p.StageIndex; i++ {
		n += len(stageTable[i].Steps)
	}
	return n + p.StepIndex
}

// StepAt resolves a position to its stage and step.
func StepAt(p Position) (Stage, Step, bool) {
	if !p.Valid() || p.IsDone() {
		return Stage{}, Step{}, false
	}
	stage := stageTable[p.StageIndex]
	return stage, stage.Steps[p.StepIndex], true
}

// RefAt returns the step reference at p, or the zero ref at done.
func RefAt(p Position) StepRef {
	stage, step, ok := StepAt(p)
	if !ok {
		return StepRef{}
	}
	return StepRef{Stage: stage.ID, Step: step.ID}
}

// PositionOf locates a step reference in the table.
func PositionOf(r StepRef) (Position, bool) {
	for i, st := range stageTable {
		if st.ID != r.Stage {
			continue
		}
		for j, sp := range st.Steps {
			if sp.ID == r.Step {
				return Position{StageIndex: i, StepIndex: j}, true
			}
		}
	}
	return Position{}, false
}

// LookupStep returns the step definition for r.
func LookupStep(r StepRef) (Step, bool) {
	p, ok := PositionOf(r)
	if !ok {
		return Step{}, false
	}
	_, step, ok := StepAt(p)
	return step, ok
}

// StageStepRefs lists the refs of every step in a stage, in order.
func StageStepRefs(id StageID) []StepRef {
	st, _, ok := LookupStage(id)
	if !ok {
		return nil
	}
	refs := make([]StepRef, 0, len(st.Steps))
	for _, sp := range st.Steps {
		refs = append(refs, StepRef{Stage: st.ID, Step: sp.ID})
	}
	return refs
}
