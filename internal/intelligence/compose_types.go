package intelligence

import (
	"time"

	"github.com/alexanderramin/blueprint/internal/domain"
	"github.com/alexanderramin/blueprint/internal/validation"
)

// Source reports where composed output came from.
type Source string

const (
	SourceLLM           Source = "llm"
	SourceDeterministic Source = "deterministic"
)

// ComposeAction is what just happened, and so what the next message must do.
type ComposeAction string

const (
	ComposeWelcome  ComposeAction = "welcome"  // session started
	ComposePrompt   ComposeAction = "prompt"   // ask for the current step
	ComposeRetry    ComposeAction = "retry"    // input failed validation
	ComposeAdvanced ComposeAction = "advanced" // step confirmed, cursor moved
	ComposeSkipped  ComposeAction = "skipped"
	ComposeEdit     ComposeAction = "edit"
	ComposeReset    ComposeAction = "reset"
	ComposeItems    ComposeAction = "items" // micro-flow working set changed
	ComposeComplete ComposeAction = "complete"
)

// ComposeRequest is everything the composer may use. It is a read-only view;
// the composer never changes session state.
type ComposeRequest struct {
	Action ComposeAction
	// Step is the step now under the cursor, zero once the session is done.
	Step      domain.StepRef
	Previous  domain.StepRef // step just confirmed, skipped or edited away from
	Record    domain.Record
	Context   []domain.Turn
	Issues    []validation.Issue
	Hints     []string
	Recap     *domain.StageRecap
	MicroFlow *domain.MicroFlowState
	Timeout   time.Duration
}

// Composition is the next message plus the actions the user can take.
type Composition struct {
	Text        string   `json:"text"`
	NextActions []string `json:"suggestedNextActions"`
	Source      Source   `json:"source"`
}

// ItemsRequest asks for a candidate item set for a compound step.
type ItemsRequest struct {
	Step    domain.StepRef
	Record  domain.Record
	Context []domain.Turn
	// Variant distinguishes regenerate calls so fallbacks can rotate.
	Variant int
	// Avoid lists titles the user already has or rejected.
	Avoid   []string
	Timeout time.Duration
}

// ItemSet is a generated or fallback candidate set.
type ItemSet struct {
	Items  []domain.Item
	Source Source
}

// RefineRequest asks for a replacement for one item.
type RefineRequest struct {
	Step        domain.StepRef
	Item        domain.Item
	Instruction string
	Record      domain.Record
	Timeout     time.Duration
}
