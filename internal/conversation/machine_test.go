package conversation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexanderramin/blueprint/internal/domain"
	"github.com/alexanderramin/blueprint/internal/intelligence"
	"github.com/alexanderramin/blueprint/internal/llm"
	"github.com/alexanderramin/blueprint/internal/microflow"
	"github.com/alexanderramin/blueprint/internal/validation"
)

var (
	bigIdea      = domain.StepRef{Stage: domain.StageFoundation, Step: domain.StepBigIdea}
	question     = domain.StepRef{Stage: domain.StageFoundation, Step: domain.StepEssentialQuestion}
	challenge    = domain.StepRef{Stage: domain.StageFoundation, Step: domain.StepChallenge}
	duration     = domain.StepRef{Stage: domain.StagePlan, Step: domain.StepDuration}
	phases       = domain.StepRef{Stage: domain.StagePlan, Step: domain.StepPhases}
	resources    = domain.StepRef{Stage: domain.StagePlan, Step: domain.StepResources}
	deliverables = domain.StepRef{Stage: domain.StageOutputs, Step: domain.StepDeliverables}
	exhibition   = domain.StepRef{Stage: domain.StageOutputs, Step: domain.StepExhibition}
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newMachine(t *testing.T) *Machine {
	t.Helper()
	return NewMachine(intelligence.NewComposer(nil), WithClock(func() time.Time { return testNow }))
}

func start(t *testing.T, m *Machine) *domain.Session {
	t.Helper()
	sess, res, err := m.Start(context.Background(), "s-1")
	require.NoError(t, err)
	require.Equal(t, OutcomeStarted, res.Outcome)
	require.Equal(t, bigIdea, res.Step)
	return sess
}

func send(t *testing.T, m *Machine, sess *domain.Session, ev domain.Event) Result {
	t.Helper()
	res, err := m.Handle(context.Background(), sess, ev)
	require.NoError(t, err)
	return res
}

func answerFoundation(t *testing.T, m *Machine, sess *domain.Session) Result {
	t.Helper()
	require.Equal(t, OutcomeAdvanced, send(t, m, sess, domain.TextEvent("Water shapes how communities grow and thrive")).Outcome)
	require.Equal(t, OutcomeAdvanced, send(t, m, sess, domain.TextEvent("How might students investigate local water quality")).Outcome)
	res := send(t, m, sess, domain.TextEvent("Design a water testing plan for the city council"))
	require.Equal(t, OutcomeAdvanced, res.Outcome)
	return res
}

func answerPlan(t *testing.T, m *Machine, sess *domain.Session) {
	t.Helper()
	require.Equal(t, OutcomeAdvanced, send(t, m, sess, domain.TextEvent("6 weeks")).Outcome)
	require.Equal(t, phases, sess.CurrentRef())
	require.Equal(t, OutcomeAdvanced, send(t, m, sess, domain.ControlEvent(domain.ActionAcceptAll)).Outcome)
	require.Equal(t, OutcomeAdvanced, send(t, m, sess, domain.ControlEvent(domain.ActionSkip)).Outcome)
}

func TestStart(t *testing.T) {
	m := newMachine(t)
	sess, res, err := m.Start(context.Background(), "abc")

	require.NoError(t, err)
	assert.Equal(t, "abc", sess.ID)
	assert.Equal(t, domain.Position{}, sess.Cursor)
	assert.Equal(t, 0, sess.Record.Len())
	assert.Contains(t, res.Message, "Welcome")
	assert.Equal(t, intelligence.SourceDeterministic, res.Source)
	assert.Equal(t, 1, res.Progress.CurrentOrdinal)
	require.Len(t, sess.History, 1)
	assert.Equal(t, domain.RoleAssistant, sess.History[0].Role)
}

func TestEssentialQuestion_StatementStays(t *testing.T) {
	m := newMachine(t)
	sess := start(t, m)
	send(t, m, sess, domain.TextEvent("Water shapes how communities grow and thrive"))
	before := sess.Snapshot()

	res := send(t, m, sess, domain.TextEvent("students investigate water"))

	assert.Equal(t, OutcomeStayed, res.Outcome)
	assert.Equal(t, ReasonValidation, res.Reason)
	require.NotEmpty(t, res.Issues)
	assert.Equal(t, validation.IssueStructure, res.Issues[0].Type)
	assert.Equal(t, validation.SeverityError, res.Issues[0].Severity)
	assert.NotEmpty(t, res.Suggestions)
	assert.Equal(t, question, sess.CurrentRef())
	assert.Equal(t, before.Cursor, sess.Cursor)
	assert.Equal(t, before.Record, sess.Record)
	assert.False(t, sess.Record.Has(question))
}

func TestEssentialQuestion_StemGetsQuestionMark(t *testing.T) {
	m := newMachine(t)
	sess := start(t, m)
	send(t, m, sess, domain.TextEvent("Water shapes how communities grow and thrive"))

	res := send(t, m, sess, domain.TextEvent("How might students investigate local water quality"))

	assert.Equal(t, OutcomeAdvanced, res.Outcome)
	assert.Equal(t, challenge, sess.CurrentRef())
	require.NotNil(t, res.Captured)
	assert.Equal(t, "How might students investigate local water quality?", res.Captured.Text)
	assert.Equal(t, "How might students investigate local water quality?", sess.Record.Text(question))
	assert.Equal(t, domain.MethodTyped, res.Captured.Method)
}

func TestSelectionCapturesAsSelected(t *testing.T) {
	m := newMachine(t)
	sess := start(t, m)

	res := send(t, m, sess, domain.SelectionEvent(0, "Ecosystems depend on a balance of living things"))

	assert.Equal(t, OutcomeAdvanced, res.Outcome)
	v, ok := sess.Record.Get(bigIdea)
	require.True(t, ok)
	assert.Equal(t, domain.MethodSelected, v.Method)
}

func TestFullWalkthrough(t *testing.T) {
	m := newMachine(t)
	sess := start(t, m)

	res := answerFoundation(t, m, sess)
	require.NotNil(t, res.Recap)
	assert.Equal(t, domain.StageFoundation, res.Recap.Stage)
	assert.Contains(t, res.Message, "That wraps up Foundation")
	assert.Equal(t, duration, sess.CurrentRef())

	answerPlan(t, m, sess)
	assert.Equal(t, deliverables, sess.CurrentRef())
	require.NotNil(t, sess.MicroFlow)
	assert.Equal(t, deliverables, sess.MicroFlow.Step)

	phaseValue, ok := sess.Record.Get(phases)
	require.True(t, ok)
	assert.Len(t, phaseValue.Items, 4)
	assert.Equal(t, domain.MethodSelected, phaseValue.Method)
	resourcesValue, _ := sess.Record.Get(resources)
	assert.True(t, resourcesValue.Skipped)

	require.Equal(t, OutcomeAdvanced, send(t, m, sess, domain.ControlEvent(domain.ActionAcceptAll)).Outcome)
	assert.Nil(t, sess.MicroFlow)

	done := send(t, m, sess, domain.TextEvent("Students present findings to the city council"))
	assert.Equal(t, OutcomeCompleted, done.Outcome)
	assert.True(t, sess.Complete())
	assert.Equal(t, domain.StepRef{}, done.Step)
	assert.Equal(t, 100, done.Progress.Percentage)
	assert.Equal(t, domain.StageDone, done.Progress.CurrentStageID)
	assert.Len(t, sess.Recaps, 3)
	assert.Equal(t, domain.TotalSteps(), sess.Record.Len())
	assert.Equal(t, []string{"edit", "reset"}, done.NextActions)

	after := send(t, m, sess, domain.TextEvent("more"))
	assert.Equal(t, OutcomeRejected, after.Outcome)
	assert.Equal(t, ReasonComplete, after.Reason)
}

func TestMonotonicWithoutEdit(t *testing.T) {
	m := newMachine(t)
	sess := start(t, m)

	events := []domain.Event{
		domain.TextEvent("too short"),
		domain.TextEvent("Water shapes how communities grow and thrive"),
		domain.ControlEvent(domain.ActionAdvance),
		domain.TextEvent("students investigate water"),
		domain.ControlEvent(domain.ActionSkip),
		domain.TextEvent("Why does clean water matter?"),
		domain.ControlEvent(domain.ActionRegenerate),
		domain.TextEvent("Build a filter for local families"),
		domain.TextEvent("a while"),
		domain.TextEvent("three weeks"),
		domain.ControlEvent(domain.ActionRemoveItem),
		domain.ControlEvent(domain.ActionAcceptAll),
		domain.SelectionEvent(3, "x"),
		domain.TextEvent("Test kits, river access"),
		domain.ControlEvent(domain.ActionAcceptAll),
		domain.TextEvent("short"),
		domain.TextEvent("Families visit a science night showcase"),
		domain.TextEvent("again"),
	}
	prev := sess.Cursor
	for _, ev := range events {
		_, err := m.Handle(context.Background(), sess, ev)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, sess.Cursor.Compare(prev), 0, "cursor moved back on %+v", ev)
		prev = sess.Cursor
	}
	assert.True(t, sess.Complete())
}

func TestValidationGating(t *testing.T) {
	m := newMachine(t)
	sess := start(t, m)
	answerFoundation(t, m, sess)

	for _, raw := range []string{"", "   ", "soon", "for a while", "later on"} {
		before := sess.Snapshot()
		res := send(t, m, sess, domain.TextEvent(raw))
		assert.Equal(t, OutcomeStayed, res.Outcome, raw)
		assert.Equal(t, before.Cursor, sess.Cursor, raw)
		assert.Equal(t, before.Record, sess.Record, raw)
		assert.Equal(t, before.Recaps, sess.Recaps, raw)
	}
}

func TestRecapCreatedOncePerStageExit(t *testing.T) {
	m := newMachine(t)
	sess := start(t, m)

	recaps := 0
	count := func(res Result) {
		if res.Recap != nil {
			recaps++
		}
	}
	count(send(t, m, sess, domain.TextEvent("Water shapes how communities grow and thrive")))
	count(send(t, m, sess, domain.TextEvent("How might students investigate local water quality")))
	assert.Equal(t, 0, recaps)
	assert.Empty(t, sess.Recaps)

	count(send(t, m, sess, domain.TextEvent("Design a water testing plan for the city council")))
	assert.Equal(t, 1, recaps)
	first := sess.Recaps[domain.StageFoundation]

	count(send(t, m, sess, domain.TextEvent("6 weeks")))
	count(send(t, m, sess, domain.TextEvent("nope")))
	assert.Equal(t, 1, recaps)
	assert.Equal(t, first, sess.Recaps[domain.StageFoundation])
	assert.Len(t, sess.Recaps, 1)
}

func TestEditTwoStagesBack(t *testing.T) {
	m := newMachine(t)
	sess := start(t, m)
	answerFoundation(t, m, sess)
	answerPlan(t, m, sess)
	require.Equal(t, deliverables, sess.CurrentRef())
	require.Len(t, sess.Recaps, 2)

	res := send(t, m, sess, domain.EditEvent(bigIdea))

	assert.Equal(t, OutcomeEdited, res.Outcome)
	assert.Equal(t, bigIdea, sess.CurrentRef())
	assert.Nil(t, sess.MicroFlow)
	assert.Contains(t, sess.Recaps, domain.StageFoundation)
	assert.NotContains(t, sess.Recaps, domain.StagePlan)
	assert.Contains(t, res.Message, "Your current answer is")
	assert.True(t, sess.Record.Has(duration), "later answers are kept")

	res = send(t, m, sess, domain.TextEvent("Clean water is a shared community responsibility"))
	assert.Equal(t, OutcomeAdvanced, res.Outcome)
	assert.Equal(t, "Clean water is a shared community responsibility", sess.Record.Text(bigIdea))
	assert.Equal(t, question, sess.CurrentRef())

	send(t, m, sess, domain.ControlEvent(domain.ActionAdvance))
	exit := send(t, m, sess, domain.ControlEvent(domain.ActionAdvance))
	require.NotNil(t, exit.Recap)
	assert.Contains(t, exit.Recap.Summary, "Clean water is a shared community responsibility")
	assert.Len(t, sess.Recaps, 1)
	assert.Equal(t, *exit.Recap, sess.Recaps[domain.StageFoundation])
}

func TestEditIntoCompoundStepResumesItems(t *testing.T) {
	m := newMachine(t)
	sess := start(t, m)
	answerFoundation(t, m, sess)
	answerPlan(t, m, sess)
	accepted, _ := sess.Record.Get(phases)

	send(t, m, sess, domain.EditEvent(phases))

	require.NotNil(t, sess.MicroFlow)
	assert.Equal(t, accepted.Items, sess.MicroFlow.Working)
	assert.Equal(t, domain.ModeSuggesting, sess.MicroFlow.Mode)
}

func TestEditFutureStepRejected(t *testing.T) {
	m := newMachine(t)
	sess := start(t, m)
	send(t, m, sess, domain.TextEvent("Water shapes how communities grow and thrive"))
	before := sess.Snapshot()

	res := send(t, m, sess, domain.EditEvent(duration))

	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.Equal(t, ReasonFutureStep, res.Reason)
	assert.Equal(t, before, sess.Snapshot())

	bad := send(t, m, sess, domain.Event{Kind: domain.EventControl, Action: domain.ActionEdit, Target: domain.StepRef{Stage: "plan", Step: "big_idea"}})
	assert.Equal(t, ReasonUnknownStep, bad.Reason)
	assert.Equal(t, before, sess.Snapshot())
}

func TestSkip(t *testing.T) {
	m := newMachine(t)
	sess := start(t, m)
	before := sess.Snapshot()

	res := send(t, m, sess, domain.ControlEvent(domain.ActionSkip))
	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.Equal(t, ReasonNotSkippable, res.Reason)
	assert.Equal(t, before, sess.Snapshot())

	answerFoundation(t, m, sess)
	send(t, m, sess, domain.TextEvent("6 weeks"))
	send(t, m, sess, domain.ControlEvent(domain.ActionAcceptAll))
	require.Equal(t, resources, sess.CurrentRef())

	res = send(t, m, sess, domain.ControlEvent(domain.ActionSkip))
	assert.Equal(t, OutcomeAdvanced, res.Outcome)
	require.NotNil(t, res.Captured)
	assert.True(t, res.Captured.Skipped)
	assert.Equal(t, domain.MethodSkipped, res.Captured.Method)
	require.NotNil(t, res.Recap)
	assert.Contains(t, res.Recap.Summary, "Resources: skipped.")
}

func TestReset(t *testing.T) {
	t.Run("preserve earlier stages", func(t *testing.T) {
		m := newMachine(t)
		sess := start(t, m)
		answerFoundation(t, m, sess)
		send(t, m, sess, domain.TextEvent("6 weeks"))

		res := send(t, m, sess, domain.ResetEvent(true))

		assert.Equal(t, OutcomeReset, res.Outcome)
		assert.Equal(t, duration, sess.CurrentRef())
		assert.False(t, sess.Record.Has(duration))
		assert.True(t, sess.Record.Has(bigIdea))
		assert.Contains(t, sess.Recaps, domain.StageFoundation)
	})

	t.Run("everything", func(t *testing.T) {
		m := newMachine(t)
		sess := start(t, m)
		answerFoundation(t, m, sess)

		res := send(t, m, sess, domain.ResetEvent(false))

		assert.Equal(t, OutcomeReset, res.Outcome)
		assert.Equal(t, domain.Position{}, sess.Cursor)
		assert.Equal(t, 0, sess.Record.Len())
		assert.Empty(t, sess.Recaps)
	})

	t.Run("preserve at done resets final stage", func(t *testing.T) {
		m := newMachine(t)
		sess := start(t, m)
		answerFoundation(t, m, sess)
		answerPlan(t, m, sess)
		send(t, m, sess, domain.ControlEvent(domain.ActionAcceptAll))
		send(t, m, sess, domain.TextEvent("Students present findings to the city council"))
		require.True(t, sess.Complete())

		send(t, m, sess, domain.ResetEvent(true))

		assert.Equal(t, deliverables, sess.CurrentRef())
		assert.NotNil(t, sess.MicroFlow)
		assert.Len(t, sess.Recaps, 2)
		assert.False(t, sess.Record.Has(exhibition))
	})
}

func TestStaleEventRejected(t *testing.T) {
	m := newMachine(t)
	sess := start(t, m)

	ev := domain.TextEvent("Water shapes how communities grow and thrive")
	ev.Expect = bigIdea
	require.Equal(t, OutcomeAdvanced, send(t, m, sess, ev).Outcome)
	before := sess.Snapshot()

	res := send(t, m, sess, ev)

	assert.Equal(t, OutcomeStale, res.Outcome)
	assert.Equal(t, ReasonStale, res.Reason)
	assert.Equal(t, before, sess.Snapshot())
}

func TestConcurrentDuplicateSubmit(t *testing.T) {
	m := newMachine(t)
	sess := start(t, m)

	ev := domain.TextEvent("Water shapes how communities grow and thrive")
	ev.Expect = bigIdea

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 8)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := m.Handle(context.Background(), sess, ev)
			assert.NoError(t, err)
			outcomes[i] = res.Outcome
		}(i)
	}
	wg.Wait()

	advanced := 0
	for _, o := range outcomes {
		if o == OutcomeAdvanced {
			advanced++
		} else {
			assert.Equal(t, OutcomeStale, o)
		}
	}
	assert.Equal(t, 1, advanced)
	assert.Equal(t, question, sess.CurrentRef())
}

func TestRefiningBlocksAdvance(t *testing.T) {
	m := newMachine(t)
	sess := start(t, m)
	answerFoundation(t, m, sess)
	send(t, m, sess, domain.TextEvent("6 weeks"))

	res := send(t, m, sess, domain.Event{Kind: domain.EventControl, Action: domain.ActionRefineItem, Index: 0})
	require.Equal(t, OutcomeUpdated, res.Outcome)
	require.Equal(t, domain.ModeRefining, sess.MicroFlow.Mode)
	assert.NotContains(t, res.NextActions, "accept_all")

	for _, action := range []domain.ControlAction{domain.ActionAdvance, domain.ActionAcceptAll} {
		blocked := send(t, m, sess, domain.ControlEvent(action))
		assert.Equal(t, OutcomeStayed, blocked.Outcome)
		assert.Equal(t, ReasonMicroFlow, blocked.Reason)
		assert.Equal(t, microflow.ReasonRefining, blocked.MicroReason)
		assert.Equal(t, phases, sess.CurrentRef())
	}

	send(t, m, sess, domain.TextEvent("rename to Kickoff"))
	assert.Equal(t, "Kickoff", sess.MicroFlow.Working[0].Title)

	accepted := send(t, m, sess, domain.ControlEvent(domain.ActionAcceptAll))
	assert.Equal(t, OutcomeAdvanced, accepted.Outcome)
	require.NotNil(t, accepted.Captured)
	assert.Equal(t, domain.MethodRefined, accepted.Captured.Method)
}

func TestMicroFlowShortfallOnMachine(t *testing.T) {
	m := newMachine(t)
	sess := start(t, m)
	answerFoundation(t, m, sess)
	answerPlan(t, m, sess)

	for i := 0; i < 2; i++ {
		send(t, m, sess, domain.Event{Kind: domain.EventControl, Action: domain.ActionRemoveItem, Index: 0})
	}
	milestones := domain.ItemsInGroup(sess.MicroFlow.Working, domain.GroupMilestone)
	require.Len(t, milestones, 1)

	res := send(t, m, sess, domain.ControlEvent(domain.ActionAcceptAll))

	assert.Equal(t, OutcomeStayed, res.Outcome)
	assert.Equal(t, microflow.ReasonBelowMinimum, res.MicroReason)
	assert.Contains(t, res.Detail, "milestones needs at least 3 (has 1)")
	assert.Len(t, domain.ItemsInGroup(sess.MicroFlow.Working, domain.GroupMilestone), 1)
	assert.False(t, sess.Record.Has(deliverables))
}

func TestMicroFlowActionOnScalarStepRejected(t *testing.T) {
	m := newMachine(t)
	sess := start(t, m)

	res := send(t, m, sess, domain.ControlEvent(domain.ActionAcceptAll))

	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.Equal(t, ReasonNotCompound, res.Reason)
}

func TestAdvanceWithoutAnswerStays(t *testing.T) {
	m := newMachine(t)
	sess := start(t, m)

	res := send(t, m, sess, domain.ControlEvent(domain.ActionAdvance))

	assert.Equal(t, OutcomeStayed, res.Outcome)
	assert.Equal(t, ReasonInputRequired, res.Reason)
	assert.Equal(t, bigIdea, sess.CurrentRef())
}

func TestInvalidEventRejected(t *testing.T) {
	m := newMachine(t)
	sess := start(t, m)

	res := send(t, m, sess, domain.Event{Kind: "shout"})
	assert.Equal(t, ReasonInvalidEvent, res.Reason)

	res = send(t, m, sess, domain.Event{Kind: domain.EventControl, Action: domain.ActionEdit})
	assert.Equal(t, ReasonInvalidEvent, res.Reason)
}

func TestCancelledContextLeavesSessionUntouched(t *testing.T) {
	m := newMachine(t)
	sess := start(t, m)
	before := sess.Snapshot()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Handle(ctx, sess, domain.TextEvent("Water shapes how communities grow and thrive"))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, before, sess.Snapshot())
}

func TestProgress(t *testing.T) {
	m := newMachine(t)
	sess := start(t, m)

	p := m.Progress(sess)
	assert.Equal(t, Progress{CurrentOrdinal: 1, TotalOrdinals: 8, Percentage: 0, CurrentStageID: domain.StageFoundation}, p)

	answerFoundation(t, m, sess)
	p = m.Progress(sess)
	assert.Equal(t, Progress{CurrentOrdinal: 4, TotalOrdinals: 8, Percentage: 37, CurrentStageID: domain.StagePlan}, p)

	assert.Equal(t, Progress{CurrentOrdinal: 8, TotalOrdinals: 8, Percentage: 100, CurrentStageID: domain.StageDone}, ProgressAt(domain.DonePosition()))
}

func TestHistoryStaysBounded(t *testing.T) {
	m := NewMachine(intelligence.NewComposer(nil), WithClock(func() time.Time { return testNow }))
	sess := start(t, m)

	for i := 0; i < 20; i++ {
		send(t, m, sess, domain.TextEvent("short"))
	}

	assert.LessOrEqual(t, len(sess.History), 11)
	assert.Equal(t, domain.RoleSummary, sess.History[0].Role)
}

func TestItemNumbersInMessageMatchItemIndexes(t *testing.T) {
	m := newMachine(t)
	sess := start(t, m)
	answerFoundation(t, m, sess)
	answerPlan(t, m, sess)
	require.Equal(t, deliverables, sess.CurrentRef())

	res := send(t, m, sess, domain.Event{Kind: domain.EventControl, Action: domain.ActionRenameItem, Index: 0, Value: "Kickoff check-in"})
	require.Equal(t, OutcomeUpdated, res.Outcome)

	artifact := -1
	for i, it := range sess.MicroFlow.Working {
		if it.Group == domain.GroupArtifact {
			artifact = i
			break
		}
	}
	require.Positive(t, artifact, "milestones come before artifacts")
	shown := fmt.Sprintf("%d. %s", artifact+1, sess.MicroFlow.Working[artifact].Title)
	assert.Contains(t, res.Message, shown)

	// Renaming the number shown in the message hits that artifact.
	res = send(t, m, sess, domain.Event{Kind: domain.EventControl, Action: domain.ActionRenameItem, Index: artifact, Value: "Water quality report"})
	require.Equal(t, OutcomeUpdated, res.Outcome)
	assert.Equal(t, domain.GroupArtifact, sess.MicroFlow.Working[artifact].Group)
	assert.Equal(t, "Water quality report", sess.MicroFlow.Working[artifact].Title)
	assert.Equal(t, "Kickoff check-in", sess.MicroFlow.Working[0].Title)
	assert.Contains(t, res.Message, fmt.Sprintf("%d. Water quality report", artifact+1))
}

// failingClient fails every call.
type failingClient struct{}

func (failingClient) Generate(context.Context, llm.GenerateRequest) (*llm.GenerateResponse, error) {
	return nil, llm.ErrUnavailable
}

func (failingClient) Available(context.Context) bool { return false }

// hangingClient blocks until the call's context is done.
type hangingClient struct{}

func (hangingClient) Generate(ctx context.Context, _ llm.GenerateRequest) (*llm.GenerateResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (hangingClient) Available(context.Context) bool { return true }

func TestModelFailureFallsBackToTemplates(t *testing.T) {
	clients := map[string]llm.LLMClient{
		"error":   failingClient{},
		"timeout": hangingClient{},
	}
	for name, client := range clients {
		t.Run(name, func(t *testing.T) {
			clock := WithClock(func() time.Time { return testNow })
			m := NewMachine(intelligence.NewComposer(client), clock, WithComposeTimeout(30*time.Millisecond))
			ref := newMachine(t)

			sess, res, err := m.Start(context.Background(), "s-1")
			require.NoError(t, err)
			assert.Equal(t, intelligence.SourceDeterministic, res.Source)
			refSess := start(t, ref)

			// A rejected answer leaves the record and cursor alone.
			before := sess.Snapshot()
			res = send(t, m, sess, domain.TextEvent("short"))
			assert.Equal(t, OutcomeStayed, res.Outcome)
			assert.Equal(t, intelligence.SourceDeterministic, res.Source)
			assert.Equal(t, before.Record, sess.Record)
			assert.Equal(t, before.Cursor, sess.Cursor)

			// An accepted answer is captured exactly as without a model.
			answer := domain.TextEvent("Water shapes how communities grow and thrive")
			res = send(t, m, sess, answer)
			want := send(t, ref, refSess, answer)
			assert.Equal(t, OutcomeAdvanced, res.Outcome)
			assert.Equal(t, intelligence.SourceDeterministic, res.Source)
			assert.Equal(t, want.Message, res.Message)
			assert.Equal(t, refSess.Record, sess.Record)
			assert.Equal(t, question, sess.CurrentRef())

			// Entering a compound step suggests the template items.
			require.Equal(t, OutcomeAdvanced, send(t, m, sess, domain.TextEvent("How might students investigate local water quality")).Outcome)
			require.Equal(t, OutcomeAdvanced, send(t, m, sess, domain.TextEvent("Design a water testing plan for the city council")).Outcome)
			res = send(t, m, sess, domain.TextEvent("6 weeks"))
			require.Equal(t, OutcomeAdvanced, res.Outcome)
			assert.Equal(t, intelligence.SourceDeterministic, res.Source)
			require.Equal(t, phases, sess.CurrentRef())
			require.NotNil(t, sess.MicroFlow)
			assert.Equal(t, string(intelligence.SourceDeterministic), sess.MicroFlow.Source)
			assert.Equal(t, itemTitles(intelligence.DeterministicItems(phases, 0, nil)), itemTitles(sess.MicroFlow.Working))

			res = send(t, m, sess, domain.ControlEvent(domain.ActionRegenerate))
			assert.Equal(t, OutcomeUpdated, res.Outcome)
			assert.Equal(t, string(intelligence.SourceDeterministic), sess.MicroFlow.Source)
			assert.NotEmpty(t, sess.MicroFlow.Working)
			assert.Equal(t, phases, sess.CurrentRef())
		})
	}
}

func TestCancelDuringModelCallLeavesSessionUntouched(t *testing.T) {
	m := NewMachine(intelligence.NewComposer(hangingClient{}),
		WithClock(func() time.Time { return testNow }),
		WithComposeTimeout(10*time.Second),
	)
	sess, _, err := m.Start(context.Background(), "s-1")
	require.NoError(t, err)
	before := sess.Snapshot()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = m.Handle(ctx, sess, domain.TextEvent("Water shapes how communities grow and thrive"))

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, before, sess.Snapshot())
}

func itemTitles(items []domain.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Title
	}
	return out
}
