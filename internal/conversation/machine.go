// Package conversation drives a session through the stage table. The Machine
// validates and captures answers, moves the cursor, generates recaps on stage
// exit and hands compound steps to the micro-flow engine. It never performs
// I/O of its own beyond the composer calls.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alexanderramin/blueprint/internal/capture"
	"github.com/alexanderramin/blueprint/internal/contextwindow"
	"github.com/alexanderramin/blueprint/internal/domain"
	"github.com/alexanderramin/blueprint/internal/intelligence"
	"github.com/alexanderramin/blueprint/internal/microflow"
	"github.com/alexanderramin/blueprint/internal/observability"
	"github.com/alexanderramin/blueprint/internal/recap"
	"github.com/alexanderramin/blueprint/internal/validation"
)

// Machine is the top-level state machine. One Machine serves any number of
// sessions; events for the same session are serialized.
type Machine struct {
	composer intelligence.Composer
	flows    *microflow.Engine
	window   contextwindow.Manager
	logger   *slog.Logger
	now      func() time.Time
	timeout  time.Duration

	locks sync.Map // session id -> *sync.Mutex
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the machine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithWindow sets the history manager.
func WithWindow(w contextwindow.Manager) Option {
	return func(m *Machine) { m.window = w }
}

// WithComposeTimeout bounds every composer and generation call.
func WithComposeTimeout(d time.Duration) Option {
	return func(m *Machine) { m.timeout = d }
}

// NewMachine returns a Machine that composes messages with composer.
func NewMachine(composer intelligence.Composer, opts ...Option) *Machine {
	m := &Machine{
		composer: composer,
		flows:    microflow.New(composer),
		window:   contextwindow.New(contextwindow.DefaultLimit),
		logger:   slog.Default(),
		now:      time.Now,
		timeout:  intelligence.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) lock(id string) func() {
	v, _ := m.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Forget drops the lock kept for a session that is no longer live.
func (m *Machine) Forget(id string) {
	m.locks.Delete(id)
}

// Start creates a session at the first step and composes the welcome.
func (m *Machine) Start(ctx context.Context, id string) (*domain.Session, Result, error) {
	sess := domain.NewSession(id, m.now())
	unlock := m.lock(id)
	defer unlock()

	if err := m.enterStep(ctx, sess); err != nil {
		return nil, Result{}, err
	}
	comp := m.compose(ctx, sess, intelligence.ComposeRequest{Action: intelligence.ComposeWelcome})
	if err := ctx.Err(); err != nil {
		return nil, Result{}, err
	}
	return sess, m.result(sess, OutcomeStarted, comp), nil
}

// Handle applies ev to sess. Changes are prepared on a copy and written back
// only when the event is accepted: a rejected or stale event, or an error,
// leaves sess exactly as it was. The only errors are context cancellation
// and deadline expiry.
func (m *Machine) Handle(ctx context.Context, sess *domain.Session, ev domain.Event) (Result, error) {
	unlock := m.lock(sess.ID)
	defer unlock()

	start := time.Now()
	next := sess.Clone()
	res, err := m.dispatch(ctx, next, ev)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		observability.RecordEvent(eventName(ev), "error", time.Since(start).Milliseconds())
		return Result{}, err
	}

	if res.Outcome != OutcomeRejected && res.Outcome != OutcomeStale {
		commit(sess, next, m.now())
		if res.Recap != nil {
			observability.RecordStageCompletion(string(res.Recap.Stage))
		}
	}
	observability.RecordEvent(eventName(ev), string(res.Outcome), time.Since(start).Milliseconds())
	m.logger.Debug("event handled",
		slog.String("session", sess.ID),
		slog.String("event", eventName(ev)),
		slog.String("outcome", string(res.Outcome)),
		slog.String("step", sess.CurrentRef().String()),
	)
	return res, nil
}

// Advance submits an answer or control event for the current step.
func (m *Machine) Advance(ctx context.Context, sess *domain.Session, ev domain.Event) (Result, error) {
	return m.Handle(ctx, sess, ev)
}

// Edit moves the cursor back to target.
func (m *Machine) Edit(ctx context.Context, sess *domain.Session, target domain.StepRef) (Result, error) {
	return m.Handle(ctx, sess, domain.EditEvent(target))
}

// Skip skips the current step when it is optional.
func (m *Machine) Skip(ctx context.Context, sess *domain.Session) (Result, error) {
	return m.Handle(ctx, sess, domain.ControlEvent(domain.ActionSkip))
}

// Reset clears captured data from the current stage onward, or everything.
func (m *Machine) Reset(ctx context.Context, sess *domain.Session, preserveEarlier bool) (Result, error) {
	return m.Handle(ctx, sess, domain.ResetEvent(preserveEarlier))
}

// Progress reports the session's position in the stage table.
func (m *Machine) Progress(sess *domain.Session) Progress {
	unlock := m.lock(sess.ID)
	defer unlock()
	return ProgressAt(sess.Cursor)
}

func (m *Machine) dispatch(ctx context.Context, s *domain.Session, ev domain.Event) (Result, error) {
	if err := ev.Validate(); err != nil {
		return m.reject(s, ReasonInvalidEvent, err.Error()), nil
	}
	if !ev.Expect.IsZero() && ev.Expect != s.CurrentRef() {
		res := m.reject(s, ReasonStale, fmt.Sprintf("This event was meant for %s, but the conversation is at %s.", ev.Expect, describeRef(s.CurrentRef())))
		res.Outcome = OutcomeStale
		return res, nil
	}

	if ev.Kind == domain.EventControl {
		switch ev.Action {
		case domain.ActionEdit:
			return m.edit(ctx, s, ev.Target)
		case domain.ActionReset:
			return m.reset(ctx, s, ev.PreserveEarlier)
		case domain.ActionSkip:
			return m.skip(ctx, s)
		}
	}

	_, step, ok := domain.StepAt(s.Cursor)
	if !ok {
		return m.reject(s, ReasonComplete, "The blueprint is complete. Edit a step or reset to continue."), nil
	}
	if step.IsCompound() {
		return m.applyMicroFlow(ctx, s, ev)
	}
	if ev.Kind == domain.EventControl && ev.Action.IsMicroFlowAction() {
		return m.reject(s, ReasonNotCompound, fmt.Sprintf("%q only applies to steps with item lists.", ev.Action)), nil
	}

	switch ev.Kind {
	case domain.EventText:
		return m.answer(ctx, s, ev.Value, domain.MethodTyped)
	case domain.EventSelection:
		return m.answer(ctx, s, ev.Value, domain.MethodSelected)
	}
	return m.reconfirm(ctx, s)
}

// answer validates a scalar answer and, when it passes, captures it and
// moves on. A failing answer leaves the record and the cursor untouched.
func (m *Machine) answer(ctx context.Context, s *domain.Session, raw string, method domain.CaptureMethod) (Result, error) {
	ref := s.CurrentRef()
	m.remember(s, domain.RoleUser, raw)

	out := validation.Validate(raw, ref, validation.Context{Record: s.Record})
	if !out.Valid {
		comp := m.compose(ctx, s, intelligence.ComposeRequest{
			Action: intelligence.ComposeRetry,
			Issues: out.Issues,
			Hints:  out.Suggestions,
		})
		res := m.result(s, OutcomeStayed, comp)
		res.Reason = ReasonValidation
		res.Issues = out.Issues
		res.Suggestions = out.Suggestions
		return res, nil
	}

	rec, val := capture.Capture(s.Record, ref, capture.Input{Text: out.Transformed, Method: method}, m.now())
	s.Record = rec
	res, err := m.moveOn(ctx, s, ref, intelligence.ComposeAdvanced)
	if err != nil {
		return Result{}, err
	}
	res.Issues = out.Issues
	res.Suggestions = out.Suggestions
	res.Captured = &val
	return res, nil
}

// reconfirm handles a bare advance on a scalar step: it keeps the value
// captured earlier, typically after an edit.
func (m *Machine) reconfirm(ctx context.Context, s *domain.Session) (Result, error) {
	ref := s.CurrentRef()
	if !s.Record.Has(ref) {
		comp := m.compose(ctx, s, intelligence.ComposeRequest{Action: intelligence.ComposePrompt})
		res := m.result(s, OutcomeStayed, comp)
		res.Reason = ReasonInputRequired
		res.Detail = "An answer is required before moving on."
		return res, nil
	}
	m.remember(s, domain.RoleUser, "(keep current answer)")
	return m.moveOn(ctx, s, ref, intelligence.ComposeAdvanced)
}

func (m *Machine) skip(ctx context.Context, s *domain.Session) (Result, error) {
	ref := s.CurrentRef()
	step, ok := domain.LookupStep(ref)
	if !ok {
		return m.reject(s, ReasonComplete, "The blueprint is complete; there is nothing to skip."), nil
	}
	if !step.Skippable {
		return m.reject(s, ReasonNotSkippable, fmt.Sprintf("%s is required and cannot be skipped.", step.Title)), nil
	}
	m.remember(s, domain.RoleUser, "(skip)")
	rec, val := capture.Capture(s.Record, ref, capture.Input{Skipped: true}, m.now())
	s.Record = rec
	res, err := m.moveOn(ctx, s, ref, intelligence.ComposeSkipped)
	if err != nil {
		return Result{}, err
	}
	res.Captured = &val
	return res, nil
}

// moveOn advances the cursor past from. Leaving the last step of a stage
// generates that stage's recap, replacing any earlier one.
func (m *Machine) moveOn(ctx context.Context, s *domain.Session, from domain.StepRef, action intelligence.ComposeAction) (Result, error) {
	next, stageDone := s.Cursor.Next()

	var rc *domain.StageRecap
	if stageDone {
		r := recap.Generate(from.Stage, s.Record.StageSlice(from.Stage), m.now())
		s.Recaps[from.Stage] = r
		rc = &r
	}
	s.Cursor = next
	s.MicroFlow = nil
	if err := m.enterStep(ctx, s); err != nil {
		return Result{}, err
	}

	outcome := OutcomeAdvanced
	if s.Complete() {
		outcome = OutcomeCompleted
		action = intelligence.ComposeComplete
	}
	comp := m.compose(ctx, s, intelligence.ComposeRequest{Action: action, Previous: from, Recap: rc})
	res := m.result(s, outcome, comp)
	res.Recap = rc
	return res, nil
}

// edit moves the cursor back to target. Recaps of stages after the target's
// stage are discarded; captured values stay until overwritten.
func (m *Machine) edit(ctx context.Context, s *domain.Session, target domain.StepRef) (Result, error) {
	pos, ok := domain.PositionOf(target)
	if !ok {
		return m.reject(s, ReasonUnknownStep, fmt.Sprintf("There is no step %q.", target)), nil
	}
	if pos.Compare(s.Cursor) > 0 {
		return m.reject(s, ReasonFutureStep, fmt.Sprintf("%s has not been reached yet.", describeRef(target))), nil
	}

	m.remember(s, domain.RoleUser, "(edit "+target.String()+")")
	for id := range s.Recaps {
		if _, idx, ok := domain.LookupStage(id); !ok || idx > pos.StageIndex {
			delete(s.Recaps, id)
		}
	}
	s.Cursor = pos
	s.MicroFlow = nil
	if err := m.enterStep(ctx, s); err != nil {
		return Result{}, err
	}
	comp := m.compose(ctx, s, intelligence.ComposeRequest{Action: intelligence.ComposeEdit})
	return m.result(s, OutcomeEdited, comp), nil
}

// reset clears the record and recaps from the current stage onward, or
// entirely, and puts the cursor at the start of the cleared scope.
func (m *Machine) reset(ctx context.Context, s *domain.Session, preserveEarlier bool) (Result, error) {
	scope := 0
	if preserveEarlier {
		scope = s.Cursor.StageIndex
		if s.Cursor.IsDone() {
			scope = domain.StageCount() - 1
		}
	}
	cleared := map[domain.StageID]bool{}
	for i, st := range domain.Stages() {
		if i >= scope {
			cleared[st.ID] = true
		}
	}

	s.Record = s.Record.Without(func(r domain.StepRef) bool { return cleared[r.Stage] })
	for id := range s.Recaps {
		if cleared[id] {
			delete(s.Recaps, id)
		}
	}
	s.Cursor = domain.Position{StageIndex: scope}
	s.MicroFlow = nil
	if !preserveEarlier {
		s.History = nil
	}
	m.remember(s, domain.RoleUser, "(reset)")
	if err := m.enterStep(ctx, s); err != nil {
		return Result{}, err
	}
	comp := m.compose(ctx, s, intelligence.ComposeRequest{Action: intelligence.ComposeReset})
	return m.result(s, OutcomeReset, comp), nil
}

// applyMicroFlow routes an event on a compound step to the micro-flow
// engine and captures the item set once it is accepted.
func (m *Machine) applyMicroFlow(ctx context.Context, s *domain.Session, ev domain.Event) (Result, error) {
	ref := s.CurrentRef()
	if s.MicroFlow == nil {
		if err := m.enterStep(ctx, s); err != nil {
			return Result{}, err
		}
	}
	m.remember(s, domain.RoleUser, describeEvent(ev))

	mr, err := m.flows.Apply(ctx, *s.MicroFlow, ev, m.flowContext(s))
	if err != nil {
		return Result{}, err
	}
	state := mr.State
	s.MicroFlow = &state

	if mr.Outcome == microflow.OutcomeAccepted {
		rec, val := capture.Capture(s.Record, ref, capture.Input{Items: mr.Items, Method: acceptMethod(state)}, m.now())
		s.Record = rec
		res, err := m.moveOn(ctx, s, ref, intelligence.ComposeAdvanced)
		if err != nil {
			return Result{}, err
		}
		res.Captured = &val
		return res, nil
	}

	var hints []string
	if mr.Message != "" {
		hints = []string{mr.Message}
	}
	comp := m.compose(ctx, s, intelligence.ComposeRequest{Action: intelligence.ComposeItems, Hints: hints})
	outcome := OutcomeUpdated
	if mr.Outcome == microflow.OutcomeStayed {
		outcome = OutcomeStayed
	}
	res := m.result(s, outcome, comp)
	res.Detail = mr.Message
	if outcome == OutcomeStayed {
		res.Reason = ReasonMicroFlow
		res.MicroReason = mr.Reason
		res.Shortfalls = mr.Shortfalls
		res.Issues = mr.Issues
	}
	return res, nil
}

// enterStep prepares the micro-flow when the cursor rests on a compound
// step: an item set captured earlier is reopened, otherwise candidates are
// generated.
func (m *Machine) enterStep(ctx context.Context, s *domain.Session) error {
	_, step, ok := domain.StepAt(s.Cursor)
	if !ok || !step.IsCompound() {
		return nil
	}
	ref := s.CurrentRef()
	if v, ok := s.Record.Get(ref); ok && len(v.Items) > 0 {
		state := microflow.Resume(ref, v.Items)
		s.MicroFlow = &state
		return nil
	}
	state, err := m.flows.Init(ctx, ref, m.flowContext(s))
	if err != nil {
		return err
	}
	s.MicroFlow = &state
	return nil
}

// commit copies the mutable parts of next into sess. The id is never
// rewritten, so it can be read without holding the session lock.
func commit(sess, next *domain.Session, now time.Time) {
	sess.Cursor = next.Cursor
	sess.Record = next.Record
	sess.MicroFlow = next.MicroFlow
	sess.Recaps = next.Recaps
	sess.History = next.History
	sess.UpdatedAt = now
}

func (m *Machine) flowContext(s *domain.Session) microflow.Context {
	return microflow.Context{
		Record:  s.Record,
		Turns:   m.window.Window(s.History, s.CurrentRef()),
		Timeout: m.timeout,
	}
}

func (m *Machine) compose(ctx context.Context, s *domain.Session, req intelligence.ComposeRequest) intelligence.Composition {
	req.Step = s.CurrentRef()
	req.Record = s.Record
	req.Context = m.window.Window(s.History, req.Step)
	req.MicroFlow = s.MicroFlow
	req.Timeout = m.timeout
	comp := m.composer.Compose(ctx, req)
	m.remember(s, domain.RoleAssistant, comp.Text)
	return comp
}

func (m *Machine) remember(s *domain.Session, role, content string) {
	ref := s.CurrentRef()
	s.History = m.window.Append(s.History, domain.Turn{
		Role:    role,
		Content: content,
		Stage:   ref.Stage,
		Step:    ref.Step,
		At:      m.now(),
	})
}

func (m *Machine) result(s *domain.Session, outcome Outcome, comp intelligence.Composition) Result {
	res := Result{
		Outcome:     outcome,
		Step:        s.CurrentRef(),
		Position:    s.Cursor,
		Message:     comp.Text,
		NextActions: comp.NextActions,
		Source:      comp.Source,
		Progress:    ProgressAt(s.Cursor),
	}
	if s.MicroFlow != nil {
		mf := s.MicroFlow.Clone()
		res.MicroFlow = &mf
	}
	return res
}

// reject builds a result for an illegal request. No composer call is made
// and the session copy is discarded by Handle.
func (m *Machine) reject(s *domain.Session, reason RejectReason, detail string) Result {
	res := m.result(s, OutcomeRejected, intelligence.Composition{
		Text:        detail,
		NextActions: intelligence.AvailableActions(s.CurrentRef(), s.Record, s.MicroFlow),
		Source:      intelligence.SourceDeterministic,
	})
	res.Reason = reason
	res.Detail = detail
	return res
}

// acceptMethod reports selected when the accepted set is exactly the
// suggested one, refined otherwise.
func acceptMethod(state domain.MicroFlowState) domain.CaptureMethod {
	if len(state.Working) != len(state.Suggested) {
		return domain.MethodRefined
	}
	for i := range state.Working {
		w, s := state.Working[i], state.Suggested[i]
		if w.ID != s.ID || w.Title != s.Title || w.Description != s.Description {
			return domain.MethodRefined
		}
	}
	return domain.MethodSelected
}

func describeEvent(ev domain.Event) string {
	switch ev.Kind {
	case domain.EventText:
		return ev.Value
	case domain.EventSelection:
		return fmt.Sprintf("(select %d) %s", ev.ItemIndex+1, ev.Value)
	}
	if ev.Instruction != "" {
		return fmt.Sprintf("(%s %d) %s", ev.Action, ev.Index+1, ev.Instruction)
	}
	return "(" + string(ev.Action) + ")"
}

func describeRef(ref domain.StepRef) string {
	if ref.IsZero() {
		return "the end"
	}
	return ref.String()
}

func eventName(ev domain.Event) string {
	if ev.Kind == domain.EventControl {
		return string(ev.Action)
	}
	return string(ev.Kind)
}
