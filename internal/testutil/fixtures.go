package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alexanderramin/blueprint/internal/domain"
	"github.com/alexanderramin/blueprint/internal/llm"
)

// FixedNow is the clock every fixture uses unless overridden.
var FixedNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

// SessionOption customizes a fixture session.
type SessionOption func(*domain.Session)

// WithID sets the session id.
func WithID(id string) SessionOption {
	return func(s *domain.Session) {
		s.ID = id
	}
}

// WithCursor places the session at ref.
func WithCursor(ref domain.StepRef) SessionOption {
	return func(s *domain.Session) {
		if p, ok := domain.PositionOf(ref); ok {
			s.Cursor = p
		}
	}
}

// WithDone places the session at the terminal position.
func WithDone() SessionOption {
	return func(s *domain.Session) {
		s.Cursor = domain.DonePosition()
	}
}

// WithText captures a typed answer for ref.
func WithText(ref domain.StepRef, text string) SessionOption {
	return func(s *domain.Session) {
		s.Record = s.Record.With(ref, domain.CapturedValue{
			Text:        text,
			Method:      domain.MethodTyped,
			ConfirmedAt: s.UpdatedAt,
		})
	}
}

// WithItems captures an accepted item set for ref.
func WithItems(ref domain.StepRef, items ...domain.Item) SessionOption {
	return func(s *domain.Session) {
		s.Record = s.Record.With(ref, domain.CapturedValue{
			Items:       items,
			Method:      domain.MethodSelected,
			ConfirmedAt: s.UpdatedAt,
		})
	}
}

// WithRecap stores a recap for stage.
func WithRecap(stage domain.StageID, summary string) SessionOption {
	return func(s *domain.Session) {
		s.Recaps[stage] = domain.StageRecap{
			Stage:     stage,
			Summary:   summary,
			Snapshot:  s.Record.StageSlice(stage),
			CreatedAt: s.UpdatedAt,
		}
	}
}

// WithUpdatedAt sets the last-modified time.
func WithUpdatedAt(t time.Time) SessionOption {
	return func(s *domain.Session) {
		s.UpdatedAt = t
	}
}

// NewTestSession builds a session at the first step with a random id.
func NewTestSession(opts ...SessionOption) *domain.Session {
	s := domain.NewSession(uuid.NewString(), FixedNow)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Item builds an item with a fresh id.
func Item(group domain.ItemGroup, title string) domain.Item {
	return domain.Item{ID: uuid.NewString(), Group: group, Title: title}
}

// FoundationAnswers are answers that pass every foundation-stage rule.
var FoundationAnswers = []string{
	"Water shapes how communities grow and thrive",
	"How might students investigate local water quality",
	"Design a water testing plan for the city council",
}

// Walkthrough is an event script that takes a new session to done using
// deterministic suggestions for both compound steps.
func Walkthrough() []domain.Event {
	events := make([]domain.Event, 0, 8)
	for _, a := range FoundationAnswers {
		events = append(events, domain.TextEvent(a))
	}
	return append(events,
		domain.TextEvent("6 weeks"),
		domain.ControlEvent(domain.ActionAcceptAll),
		domain.ControlEvent(domain.ActionSkip),
		domain.ControlEvent(domain.ActionAcceptAll),
		domain.TextEvent("Students present findings to the city council"),
	)
}

// FakeLLMClient returns scripted responses in order, repeating the last one.
// An empty script makes every call fail with llm.ErrUnavailable.
type FakeLLMClient struct {
	mu        sync.Mutex
	Responses []string
	Err       error
	requests  []llm.GenerateRequest
}

func (f *FakeLLMClient) Generate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if err := ctx.Err(); err != nil {
		return nil, llm.ErrTimeout
	}
	if f.Err != nil {
		return nil, f.Err
	}
	if len(f.Responses) == 0 {
		return nil, llm.ErrUnavailable
	}
	i := len(f.requests) - 1
	if i >= len(f.Responses) {
		i = len(f.Responses) - 1
	}
	return &llm.GenerateResponse{Text: f.Responses[i], Model: "fake"}, nil
}

func (f *FakeLLMClient) Available(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Err == nil && len(f.Responses) > 0
}

// Requests returns a copy of every request seen so far.
func (f *FakeLLMClient) Requests() []llm.GenerateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.GenerateRequest(nil), f.requests...)
}
