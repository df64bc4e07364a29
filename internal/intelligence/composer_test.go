package intelligence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexanderramin/blueprint/internal/domain"
	"github.com/alexanderramin/blueprint/internal/llm"
	"github.com/alexanderramin/blueprint/internal/validation"
)

type mockLLMClient struct {
	mu       sync.Mutex
	response string
	err      error
	delay    time.Duration
	requests []llm.GenerateRequest
}

func (m *mockLLMClient) Generate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, llm.ErrTimeout
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llm.GenerateResponse{Text: m.response, Model: "llama3.2"}, nil
}

func (m *mockLLMClient) Available(context.Context) bool { return m.err == nil }

func (m *mockLLMClient) calls() []llm.GenerateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.GenerateRequest(nil), m.requests...)
}

var (
	refBigIdea      = domain.StepRef{Stage: domain.StageFoundation, Step: domain.StepBigIdea}
	refQuestion     = domain.StepRef{Stage: domain.StageFoundation, Step: domain.StepEssentialQuestion}
	refPhases       = domain.StepRef{Stage: domain.StagePlan, Step: domain.StepPhases}
	refDeliverables = domain.StepRef{Stage: domain.StageOutputs, Step: domain.StepDeliverables}
)

func TestCompose_LLMSuccess(t *testing.T) {
	client := &mockLLMClient{response: `{"message":"Great start! Now, what question will drive it?","next_actions":["answer","skip","edit"]}`}
	c := NewComposer(client)

	out := c.Compose(context.Background(), ComposeRequest{Action: ComposeAdvanced, Step: refQuestion, Previous: refBigIdea})

	assert.Equal(t, SourceLLM, out.Source)
	assert.Equal(t, "Great start! Now, what question will drive it?", out.Text)
	// skip is not available on a required step
	assert.Equal(t, []string{"answer", "edit"}, out.NextActions)

	calls := client.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, llm.TaskCompose, calls[0].Task)
	assert.True(t, calls[0].JSON)
	assert.Contains(t, calls[0].UserPrompt, "Essential question")
}

func TestCompose_PlainProseAccepted(t *testing.T) {
	client := &mockLLMClient{response: "Nice. What essential question drives the project?"}
	out := NewComposer(client).Compose(context.Background(), ComposeRequest{Action: ComposePrompt, Step: refQuestion})

	assert.Equal(t, SourceLLM, out.Source)
	assert.Equal(t, "Nice. What essential question drives the project?", out.Text)
	assert.Equal(t, AvailableActions(refQuestion, domain.NewRecord(), nil), out.NextActions)
}

func TestCompose_TimeoutFallsBack(t *testing.T) {
	client := &mockLLMClient{response: `{"message":"too late"}`, delay: 2 * time.Second}
	c := NewComposer(client)

	req := ComposeRequest{
		Action:  ComposeRetry,
		Step:    refQuestion,
		Issues:  []validation.Issue{{Type: validation.IssueStructure, Severity: validation.SeverityError, Code: "not_a_question", Message: "That reads as a statement, not a question."}},
		Timeout: 50 * time.Millisecond,
	}
	start := time.Now()
	out := c.Compose(context.Background(), req)

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, SourceDeterministic, out.Source)
	assert.Equal(t, DeterministicMessage(req), out)
	assert.Contains(t, out.Text, "not a question")
}

// stuckClient ignores ctx and only returns once release is closed.
type stuckClient struct {
	release chan struct{}
}

func (s stuckClient) Generate(context.Context, llm.GenerateRequest) (*llm.GenerateResponse, error) {
	<-s.release
	return &llm.GenerateResponse{Text: `{"message":"too late"}`}, nil
}

func (s stuckClient) Available(context.Context) bool { return true }

func TestCompose_ClientIgnoringContextStillTimesOut(t *testing.T) {
	client := stuckClient{release: make(chan struct{})}
	t.Cleanup(func() { close(client.release) })
	c := NewComposer(client)

	start := time.Now()
	out := c.Compose(context.Background(), ComposeRequest{Action: ComposeWelcome, Step: refBigIdea, Timeout: 30 * time.Millisecond})
	set := c.SuggestItems(context.Background(), ItemsRequest{Step: refPhases, Timeout: 30 * time.Millisecond})
	item, src := c.RefineItem(context.Background(), RefineRequest{
		Step:        refPhases,
		Item:        domain.Item{Group: domain.GroupPhase, Title: "Launch"},
		Instruction: "make it punchier",
		Timeout:     30 * time.Millisecond,
	})

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, SourceDeterministic, out.Source)
	assert.Equal(t, SourceDeterministic, set.Source)
	assert.Equal(t, DeterministicItems(refPhases, 0, nil), set.Items)
	assert.Equal(t, SourceDeterministic, src)
	assert.NotEmpty(t, item.Title)
}

func TestCompose_InvalidOutputFallsBack(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{name: "broken json", response: `{"message": "unterminated`},
		{name: "missing message", response: `{"next_actions":["answer"]}`},
		{name: "empty", response: "   "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := NewComposer(&mockLLMClient{response: tt.response}).
				Compose(context.Background(), ComposeRequest{Action: ComposePrompt, Step: refBigIdea})
			assert.Equal(t, SourceDeterministic, out.Source)
			assert.NotEmpty(t, out.Text)
		})
	}
}

func TestCompose_ClientErrorFallsBack(t *testing.T) {
	for _, err := range []error{llm.ErrUnavailable, llm.ErrDisabled, llm.ErrRetryExhausted} {
		out := NewComposer(&mockLLMClient{err: err}).
			Compose(context.Background(), ComposeRequest{Action: ComposeWelcome, Step: refBigIdea})
		assert.Equal(t, SourceDeterministic, out.Source, err.Error())
		assert.Contains(t, out.Text, "Welcome")
	}
}

func TestCompose_NilClient(t *testing.T) {
	out := NewComposer(nil).Compose(context.Background(), ComposeRequest{Action: ComposeComplete})
	assert.Equal(t, SourceDeterministic, out.Source)
	assert.Equal(t, []string{"edit", "reset"}, out.NextActions)
}

func TestFilterActions(t *testing.T) {
	allowed := []string{"answer", "advance", "edit"}
	assert.Equal(t, []string{"advance", "edit"}, filterActions([]string{"ADVANCE", "fly", "edit", "advance"}, allowed))
	assert.Equal(t, allowed, filterActions([]string{"fly"}, allowed))
	assert.Equal(t, allowed, filterActions(nil, allowed))
}

func TestSuggestItems_LLM(t *testing.T) {
	client := &mockLLMClient{response: "```json\n" + `{"items":[
		{"group":"phase","title":"Hook","description":"Open with a field trip."},
		{"group":"phase","title":"Research","description":"Test water samples."},
		{"group":"phase","title":"Present","description":"Share findings with council."}
	]}` + "\n```"}

	set := NewComposer(client).SuggestItems(context.Background(), ItemsRequest{Step: refPhases})

	require.Equal(t, SourceLLM, set.Source)
	require.Len(t, set.Items, 3)
	assert.Equal(t, "Hook", set.Items[0].Title)
	for _, it := range set.Items {
		assert.Equal(t, domain.GroupPhase, it.Group)
	}
	assert.Equal(t, llm.TaskSuggestItems, client.calls()[0].Task)
}

func TestSuggestItems_MissingGroupFallsBack(t *testing.T) {
	client := &mockLLMClient{response: `{"items":[{"group":"milestone","title":"Proposal"},{"group":"milestone","title":"Draft"}]}`}

	set := NewComposer(client).SuggestItems(context.Background(), ItemsRequest{Step: refDeliverables, Variant: 1})

	assert.Equal(t, SourceDeterministic, set.Source)
	assert.Equal(t, DeterministicItems(refDeliverables, 1, nil), set.Items)
}

func TestSuggestItems_DuplicateTitlesFallBack(t *testing.T) {
	client := &mockLLMClient{response: `[{"title":"Launch"},{"title":"launch"}]`}

	set := NewComposer(client).SuggestItems(context.Background(), ItemsRequest{Step: refPhases})

	assert.Equal(t, SourceDeterministic, set.Source)
}

func TestSuggestItems_ScalarStep(t *testing.T) {
	client := &mockLLMClient{response: `[{"title":"x"}]`}
	set := NewComposer(client).SuggestItems(context.Background(), ItemsRequest{Step: refBigIdea})

	assert.Equal(t, SourceDeterministic, set.Source)
	assert.Empty(t, set.Items)
	assert.Empty(t, client.calls())
}

func TestRefineItem(t *testing.T) {
	item := domain.Item{ID: "p2", Group: domain.GroupPhase, Title: "Investigate", Description: "Research."}

	t.Run("llm", func(t *testing.T) {
		client := &mockLLMClient{response: `{"title":"Field  investigation","description":"Collect samples at the river."}`}
		got, src := NewComposer(client).RefineItem(context.Background(), RefineRequest{Step: refPhases, Item: item, Instruction: "make it hands-on"})

		assert.Equal(t, SourceLLM, src)
		assert.Equal(t, "p2", got.ID)
		assert.Equal(t, domain.GroupPhase, got.Group)
		assert.Equal(t, "Field investigation", got.Title)
		assert.Equal(t, "Collect samples at the river.", got.Description)
	})

	t.Run("fallback", func(t *testing.T) {
		client := &mockLLMClient{err: errors.New("boom")}
		got, src := NewComposer(client).RefineItem(context.Background(), RefineRequest{Step: refPhases, Item: item, Instruction: "rename to Fieldwork"})

		assert.Equal(t, SourceDeterministic, src)
		assert.Equal(t, "p2", got.ID)
		assert.Equal(t, "Fieldwork", got.Title)
	})
}
