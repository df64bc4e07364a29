package intelligence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/alexanderramin/blueprint/internal/capture"
	"github.com/alexanderramin/blueprint/internal/domain"
	"github.com/alexanderramin/blueprint/internal/llm"
	"github.com/alexanderramin/blueprint/internal/observability"
	"github.com/alexanderramin/blueprint/internal/validation"
)

// DefaultTimeout bounds a composition when the request sets none.
const DefaultTimeout = 8 * time.Second

const maxPlainReply = 1200

// Composer produces the next message and candidate item sets. Every method
// returns a usable result: model failures, timeouts and malformed output all
// fall back to deterministic templates.
type Composer interface {
	Compose(ctx context.Context, req ComposeRequest) Composition
	SuggestItems(ctx context.Context, req ItemsRequest) ItemSet
	RefineItem(ctx context.Context, req RefineRequest) (domain.Item, Source)
}

type composer struct {
	client  llm.LLMClient
	logger  *slog.Logger
	timeout time.Duration
}

// Option configures a Composer.
type Option func(*composer)

// WithLogger sets the logger used to report fallbacks.
func WithLogger(l *slog.Logger) Option {
	return func(c *composer) { c.logger = l }
}

// WithTimeout sets the default timeout for requests that carry none.
func WithTimeout(d time.Duration) Option {
	return func(c *composer) { c.timeout = d }
}

// NewComposer returns a Composer backed by client. A nil client always uses
// the deterministic templates.
func NewComposer(client llm.LLMClient, opts ...Option) Composer {
	c := &composer{client: client, logger: slog.Default(), timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type composeLLMResponse struct {
	Message     string   `json:"message"`
	NextActions []string `json:"next_actions"`
}

func (c *composer) Compose(ctx context.Context, req ComposeRequest) Composition {
	ctx, span := observability.Tracer().Start(ctx, "intelligence.compose")
	defer span.End()
	span.SetAttributes(
		attribute.String("blueprint.step", req.Step.String()),
		attribute.String("blueprint.action", string(req.Action)),
	)

	fallback := DeterministicMessage(req)
	out, err := c.composeLLM(ctx, req, fallback.NextActions)
	if err != nil {
		c.reportFallback(ctx, "compose", req.Step, err)
		span.SetStatus(codes.Error, err.Error())
		out = fallback
	}
	span.SetAttributes(attribute.String("blueprint.source", string(out.Source)))
	observability.RecordComposition("message", string(out.Source))
	return out
}

func (c *composer) composeLLM(ctx context.Context, req ComposeRequest, allowed []string) (Composition, error) {
	if c.client == nil {
		return Composition{}, llm.ErrDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, c.effectiveTimeout(req.Timeout))
	defer cancel()

	resp, err := c.generate(ctx, llm.GenerateRequest{
		Task:         llm.TaskCompose,
		SystemPrompt: composeSystemPrompt,
		UserPrompt:   buildComposeUserPrompt(req, allowed),
		JSON:         true,
	})
	if err != nil {
		return Composition{}, err
	}
	if ctx.Err() != nil {
		return Composition{}, llm.ErrTimeout
	}

	parsed, err := llm.ExtractJSON[composeLLMResponse](resp.Text, validateComposeResponse)
	if err != nil {
		text, ok := plainReply(resp.Text)
		if !ok {
			return Composition{}, err
		}
		parsed = composeLLMResponse{Message: text}
	}

	return Composition{
		Text:        strings.TrimSpace(parsed.Message),
		NextActions: filterActions(parsed.NextActions, allowed),
		Source:      SourceLLM,
	}, nil
}

func validateComposeResponse(r composeLLMResponse) error {
	if strings.TrimSpace(r.Message) == "" {
		return fmt.Errorf("message field is required")
	}
	return nil
}

// plainReply accepts a bare prose answer. Anything that looks like broken
// JSON or is implausibly long is rejected.
func plainReply(raw string) (string, bool) {
	text := strings.TrimSpace(raw)
	if text == "" || len(text) > maxPlainReply {
		return "", false
	}
	if strings.ContainsAny(text, "{}[]`") {
		return "", false
	}
	return text, true
}

// filterActions keeps model-proposed actions that are allowed, falling back to
// the full allowed list when none survive.
func filterActions(proposed, allowed []string) []string {
	ok := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		ok[a] = true
	}
	var out []string
	seen := map[string]bool{}
	for _, p := range proposed {
		p = strings.TrimSpace(strings.ToLower(p))
		if ok[p] && !seen[p] {
			out = append(out, p)
			seen[p] = true
		}
	}
	if len(out) == 0 {
		return append([]string(nil), allowed...)
	}
	return out
}

type itemsLLMResponse struct {
	Items []struct {
		Group       string `json:"group"`
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"items"`
}

func (c *composer) SuggestItems(ctx context.Context, req ItemsRequest) ItemSet {
	ctx, span := observability.Tracer().Start(ctx, "intelligence.suggest_items")
	defer span.End()
	span.SetAttributes(attribute.String("blueprint.step", req.Step.String()), attribute.Int("blueprint.variant", req.Variant))

	set, err := c.suggestLLM(ctx, req)
	if err != nil {
		c.reportFallback(ctx, "suggest_items", req.Step, err)
		span.SetStatus(codes.Error, err.Error())
		set = ItemSet{Items: DeterministicItems(req.Step, req.Variant, req.Avoid), Source: SourceDeterministic}
	}
	observability.RecordComposition("items", string(set.Source))
	return set
}

func (c *composer) suggestLLM(ctx context.Context, req ItemsRequest) (ItemSet, error) {
	step, ok := domain.LookupStep(req.Step)
	if !ok || !step.IsCompound() {
		return ItemSet{}, fmt.Errorf("step %s takes no items", req.Step)
	}
	if c.client == nil {
		return ItemSet{}, llm.ErrDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, c.effectiveTimeout(req.Timeout))
	defer cancel()

	resp, err := c.generate(ctx, llm.GenerateRequest{
		Task:         llm.TaskSuggestItems,
		SystemPrompt: itemsSystemPrompt,
		UserPrompt:   buildItemsUserPrompt(req, step),
		JSON:         true,
	})
	if err != nil {
		return ItemSet{}, err
	}
	if ctx.Err() != nil {
		return ItemSet{}, llm.ErrTimeout
	}

	// The tolerant parser chain accepts the requested shape as well as the
	// bullet lists and grouped objects models tend to drift into.
	res := capture.ParseItems(resp.Text, step)
	if res.Raw || len(res.Items) == 0 {
		return ItemSet{}, fmt.Errorf("%w: no items in response", llm.ErrInvalidOutput)
	}
	items := capture.Normalize(res.Items, step)
	if out := validation.ValidateItems(items, step); !out.Valid {
		return ItemSet{}, fmt.Errorf("%w: %s", llm.ErrInvalidOutput, out.Errors()[0].Message)
	}
	for _, g := range step.Groups {
		if len(domain.ItemsInGroup(items, g.Group)) == 0 {
			return ItemSet{}, fmt.Errorf("%w: no %s suggested", llm.ErrInvalidOutput, g.Label)
		}
	}
	return ItemSet{Items: items, Source: SourceLLM}, nil
}

type refineLLMResponse struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (c *composer) RefineItem(ctx context.Context, req RefineRequest) (domain.Item, Source) {
	ctx, span := observability.Tracer().Start(ctx, "intelligence.refine_item")
	defer span.End()
	span.SetAttributes(attribute.String("blueprint.step", req.Step.String()))

	item, err := c.refineLLM(ctx, req)
	if err != nil {
		c.reportFallback(ctx, "refine_item", req.Step, err)
		span.SetStatus(codes.Error, err.Error())
		observability.RecordComposition("refine", string(SourceDeterministic))
		return DeterministicRefine(req.Item, req.Instruction), SourceDeterministic
	}
	observability.RecordComposition("refine", string(SourceLLM))
	return item, SourceLLM
}

func (c *composer) refineLLM(ctx context.Context, req RefineRequest) (domain.Item, error) {
	if c.client == nil {
		return domain.Item{}, llm.ErrDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, c.effectiveTimeout(req.Timeout))
	defer cancel()

	resp, err := c.generate(ctx, llm.GenerateRequest{
		Task:         llm.TaskRefineItem,
		SystemPrompt: refineSystemPrompt,
		UserPrompt:   buildRefineUserPrompt(req),
		JSON:         true,
	})
	if err != nil {
		return domain.Item{}, err
	}
	if ctx.Err() != nil {
		return domain.Item{}, llm.ErrTimeout
	}
	parsed, err := llm.ExtractJSON[refineLLMResponse](resp.Text, func(r refineLLMResponse) error {
		if strings.TrimSpace(r.Title) == "" {
			return fmt.Errorf("title is required")
		}
		return nil
	})
	if err != nil {
		return domain.Item{}, err
	}

	out := req.Item.Clone()
	out.Title = strings.Join(strings.Fields(parsed.Title), " ")
	if d := strings.TrimSpace(parsed.Description); d != "" {
		out.Description = d
	}
	return out, nil
}

// generate calls the client but stops waiting once ctx is done, so a client
// that ignores cancellation cannot hold a turn past its deadline.
func (c *composer) generate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
	type reply struct {
		resp *llm.GenerateResponse
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		resp, err := c.client.Generate(ctx, req)
		done <- reply{resp: resp, err: err}
	}()
	select {
	case r := <-done:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", llm.ErrTimeout, ctx.Err())
	}
}

func (c *composer) effectiveTimeout(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	if c.timeout > 0 {
		return c.timeout
	}
	return DefaultTimeout
}

func (c *composer) reportFallback(ctx context.Context, op string, ref domain.StepRef, err error) {
	level := slog.LevelWarn
	if errors.Is(err, llm.ErrDisabled) {
		level = slog.LevelDebug
	}
	c.logger.Log(ctx, level, "using deterministic fallback",
		slog.String("op", op),
		slog.String("step", ref.String()),
		slog.String("error", err.Error()),
	)
}
