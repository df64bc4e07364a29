package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	genai "google.golang.org/genai"
)

// geminiClient implements LLMClient on the hosted Gemini API.
type geminiClient struct {
	cfg      LLMConfig
	cli      *genai.Client
	observer Observer
}

// NewGeminiClient creates an LLMClient backed by the genai SDK. When
// cfg.APIKey is empty the SDK reads GEMINI_API_KEY / GOOGLE_API_KEY itself.
func NewGeminiClient(ctx context.Context, cfg LLMConfig, observer Observer) (LLMClient, error) {
	if observer == nil {
		observer = NoopObserver{}
	}
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	if cfg.Model == "" || cfg.Model == DefaultConfig().Model {
		cfg.Model = "gemini-2.5-flash"
	}
	return &geminiClient{cfg: cfg, cli: cli, observer: observer}, nil
}

func (g *geminiClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	start := time.Now()
	temp, maxTok := g.cfg.params(req)

	conf := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		conf.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.SystemPrompt}}}
	}
	t32 := float32(temp)
	conf.Temperature = &t32
	if maxTok > 0 {
		conf.MaxOutputTokens = int32(maxTok)
	}
	if req.JSON {
		conf.ResponseMIMEType = "application/json"
	}

	attemptTimeout := time.Duration(g.cfg.TaskTimeout(req.Task)) * time.Millisecond
	var (
		text    string
		lastErr error
	)
	for i := 0; i < 1+g.cfg.MaxRetries; i++ {
		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		text, lastErr = g.generateOnce(attemptCtx, req.UserPrompt, conf)
		timedOut := attemptCtx.Err() != nil
		cancel()
		if lastErr == nil {
			break
		}
		if timedOut {
			lastErr = fmt.Errorf("%w: %v", ErrTimeout, lastErr)
		}
		if ctx.Err() != nil || errors.Is(lastErr, ErrInvalidOutput) {
			break
		}
	}

	latency := time.Since(start).Milliseconds()
	if lastErr != nil {
		err := classify(ctx, lastErr)
		g.observer.OnCallComplete(LLMCallEvent{
			Task: req.Task, Model: g.cfg.Model, LatencyMs: latency, ErrorCode: errorCode(err),
		})
		return nil, err
	}
	g.observer.OnCallComplete(LLMCallEvent{Task: req.Task, Model: g.cfg.Model, LatencyMs: latency, Success: true})
	return &GenerateResponse{Text: text, Model: g.cfg.Model, LatencyMs: latency}, nil
}

func (g *geminiClient) generateOnce(ctx context.Context, prompt string, conf *genai.GenerateContentConfig) (string, error) {
	resp, err := g.cli.Models.GenerateContent(ctx, g.cfg.Model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: prompt}}}},
		conf,
	)
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("%w: no candidates", ErrInvalidOutput)
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil {
			b.WriteString(p.Text)
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", fmt.Errorf("%w: empty candidate", ErrInvalidOutput)
	}
	return b.String(), nil
}

// Available reports whether the configured model can be resolved.
func (g *geminiClient) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := g.cli.Models.Get(ctx, g.cfg.Model, nil)
	return err == nil
}
