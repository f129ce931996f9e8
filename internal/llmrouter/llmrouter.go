// Package llmrouter routes chat completions to one of several registered LLM
// providers via the openai-agents-go SDK. It backs the reference backend
// (cmd/refbackend), which is the only component in this module that ever
// calls an LLM directly — the broker itself only ever talks to the backend
// WebSocket protocol (spec §4.7, §6.2).
package llmrouter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/nlpodyssey/openai-agents-go/modelsettings"
	"github.com/openai/openai-go/v2/packages/param"
)

// TokenCallback is invoked once per streamed delta.
type TokenCallback func(delta string)

// Result is one completed chat turn.
type Result struct {
	Text               string
	LatencyMs          float64
	TimeToFirstTokenMs float64
}

type streamResult struct {
	ttft time.Time
}

// Router dispatches chat requests to the correct provider by engine name,
// falling back to a default engine when none is requested.
type Router struct {
	providers map[string]agents.ModelProvider
	models    map[string]string // engine -> default model
	fallback  string
	maxTokens int
}

// New creates a Router with the given fallback engine and per-turn token cap.
func New(fallback string, maxTokens int) *Router {
	return &Router{
		providers: make(map[string]agents.ModelProvider),
		models:    make(map[string]string),
		fallback:  fallback,
		maxTokens: maxTokens,
	}
}

// Register adds a provider and its default model for an engine name.
func (r *Router) Register(engine string, provider agents.ModelProvider, defaultModel string) {
	r.providers[engine] = provider
	r.models[engine] = defaultModel
}

// Engines lists every registered engine name.
func (r *Router) Engines() []string {
	names := make([]string, 0, len(r.providers))
	for k := range r.providers {
		names = append(names, k)
	}
	return names
}

// Chat streams one completion, invoking onToken for every delta, and
// returns the accumulated text plus timing once the turn completes.
func (r *Router) Chat(ctx context.Context, userMessage, systemPrompt, model, engine string, onToken TokenCallback) (*Result, error) {
	provider, useModel, err := r.resolve(engine, model)
	if err != nil {
		return nil, err
	}

	agent := agents.New("voxbridge-backend").
		WithInstructions(systemPrompt).
		WithModel(useModel).
		WithModelSettings(modelsettings.ModelSettings{
			MaxTokens: param.NewOpt(int64(r.maxTokens)),
		})

	runner := agents.Runner{Config: agents.RunConfig{
		ModelProvider:   provider,
		MaxTurns:        1,
		TracingDisabled: true,
	}}

	start := time.Now()

	events, errCh, err := runner.RunStreamedChan(ctx, agent, userMessage)
	if err != nil {
		return nil, fmt.Errorf("llm stream start: %w", err)
	}

	var textBuf strings.Builder
	var sr streamResult
	for ev := range events {
		handleStreamEvent(ev, &sr, onToken, &textBuf)
	}

	if streamErr := <-errCh; streamErr != nil {
		return nil, fmt.Errorf("llm stream: %w", streamErr)
	}

	latency := time.Since(start)
	ttft := float64(0)
	if !sr.ttft.IsZero() {
		ttft = float64(sr.ttft.Sub(start).Milliseconds())
	}

	return &Result{
		Text:               textBuf.String(),
		LatencyMs:          float64(latency.Milliseconds()),
		TimeToFirstTokenMs: ttft,
	}, nil
}

func handleStreamEvent(ev agents.StreamEvent, sr *streamResult, onToken TokenCallback, textBuf *strings.Builder) {
	raw, ok := ev.(agents.RawResponsesStreamEvent)
	if !ok {
		return
	}
	if raw.Data.Type != "response.output_text.delta" {
		return
	}
	if sr.ttft.IsZero() {
		sr.ttft = time.Now()
	}
	if onToken != nil {
		onToken(raw.Data.Delta)
	}
	textBuf.WriteString(raw.Data.Delta)
}

func (r *Router) resolve(engine, model string) (agents.ModelProvider, string, error) {
	provider, ok := r.providers[engine]
	if !ok {
		provider, ok = r.providers[r.fallback]
	}
	if !ok {
		return nil, "", fmt.Errorf("no llm provider for engine %q", engine)
	}

	useModel := model
	if useModel == "" {
		useModel = r.models[engine]
	}
	if useModel == "" {
		useModel = r.models[r.fallback]
	}
	return provider, useModel, nil
}
