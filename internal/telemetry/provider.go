package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/antlerlab/antlerbot/internal/providers"
)

// tracedProvider decorates a Provider with one span per LLM call.
type tracedProvider struct {
	inner providers.Provider
}

// WrapProvider instruments a provider. Safe to apply unconditionally; with
// the no-op tracer installed the spans vanish.
func WrapProvider(p providers.Provider) providers.Provider {
	return &tracedProvider{inner: p}
}

func (t *tracedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	ctx, span := t.start(ctx, "llm.chat", req)
	resp, err := t.inner.Chat(ctx, req)
	endSpan(span, resp, err)
	return resp, err
}

func (t *tracedProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	ctx, span := t.start(ctx, "llm.chat_stream", req)
	resp, err := t.inner.ChatStream(ctx, req, onChunk)
	endSpan(span, resp, err)
	return resp, err
}

func (t *tracedProvider) DefaultModel() string { return t.inner.DefaultModel() }
func (t *tracedProvider) Name() string         { return t.inner.Name() }

func (t *tracedProvider) start(ctx context.Context, op string, req providers.ChatRequest) (context.Context, trace.Span) {
	model := req.Model
	if model == "" {
		model = t.inner.DefaultModel()
	}
	return otel.Tracer(scopeName).Start(ctx, op, trace.WithAttributes(
		attribute.String("llm.provider", t.inner.Name()),
		attribute.String("llm.model", model),
		attribute.Int("llm.messages", len(req.Messages)),
	))
}

func endSpan(span trace.Span, resp *providers.ChatResponse, err error) {
	defer span.End()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	if resp != nil && resp.Usage != nil {
		span.SetAttributes(
			attribute.Int("llm.tokens.prompt", resp.Usage.PromptTokens),
			attribute.Int("llm.tokens.completion", resp.Usage.CompletionTokens),
		)
	}
	span.SetStatus(codes.Ok, "")
}
