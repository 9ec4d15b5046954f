package bot

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/antlerlab/antlerbot/internal/agent"
	"github.com/antlerlab/antlerbot/internal/providers"
	"github.com/antlerlab/antlerbot/internal/telemetry"
)

// tracedInvoker wraps the agent so every queue-driven invocation is spanned
// without the dispatcher knowing about telemetry.
type tracedInvoker struct {
	inner *agent.Agent
}

func (t *tracedInvoker) Invoke(ctx context.Context, reason agent.Reason, text string, blocks []providers.ImageContent, emit func(string)) error {
	ctx, span := telemetry.StartSpan(ctx, "agent.invoke",
		attribute.String("reason", string(reason)),
		attribute.Int("blocks", len(blocks)))
	defer span.End()

	err := t.inner.Invoke(ctx, reason, text, blocks, emit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (t *tracedInvoker) HasHistory() bool { return t.inner.HasHistory() }

func (t *tracedInvoker) Clear() { t.inner.Clear() }
