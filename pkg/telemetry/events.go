package telemetry

import (
	"context"
	"log/slog"

	"github.com/jllopis/telos/pkg/core"
)

// SlogEventEmitter logs execution events through the structured logger,
// picking up trace ids from the context via the configured handler.
type SlogEventEmitter struct {
	logger *slog.Logger
}

// NewSlogEventEmitter creates an emitter over logger; nil uses the default.
func NewSlogEventEmitter(logger *slog.Logger) *SlogEventEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogEventEmitter{logger: logger}
}

// Emit implements core.EventEmitter.
func (e *SlogEventEmitter) Emit(ctx context.Context, event core.Event) {
	attrs := []any{
		slog.String("agent", event.Agent),
		slog.String("task_id", event.TaskID),
	}
	for k, v := range event.Payload {
		attrs = append(attrs, slog.Any(k, v))
	}
	switch event.Type {
	case core.EventTaskFailed:
		e.logger.ErrorContext(ctx, string(event.Type), attrs...)
	case core.EventTaskRetrying:
		e.logger.WarnContext(ctx, string(event.Type), attrs...)
	default:
		e.logger.DebugContext(ctx, string(event.Type), attrs...)
	}
}
