package observability

import (
	"context"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"research-agent/internal/common/logger"
)

// LogProcessor writes finished spans to the structured logger at debug level.
type LogProcessor struct {
	logger logger.Logger
}

func NewLogProcessor(log logger.Logger) *LogProcessor {
	return &LogProcessor{logger: log}
}

func (p *LogProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p *LogProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	fields := map[string]interface{}{
		"span":       s.Name(),
		"traceId":    s.SpanContext().TraceID().String(),
		"durationMs": s.EndTime().Sub(s.StartTime()).Milliseconds(),
		"status":     s.Status().Code.String(),
	}
	for _, kv := range s.Attributes() {
		fields[string(kv.Key)] = kv.Value.Emit()
	}
	p.logger.Debug("span finished", fields)
}

func (p *LogProcessor) Shutdown(context.Context) error   { return nil }
func (p *LogProcessor) ForceFlush(context.Context) error { return nil }
