package audit

import (
	"context"
	"log/slog"
)

// SlogPublisher writes audit events to the structured log. Used in dev and as
// the fallback when no Kafka brokers are configured.
type SlogPublisher struct {
	logger *slog.Logger
}

func NewSlogPublisher(logger *slog.Logger) *SlogPublisher {
	return &SlogPublisher{logger: logger}
}

func (p *SlogPublisher) Emit(_ context.Context, event Event) error {
	p.logger.Info("audit",
		"category", string(event.Category),
		"action", string(event.Action),
		"correlation_id", event.CorrelationID,
		"target", event.Target,
		"principal_id", event.PrincipalID,
		"resident_id", event.ResidentID,
		"reason", event.Reason,
		"request_id", event.RequestID,
	)
	return nil
}
