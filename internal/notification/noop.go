package notification

import (
	"context"

	"github.com/Kamalbura/air-quality-monitering-sub000/internal/errstats"
	"github.com/Kamalbura/air-quality-monitering-sub000/internal/platform/observability"
)

// NoOpPublisher is a publisher that does nothing but log alerts.
// Use this when SNS is not configured (local development, testing).
type NoOpPublisher struct {
	logger *observability.Logger
}

// NewNoOpPublisher creates a new no-op publisher that only logs alerts.
func NewNoOpPublisher(logger *observability.Logger) *NoOpPublisher {
	return &NoOpPublisher{
		logger: logger,
	}
}

// PublishAlert logs the alert instead of publishing to SNS.
// Implements errstats.AlertPublisher.
func (p *NoOpPublisher) PublishAlert(ctx context.Context, alert errstats.Alert) error {
	if p.logger != nil {
		p.logger.Info("error alert (SNS disabled)",
			"error_id", alert.ErrorID,
			"kind", string(alert.Kind),
			"severity", string(alert.Severity),
			"context", alert.Context,
			"message", alert.Message,
		)
	}
	return nil
}

// CircuitBreakerState returns "closed" since there's no circuit breaker.
func (p *NoOpPublisher) CircuitBreakerState() string {
	return "closed"
}

// ResetCircuitBreaker is a no-op since there's no circuit breaker.
func (p *NoOpPublisher) ResetCircuitBreaker() {}
