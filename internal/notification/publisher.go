// Package notification delivers high-severity error alerts to SNS.
package notification

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Kamalbura/air-quality-monitering-sub000/internal/errstats"
	"github.com/Kamalbura/air-quality-monitering-sub000/internal/platform/aws"
	"github.com/Kamalbura/air-quality-monitering-sub000/internal/platform/observability"
)

// Publisher publishes error alerts to an SNS topic. It implements
// errstats.AlertPublisher.
type Publisher struct {
	snsClient *aws.SNSClient
	topicARN  string
	logger    *observability.Logger
	tracer    observability.Tracer
}

// PublisherConfig holds publisher configuration
type PublisherConfig struct {
	SNSClient *aws.SNSClient
	TopicARN  string
	Logger    *observability.Logger
	Tracer    observability.Tracer
}

// NewPublisher creates a new alert publisher
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if cfg.SNSClient == nil {
		return nil, fmt.Errorf("SNS client is required")
	}
	if cfg.TopicARN == "" {
		return nil, fmt.Errorf("SNS topic ARN is required")
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoopTracer()
	}

	return &Publisher{
		snsClient: cfg.SNSClient,
		topicARN:  cfg.TopicARN,
		logger:    cfg.Logger,
		tracer:    cfg.Tracer,
	}, nil
}

// PublishAlert publishes one error alert to SNS. Message attributes carry
// the kind, severity and operation context so subscribers can filter.
func (p *Publisher) PublishAlert(ctx context.Context, alert errstats.Alert) error {
	ctx, span := p.tracer.StartSpan(
		ctx,
		"Publisher.PublishAlert",
		observability.WithAttributes(
			attribute.String("error_id", alert.ErrorID),
			attribute.String("kind", string(alert.Kind)),
			attribute.String("topic_arn", p.topicARN),
		),
	)
	defer span.End()

	attributes := map[string]string{
		"kind":     string(alert.Kind),
		"severity": string(alert.Severity),
		"context":  alert.Context,
	}

	if err := p.snsClient.Publish(ctx, p.topicARN, alert, attributes); err != nil {
		span.NoticeError(err)
		if p.logger != nil {
			p.logger.LogError(ctx, "failed to publish alert to SNS", err,
				"error_id", alert.ErrorID,
				"topic_arn", p.topicARN,
			)
		}
		return fmt.Errorf("SNS publish failed: %w", err)
	}

	if p.logger != nil {
		p.logger.Info("published error alert to SNS",
			"error_id", alert.ErrorID,
			"kind", string(alert.Kind),
			"severity", string(alert.Severity),
			"topic_arn", p.topicARN,
		)
	}

	return nil
}

// CircuitBreakerState returns the current circuit breaker state
func (p *Publisher) CircuitBreakerState() string {
	return p.snsClient.CircuitBreakerState().String()
}

// ResetCircuitBreaker manually resets the circuit breaker
func (p *Publisher) ResetCircuitBreaker() {
	p.snsClient.ResetCircuitBreaker()
	if p.logger != nil {
		p.logger.Info("reset SNS circuit breaker")
	}
}
