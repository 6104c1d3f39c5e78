package workflow

import (
	"context"
	"time"

	"github.com/mmdatafocus/closing_backend/config"
	"github.com/mmdatafocus/closing_backend/models"
	"github.com/mmdatafocus/closing_backend/utils"
	"go.opentelemetry.io/otel/trace"
)

const (
	EventClosingIngested   = "closing.ingested"
	EventClosingReconciled = "closing.reconciled"
	EventClosingCleared    = "closing.cleared"
)

// ClosingEvent notifies downstream bookkeeping about a closing lifecycle change.
type ClosingEvent struct {
	Type                   string               `json:"type"`
	ClosingId              int                  `json:"closing_id"`
	ClosingDate            string               `json:"closing_date"`
	Status                 models.ClosingStatus `json:"status"`
	TotalSystem            int64                `json:"total_system"`
	TotalNetwork           int64                `json:"total_network"`
	PendingDivergenceCount int                  `json:"pending_divergence_count"`
	CorrelationId          string               `json:"correlation_id"`
	TraceId                string               `json:"trace_id,omitempty"`
	OccurredAt             time.Time            `json:"occurred_at"`
}

func newClosingEvent(ctx context.Context, eventType string, closing *models.DailyClosing) ClosingEvent {
	var traceId string
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		traceId = sc.TraceID().String()
	}
	return ClosingEvent{
		Type:                   eventType,
		ClosingId:              closing.ID,
		ClosingDate:            closing.ClosingDate.Format(utils.DateLayout),
		Status:                 closing.Status,
		TotalSystem:            closing.TotalSystem,
		TotalNetwork:           closing.TotalNetwork,
		PendingDivergenceCount: closing.PendingDivergenceCount,
		CorrelationId:          utils.CorrelationIdFromContextOrNew(ctx),
		TraceId:                traceId,
		OccurredAt:             time.Now().UTC(),
	}
}

type EventPublisher interface {
	Publish(ctx context.Context, event ClosingEvent) error
}

// NewEventPublisher publishes to Pub/Sub when CLOSING_EVENTS_TOPIC is set and discards events otherwise.
func NewEventPublisher() EventPublisher {
	if topic := config.ClosingEventsTopic(); topic != "" {
		return &PubSubPublisher{Topic: topic}
	}
	return noopPublisher{}
}

type PubSubPublisher struct {
	Topic string
}

func (p *PubSubPublisher) Publish(ctx context.Context, event ClosingEvent) error {
	_, err := config.PublishJSON(ctx, p.Topic, event, map[string]string{
		"type":           event.Type,
		"closing_date":   event.ClosingDate,
		"correlation_id": event.CorrelationId,
	})
	return err
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, ClosingEvent) error { return nil }
