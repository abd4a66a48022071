// Package notify emits domain events to downstream collaborators.
//
// Delivery is fire-and-forget: the state transition that produced an event
// has already committed by the time sinks run, and a failing sink never
// rolls it back. Failures are logged, counted, and retried a few times.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/autovault/autovault/internal/idgen"
	"github.com/autovault/autovault/internal/metrics"
	"github.com/autovault/autovault/internal/retry"
)

// EventType identifies a lifecycle event.
type EventType string

const (
	EventTransactionCreated   EventType = "transaction.created"
	EventPaymentSubmitted     EventType = "payment.submitted"
	EventPaymentVerified      EventType = "payment.verified"
	EventPaymentRejected      EventType = "payment.rejected"
	EventInspectionStarted    EventType = "inspection.started"
	EventDisputeOpened        EventType = "dispute.opened"
	EventDisputeResolved      EventType = "dispute.resolved"
	EventTransactionCompleted EventType = "transaction.completed"
	EventTransactionCancelled EventType = "transaction.cancelled"
	EventTransactionRefunded  EventType = "transaction.refunded"
)

// Event is the payload delivered to sinks.
type Event struct {
	ID            string            `json:"id"`
	Type          EventType         `json:"type"`
	TransactionID string            `json:"transactionId"`
	ActorID       string            `json:"actorId"`
	AmountCents   int64             `json:"amountCents"`
	OccurredAt    time.Time         `json:"occurredAt"`
	Meta          map[string]string `json:"meta,omitempty"`
}

// Sink receives events. Implementations: notification dispatch, the live
// admin feed, test capture.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event Event) error
}

// Emitter fans events out to all registered sinks off the commit path.
type Emitter struct {
	sinks   []Sink
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewEmitter creates an emitter delivering to the given sinks.
func NewEmitter(logger *slog.Logger, sinks ...Sink) *Emitter {
	return &Emitter{
		sinks:   sinks,
		logger:  logger,
		timeout: 30 * time.Second,
	}
}

// Emit dispatches the event to every sink in a background goroutine.
// It never blocks the caller and never returns an error.
func (e *Emitter) Emit(event Event) {
	if e == nil {
		return
	}
	if event.ID == "" {
		event.ID = idgen.WithPrefix("evt_")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	metrics.EventsEmittedTotal.WithLabelValues(string(event.Type)).Inc()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		defer cancel()

		for _, sink := range e.sinks {
			err := retry.Do(ctx, 3, 200*time.Millisecond, func() error {
				return sink.Deliver(ctx, event)
			})
			if err != nil {
				metrics.EventDeliveryErrorsTotal.WithLabelValues(sink.Name()).Inc()
				e.logger.Warn("event delivery failed",
					"sink", sink.Name(),
					"event", event.Type,
					"transaction_id", event.TransactionID,
					"error", err,
				)
			}
		}
	}()
}

// Wait blocks until all in-flight deliveries finish. Used in shutdown and tests.
func (e *Emitter) Wait() {
	e.wg.Wait()
}

// LogSink writes every event to the structured log. Always registered; it
// doubles as the audit trail for emitted events.
type LogSink struct {
	Logger *slog.Logger
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, event Event) error {
	s.Logger.Info("domain event",
		"event", event.Type,
		"event_id", event.ID,
		"transaction_id", event.TransactionID,
		"actor_id", event.ActorID,
		"amount_cents", event.AmountCents,
	)
	return nil
}
