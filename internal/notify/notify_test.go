package notify

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"
)

// captureSink records delivered events.
type captureSink struct {
	mu     sync.Mutex
	events []Event
	fail   int // number of deliveries to fail before succeeding
}

func (s *captureSink) Name() string { return "capture" }

func (s *captureSink) Deliver(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail > 0 {
		s.fail--
		return errors.New("transient delivery failure")
	}
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) captured() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestEmit_DeliversToAllSinks(t *testing.T) {
	a := &captureSink{}
	b := &captureSink{}
	e := NewEmitter(testLogger(), a, b)

	e.Emit(Event{
		Type:          EventTransactionCreated,
		TransactionID: "txn_1",
		ActorID:       "usr_buyer",
		AmountCents:   1_000_000,
	})
	e.Wait()

	for _, sink := range []*captureSink{a, b} {
		got := sink.captured()
		if len(got) != 1 {
			t.Fatalf("expected 1 event, got %d", len(got))
		}
		if got[0].Type != EventTransactionCreated {
			t.Errorf("wrong type: %s", got[0].Type)
		}
		if got[0].ID == "" {
			t.Error("expected generated event ID")
		}
		if got[0].OccurredAt.IsZero() {
			t.Error("expected populated timestamp")
		}
	}
}

func TestEmit_RetriesTransientFailures(t *testing.T) {
	s := &captureSink{fail: 2}
	e := NewEmitter(testLogger(), s)

	e.Emit(Event{Type: EventPaymentVerified, TransactionID: "txn_2"})
	e.Wait()

	if got := s.captured(); len(got) != 1 {
		t.Fatalf("expected delivery after retries, got %d events", len(got))
	}
}

func TestEmit_DoesNotBlockCaller(t *testing.T) {
	slow := &slowSink{delay: 500 * time.Millisecond}
	e := NewEmitter(testLogger(), slow)

	start := time.Now()
	e.Emit(Event{Type: EventTransactionCompleted, TransactionID: "txn_3"})
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Emit blocked for %v", elapsed)
	}
	e.Wait()
}

type slowSink struct{ delay time.Duration }

func (s *slowSink) Name() string { return "slow" }
func (s *slowSink) Deliver(ctx context.Context, _ Event) error {
	select {
	case <-time.After(s.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestEmit_NilEmitterSafe(t *testing.T) {
	var e *Emitter
	// Must not panic.
	e.Emit(Event{Type: EventTransactionCreated})
}
