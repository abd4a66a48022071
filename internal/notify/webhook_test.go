package notify

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestWebhookSink_DeliversSignedPayload(t *testing.T) {
	var (
		mu   sync.Mutex
		body []byte
		hdr  http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		body = b
		hdr = r.Header.Clone()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, "s3cret")
	event := Event{
		ID:            "evt_1",
		Type:          EventTransactionCompleted,
		TransactionID: "txn_1",
		AmountCents:   1_000_000,
		OccurredAt:    time.Now(),
	}
	if err := sink.Deliver(context.Background(), event); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()

	var got Event
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if got.TransactionID != "txn_1" {
		t.Errorf("transaction id = %q, want txn_1", got.TransactionID)
	}
	if hdr.Get("X-Autovault-Event") != string(EventTransactionCompleted) {
		t.Errorf("event header = %q", hdr.Get("X-Autovault-Event"))
	}
	want := Sign(body, "s3cret")
	if !hmac.Equal([]byte(hdr.Get("X-Autovault-Signature")), []byte(want)) {
		t.Error("signature does not verify against the shared secret")
	}
}

func TestWebhookSink_NoSignatureWithoutSecret(t *testing.T) {
	var hdr http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, "")
	if err := sink.Deliver(context.Background(), Event{Type: EventDisputeOpened}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if hdr.Get("X-Autovault-Signature") != "" {
		t.Error("expected no signature header without a secret")
	}
}

func TestWebhookSink_NonSuccessStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, "")
	if err := sink.Deliver(context.Background(), Event{Type: EventPaymentVerified}); err == nil {
		t.Fatal("expected error for 502 response")
	}
}

func TestWebhookSink_BreakerOpensAfterFailures(t *testing.T) {
	var calls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, "")
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := sink.Deliver(ctx, Event{Type: EventPaymentSubmitted}); err == nil {
			t.Fatal("expected delivery failure")
		}
	}

	// Circuit is open now; delivery is rejected without an HTTP call.
	err := sink.Deliver(ctx, Event{Type: EventPaymentSubmitted})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 5 {
		t.Errorf("endpoint saw %d calls, want 5", calls)
	}
}
