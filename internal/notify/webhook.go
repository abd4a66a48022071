package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/autovault/autovault/internal/circuitbreaker"
)

// WebhookSink delivers events to an external HTTP endpoint as signed JSON.
// The receiving side verifies the X-Autovault-Signature header by computing
// HMAC-SHA256 over the raw body with the shared secret.
//
// A circuit breaker guards the endpoint: after a run of consecutive failures
// deliveries are rejected locally until the open window elapses, so a dead
// receiver does not tie up emitter goroutines for the full HTTP timeout.
type WebhookSink struct {
	url     string
	secret  string
	client  *http.Client
	breaker *circuitbreaker.Breaker
}

// ErrCircuitOpen is returned when the breaker is rejecting deliveries.
var ErrCircuitOpen = fmt.Errorf("webhook circuit open")

const breakerKey = "webhook"

// NewWebhookSink creates a sink posting to url. secret may be empty, in
// which case payloads are not signed.
func NewWebhookSink(url, secret string) *WebhookSink {
	return &WebhookSink{
		url:     url,
		secret:  secret,
		client:  &http.Client{Timeout: 10 * time.Second},
		breaker: circuitbreaker.New(5, 30*time.Second),
	}
}

func (s *WebhookSink) Name() string { return "webhook" }

// Deliver posts the event. Any non-2xx response counts as a failure.
func (s *WebhookSink) Deliver(ctx context.Context, event Event) error {
	if !s.breaker.Allow(breakerKey) {
		return ErrCircuitOpen
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Autovault-Event", string(event.Type))
	req.Header.Set("X-Autovault-Timestamp", fmt.Sprintf("%d", event.OccurredAt.Unix()))
	if s.secret != "" {
		req.Header.Set("X-Autovault-Signature", Sign(payload, s.secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.breaker.RecordFailure(breakerKey)
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.breaker.RecordFailure(breakerKey)
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}

	s.breaker.RecordSuccess(breakerKey)
	return nil
}

// Sign computes the hex HMAC-SHA256 of payload under secret. Exported so
// receivers in tests can verify signatures the same way.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
