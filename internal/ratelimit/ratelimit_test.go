package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestAllow_WithinBurst(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, BurstSize: 5, CleanupInterval: time.Minute})
	defer l.Stop()

	for i := 0; i < 5; i++ {
		if !l.Allow("client-1") {
			t.Fatalf("request %d should be allowed within burst", i)
		}
	}
}

func TestAllow_ExceedsBurst(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, BurstSize: 3, CleanupInterval: time.Minute})
	defer l.Stop()

	for i := 0; i < 3; i++ {
		l.Allow("client-2")
	}
	if l.Allow("client-2") {
		t.Error("request above burst should be denied")
	}
}

func TestAllow_IndependentKeys(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, BurstSize: 1, CleanupInterval: time.Minute})
	defer l.Stop()

	if !l.Allow("a") {
		t.Error("first request for key a should be allowed")
	}
	if !l.Allow("b") {
		t.Error("first request for key b should be allowed")
	}
}

func TestMiddleware_RateLimitsByActor(t *testing.T) {
	gin.SetMode(gin.TestMode)

	l := New(Config{RequestsPerMinute: 60, BurstSize: 1, CleanupInterval: time.Minute})
	defer l.Stop()

	r := gin.New()
	r.Use(l.Middleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(actor string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/ping", nil)
		req.Header.Set("X-Actor-Id", actor)
		r.ServeHTTP(w, req)
		return w.Code
	}

	if code := do("usr_1"); code != http.StatusOK {
		t.Errorf("first request: expected 200, got %d", code)
	}
	if code := do("usr_1"); code != http.StatusTooManyRequests {
		t.Errorf("second request: expected 429, got %d", code)
	}
	// A different actor has its own bucket.
	if code := do("usr_2"); code != http.StatusOK {
		t.Errorf("other actor: expected 200, got %d", code)
	}
}
