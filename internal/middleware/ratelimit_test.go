package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func testLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:      1,
		GeneralBurst:     3,
		SwapRequestRate:  0.5,
		SwapRequestBurst: 1,
		CleanupInterval:  time.Minute,
	}
}

func serveAs(h http.Handler, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/swap/swap-request", nil)
	req = req.WithContext(ContextWithUserID(req.Context(), userID))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestGeneralMiddleware_BurstThen429(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig())
	defer rl.Stop()
	h := rl.GeneralMiddleware()(okHandler)

	for i := range 3 {
		if w := serveAs(h, "user-1"); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, w.Code)
		}
	}

	w := serveAs(h, "user-1")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	retry, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil || retry != 1 {
		t.Errorf("Retry-After = %q, want 1", w.Header().Get("Retry-After"))
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != "rate_limit_exceeded" || body.Status != http.StatusTooManyRequests {
		t.Errorf("body = %+v", body)
	}
}

func TestGeneralMiddleware_IsolatesUsers(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig())
	defer rl.Stop()
	h := rl.GeneralMiddleware()(okHandler)

	for range 4 {
		serveAs(h, "user-1")
	}
	if w := serveAs(h, "user-2"); w.Code != http.StatusOK {
		t.Errorf("user-2 status = %d, want 200", w.Code)
	}
	if rl.GeneralLimiterCount() != 2 {
		t.Errorf("GeneralLimiterCount = %d, want 2", rl.GeneralLimiterCount())
	}
}

func TestSwapRequestMiddleware_IndependentFromGeneral(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig())
	defer rl.Stop()
	swap := rl.SwapRequestMiddleware()(okHandler)
	general := rl.GeneralMiddleware()(okHandler)

	if w := serveAs(swap, "user-1"); w.Code != http.StatusOK {
		t.Fatalf("first swap request status = %d", w.Code)
	}
	w := serveAs(swap, "user-1")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second swap request status = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "2" {
		t.Errorf("Retry-After = %q, want 2", got)
	}
	if w := serveAs(general, "user-1"); w.Code != http.StatusOK {
		t.Errorf("general status = %d, want 200", w.Code)
	}
	if rl.SwapRequestLimiterCount() != 1 {
		t.Errorf("SwapRequestLimiterCount = %d, want 1", rl.SwapRequestLimiterCount())
	}
}

func TestRateLimitMiddleware_NoUserID_Returns401(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig())
	defer rl.Stop()
	h := rl.GeneralMiddleware()(okHandler)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestRateLimiter_CleanupEvictsIdleEntries(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig())
	defer rl.Stop()
	serveAs(rl.GeneralMiddleware()(okHandler), "user-1")
	serveAs(rl.SwapRequestMiddleware()(okHandler), "user-1")

	rl.cleanup(time.Now())
	if rl.GeneralLimiterCount() != 1 {
		t.Fatal("recent entries must survive cleanup")
	}

	rl.cleanup(time.Now().Add(3 * time.Minute))
	if rl.GeneralLimiterCount() != 0 || rl.SwapRequestLimiterCount() != 0 {
		t.Errorf("counts = %d/%d, want 0/0", rl.GeneralLimiterCount(), rl.SwapRequestLimiterCount())
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	rl := NewRateLimiter(testLimiterConfig())
	rl.Stop()
	rl.Stop()
}

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()
	if cfg.GeneralBurst != 120 || cfg.SwapRequestBurst != 20 {
		t.Errorf("bursts = %d/%d", cfg.GeneralBurst, cfg.SwapRequestBurst)
	}
	if cfg.GeneralRate != PerMinute(120) || float64(cfg.GeneralRate) != 2 {
		t.Errorf("GeneralRate = %v, want 2/s", cfg.GeneralRate)
	}
}
