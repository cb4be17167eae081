package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestLocalBackend_ExhaustAndRefill(t *testing.T) {
	b := NewLocalBackend()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if ok, _, _ := b.CheckRateLimit(ctx, "k", 3, 1, 1); !ok {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if ok, remaining, _ := b.CheckRateLimit(ctx, "k", 3, 1, 1); ok || remaining != 0 {
		t.Fatalf("expected denial with 0 remaining, got ok=%v remaining=%d", ok, remaining)
	}

	now = now.Add(1500 * time.Millisecond)
	if ok, _, _ := b.CheckRateLimit(ctx, "k", 3, 1, 1); !ok {
		t.Fatal("bucket should refill over time")
	}
}

type flakyBackend struct {
	fail  atomic.Bool
	calls atomic.Int32
}

func (f *flakyBackend) CheckRateLimit(_ context.Context, _ string, maxTokens int, _ float64, _ int) (bool, int, error) {
	f.calls.Add(1)
	if f.fail.Load() {
		return false, 0, errors.New("connection refused")
	}
	return true, maxTokens - 1, nil
}

func TestFallbackBackend_DegradesToLocal(t *testing.T) {
	primary := &flakyBackend{}
	primary.fail.Store(true)
	f := NewFallbackBackend(primary)
	ctx := context.Background()

	ok, _, err := f.CheckRateLimit(ctx, "user:1", 2, 1, 1)
	if err != nil || !ok {
		t.Fatalf("fallback should answer locally: ok=%v err=%v", ok, err)
	}
	if !f.Degraded() {
		t.Fatal("expected degraded mode after primary failure")
	}

	calls := primary.calls.Load()
	f.CheckRateLimit(ctx, "user:1", 2, 1, 1)
	if ok, _, _ := f.CheckRateLimit(ctx, "user:1", 2, 1, 1); ok {
		t.Fatal("local bucket should be exhausted")
	}
	if primary.calls.Load() != calls {
		t.Fatal("degraded backend should not call the primary before the probe interval")
	}
}

func TestLimiter_Result(t *testing.T) {
	l := New(NewLocalBackend(), Config{RequestsPerSecond: 1, BurstSize: 2})
	ctx := context.Background()

	r, err := l.Allow(ctx, KeyForUser(7))
	if err != nil || !r.Allowed || r.Remaining != 1 {
		t.Fatalf("unexpected first result %+v err=%v", r, err)
	}
	if r.ResetAt.Before(time.Now()) {
		t.Fatal("reset time should be in the future while the bucket is not full")
	}
}

func TestMiddleware(t *testing.T) {
	l := New(NewLocalBackend(), Config{RequestsPerSecond: 0.01, BurstSize: 1})
	keyFn := func(r *http.Request) string { return "user:" + r.Header.Get("X-User-ID") }
	body := []byte(`{"success":false,"errorMsg":"too many requests"}`)

	var served atomic.Int32
	h := Middleware(l, keyFn, body)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served.Add(1)
	}))

	do := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/voucher-order/seckill/1", nil)
		req.Header.Set("X-User-ID", user)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	if rec := do("1"); rec.Code != http.StatusOK {
		t.Fatalf("first request: status %d", rec.Code)
	}
	rec := do("1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" || rec.Body.String() != string(body) {
		t.Fatalf("unexpected throttled response: headers=%v body=%q", rec.Header(), rec.Body.String())
	}
	if rec := do("2"); rec.Code != http.StatusOK {
		t.Fatalf("other user should not be throttled, status %d", rec.Code)
	}
	if served.Load() != 2 {
		t.Fatalf("expected 2 requests served, got %d", served.Load())
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.5:41234"
	if ip := ClientIP(r); ip != "10.0.0.5" {
		t.Fatalf("expected remote addr host, got %q", ip)
	}
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if ip := ClientIP(r); ip != "203.0.113.9" {
		t.Fatalf("expected first forwarded hop, got %q", ip)
	}
}
