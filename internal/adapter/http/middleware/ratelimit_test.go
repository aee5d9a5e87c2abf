package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type pathCounter map[string]int

func (c pathCounter) RecordRateLimit(path string) { c[path]++ }

func TestRateLimiter_LimitsPerIP(t *testing.T) {
	hits := pathCounter{}
	rl := NewRateLimiter(1, 1).WithRecorder(hits)
	h := rl.Limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	send := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/accounts/alice", nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := send("1.2.3.4:1000"); code != http.StatusOK {
		t.Fatalf("first request: %d", code)
	}
	if code := send("1.2.3.4:2000"); code != http.StatusTooManyRequests {
		t.Fatalf("second request from same IP should be limited, got %d", code)
	}
	if code := send("5.6.7.8:1000"); code != http.StatusOK {
		t.Fatalf("other IP should have its own bucket, got %d", code)
	}

	if hits["/api/v1/accounts/{id}"] != 1 {
		t.Fatalf("expected one recorded hit, got %v", hits)
	}
}

func TestRateLimiter_CleanupDropsIdleVisitors(t *testing.T) {
	rl := NewRateLimiter(10, 10)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.getLimiter("a")
	now = now.Add(time.Hour)
	rl.getLimiter("b")

	if left := rl.CleanupLimiters(30 * time.Minute); left != 1 {
		t.Fatalf("expected one visitor left, got %d", left)
	}
	if _, ok := rl.visitors["b"]; !ok {
		t.Fatal("recent visitor must be kept")
	}
}

func TestGetIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	if got := getIP(req); got != "10.0.0.1" {
		t.Fatalf("getIP = %q", got)
	}

	req.RemoteAddr = "10.0.0.2"
	if got := getIP(req); got != "10.0.0.2" {
		t.Fatalf("getIP without port = %q", got)
	}
}
