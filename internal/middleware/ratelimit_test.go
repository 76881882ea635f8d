package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func TestInMemoryRateLimitStore_Allow(t *testing.T) {
	tests := []struct {
		name          string
		requestCount  int
		limit         int
		wantAllowed   []bool
		wantRemaining []int
	}{
		{
			name:          "allows requests under limit",
			requestCount:  3,
			limit:         5,
			wantAllowed:   []bool{true, true, true},
			wantRemaining: []int{4, 3, 2},
		},
		{
			name:          "blocks requests at limit",
			requestCount:  6,
			limit:         5,
			wantAllowed:   []bool{true, true, true, true, true, false},
			wantRemaining: []int{4, 3, 2, 1, 0, 0},
		},
		{
			name:          "single request limit",
			requestCount:  3,
			limit:         1,
			wantAllowed:   []bool{true, false, false},
			wantRemaining: []int{0, 0, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewInMemoryRateLimitStore()
			config := RateLimitConfig{
				RequestsPerWindow: tt.limit,
				WindowDuration:    time.Minute,
			}
			ctx := context.Background()

			for i := 0; i < tt.requestCount; i++ {
				allowed, remaining, _ := store.Allow(ctx, "test-key", config)
				if allowed != tt.wantAllowed[i] {
					t.Errorf("request %d: got allowed=%v, want %v", i+1, allowed, tt.wantAllowed[i])
				}
				if remaining != tt.wantRemaining[i] {
					t.Errorf("request %d: got remaining=%d, want %d", i+1, remaining, tt.wantRemaining[i])
				}
			}
		})
	}
}

func TestInMemoryRateLimitStore_RetryAfter(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	config := RateLimitConfig{
		RequestsPerWindow: 1,
		WindowDuration:    10 * time.Second,
	}
	ctx := context.Background()

	allowed, _, retryAfter := store.Allow(ctx, "test-key", config)
	if !allowed || retryAfter != 0 {
		t.Errorf("first request: allowed=%v retryAfter=%d", allowed, retryAfter)
	}

	allowed, _, retryAfter = store.Allow(ctx, "test-key", config)
	if allowed {
		t.Error("second request should be blocked")
	}
	if retryAfter < 1 || retryAfter > 10 {
		t.Errorf("expected retryAfter between 1 and 10, got %d", retryAfter)
	}
}

func TestInMemoryRateLimitStore_WindowExpiryAndCleanup(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	config := RateLimitConfig{
		RequestsPerWindow: 1,
		WindowDuration:    50 * time.Millisecond,
	}
	ctx := context.Background()

	store.Allow(ctx, "a", config)
	if allowed, _, _ := store.Allow(ctx, "a", config); allowed {
		t.Fatal("second request in window should be blocked")
	}

	time.Sleep(80 * time.Millisecond)
	store.Cleanup()
	if store.Len() != 0 {
		t.Errorf("expected expired buckets to be removed, got %d", store.Len())
	}

	if allowed, _, _ := store.Allow(ctx, "a", config); !allowed {
		t.Error("request after window expiry should be allowed")
	}
}

func TestInMemoryRateLimitStore_Concurrent(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	config := RateLimitConfig{RequestsPerWindow: 50, WindowDuration: time.Minute}

	var mu sync.Mutex
	allowedCount := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _, _ := store.Allow(context.Background(), "k", config); ok {
				mu.Lock()
				allowedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowedCount != 50 {
		t.Errorf("expected exactly 50 allowed requests, got %d", allowedCount)
	}
}

func TestRateLimitConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  RateLimitConfig
		wantErr bool
	}{
		{"valid", RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Second}, false},
		{"zero requests", RateLimitConfig{RequestsPerWindow: 0, WindowDuration: time.Second}, true},
		{"zero window", RateLimitConfig{RequestsPerWindow: 1}, true},
		{"defaults", DefaultLocationLimit(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.config.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIPKeyFunc(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"remote addr", "192.168.1.1:12345", nil, "ip:192.168.1.1"},
		{"ipv6 remote addr", "[::1]:12345", nil, "ip:::1"},
		{"forwarded chain", "10.0.0.1:1", map[string]string{"X-Forwarded-For": " 203.0.113.5 , 10.0.0.1"}, "ip:203.0.113.5"},
		{"real ip", "10.0.0.1:1", map[string]string{"X-Real-IP": "198.51.100.7"}, "ip:198.51.100.7"},
		{"no port", "192.168.1.1", nil, "ip:192.168.1.1"},
	}

	keyFunc := IPKeyFunc()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/events", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := keyFunc(req); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	metrics := NewMetrics()
	config := RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute}
	handler := RateLimiter(NewInMemoryRateLimitStore(), config, IPKeyFunc(), metrics)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/events/abc/live", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	for i := 0; i < 2; i++ {
		rr := send()
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rr.Code)
		}
		if got := rr.Header().Get("X-RateLimit-Remaining"); got != strconv.Itoa(1-i) {
			t.Errorf("request %d: X-RateLimit-Remaining = %q", i+1, got)
		}
	}

	rr := send()
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" || rr.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("expected Retry-After and X-RateLimit-Reset headers")
	}

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Error.Code != ErrCodeRateLimited {
		t.Errorf("expected code %q, got %q", ErrCodeRateLimited, body.Error.Code)
	}

	assertCounterValue(t, metrics.rateLimitRequests.WithLabelValues("/events/{id}/live", "ip"), 3)
	assertCounterValue(t, metrics.rateLimitBlocked.WithLabelValues("/events/{id}/live", "ip"), 1)
}

func TestRateLimiter_NilMetrics(t *testing.T) {
	config := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}
	handler := RateLimiter(NewInMemoryRateLimitStore(), config, IPKeyFunc(), nil)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}),
	)

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/events", nil))
		if rr.Code != want {
			t.Errorf("request %d: expected %d, got %d", i+1, want, rr.Code)
		}
	}
}

func TestMemberKey(t *testing.T) {
	if got := MemberKey("ev1", "alice"); got != "loc:ev1:alice" {
		t.Errorf("MemberKey = %q", got)
	}
	if got := keyTypeOf(MemberKey("ev1", "alice")); got != "loc" {
		t.Errorf("keyTypeOf = %q", got)
	}
}

type counterWriter interface {
	Write(*dto.Metric) error
}

func assertCounterValue(t *testing.T, c counterWriter, want float64) {
	t.Helper()
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	if got := m.GetCounter().GetValue(); got != want {
		t.Errorf("counter = %v, want %v", got, want)
	}
}
