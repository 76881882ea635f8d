package middleware

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetrics_Register(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	if err := m.Register(reg); err == nil {
		t.Error("expected error on duplicate registration")
	}

	m.IncRateLimitRequests("/events/{id}/locations", "loc")
	m.IncRateLimitBlocked("/events/{id}/locations", "loc")
	m.IncRateLimitRedisErrors()
	m.ObserveHTTPRequest("GET", "/events", "200", 0.01, 0, 10)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() failed: %v", err)
	}
	found := map[string]bool{}
	for _, mf := range families {
		found[mf.GetName()] = true
	}
	for _, name := range []string{
		MetricRateLimitRequests,
		MetricRateLimitBlocked,
		MetricRateLimitRedisErrors,
		MetricHTTPRequestDuration,
		MetricHTTPRequestsTotal,
		MetricHTTPRequestSizeBytes,
		MetricHTTPResponseSizeBytes,
	} {
		if !found[name] {
			t.Errorf("metric %s not found in registry", name)
		}
	}
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()
	m.IncRateLimitRequests("/events", "ip")
	m.IncRateLimitRequests("/events", "ip")
	m.IncRateLimitBlocked("/events", "ip")

	assertCounterValue(t, m.rateLimitRequests.WithLabelValues("/events", "ip"), 2)
	assertCounterValue(t, m.rateLimitBlocked.WithLabelValues("/events", "ip"), 1)
}

func TestMetrics_Collectors(t *testing.T) {
	if got := len(NewMetrics().Collectors()); got != 7 {
		t.Errorf("expected 7 collectors, got %d", got)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.IncRateLimitRequests("/events", "ip")
	m.IncRateLimitBlocked("/events", "ip")
	m.IncRateLimitRedisErrors()
	m.ObserveHTTPRequest("GET", "/events", "200", 0.01, 0, 0)
}

func TestKeyTypeOf(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{KeyTypeIP + ":203.0.113.7", KeyTypeIP},
		{MemberKey("ev1", "alice"), KeyTypeLocation},
		{"nocolon", KeyTypeOther},
		{":leading", KeyTypeOther},
	}
	for _, tt := range tests {
		if got := keyTypeOf(tt.key); got != tt.want {
			t.Errorf("keyTypeOf(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestMetrics_SizeBucketsFitJSONPayloads(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	m.ObserveHTTPRequest("POST", "/events/{id}/locations", "201", 0.002, 120, 300)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() failed: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != MetricHTTPRequestSizeBytes {
			continue
		}
		buckets := mf.GetMetric()[0].GetHistogram().GetBucket()
		if got := buckets[0].GetUpperBound(); got != 64 {
			t.Errorf("smallest size bucket = %v, want 64", got)
		}
		// 120 B lands in the 256 B bucket, not the first one
		if buckets[0].GetCumulativeCount() != 0 || buckets[1].GetCumulativeCount() != 1 {
			t.Errorf("unexpected bucket counts %v / %v", buckets[0].GetCumulativeCount(), buckets[1].GetCumulativeCount())
		}
		return
	}
	t.Fatalf("metric %s not found", MetricHTTPRequestSizeBytes)
}
