package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMechanismLabel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"PLAIN", "PLAIN"},
		{"plain", "PLAIN"},
		{"LOGIN", "LOGIN"},
		{"cram-md5", "CRAM-MD5"},
		{"OAUTHBEARER", "OAUTHBEARER"},
		{"", "other"},
		{"X-CUSTOM-MECH", "other"},
	}

	for _, tt := range tests {
		if got := MechanismLabel(tt.input); got != tt.want {
			t.Errorf("MechanismLabel(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestTransactionMetrics(t *testing.T) {
	TransactionsTotal.Reset()
	HeaderChecks.Reset()

	TransactionsTotal.WithLabelValues(ResultAccepted).Inc()
	TransactionsTotal.WithLabelValues(ResultRejected).Inc()
	TransactionsTotal.WithLabelValues(ResultRejected).Inc()
	HeaderChecks.WithLabelValues("mismatch").Inc()

	if got := testutil.ToFloat64(TransactionsTotal.WithLabelValues(ResultRejected)); got != 2 {
		t.Errorf("Expected 2 rejected transactions, got %v", got)
	}
	if got := testutil.ToFloat64(TransactionsTotal.WithLabelValues(ResultAccepted)); got != 1 {
		t.Errorf("Expected 1 accepted transaction, got %v", got)
	}
	if got := testutil.CollectAndCount(HeaderChecks); got != 1 {
		t.Errorf("Expected 1 header check series, got %d", got)
	}
}

type fixedStats LimiterStats

func (f fixedStats) Stats() LimiterStats { return LimiterStats(f) }

func TestCollector_Collect(t *testing.T) {
	c := NewCollector(fixedStats{Current: 3, Max: 10}, fixedStats{Current: 7, Max: 0}, 0)
	c.collect()

	if got := testutil.ToFloat64(ConnectionsCurrent); got != 3 {
		t.Errorf("Expected 3 current connections, got %v", got)
	}
	if got := testutil.ToFloat64(TransactionsInFlight); got != 7 {
		t.Errorf("Expected 7 in-flight transactions, got %v", got)
	}
	if got := testutil.ToFloat64(LimiterCapacity.WithLabelValues("connections")); got != 10 {
		t.Errorf("Expected connection capacity 10, got %v", got)
	}
}

func TestCollector_NilProviders(t *testing.T) {
	c := NewCollector(nil, nil, 0)
	c.collect()
	c.Stop()
}
