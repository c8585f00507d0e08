package metrics

import (
	"strings"

	"github.com/emersion/go-sasl"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection metrics
var (
	ConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "milterfrom_connections_total",
			Help: "Total number of MTA connections that completed option negotiation",
		},
	)

	ConnectionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "milterfrom_connections_current",
			Help: "Current number of MTA connections",
		},
	)

	ConnectionsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "milterfrom_connections_rejected_total",
			Help: "Connections refused by the connection limiter",
		},
	)

	LimiterCapacity = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "milterfrom_limiter_capacity",
			Help: "Configured limit per limiter (0 = unlimited)",
		},
		[]string{"limiter"},
	)

	NegotiationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "milterfrom_negotiations_total",
			Help: "Option negotiations by whether the MTA accepted skipping header replies",
		},
		[]string{"no_header_reply"},
	)
)

// Transaction metrics
var (
	TransactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "milterfrom_transactions_total",
			Help: "Finished mail transactions by outcome",
		},
		[]string{"result"}, // accepted, rejected, tempfail, aborted
	)

	TransactionsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "milterfrom_transactions_in_flight",
			Help: "Mail transactions between MAIL FROM and end-of-message or abort",
		},
	)

	TransactionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "milterfrom_transaction_duration_seconds",
			Help:    "Time from MAIL FROM to the end of the transaction",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
		[]string{"result"},
	)

	AuthenticatedSenders = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "milterfrom_authenticated_senders_total",
			Help: "Transactions with an authenticated sender, by SASL mechanism",
		},
		[]string{"mechanism"},
	)

	HeaderChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "milterfrom_header_checks_total",
			Help: "From header comparisons against the envelope sender",
		},
		[]string{"result"}, // match, mismatch
	)

	ContractViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "milterfrom_contract_violations_total",
			Help: "Callbacks received without a transaction in progress",
		},
		[]string{"callback"},
	)
)

// Transaction results used as label values.
const (
	ResultAccepted = "accepted"
	ResultRejected = "rejected"
	ResultTempFail = "tempfail"
	ResultAborted  = "aborted"
)

var knownMechanisms = []string{
	sasl.Plain,
	sasl.Login,
	sasl.External,
	sasl.Anonymous,
	sasl.OAuthBearer,
	"CRAM-MD5",
	"DIGEST-MD5",
	"XOAUTH2",
	"SCRAM-SHA-1",
	"SCRAM-SHA-256",
	"GSSAPI",
}

// MechanismLabel maps the MTA supplied {auth_type} value to a bounded label
// set. Unknown mechanisms collapse into "other".
func MechanismLabel(mechanism string) string {
	for _, known := range knownMechanisms {
		if strings.EqualFold(mechanism, known) {
			return known
		}
	}
	return "other"
}
