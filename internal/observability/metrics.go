package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	// TurnsTotal counts completed pipeline turns by tenant and outcome.
	// Outcome is the payload status (complete, non_data) or the stable
	// error code for failed turns.
	TurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_turns_total",
			Help: "Total number of question turns by outcome.",
		},
		[]string{"tenant", "outcome"},
	)

	// TokensTotal accumulates model token consumption by tenant and
	// direction (input/output).
	TokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_tokens_total",
			Help: "Total number of model tokens consumed.",
		},
		[]string{"tenant", "direction"},
	)

	// SQLDuration records executed statement latency by tenant.
	SQLDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_sql_duration_seconds",
			Help:    "Duration of executed tenant SQL statements in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tenant"},
	)
)

func init() {
	prometheus.MustRegister(TurnsTotal, TokensTotal, SQLDuration)
}

// RecordTurn increments the turn counter for one finished turn.
func RecordTurn(tenantID, outcome string) {
	TurnsTotal.WithLabelValues(tenantID, outcome).Inc()
}

// RecordTokens adds a turn's aggregated token usage.
func RecordTokens(tenantID string, input, output int) {
	if input > 0 {
		TokensTotal.WithLabelValues(tenantID, "input").Add(float64(input))
	}
	if output > 0 {
		TokensTotal.WithLabelValues(tenantID, "output").Add(float64(output))
	}
}

// RecordSQL observes one executed statement's latency.
func RecordSQL(tenantID string, seconds float64) {
	SQLDuration.WithLabelValues(tenantID).Observe(seconds)
}
