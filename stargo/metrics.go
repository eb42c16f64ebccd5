package stargo

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Correlation-engine and session counters, served by the HTTP layer on
// /metrics.
var (
	metricCommandsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stargo_commands_sent_total",
		Help: "Commands transmitted to the controller.",
	})
	metricRepliesCorrelated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stargo_replies_correlated_total",
		Help: "Reply fragments successfully matched to a pending request.",
	})
	metricUnsolicited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stargo_unsolicited_replies_total",
		Help: "Spontaneous status lines correlated without a pending request.",
	})
	metricFragmentsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stargo_fragments_dropped_total",
		Help: "Fragments dropped after exhausting the correlation retry window.",
	})
	metricRequestsStranded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stargo_requests_stranded_total",
		Help: "Pending requests abandoned because no reply ever matched.",
	})
	metricEncodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stargo_encode_errors_total",
		Help: "Operations skipped due to argument count or type mismatch.",
	})
	metricPolls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stargo_polls_total",
		Help: "Status polls performed.",
	})
)
