package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "agent_team"

	stageAttemptsTotal  = "stage_attempts_total"
	stageResultsTotal   = "stage_results_total"
	runDurationSeconds  = "run_duration_seconds"
	httpRequestsTotal   = "http_requests_total"
	httpDurationSeconds = "http_request_duration_seconds"
	candidatesTotal     = "screened_candidates_total"
	outboxPending       = "outbox_pending_messages"

	// Labels
	teamLabel   = "team"
	stageLabel  = "stage"
	resultLabel = "result"
	statusLabel = "status"
	routeLabel  = "route"
	methodLabel = "method"
	tierLabel   = "tier"
)

var stageAttemptsMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      stageAttemptsTotal,
		Help:      "number of stage attempts by validation result",
	},
	[]string{teamLabel, stageLabel, resultLabel},
)

var stageResultsMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      stageResultsTotal,
		Help:      "number of finished stages by outcome",
	},
	[]string{teamLabel, stageLabel, statusLabel},
)

var runDurationMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      runDurationSeconds,
		Help:      "pipeline run duration",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	},
	[]string{teamLabel, statusLabel},
)

var httpRequestsMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      httpRequestsTotal,
		Help:      "number of http requests",
	},
	[]string{methodLabel, routeLabel, statusLabel},
)

var httpDurationMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      httpDurationSeconds,
		Help:      "http request latency",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{methodLabel, routeLabel},
)

var candidatesMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      candidatesTotal,
		Help:      "number of screened candidates by tier",
	},
	[]string{tierLabel},
)

var outboxPendingMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      outboxPending,
		Help:      "number of outbox messages waiting to be published",
	},
)

// ObserveRun 记录一次流水线运行耗时，status 为 succeeded 或 failed
func ObserveRun(team, status string, d time.Duration) {
	runDurationMetric.With(prometheus.Labels{teamLabel: team, statusLabel: status}).Observe(d.Seconds())
}

// ObserveHTTP 记录一次 HTTP 请求
func ObserveHTTP(method, route, status string, d time.Duration) {
	httpRequestsMetric.With(prometheus.Labels{methodLabel: method, routeLabel: route, statusLabel: status}).Inc()
	httpDurationMetric.With(prometheus.Labels{methodLabel: method, routeLabel: route}).Observe(d.Seconds())
}

// SetOutboxPending 每轮投递后更新积压数
func SetOutboxPending(n int64) {
	outboxPendingMetric.Set(float64(n))
}

// IncreaseCandidates 按分级计数，失败的候选人 tier 为 failed
func IncreaseCandidates(tier string) {
	candidatesMetric.With(prometheus.Labels{tierLabel: tier}).Inc()
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(stageAttemptsMetric)
	prometheus.MustRegister(stageResultsMetric)
	prometheus.MustRegister(runDurationMetric)
	prometheus.MustRegister(httpRequestsMetric)
	prometheus.MustRegister(httpDurationMetric)
	prometheus.MustRegister(candidatesMetric)
	prometheus.MustRegister(outboxPendingMetric)
}
