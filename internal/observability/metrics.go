package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nexus"

type moduleMetrics struct {
	admissionInFlight prometheus.Gauge
	admissionTotal    *prometheus.CounterVec
	laneTaskDuration  *prometheus.HistogramVec

	activeSessions   prometheus.Gauge
	sessionOutcomes  *prometheus.CounterVec
	sessionDuration  *prometheus.HistogramVec
	sessionsArchived *prometheus.CounterVec
	sessionsEvicted  prometheus.Counter

	stepsTotal       *prometheus.CounterVec
	plannerDuration  *prometheus.HistogramVec
	plannerErrors    *prometheus.CounterVec
	toolRetriesTotal *prometheus.CounterVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolErrorsTotal       *prometheus.CounterVec

	eventsPublished  *prometheus.CounterVec
	subscriberDrops  prometheus.Counter
	rateLimitRejects *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			admissionInFlight: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "admission_in_flight",
					Help:      "Sessions currently holding an admission slot.",
				},
			),
			admissionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "admission_total",
					Help:      "Admission attempts by result.",
				},
				[]string{"result"},
			),
			laneTaskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "lane_task_duration_seconds",
					Help:      "Admitted task duration in seconds by completion status.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"status"},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "active_sessions",
					Help:      "Sessions in the pending or running state.",
				},
			),
			sessionOutcomes: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "session_outcomes_total",
					Help:      "Terminal session outcomes by state and error kind.",
				},
				[]string{"state", "error_kind"},
			),
			sessionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "session_duration_seconds",
					Help:      "Wall time from session start to terminal state.",
					Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
				},
				[]string{"state"},
			),
			sessionsArchived: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "sessions_archived_total",
					Help:      "Archived sessions by archiver and status.",
				},
				[]string{"archiver", "status"},
			),
			sessionsEvicted: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "sessions_evicted_total",
					Help:      "Terminal sessions removed from the store after retention.",
				},
			),
			stepsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "steps_total",
					Help:      "Finished steps by final status.",
				},
				[]string{"status"},
			),
			plannerDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "planner_duration_seconds",
					Help:      "Planner decision latency in seconds by planner.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"planner"},
			),
			plannerErrors: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "planner_errors_total",
					Help:      "Planner failures by planner.",
				},
				[]string{"planner"},
			),
			toolRetriesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tool_retries_total",
					Help:      "Tool re-dispatches by tool and error kind.",
				},
				[]string{"tool", "error_kind"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tool_execution_total",
					Help:      "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "tool_execution_duration_seconds",
					Help:      "Tool execution duration in seconds by tool.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tool_errors_total",
					Help:      "Total tool execution errors by tool and error kind.",
				},
				[]string{"tool", "error_kind"},
			),
			eventsPublished: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "events_published_total",
					Help:      "Session events published by type.",
				},
				[]string{"type"},
			),
			subscriberDrops: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "subscriber_drops_total",
					Help:      "Subscribers dropped for falling behind.",
				},
			),
			rateLimitRejects: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "rate_limit_rejections_total",
					Help:      "HTTP requests rejected by the rate limiter by route.",
				},
				[]string{"route"},
			),
		}

		prometheus.MustRegister(
			m.admissionInFlight,
			m.admissionTotal,
			m.laneTaskDuration,
			m.activeSessions,
			m.sessionOutcomes,
			m.sessionDuration,
			m.sessionsArchived,
			m.sessionsEvicted,
			m.stepsTotal,
			m.plannerDuration,
			m.plannerErrors,
			m.toolRetriesTotal,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolErrorsTotal,
			m.eventsPublished,
			m.subscriberDrops,
			m.rateLimitRejects,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordAdmission(accepted bool, inFlight int) {
	m := getMetrics()
	result := "rejected"
	if accepted {
		result = "accepted"
	}
	m.admissionTotal.WithLabelValues(result).Inc()
	m.admissionInFlight.Set(float64(inFlight))
}

func RecordLaneCompletion(duration time.Duration, success bool, inFlight int) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.laneTaskDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.admissionInFlight.Set(float64(inFlight))
}

func SetActiveSessions(count int) {
	m := getMetrics()
	m.activeSessions.Set(float64(count))
}

func RecordSessionOutcome(state, errorKind string, duration time.Duration) {
	m := getMetrics()
	m.sessionOutcomes.WithLabelValues(state, errorKind).Inc()
	m.sessionDuration.WithLabelValues(state).Observe(duration.Seconds())
}

func RecordSessionArchived(archiver string, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.sessionsArchived.WithLabelValues(archiver, status).Inc()
}

func RecordSessionsEvicted(count int) {
	getMetrics().sessionsEvicted.Add(float64(count))
}

func RecordStep(status string) {
	getMetrics().stepsTotal.WithLabelValues(status).Inc()
}

func RecordPlannerDecision(planner string, duration time.Duration, success bool) {
	m := getMetrics()
	m.plannerDuration.WithLabelValues(planner).Observe(duration.Seconds())
	if !success {
		m.plannerErrors.WithLabelValues(planner).Inc()
	}
}

func RecordToolRetry(tool, errorKind string) {
	getMetrics().toolRetriesTotal.WithLabelValues(tool, errorKind).Inc()
}

// RecordToolExecution counts a single dispatch. errorKind is empty on success.
func RecordToolExecution(tool string, duration time.Duration, errorKind string) {
	m := getMetrics()
	status := "success"
	if errorKind != "" {
		status = "error"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if errorKind != "" {
		m.toolErrorsTotal.WithLabelValues(tool, errorKind).Inc()
	}
}

func RecordEventPublished(eventType string) {
	getMetrics().eventsPublished.WithLabelValues(eventType).Inc()
}

func RecordSubscriberDrop() {
	getMetrics().subscriberDrops.Inc()
}

func RecordRateLimitReject(route string) {
	getMetrics().rateLimitRejects.WithLabelValues(route).Inc()
}
