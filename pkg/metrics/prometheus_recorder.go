package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/poltergeist/buildvision/pkg/types"
)

const namespace = "buildvision"

// PrometheusRecorder implements Recorder using Prometheus metrics
type PrometheusRecorder struct {
	sessionDuration *prom.HistogramVec
	sessionOutcome  *prom.CounterVec
	projectStates   *prom.CounterVec
	projectDuration *prom.HistogramVec
	diagnostics     *prom.CounterVec
	cancellations   prom.Counter
	building        prom.Gauge
	heartbeats      prom.Counter
}

// NewPrometheusRecorder constructs the metrics and registers them with reg,
// or with a fresh registry when reg is nil.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		sessionDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of build sessions from solution-begin to solution-done",
			Buckets:   prom.ExponentialBuckets(0.5, 2, 12),
		}, []string{"action"}),
		sessionOutcome: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "session_outcomes_total",
			Help:      "Finished build sessions by outcome",
		}, []string{"outcome"}),
		projectStates: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "project_results_total",
			Help:      "Completed projects by final state",
		}, []string{"state"}),
		projectDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "project_duration_seconds",
			Help:      "Duration of individual project builds",
			Buckets:   prom.DefBuckets,
		}, []string{"state"}),
		diagnostics: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "diagnostics_total",
			Help:      "Diagnostics attached to project results by level",
		}, []string{"level"}),
		cancellations: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "user_cancellations_total",
			Help:      "Builds cancelled by the user",
		}),
		building: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "building_projects",
			Help:      "Projects currently building",
		}),
		heartbeats: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeat_ticks_total",
			Help:      "Progress ticks emitted while builds ran",
		}),
	}
	reg.MustRegister(pr.sessionDuration, pr.sessionOutcome, pr.projectStates, pr.projectDuration,
		pr.diagnostics, pr.cancellations, pr.building, pr.heartbeats)
	return pr
}

func (p *PrometheusRecorder) ObserveSessionDuration(action types.BuildAction, d time.Duration) {
	if p == nil {
		return
	}
	p.sessionDuration.WithLabelValues(string(action)).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncSessionOutcome(outcome string) {
	if p == nil {
		return
	}
	p.sessionOutcome.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) IncProjectState(state types.ProjectState) {
	if p == nil {
		return
	}
	p.projectStates.WithLabelValues(string(state)).Inc()
}

func (p *PrometheusRecorder) ObserveProjectDuration(state types.ProjectState, d time.Duration) {
	if p == nil {
		return
	}
	p.projectDuration.WithLabelValues(string(state)).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncDiagnostic(level types.DiagnosticLevel) {
	if p == nil {
		return
	}
	p.diagnostics.WithLabelValues(string(level)).Inc()
}

func (p *PrometheusRecorder) IncCancellation() {
	if p == nil {
		return
	}
	p.cancellations.Inc()
}

func (p *PrometheusRecorder) SetBuildingProjects(n int) {
	if p == nil {
		return
	}
	p.building.Set(float64(n))
}

func (p *PrometheusRecorder) IncHeartbeat() {
	if p == nil {
		return
	}
	p.heartbeats.Inc()
}

// HTTPHandler serves the metrics in reg
func HTTPHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
