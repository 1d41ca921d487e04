// Package metrics exposes the admission engine's Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"jobmate/admission-service/internal/admission"
)

const namespace = "admission"

// Recorder implements admission.Recorder on top of Prometheus collectors.
type Recorder struct {
	transitions  *prometheus.CounterVec
	conflicts    *prometheus.CounterVec
	notifyFailed prometheus.Counter
	lockWait     prometheus.Histogram
}

var _ admission.Recorder = (*Recorder)(nil)

// NewRegistry creates a registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// NewRecorder registers the engine collectors on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Committed application status transitions.",
		}, []string{"status", "cause"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_total",
			Help:      "Status changes refused because of the current business state.",
		}, []string{"reason"}),
		notifyFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_failures_total",
			Help:      "Notifications that could not be delivered.",
		}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_lock_wait_seconds",
			Help:      "Time spent waiting for the per-job exclusive section.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}),
	}
	reg.MustRegister(r.transitions, r.conflicts, r.notifyFailed, r.lockWait)
	return r
}

func (r *Recorder) Transition(status, cause string) {
	r.transitions.WithLabelValues(status, cause).Inc()
}

func (r *Recorder) Conflict(reason string) { r.conflicts.WithLabelValues(reason).Inc() }

func (r *Recorder) NotifyFailed() { r.notifyFailed.Inc() }

func (r *Recorder) LockWait(d time.Duration) { r.lockWait.Observe(d.Seconds()) }

// Handler returns an http.Handler that serves the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
