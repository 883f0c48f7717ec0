// Package metrics exposes the game server's Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "globetrotter"

// Round load outcomes.
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
)

// Recorder holds every metric the server records.
// A nil *Recorder is valid and records nothing, which keeps test wiring short.
type Recorder struct {
	registry *prometheus.Registry

	roundsLoaded    *prometheus.CounterVec
	answers         *prometheus.CounterVec
	persistFailures prometheus.Counter
	activePlayers   prometheus.Gauge
	wsConnections   prometheus.Gauge
	gatewayLatency  *prometheus.HistogramVec
	gatewayErrors   *prometheus.CounterVec
}

// New builds a Recorder on its own registry, with the Go and process collectors attached.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		roundsLoaded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "game",
			Name:      "rounds_loaded_total",
			Help:      "Rounds load attempts by result.",
		}, []string{"result"}),
		answers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "game",
			Name:      "answers_total",
			Help:      "Checked answers by correctness.",
		}, []string{"correct"}),
		persistFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "game",
			Name:      "score_persist_failures_total",
			Help:      "Remote score writes that failed.",
		}),
		activePlayers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "player",
			Name:      "active",
			Help:      "Players currently held in memory.",
		}),
		wsConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "player",
			Name:      "websocket_connections",
			Help:      "Open view websocket connections.",
		}),
		gatewayLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "call_duration_seconds",
			Help:      "Latency of calls to the hosted backend by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		gatewayErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "call_errors_total",
			Help:      "Failed calls to the hosted backend by operation.",
		}, []string{"operation"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) RoundLoaded(ok bool) {
	if r == nil {
		return
	}
	result := ResultOK
	if !ok {
		result = ResultFailed
	}
	r.roundsLoaded.WithLabelValues(result).Inc()
}

func (r *Recorder) AnswerChecked(correct bool) {
	if r == nil {
		return
	}
	label := "false"
	if correct {
		label = "true"
	}
	r.answers.WithLabelValues(label).Inc()
}

func (r *Recorder) ScorePersistFailed() {
	if r == nil {
		return
	}
	r.persistFailures.Inc()
}

func (r *Recorder) PlayerAdded() {
	if r == nil {
		return
	}
	r.activePlayers.Inc()
}

func (r *Recorder) PlayerRemoved() {
	if r == nil {
		return
	}
	r.activePlayers.Dec()
}

func (r *Recorder) ConnectionOpened() {
	if r == nil {
		return
	}
	r.wsConnections.Inc()
}

func (r *Recorder) ConnectionClosed() {
	if r == nil {
		return
	}
	r.wsConnections.Dec()
}

// ObserveGateway records the latency of one backend call started at start.
func (r *Recorder) ObserveGateway(operation string, start time.Time, err error) {
	if r == nil {
		return
	}
	r.gatewayLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		r.gatewayErrors.WithLabelValues(operation).Inc()
	}
}
