package observers

import (
	"net/http"

	"github.com/harunnryd/callbridge/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "callbridge"

// PrometheusObserver turns call events into Prometheus series on its own
// registry.
type PrometheusObserver struct {
	registry *prometheus.Registry

	callsActive   prometheus.Gauge
	callsTotal    *prometheus.CounterVec
	utterances    *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	turnFailures  *prometheus.CounterVec
	turnsEmpty    prometheus.Counter
	playbacks     *prometheus.CounterVec
	rateLimits    *prometheus.CounterVec
	breakerDenied *prometheus.CounterVec
	breakerState  *prometheus.GaugeVec
	dtmf          prometheus.Counter
}

func NewPrometheusObserver() *PrometheusObserver {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &PrometheusObserver{
		registry: reg,
		callsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Number of calls currently connected",
		}),
		callsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Total number of finished calls by close reason",
		}, []string{"reason"}),
		utterances: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_total",
			Help:      "Utterances handed to the pipeline by trigger",
		}, []string{"trigger"}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of collaborator calls in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 4, 8, 16},
		}, []string{"stage", "provider", "outcome"}),
		turnFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_failures_total",
			Help:      "Turns that fell back to the apology by reason code",
		}, []string{"reason"}),
		turnsEmpty: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_empty_total",
			Help:      "Utterances whose transcription came back empty",
		}),
		playbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playbacks_total",
			Help:      "Outbound playbacks by kind and outcome",
		}, []string{"kind", "outcome"}),
		rateLimits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_rate_limits_total",
			Help:      "Rate limit responses by provider",
		}, []string{"provider"}),
		breakerDenied: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_denied_total",
			Help:      "Requests refused by an open circuit breaker",
		}, []string{"provider"}),
		breakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Circuit breaker state per provider (0 closed, 1 open, 2 half open)",
		}, []string{"provider"}),
		dtmf: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dtmf_total",
			Help:      "DTMF digits received",
		}),
	}
}

func (o *PrometheusObserver) Registry() *prometheus.Registry { return o.registry }

// Handler serves the registry in the Prometheus exposition format.
func (o *PrometheusObserver) Handler() http.Handler {
	return promhttp.HandlerFor(o.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (o *PrometheusObserver) RecordEvent(ev metrics.MetricsEvent) {
	switch ev.Name {
	case metrics.EventCallStarted:
		o.callsActive.Inc()
	case metrics.EventCallEnded:
		o.callsActive.Dec()
		o.callsTotal.WithLabelValues(ev.Tag(metrics.TagReason)).Inc()
	case metrics.EventUtterance:
		o.utterances.WithLabelValues(ev.Tag(metrics.TagKind)).Inc()
	case metrics.EventTranscription:
		o.observeStage("stt", ev)
	case metrics.EventResponse:
		o.observeStage("llm", ev)
	case metrics.EventSynthesis:
		o.observeStage("tts", ev)
	case metrics.EventTurnFailed:
		o.turnFailures.WithLabelValues(ev.Tag(metrics.TagReason)).Inc()
	case metrics.EventTurnEmpty:
		o.turnsEmpty.Inc()
	case metrics.EventPlayback:
		o.playbacks.WithLabelValues(ev.Tag(metrics.TagKind), ev.Tag(metrics.TagOutcome)).Inc()
	case metrics.EventRateLimit:
		o.rateLimits.WithLabelValues(ev.Tag(metrics.TagProvider)).Inc()
	case metrics.EventBreakerDenied:
		o.breakerDenied.WithLabelValues(ev.Tag(metrics.TagProvider)).Inc()
	case metrics.EventBreakerState:
		o.breakerState.WithLabelValues(ev.Tag(metrics.TagProvider)).Set(ev.Value)
	case metrics.EventDTMF:
		o.dtmf.Inc()
	}
}

// observeStage records a stage latency; Value is in milliseconds.
func (o *PrometheusObserver) observeStage(stage string, ev metrics.MetricsEvent) {
	outcome := ev.Tag(metrics.TagOutcome)
	if outcome == "" {
		outcome = "ok"
	}
	o.stageDuration.WithLabelValues(stage, ev.Tag(metrics.TagProvider), outcome).Observe(ev.Value / 1000)
}
