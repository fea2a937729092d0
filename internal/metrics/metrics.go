package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	recognizeReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "liveocr",
			Name:      "recognize_requests_total",
			Help:      "Recognition attempts by provider, model and result",
		},
		[]string{"provider", "model", "result"},
	)

	recognizeLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "liveocr",
			Name:      "recognize_request_duration_seconds",
			Help:      "Duration of recognition attempts by provider and model",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "model"},
	)

	retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "liveocr",
			Name:      "retries_total",
			Help:      "In-call retries after transient provider errors",
		},
		[]string{"model"},
	)

	gateTrips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "liveocr",
			Name:      "rate_gate_trips_total",
			Help:      "Rate gate trips by error kind",
		},
		[]string{"kind"},
	)

	cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "liveocr",
			Name:      "cycles_total",
			Help:      "Capture cycles by schedule mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	cycleLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "liveocr",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of the recognize step of a capture cycle",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	skippedTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "liveocr",
			Name:      "skipped_ticks_total",
			Help:      "Interval ticks that did not start a cycle, by reason",
		},
		[]string{"reason"},
	)

	inFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "liveocr",
			Name:      "cycles_in_flight",
			Help:      "Capture cycles currently running",
		},
	)

	consecutiveErrors = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "liveocr",
			Name:      "consecutive_errors",
			Help:      "Current consecutive failed cycles",
		},
	)

	tokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "liveocr",
			Name:      "tokens_total",
			Help:      "Tokens reported by the provider, by direction",
		},
		[]string{"direction"},
	)

	published = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "liveocr",
			Name:      "reports_published_total",
			Help:      "Reports published by sink, kind and result",
		},
		[]string{"sink", "kind", "result"},
	)
)

// Init registers collectors.
func Init() {
	prometheus.MustRegister(recognizeReqs, recognizeLatency, retriesTotal, gateTrips, cycles, cycleLatency,
		skippedTicks, inFlight, consecutiveErrors, tokens, published)
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func ObserveRecognize(provider, model, result string, dur time.Duration) {
	recognizeReqs.WithLabelValues(provider, model, result).Inc()
	recognizeLatency.WithLabelValues(provider, model).Observe(dur.Seconds())
}

func IncRetry(model string)    { retriesTotal.WithLabelValues(model).Inc() }
func GateTripped(kind string)  { gateTrips.WithLabelValues(kind).Inc() }
func IncSkipped(reason string) { skippedTicks.WithLabelValues(reason).Inc() }

func ObserveCycle(mode, outcome string, dur time.Duration) {
	cycles.WithLabelValues(mode, outcome).Inc()
	if dur > 0 {
		cycleLatency.WithLabelValues(mode).Observe(dur.Seconds())
	}
}

func CycleStarted()              { inFlight.Inc() }
func CycleFinished()             { inFlight.Dec() }
func SetConsecutiveErrors(n int) { consecutiveErrors.Set(float64(n)) }

func IncPublished(sink, kind string, ok bool) {
	published.WithLabelValues(sink, kind, boolToResult(ok)).Inc()
}

func AddTokens(in, out int) {
	if in > 0 {
		tokens.WithLabelValues("input").Add(float64(in))
	}
	if out > 0 {
		tokens.WithLabelValues("output").Add(float64(out))
	}
}

func boolToResult(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
