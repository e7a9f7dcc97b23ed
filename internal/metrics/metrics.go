// Package metrics exposes Prometheus collectors for the lip-sync service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/normanking/lipsync/internal/bus"
)

const namespace = "lipsync"

// Metrics holds the service collectors.
type Metrics struct {
	RequestCount       *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	Derivations        *prometheus.CounterVec
	DerivationFailures *prometheus.CounterVec
	WordsPerDerivation *prometheus.HistogramVec
	Segmentations      *prometheus.CounterVec
	VisemesPerText     prometheus.Histogram
	TranscriberCalls   *prometheus.CounterVec
	SpeechRequests     prometheus.Counter
	ActiveSockets      prometheus.Gauge
	ConfigReloads      prometheus.Counter
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestCount: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		Derivations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "timing_derivations_total",
				Help:      "Word timing derivations by algorithm",
			},
			[]string{"algorithm"},
		),
		DerivationFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "timing_failures_total",
				Help:      "Failed word timing derivations by algorithm",
			},
			[]string{"algorithm"},
		),
		WordsPerDerivation: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "timing_words",
				Help:      "Words per derived timeline",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
			[]string{"algorithm"},
		),
		Segmentations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "viseme_segmentations_total",
				Help:      "Viseme segmentations by language and whether the fallback table was used",
			},
			[]string{"language", "fallback"},
		),
		VisemesPerText: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "visemes_per_text",
				Help:      "Visemes produced per segmented text",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			},
		),
		TranscriberCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transcriber_calls_total",
				Help:      "Word-level transcription calls by result",
			},
			[]string{"result"},
		),
		SpeechRequests: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "speech_requests_total",
				Help:      "Timestamped speech syntheses",
			},
		),
		ActiveSockets: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_websockets",
				Help:      "Number of open WebSocket connections",
			},
		),
		ConfigReloads: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Configuration hot reloads",
			},
		),
	}
}

// Subscribe updates the domain counters from bus events.
func (m *Metrics) Subscribe(b *bus.EventBus) {
	b.Subscribe(bus.EventTypeTimingDerived, func(e bus.Event) {
		algo := str(e.Data, "algorithm")
		m.Derivations.WithLabelValues(algo).Inc()
		m.WordsPerDerivation.WithLabelValues(algo).Observe(float64(num(e.Data, "words")))
	})
	b.Subscribe(bus.EventTypeTimingFailed, func(e bus.Event) {
		m.DerivationFailures.WithLabelValues(str(e.Data, "algorithm")).Inc()
	})
	b.Subscribe(bus.EventTypeVisemesSegmented, func(e bus.Event) {
		fallback := "false"
		if v, _ := e.Data["fallback"].(bool); v {
			fallback = "true"
		}
		m.Segmentations.WithLabelValues(str(e.Data, "language"), fallback).Inc()
		m.VisemesPerText.Observe(float64(num(e.Data, "visemes")))
	})
	b.SubscribeMultiple([]bus.EventType{bus.EventTypeTranscribed, bus.EventTypeTranscribeFailed}, func(e bus.Event) {
		result := "ok"
		if e.Type == bus.EventTypeTranscribeFailed {
			result = "error"
		}
		m.TranscriberCalls.WithLabelValues(result).Inc()
	})
	b.Subscribe(bus.EventTypeSpeechSynthesized, func(bus.Event) {
		m.SpeechRequests.Inc()
	})
	b.Subscribe(bus.EventTypeConfigReloaded, func(bus.Event) {
		m.ConfigReloads.Inc()
	})
}

func str(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

func num(data map[string]any, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
