package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	messagesSent *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
	lastPrice    *prometheus.GaugeVec
	latency      *prometheus.HistogramVec

	bars        *prometheus.CounterVec
	swings      *prometheus.CounterVec
	trendState  *prometheus.GaugeVec
	sequence    *prometheus.GaugeVec
	compression *prometheus.GaugeVec
	recommended *prometheus.GaugeVec
}

// New creates a new Prometheus metrics recorder on the default registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the collectors on reg. Tests pass a fresh prometheus.NewRegistry().
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		messagesSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swingpull_messages_sent_total",
				Help: "Total number of messages sent to backend",
			},
			[]string{"backend", "symbol"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swingpull_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "swingpull_last_price",
				Help: "Last recorded price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "swingpull_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		bars: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swingpull_bars_processed_total",
				Help: "Bars run through the structure engine",
			},
			[]string{"symbol", "tf"},
		),
		swings: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swingpull_swings_labeled_total",
				Help: "Swing points labeled, by label",
			},
			[]string{"symbol", "tf", "label"},
		),
		trendState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "swingpull_trend_state",
				Help: "1 for the current trend classification of a stream, 0 otherwise",
			},
			[]string{"symbol", "tf", "state"},
		),
		sequence: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "swingpull_trend_sequence_count",
				Help: "Consecutive bars in the same trending sequence",
			},
			[]string{"symbol", "tf"},
		),
		compression: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "swingpull_compression_active",
				Help: "1 while the stream is compressed",
			},
			[]string{"symbol", "tf"},
		),
		recommended: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "swingpull_profile_recommended",
				Help: "1 when the risk profile is recommended",
			},
			[]string{"symbol", "tf", "profile"},
		),
	}
}

// RecordMessageSent records a message sent to a backend.
func (r *Recorder) RecordMessageSent(backend, symbol string) {
	r.messagesSent.WithLabelValues(backend, symbol).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) RecordBar(symbol, tf string) {
	r.bars.WithLabelValues(symbol, tf).Inc()
}

func (r *Recorder) RecordSwing(symbol, tf, label string) {
	r.swings.WithLabelValues(symbol, tf, label).Inc()
}

// RecordTrend flips the state gauge so exactly one state of the stream reads 1.
func (r *Recorder) RecordTrend(symbol, tf, current string, sequence int) {
	for _, s := range trendStates {
		v := 0.0
		if s == current {
			v = 1
		}
		r.trendState.WithLabelValues(symbol, tf, s).Set(v)
	}
	r.sequence.WithLabelValues(symbol, tf).Set(float64(sequence))
}

func (r *Recorder) RecordCompression(symbol, tf string, active bool) {
	r.compression.WithLabelValues(symbol, tf).Set(boolGauge(active))
}

func (r *Recorder) RecordRecommended(symbol, tf, profile string, recommended bool) {
	r.recommended.WithLabelValues(symbol, tf, profile).Set(boolGauge(recommended))
}

var trendStates = []string{
	"sideways", "weak_bull", "weak_bear", "trending_bull", "trending_bear",
	"strongly_bull", "strongly_bear", "compressed",
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
