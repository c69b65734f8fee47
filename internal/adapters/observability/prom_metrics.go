package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ghalamif/SigFlow/internal/ports"
)

// PromObs implements ports.Observability with Prometheus collectors and a
// zap logger. Unknown metric names are ignored.
type PromObs struct {
	log      *zap.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

func NewPromObs(log *zap.Logger) *PromObs {
	if log == nil {
		log = zap.NewNop()
	}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	}
	counters := map[string]prometheus.Counter{
		"sigflow_packets_total":            counter("sigflow_packets_total", "Packets delivered by acquisitions."),
		"sigflow_samples_total":            counter("sigflow_samples_total", "Samples appended to snapshots."),
		"sigflow_samples_rejected_total":   counter("sigflow_samples_rejected_total", "Samples rejected because a snapshot was full."),
		"sigflow_truncated_captures_total": counter("sigflow_truncated_captures_total", "Captures that ended without an END packet."),
		"sigflow_annotations_total":        counter("sigflow_annotations_total", "Annotations produced by completed decode passes."),
		"sigflow_decode_errors_total":      counter("sigflow_decode_errors_total", "Decode passes that failed."),
		"sigflow_annotations_exported_total": counter("sigflow_annotations_exported_total",
			"Annotations written to the export sink."),
		"sigflow_queue_dropped_total": counter("sigflow_queue_dropped_total",
			"Annotations lost due to queue backpressure policies."),
	}
	gauges := map[string]prometheus.Gauge{
		"sigflow_capture_state": prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sigflow_capture_state",
			Help: "Capture state: 0 stopped, 1 awaiting trigger, 2 running.",
		}),
		"sigflow_queue_length": prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sigflow_queue_length",
			Help: "Annotations buffered for export.",
		}),
		"sigflow_store_progress_samples": prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sigflow_store_progress_samples",
			Help: "Samples written by the running store session.",
		}),
	}
	decodeLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sigflow_decode_pass_seconds",
		Help:    "Duration of completed decode passes.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})
	exportLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sigflow_export_sink_latency_seconds",
		Help:    "Latency of annotation batch writes to the sink.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	collectors := []prometheus.Collector{decodeLatency, exportLatency}
	for _, c := range counters {
		collectors = append(collectors, c)
	}
	for _, g := range gauges {
		collectors = append(collectors, g)
	}
	prometheus.MustRegister(collectors...)

	return &PromObs{
		log:      log,
		counters: counters,
		gauges:   gauges,
		histos: map[string]prometheus.Observer{
			"sigflow_decode_pass_seconds":         decodeLatency,
			"sigflow_export_sink_latency_seconds": exportLatency,
		},
	}
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.log.Info(msg, zapFields(fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, append(zapFields(fields), zap.Error(err))...)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, append(zapFields(fields), zap.Error(err), zap.Bool("critical", true))...)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) Sync() error { return p.log.Sync() }

func zapFields(fields []ports.Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields)+2)
	for _, f := range fields {
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}

var _ ports.Observability = (*PromObs)(nil)
