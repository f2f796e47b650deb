package registry

import (
	stderrors "errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	sberrors "github.com/aegisedge/wasm-sandbox/errors"
)

// Metrics holds the registry's prometheus collectors.
type Metrics struct {
	executions *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	loaded     prometheus.Gauge
}

// NewMetrics builds the collectors and registers them when reg is
// non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wasm_sandbox",
			Name:      "executions_total",
			Help:      "Module executions by class and outcome.",
		}, []string{"class", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "wasm_sandbox",
			Name:      "execution_duration_seconds",
			Help:      "Wall time of module executions.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
		}, []string{"class"}),
		loaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wasm_sandbox",
			Name:      "loaded_modules",
			Help:      "Modules currently published in the registry.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.executions, m.duration, m.loaded)
	}
	return m
}

func (m *Metrics) observe(class string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(class).Observe(d.Seconds())
	m.executions.WithLabelValues(class, outcomeLabel(err)).Inc()
}

func (m *Metrics) setLoaded(n int) {
	if m == nil {
		return
	}
	m.loaded.Set(float64(n))
}

func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var serr *sberrors.Error
	if stderrors.As(err, &serr) {
		return string(serr.Kind)
	}
	return "internal"
}
