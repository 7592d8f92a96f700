package heifcoder

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	opDecode = "decode"
	opEncode = "encode"
)

// Metrics are the prometheus collectors of a Coder.
type Metrics struct {
	ops    *prometheus.CounterVec
	frames *prometheus.HistogramVec
	bytes  *prometheus.HistogramVec
}

// NewMetrics creates the coder collectors and registers them on reg.
// Collectors already registered by another Metrics are shared.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "heifcoder",
			Name:      "operations_total",
			Help:      "Decode and encode calls by outcome.",
		}, []string{"op", "outcome"}),
		frames: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "heifcoder",
			Name:      "frames",
			Help:      "Frames per successful call.",
			Buckets:   []float64{1, 2, 5, 10, 30, 60, 120},
		}, []string{"op"}),
		bytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "heifcoder",
			Name:      "container_bytes",
			Help:      "Container size read or written per successful call.",
			Buckets:   prometheus.ExponentialBuckets(1<<10, 4, 8),
		}, []string{"op"}),
	}

	var err error
	if m.ops, err = register(reg, m.ops); err != nil {
		return nil, err
	}
	if m.frames, err = register(reg, m.frames); err != nil {
		return nil, err
	}
	if m.bytes, err = register(reg, m.bytes); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// observe records one call. A nil *Metrics records nothing.
func (m *Metrics) observe(op string, frames, size int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.ops.WithLabelValues(op, reasonOf(err).String()).Inc()
		return
	}
	m.ops.WithLabelValues(op, "ok").Inc()
	m.frames.WithLabelValues(op).Observe(float64(frames))
	m.bytes.WithLabelValues(op).Observe(float64(size))
}
