package heifcoder

import "github.com/rs/zerolog"

type options struct {
	engine  Engine
	log     zerolog.Logger
	metrics *Metrics
}

// Option configures a Coder.
type Option func(*options)

// WithEngine replaces the build's default engine.
func WithEngine(e Engine) Option {
	return func(o *options) {
		if e != nil {
			o.engine = e
		}
	}
}

// WithLogger sets the logger for debug events. The default discards them.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics records calls on m, see NewMetrics.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}
