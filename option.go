package chainpay

import (
	"github.com/chainpay-io/chainpay/alert"
	"github.com/chainpay-io/chainpay/logger"
	"github.com/chainpay-io/chainpay/metrics"
	"github.com/chainpay-io/chainpay/scheduler"
)

type Option func(*Engine)

func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(e *Engine) {
		e.rec = r
	}
}

// WithActivator wires the hook invoked after an intent completes.
func WithActivator(a scheduler.Activator) Option {
	return func(e *Engine) {
		e.activator = a
	}
}

// WithAlertSinks replaces the default log sink.
func WithAlertSinks(sinks ...alert.Sink) Option {
	return func(e *Engine) {
		e.sinks = sinks
	}
}
