// Package alert fans operational events out to configured sinks, with a
// per-(type, network) cooldown so a flapping endpoint doesn't page on every
// sweep.
package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chainpay-io/chainpay/logger"
	"github.com/chainpay-io/chainpay/metrics"
	"github.com/chainpay-io/chainpay/types"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event types raised by the engine.
const (
	TypeAdapterDown     = "adapter_down"
	TypeEndpointStalled = "endpoint_stalled"
	TypeHighGasPrice    = "high_gas_price"
	TypeLowBalance      = "low_balance"
	TypeActivationError = "activation_error"
)

type Event struct {
	Type     string
	Network  types.Network
	Severity Severity
	Message  string
	Fields   map[string]any
	At       time.Time
}

// Sink delivers an event somewhere. Delivery errors are logged, never
// propagated; a broken pager must not break the sweep.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

// LogSink writes events through the structured logger.
type LogSink struct {
	Log logger.Logger
}

func (s LogSink) Send(_ context.Context, ev Event) error {
	fields := map[string]any{
		"type":     ev.Type,
		"network":  ev.Network,
		"severity": ev.Severity,
	}
	for k, v := range ev.Fields {
		fields[k] = v
	}
	switch ev.Severity {
	case SeverityCritical:
		s.Log.Error(ev.Message, fields)
	case SeverityWarning:
		s.Log.Warn(ev.Message, fields)
	default:
		s.Log.Info(ev.Message, fields)
	}
	return nil
}

// Dispatcher multiplexes events to sinks, suppressing repeats of the same
// (type, network) pair inside the cooldown window.
type Dispatcher struct {
	sinks    []Sink
	cooldown time.Duration
	log      logger.Logger
	rec      metrics.Recorder

	mu       sync.Mutex
	lastSent map[string]time.Time

	now func() time.Time
}

func NewDispatcher(cooldown time.Duration, log logger.Logger, rec metrics.Recorder, sinks ...Sink) *Dispatcher {
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Dispatcher{
		sinks:    sinks,
		cooldown: cooldown,
		log:      log,
		rec:      rec,
		lastSent: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Dispatch sends the event to every sink unless the same event fired within
// the cooldown window. Returns whether the event was delivered.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) bool {
	key := fmt.Sprintf("%s/%s", ev.Type, ev.Network)

	d.mu.Lock()
	last, seen := d.lastSent[key]
	now := d.now()
	if seen && now.Sub(last) < d.cooldown {
		d.mu.Unlock()
		return false
	}
	d.lastSent[key] = now
	d.mu.Unlock()

	if ev.At.IsZero() {
		ev.At = now
	}
	for _, sink := range d.sinks {
		if err := sink.Send(ctx, ev); err != nil {
			d.log.Error("alert sink failed", map[string]any{
				"type":  ev.Type,
				"error": err.Error(),
			})
		}
	}
	d.rec.IncCounter(metrics.CounterAlertsSent, map[string]string{"type": ev.Type})
	return true
}

// Reset clears the cooldown for a (type, network) pair, used when the
// underlying condition recovers.
func (d *Dispatcher) Reset(eventType string, network types.Network) {
	d.mu.Lock()
	delete(d.lastSent, fmt.Sprintf("%s/%s", eventType, network))
	d.mu.Unlock()
}
