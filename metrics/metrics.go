// Package metrics defines the recorder seam for operational counters and
// latencies. The engine records through the interface so tests and embedders
// without a metrics pipeline pay nothing.
package metrics

import "time"

// Counter names used across the engine.
const (
	CounterIntentsCreated   = "intents_created"
	CounterIntentsCompleted = "intents_completed"
	CounterIntentsExpired   = "intents_expired"
	CounterSweeps           = "sweeps"
	CounterAdapterErrors    = "adapter_errors"
	CounterFallbacksUsed    = "fallbacks_used"
	CounterAlertsSent       = "alerts_sent"
)

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}
