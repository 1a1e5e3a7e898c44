// Package chainpay implements multi-chain payment intent reconciliation:
// intents are minted against configured networks (EVM chains, Hedera,
// Cosmos), periodic sweeps pull candidate transactions from public chain
// APIs, and a deterministic matching engine decides which on-chain transfer
// settles which intent.
package chainpay

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/chainpay-io/chainpay/alert"
	"github.com/chainpay-io/chainpay/clients"
	"github.com/chainpay-io/chainpay/config"
	"github.com/chainpay-io/chainpay/health"
	"github.com/chainpay-io/chainpay/logger"
	"github.com/chainpay-io/chainpay/matching"
	"github.com/chainpay-io/chainpay/metrics"
	"github.com/chainpay-io/chainpay/registry"
	"github.com/chainpay-io/chainpay/scheduler"
	"github.com/chainpay-io/chainpay/types"
)

// Engine is the top-level entry point. It wires the configuration service,
// per-network adapters, the intent registry, the reconciliation scheduler
// and the health monitor.
type Engine struct {
	cfg       *config.Config
	service   *config.Service
	registry  *registry.Registry
	scheduler *scheduler.Scheduler
	monitor   *health.Monitor
	alerts    *alert.Dispatcher
	adapters  map[types.Network]clients.Adapter

	log logger.Logger
	rec metrics.Recorder

	activator scheduler.Activator
	sinks     []alert.Sink
}

// New builds an Engine from a loaded configuration. Misconfigured enabled
// networks fail here, not at sweep time.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg: cfg,
		log: logger.NewZapLogger(cfg.LogLevel),
		rec: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(e)
	}

	service, err := config.NewService(cfg, e.log)
	if err != nil {
		return nil, err
	}
	e.service = service

	sinks := e.sinks
	if len(sinks) == 0 {
		sinks = []alert.Sink{alert.LogSink{Log: e.log}}
	}
	e.alerts = alert.NewDispatcher(cfg.AlertCooldown, e.log, e.rec, sinks...)

	e.adapters = make(map[types.Network]clients.Adapter)
	for _, network := range service.EnabledNetworks() {
		nc, err := service.Network(network)
		if err != nil {
			return nil, err
		}
		adapter, err := e.buildAdapter(network, nc)
		if err != nil {
			return nil, fmt.Errorf("building %s adapter: %w", network, err)
		}
		e.adapters[network] = adapter
	}

	store := registry.NewMemoryStore()
	e.registry = registry.New(store, service, cfg.IntentTTL, e.log, e.rec)

	e.scheduler = scheduler.New(e.registry, service, e.adapters, cfg.SweepInterval, e.log, e.rec)
	e.scheduler.SetAlerts(e.alerts)
	if e.activator != nil {
		e.scheduler.SetActivator(e.activator)
	}

	e.monitor = health.NewMonitor(service, cfg.ProbeTimeout, e.log, e.alerts)
	return e, nil
}

func (e *Engine) buildAdapter(network types.Network, nc types.NetworkConfig) (clients.Adapter, error) {
	switch network.Family() {
	case types.ChainEVM:
		return clients.NewEVMAdapter(nc, e.log, e.rec)
	case types.ChainCosmos:
		return clients.NewCosmosAdapter(nc, e.log, e.rec)
	case types.ChainHedera:
		return clients.NewHederaAdapter(nc, e.log, e.rec)
	default:
		return nil, &types.Error{
			Code:    types.ErrUnsupportedNetwork,
			Message: fmt.Sprintf("unsupported network: %s", network),
		}
	}
}

// CreateIntent mints a pending payment intent for the given network, plan
// and currency. The returned details carry wallet deep links and the QR
// payload for checkout rendering.
func (e *Engine) CreateIntent(ctx context.Context, network types.Network, plan, currency string, amount decimal.Decimal) (registry.IntentDetails, error) {
	intent, err := e.registry.Create(ctx, network, plan, currency, amount)
	if err != nil {
		return registry.IntentDetails{}, err
	}
	return e.registry.Details(intent)
}

// Intent looks up an intent by reference.
func (e *Engine) Intent(ctx context.Context, reference string) (types.PaymentIntent, error) {
	return e.registry.Get(ctx, reference)
}

// VerifyNow checks one intent against the chain immediately, outside the
// sweep cadence. Used by "I have paid" buttons.
func (e *Engine) VerifyNow(ctx context.Context, reference string) (matching.Result, error) {
	return e.scheduler.VerifyNow(ctx, reference)
}

// Sweep runs a single reconciliation pass synchronously.
func (e *Engine) Sweep(ctx context.Context) error {
	return e.scheduler.Sweep(ctx)
}

// Start launches the periodic reconciliation loop.
func (e *Engine) Start() error {
	return e.scheduler.Start()
}

// Stop halts the loop, waiting for an in-flight sweep.
func (e *Engine) Stop() {
	e.scheduler.Stop()
}

// Health checks every enabled network.
func (e *Engine) Health(ctx context.Context) map[types.Network]health.NetworkHealth {
	return e.monitor.CheckAll(ctx)
}

// Networks returns the enabled networks.
func (e *Engine) Networks() []types.Network {
	return e.service.EnabledNetworks()
}

// Close releases adapter resources.
func (e *Engine) Close() {
	for _, adapter := range e.adapters {
		if closer, ok := adapter.(interface{ Close() }); ok {
			closer.Close()
		}
	}
}
