// Package scheduler runs the periodic reconciliation sweep: expire stale
// intents, pull candidate transactions per network, match them against
// pending intents and complete the winners. Sweeps never overlap; a slow
// sweep causes the next tick to be skipped, not queued.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/chainpay-io/chainpay/alert"
	"github.com/chainpay-io/chainpay/clients"
	"github.com/chainpay-io/chainpay/logger"
	"github.com/chainpay-io/chainpay/matching"
	"github.com/chainpay-io/chainpay/metrics"
	"github.com/chainpay-io/chainpay/registry"
	"github.com/chainpay-io/chainpay/types"
)

// Activator is invoked after an intent completes, typically to activate the
// purchased plan. Activation failures never reverse a completed intent; the
// completion is the source of truth and activation is retried out of band.
type Activator interface {
	Activate(ctx context.Context, plan, network, reference string) error
}

// ActivatorFunc adapts a function to the Activator interface.
type ActivatorFunc func(ctx context.Context, plan, network, reference string) error

func (f ActivatorFunc) Activate(ctx context.Context, plan, network, reference string) error {
	return f(ctx, plan, network, reference)
}

// NetworkResolver supplies per-network configuration for matching rules.
type NetworkResolver interface {
	Network(n types.Network) (types.NetworkConfig, error)
}

// Scheduler owns the sweep loop.
type Scheduler struct {
	registry  *registry.Registry
	networks  NetworkResolver
	adapters  map[types.Network]clients.Adapter
	activator Activator
	alerts    *alert.Dispatcher
	log       logger.Logger
	rec       metrics.Recorder

	interval time.Duration
	cron     *cron.Cron

	now func() time.Time
}

func New(reg *registry.Registry, networks NetworkResolver, adapters map[types.Network]clients.Adapter, interval time.Duration, log logger.Logger, rec metrics.Recorder) *Scheduler {
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Scheduler{
		registry: reg,
		networks: networks,
		adapters: adapters,
		log:      log,
		rec:      rec,
		interval: interval,
		now:      time.Now,
	}
}

// SetActivator wires the post-completion hook. Optional; without one,
// completion is still recorded.
func (s *Scheduler) SetActivator(a Activator) { s.activator = a }

// SetAlerts wires the alert dispatcher. Optional.
func (s *Scheduler) SetAlerts(d *alert.Dispatcher) { s.alerts = d }

// Start begins the periodic sweep. The SkipIfStillRunning chain guarantees
// two sweeps never run concurrently.
func (s *Scheduler) Start() error {
	if s.cron != nil {
		return nil
	}
	cl := cronLogger{log: s.log}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cl)))
	_, err := c.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.interval*2)
		defer cancel()
		if err := s.Sweep(ctx); err != nil {
			s.log.Error("sweep failed", map[string]any{"error": err.Error()})
		}
	})
	if err != nil {
		return types.NewConfigError("invalid sweep interval %s: %v", s.interval, err)
	}
	c.Start()
	s.cron = c
	s.log.Info("scheduler started", map[string]any{"interval": s.interval.String()})
	return nil
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	s.log.Info("scheduler stopped", nil)
}

// Sweep runs one reconciliation pass. Per-network work runs concurrently;
// a failing network is logged and skipped, never aborting the sweep.
func (s *Scheduler) Sweep(ctx context.Context) error {
	started := time.Now()
	defer func() {
		s.rec.IncCounter(metrics.CounterSweeps, nil)
		s.rec.ObserveLatency("sweep_duration", time.Since(started), nil)
	}()

	if _, err := s.registry.ExpireStale(ctx); err != nil {
		return fmt.Errorf("expiring stale intents: %w", err)
	}

	pending, err := s.registry.Pending(ctx)
	if err != nil {
		return fmt.Errorf("listing pending intents: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	byNetwork := make(map[types.Network][]types.PaymentIntent)
	for _, intent := range pending {
		byNetwork[intent.Network] = append(byNetwork[intent.Network], intent)
	}

	g, gctx := errgroup.WithContext(ctx)
	for network, intents := range byNetwork {
		network, intents := network, intents
		g.Go(func() error {
			s.sweepNetwork(gctx, network, intents)
			return nil
		})
	}
	return g.Wait()
}

// sweepNetwork matches one network's pending intents against its candidate
// transactions. One FindCandidates call serves every intent sharing the same
// (recipient, token) pair, and a transaction hash is consumed by at most one
// intent per sweep.
func (s *Scheduler) sweepNetwork(ctx context.Context, network types.Network, intents []types.PaymentIntent) {
	adapter, ok := s.adapters[network]
	if !ok {
		s.log.Warn("no adapter for network, skipping", map[string]any{"network": network})
		return
	}
	nc, err := s.networks.Network(network)
	if err != nil {
		s.log.Error("network config unavailable", map[string]any{"network": network, "error": err.Error()})
		return
	}

	type group struct {
		intents []types.PaymentIntent
		since   time.Time
	}
	groups := make(map[string]*group)
	for _, intent := range intents {
		key := intent.RecipientAddress + "|" + intent.TokenID
		gr, ok := groups[key]
		if !ok {
			gr = &group{since: intent.CreatedAt}
			groups[key] = gr
		}
		if intent.CreatedAt.Before(gr.since) {
			gr.since = intent.CreatedAt
		}
		gr.intents = append(gr.intents, intent)
	}

	usedTx := make(map[string]bool)
	for _, gr := range groups {
		first := gr.intents[0]
		candidates, err := adapter.FindCandidates(ctx, first.RecipientAddress, first.TokenID, gr.since)
		if err != nil {
			s.log.Warn("candidate lookup failed, retrying next sweep", map[string]any{
				"network": network,
				"error":   err.Error(),
			})
			if types.IsCode(err, types.ErrAdapterUnavailable) {
				// Drop the cached network config so the next lookup
				// re-probes endpoints.
				if inv, ok := s.networks.(interface{ Invalidate(types.Network) }); ok {
					inv.Invalidate(network)
				}
				if s.alerts != nil {
					s.alerts.Dispatch(ctx, alert.Event{
						Type:     alert.TypeAdapterDown,
						Network:  network,
						Severity: alert.SeverityWarning,
						Message:  "candidate lookup failed",
						Fields:   map[string]any{"error": err.Error()},
					})
				}
			}
			continue
		}
		for _, intent := range gr.intents {
			s.matchIntent(ctx, nc, intent, candidates, usedTx)
		}
	}
}

func (s *Scheduler) matchIntent(ctx context.Context, nc types.NetworkConfig, intent types.PaymentIntent, candidates []types.CandidateTransaction, usedTx map[string]bool) {
	rules, err := s.rulesFor(nc, intent)
	if err != nil {
		s.log.Error("cannot derive matching rules", map[string]any{
			"reference": intent.Reference,
			"error":     err.Error(),
		})
		return
	}

	for i := range candidates {
		cand := &candidates[i]
		if usedTx[cand.Hash] {
			continue
		}
		result := matching.Match(&intent, cand, rules)
		switch result.Outcome {
		case matching.OutcomeMatched:
			usedTx[cand.Hash] = true
			// A hash consumed in an earlier sweep cannot settle this
			// intent; keep scanning.
			if err := s.complete(ctx, intent, cand.Hash); types.IsCode(err, types.ErrTxAlreadyMatched) {
				continue
			}
			return
		case matching.OutcomePending:
			s.log.Debug("candidate pending", map[string]any{
				"reference": intent.Reference,
				"tx_hash":   cand.Hash,
				"reason":    result.Reason,
			})
		}
	}
}

func (s *Scheduler) complete(ctx context.Context, intent types.PaymentIntent, txHash string) error {
	completed, err := s.registry.Complete(ctx, intent.Reference, txHash)
	if err != nil {
		// A racing completion already won; nothing to do.
		if types.IsCode(err, types.ErrInvalidTransition) {
			return nil
		}
		if types.IsCode(err, types.ErrTxAlreadyMatched) {
			s.log.Debug("transaction already consumed", map[string]any{
				"reference": intent.Reference,
				"tx_hash":   txHash,
			})
			return err
		}
		s.log.Error("completing intent failed", map[string]any{
			"reference": intent.Reference,
			"error":     err.Error(),
		})
		return nil
	}

	if s.activator == nil {
		return nil
	}
	if err := s.activator.Activate(ctx, completed.Plan, completed.Network.String(), completed.Reference); err != nil {
		s.log.Error("activation failed after completion", map[string]any{
			"reference": completed.Reference,
			"plan":      completed.Plan,
			"error":     err.Error(),
		})
		if s.alerts != nil {
			s.alerts.Dispatch(ctx, alert.Event{
				Type:     alert.TypeActivationError,
				Network:  completed.Network,
				Severity: alert.SeverityCritical,
				Message:  "plan activation failed for completed payment",
				Fields:   map[string]any{"reference": completed.Reference, "plan": completed.Plan},
			})
		}
	}
	return nil
}

// VerifyNow runs the matching flow for a single intent on demand, outside
// the sweep cadence.
func (s *Scheduler) VerifyNow(ctx context.Context, reference string) (matching.Result, error) {
	intent, err := s.registry.Get(ctx, reference)
	if err != nil {
		return matching.Result{}, err
	}
	if intent.Status == types.StatusExpired {
		return matching.Result{}, &types.Error{
			Code:    types.ErrIntentExpired,
			Message: fmt.Sprintf("intent %s expired at %s", reference, intent.ExpiresAt.Format(time.RFC3339)),
		}
	}
	if intent.Status != types.StatusPending {
		return matching.Result{}, &types.Error{
			Code:    types.ErrInvalidTransition,
			Message: fmt.Sprintf("intent %s is %s, not pending", reference, intent.Status),
		}
	}
	// An intent past its deadline is invalid for matching even if no sweep
	// has expired it yet.
	if intent.ExpiredAt(s.now()) {
		if _, err := s.registry.Expire(ctx, reference); err != nil && !types.IsCode(err, types.ErrInvalidTransition) {
			return matching.Result{}, err
		}
		return matching.Result{}, &types.Error{
			Code:    types.ErrIntentExpired,
			Message: fmt.Sprintf("intent %s expired at %s", reference, intent.ExpiresAt.Format(time.RFC3339)),
		}
	}

	adapter, ok := s.adapters[intent.Network]
	if !ok {
		return matching.Result{}, &types.Error{
			Code:    types.ErrUnsupportedNetwork,
			Message: fmt.Sprintf("no adapter for network %s", intent.Network),
		}
	}
	nc, err := s.networks.Network(intent.Network)
	if err != nil {
		return matching.Result{}, err
	}
	rules, err := s.rulesFor(nc, intent)
	if err != nil {
		return matching.Result{}, err
	}

	candidates, err := adapter.FindCandidates(ctx, intent.RecipientAddress, intent.TokenID, intent.CreatedAt)
	if err != nil {
		return matching.Result{}, err
	}

	best := matching.Result{Outcome: matching.OutcomeNoMatch, Reason: "no candidate transactions"}
	for i := range candidates {
		result := matching.Match(&intent, &candidates[i], rules)
		if result.Outcome == matching.OutcomeMatched {
			if err := s.complete(ctx, intent, candidates[i].Hash); types.IsCode(err, types.ErrTxAlreadyMatched) {
				continue
			}
			return result, nil
		}
		if result.Outcome == matching.OutcomePending {
			best = result
		}
	}
	return best, nil
}

func (s *Scheduler) rulesFor(nc types.NetworkConfig, intent types.PaymentIntent) (matching.Rules, error) {
	decimals, err := nc.DecimalsFor(intent.Currency)
	if err != nil {
		return matching.Rules{}, err
	}
	return matching.Rules{
		Decimals:              decimals,
		RequiredConfirmations: nc.RequiredConfirmations,
		MemoReference:         intent.Network.SupportsMemo(),
	}, nil
}

// cronLogger adapts the engine logger to the cron logging contract.
type cronLogger struct {
	log logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug(msg, kvFields(keysAndValues))
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := kvFields(keysAndValues)
	fields["error"] = err.Error()
	c.log.Error(msg, fields)
}

func kvFields(keysAndValues []interface{}) map[string]any {
	fields := make(map[string]any, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		fields[key] = keysAndValues[i+1]
	}
	return fields
}
