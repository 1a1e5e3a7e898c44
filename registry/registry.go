package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chainpay-io/chainpay/logger"
	"github.com/chainpay-io/chainpay/metrics"
	"github.com/chainpay-io/chainpay/types"
)

const referencePrefix = "CRYPTO_"

// maxReferenceAttempts bounds the collision retry loop. UUID collisions are
// vanishingly rare; the loop mostly guards against a broken random source.
const maxReferenceAttempts = 5

// NetworkResolver supplies the per-network configuration an intent is minted
// against. *config.Service satisfies it.
type NetworkResolver interface {
	Network(n types.Network) (types.NetworkConfig, error)
}

// Registry mints payment intents and owns their lifecycle. Pending is the
// only non-terminal status; completed, failed and expired absorb.
type Registry struct {
	store    Store
	networks NetworkResolver
	ttl      time.Duration
	log      logger.Logger
	rec      metrics.Recorder
	now      func() time.Time
}

func New(store Store, networks NetworkResolver, ttl time.Duration, log logger.Logger, rec metrics.Recorder) *Registry {
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Registry{
		store:    store,
		networks: networks,
		ttl:      ttl,
		log:      log,
		rec:      rec,
		now:      time.Now,
	}
}

// Create mints a pending intent for the given network, plan and currency.
// The recipient address and token identity come from the network
// configuration, never from the caller.
func (r *Registry) Create(ctx context.Context, network types.Network, plan, currency string, amount decimal.Decimal) (types.PaymentIntent, error) {
	nc, err := r.networks.Network(network)
	if err != nil {
		return types.PaymentIntent{}, err
	}
	if amount.Sign() <= 0 {
		return types.PaymentIntent{}, types.NewConfigError("amount must be positive, got %s", amount)
	}

	// Native-currency intents carry an empty token ID; adapters translate
	// that to the chain's native transfer semantics.
	var tokenID string
	if !strings.EqualFold(currency, nc.NativeToken.Symbol) {
		token, ok := nc.Token(currency)
		if !ok {
			return types.PaymentIntent{}, types.NewConfigError("currency %s is not configured on %s", currency, network)
		}
		tokenID = token.ID
	}

	now := r.now()
	intent := types.PaymentIntent{
		Network:          network,
		Plan:             plan,
		Currency:         strings.ToUpper(currency),
		ExpectedAmount:   amount,
		RecipientAddress: nc.Recipient(),
		TokenID:          tokenID,
		Status:           types.StatusPending,
		CreatedAt:        now,
		ExpiresAt:        now.Add(r.ttl),
	}

	for attempt := 0; attempt < maxReferenceAttempts; attempt++ {
		intent.Reference = newReference()
		intent.Memo = "Payment:" + intent.Reference
		err = r.store.Insert(ctx, intent)
		if err == nil {
			r.rec.IncCounter(metrics.CounterIntentsCreated, map[string]string{"network": network.String()})
			r.log.Info("intent created", map[string]any{
				"reference": intent.Reference,
				"network":   network,
				"currency":  intent.Currency,
				"amount":    amount,
			})
			return intent, nil
		}
		if !types.IsCode(err, types.ErrReferenceCollision) {
			return types.PaymentIntent{}, err
		}
	}
	return types.PaymentIntent{}, &types.Error{
		Code:    types.ErrReferenceCollision,
		Message: fmt.Sprintf("could not mint a unique reference after %d attempts", maxReferenceAttempts),
	}
}

// Get looks up an intent by its reference.
func (r *Registry) Get(ctx context.Context, reference string) (types.PaymentIntent, error) {
	return r.store.Get(ctx, reference)
}

// Complete moves a pending intent to completed, recording the matched
// transaction hash. At most one caller wins; losers get InvalidTransition.
// A hash that already settled another intent is rejected with
// TxAlreadyMatched, so one payment never credits two intents across sweeps.
func (r *Registry) Complete(ctx context.Context, reference, txHash string) (types.PaymentIntent, error) {
	now := r.now()
	intent, err := r.store.UpdateStatus(ctx, reference, types.StatusPending, types.StatusCompleted, func(pi *types.PaymentIntent) {
		pi.MatchedTxHash = txHash
		pi.CompletedAt = &now
	})
	if err != nil {
		return types.PaymentIntent{}, err
	}
	r.rec.IncCounter(metrics.CounterIntentsCompleted, map[string]string{"network": intent.Network.String()})
	r.log.Info("intent completed", map[string]any{
		"reference": reference,
		"tx_hash":   txHash,
		"network":   intent.Network,
	})
	return intent, nil
}

// Fail moves a pending intent to failed.
func (r *Registry) Fail(ctx context.Context, reference, reason string) (types.PaymentIntent, error) {
	intent, err := r.store.UpdateStatus(ctx, reference, types.StatusPending, types.StatusFailed, nil)
	if err != nil {
		return types.PaymentIntent{}, err
	}
	r.log.Warn("intent failed", map[string]any{"reference": reference, "reason": reason})
	return intent, nil
}

// Expire moves one pending intent to expired. The on-demand verification
// path uses it when it finds an intent past its deadline; the sweep uses
// ExpireStale.
func (r *Registry) Expire(ctx context.Context, reference string) (types.PaymentIntent, error) {
	intent, err := r.store.UpdateStatus(ctx, reference, types.StatusPending, types.StatusExpired, nil)
	if err != nil {
		return types.PaymentIntent{}, err
	}
	r.rec.IncCounter(metrics.CounterIntentsExpired, map[string]string{"network": intent.Network.String()})
	r.log.Info("intent expired", map[string]any{"reference": reference})
	return intent, nil
}

// ExpireStale sweeps pending intents past their deadline into expired.
// Idempotent: intents that raced into a terminal status are skipped, not
// errors.
func (r *Registry) ExpireStale(ctx context.Context) (int, error) {
	pending, err := r.store.ListByStatus(ctx, types.StatusPending)
	if err != nil {
		return 0, err
	}

	now := r.now()
	expired := 0
	for _, intent := range pending {
		if !intent.ExpiredAt(now) {
			continue
		}
		if _, err := r.store.UpdateStatus(ctx, intent.Reference, types.StatusPending, types.StatusExpired, nil); err != nil {
			if types.IsCode(err, types.ErrInvalidTransition) || types.IsCode(err, types.ErrIntentNotFound) {
				continue
			}
			return expired, err
		}
		expired++
		r.rec.IncCounter(metrics.CounterIntentsExpired, map[string]string{"network": intent.Network.String()})
	}
	if expired > 0 {
		r.log.Info("expired stale intents", map[string]any{"count": expired})
	}
	return expired, nil
}

// Pending returns the intents the reconciliation sweep should try to match.
func (r *Registry) Pending(ctx context.Context) ([]types.PaymentIntent, error) {
	return r.store.ListByStatus(ctx, types.StatusPending)
}

func newReference() string {
	id := uuid.New()
	return referencePrefix + strings.ReplaceAll(id.String(), "-", "")
}
