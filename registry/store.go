package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/chainpay-io/chainpay/types"
)

// Store persists payment intents. Implementations must make the status
// update a compare-and-swap: the transition applies only when the stored
// status equals the expected one, so two racing sweeps cannot both complete
// the same intent. A transition that records a matched transaction hash
// already held by a different intent must be rejected with TxAlreadyMatched;
// one on-chain payment settles at most one intent, ever.
type Store interface {
	Insert(ctx context.Context, intent types.PaymentIntent) error
	Get(ctx context.Context, reference string) (types.PaymentIntent, error)
	UpdateStatus(ctx context.Context, reference string, from, to types.IntentStatus, mutate func(*types.PaymentIntent)) (types.PaymentIntent, error)
	ListByStatus(ctx context.Context, status types.IntentStatus) ([]types.PaymentIntent, error)
}

// MemoryStore is the in-process Store. Values are copied in and out, so
// callers never share the stored struct.
type MemoryStore struct {
	mu      sync.RWMutex
	intents map[string]types.PaymentIntent

	// usedHashes maps a matched transaction hash to the reference that
	// consumed it.
	usedHashes map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		intents:    make(map[string]types.PaymentIntent),
		usedHashes: make(map[string]string),
	}
}

func (m *MemoryStore) Insert(_ context.Context, intent types.PaymentIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.intents[intent.Reference]; exists {
		return &types.Error{
			Code:    types.ErrReferenceCollision,
			Message: fmt.Sprintf("reference %s already exists", intent.Reference),
		}
	}
	m.intents[intent.Reference] = intent
	return nil
}

func (m *MemoryStore) Get(_ context.Context, reference string) (types.PaymentIntent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	intent, ok := m.intents[reference]
	if !ok {
		return types.PaymentIntent{}, notFound(reference)
	}
	return intent, nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, reference string, from, to types.IntentStatus, mutate func(*types.PaymentIntent)) (types.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	intent, ok := m.intents[reference]
	if !ok {
		return types.PaymentIntent{}, notFound(reference)
	}
	if intent.Status != from {
		return types.PaymentIntent{}, &types.Error{
			Code:    types.ErrInvalidTransition,
			Message: fmt.Sprintf("intent %s is %s, expected %s", reference, intent.Status, from),
		}
	}
	intent.Status = to
	if mutate != nil {
		mutate(&intent)
	}
	if intent.MatchedTxHash != "" {
		if owner, claimed := m.usedHashes[intent.MatchedTxHash]; claimed && owner != reference {
			return types.PaymentIntent{}, &types.Error{
				Code:    types.ErrTxAlreadyMatched,
				Message: fmt.Sprintf("transaction %s already settled intent %s", intent.MatchedTxHash, owner),
			}
		}
		m.usedHashes[intent.MatchedTxHash] = reference
	}
	m.intents[reference] = intent
	return intent, nil
}

func (m *MemoryStore) ListByStatus(_ context.Context, status types.IntentStatus) ([]types.PaymentIntent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []types.PaymentIntent
	for _, intent := range m.intents {
		if intent.Status == status {
			out = append(out, intent)
		}
	}
	return out, nil
}

func notFound(reference string) error {
	return &types.Error{
		Code:    types.ErrIntentNotFound,
		Message: fmt.Sprintf("intent %s not found", reference),
	}
}
