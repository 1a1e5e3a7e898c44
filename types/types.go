// Package types holds the data model shared by every component of the
// payment verification engine: payment intents, candidate transactions
// discovered on-chain, and per-network configuration.
package types

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// IntentStatus is the lifecycle state of a PaymentIntent.
type IntentStatus string

const (
	StatusPending   IntentStatus = "pending"
	StatusCompleted IntentStatus = "completed"
	StatusFailed    IntentStatus = "failed"
	StatusExpired   IntentStatus = "expired"
)

// Terminal reports whether the status absorbs: no transition ever leaves it.
func (s IntentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusExpired
}

// CanTransitionTo reports whether next is a legal successor of s. The status
// graph is pending -> {completed, failed, expired}; everything else is
// rejected.
func (s IntentStatus) CanTransitionTo(next IntentStatus) bool {
	if s != StatusPending {
		return false
	}
	return next.Terminal()
}

// PaymentIntent is a pending request for a specific amount of a specific
// asset on a specific network, awaiting an on-chain transaction that
// satisfies it.
type PaymentIntent struct {
	// Reference is the globally unique opaque key for the intent. Where the
	// network supports memos it is also embedded on-chain via Memo.
	Reference string `json:"reference"`

	Network Network `json:"network"`

	// Plan is the subscription plan the payment is for, passed through to the
	// activation collaborator on completion.
	Plan string `json:"plan,omitempty"`

	// Currency is the native or stable token symbol (e.g. ETH, USDT, HBAR).
	Currency string `json:"currency"`

	// ExpectedAmount is in human-readable units, not smallest units.
	ExpectedAmount decimal.Decimal `json:"expected_amount"`

	// RecipientAddress is the merchant address/account on the network.
	RecipientAddress string `json:"recipient_address"`

	// TokenID is the contract address (EVM), token ID (Hedera) or denom
	// (Cosmos) of the asset. Empty for native-currency payments.
	TokenID string `json:"token_id,omitempty"`

	// Memo is the on-chain tracking memo ("Payment:<reference>") on networks
	// that carry one.
	Memo string `json:"memo,omitempty"`

	Status    IntentStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	ExpiresAt time.Time    `json:"expires_at"`

	// MatchedTxHash is set exactly once, on the pending -> completed edge.
	MatchedTxHash string     `json:"matched_transaction_hash,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// ExpiredAt reports whether the intent's payment window has closed at now.
func (p *PaymentIntent) ExpiredAt(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// CandidateTransaction is a transaction discovered on-chain, normalized by a
// network adapter into the shape the matching engine consumes. RawAmount is
// in the chain's smallest unit (wei, tinybars, uatom); the adapter never
// applies decimal conversion itself.
type CandidateTransaction struct {
	Hash             string    `json:"hash"`
	Network          Network   `json:"network"`
	SenderAddress    string    `json:"sender_address"`
	RecipientAddress string    `json:"recipient_address"`
	TokenID          string    `json:"token_id,omitempty"`
	RawAmount        *big.Int  `json:"raw_amount"`
	Memo             string    `json:"memo,omitempty"`
	Confirmations    int64     `json:"confirmations"`
	Timestamp        time.Time `json:"timestamp"`
}

// TokenInfo describes an asset accepted on a network and carries its
// decimal-precision contract. Decimals differ per network/token pair: USDT is
// 6 decimals on Ethereum and Polygon but 18 on BSC.
type TokenInfo struct {
	Symbol   string `json:"symbol" mapstructure:"symbol"`
	Decimals int32  `json:"decimals" mapstructure:"decimals"`

	// ID is the contract address (EVM), token ID (Hedera) or base denom
	// (Cosmos). Empty where the asset needs no identifier.
	ID string `json:"id,omitempty" mapstructure:"id"`
}

// NetworkConfig is the per-network configuration consumed by adapters and the
// health monitor. Instances are produced by the config service, cached with a
// TTL, and validated per chain family at load.
type NetworkConfig struct {
	Network Network `json:"network" mapstructure:"-"`
	Name    string  `json:"name" mapstructure:"name"`
	Enabled bool    `json:"enabled" mapstructure:"enabled"`

	RPCURL      string `json:"rpc_url" mapstructure:"rpc_url"`
	FallbackRPC string `json:"fallback_rpc,omitempty" mapstructure:"fallback_rpc"`

	// RESTURL is the LCD endpoint for Cosmos networks.
	RESTURL string `json:"rest_url,omitempty" mapstructure:"rest_url"`

	// ScanAPIURL is the Etherscan-style explorer API for EVM networks.
	ScanAPIURL string `json:"scan_api_url,omitempty" mapstructure:"scan_api_url"`
	ScanAPIKey string `json:"scan_api_key,omitempty" mapstructure:"scan_api_key"`

	// MirrorNodeURL is the Hedera mirror-node REST base URL.
	MirrorNodeURL  string `json:"mirror_node,omitempty" mapstructure:"mirror_node"`
	FallbackMirror string `json:"fallback_mirror,omitempty" mapstructure:"fallback_mirror"`

	// OperatorID is the Hedera operator account receiving payments.
	OperatorID string `json:"operator_id,omitempty" mapstructure:"operator_id"`

	ChainID         string `json:"chain_id,omitempty" mapstructure:"chain_id"`
	MerchantAddress string `json:"merchant_address" mapstructure:"merchant_address"`

	NativeToken TokenInfo            `json:"native_token" mapstructure:"native_token"`
	Tokens      map[string]TokenInfo `json:"tokens" mapstructure:"tokens"`

	RequiredConfirmations int64 `json:"required_confirmations" mapstructure:"required_confirmations"`

	GasLimit    uint64          `json:"gas_limit,omitempty" mapstructure:"gas_limit"`
	MaxGasPrice decimal.Decimal `json:"max_gas_price,omitempty" mapstructure:"max_gas_price"`

	// MinBalance is the merchant-balance floor (native units) below which the
	// health monitor raises a low-balance alert.
	MinBalance decimal.Decimal `json:"min_balance,omitempty" mapstructure:"min_balance"`

	// Wallets maps wallet names to deep-link schemes (hashpack://, keplr://).
	Wallets map[string]string `json:"wallets,omitempty" mapstructure:"wallets"`
}

// Recipient returns the address candidates are matched against: the Hedera
// operator account on Hedera, the merchant address elsewhere.
func (c *NetworkConfig) Recipient() string {
	if c.Network.IsHedera() && c.OperatorID != "" {
		return c.OperatorID
	}
	return c.MerchantAddress
}

// Token resolves an accepted token by symbol, case-insensitively.
func (c *NetworkConfig) Token(symbol string) (TokenInfo, bool) {
	t, ok := c.Tokens[strings.ToLower(symbol)]
	return t, ok
}

// DecimalsFor resolves the decimal count for a currency symbol, checking the
// native token first and the accepted-token table second.
func (c *NetworkConfig) DecimalsFor(currency string) (int32, error) {
	if strings.EqualFold(currency, c.NativeToken.Symbol) {
		return c.NativeToken.Decimals, nil
	}
	if t, ok := c.Token(currency); ok {
		return t.Decimals, nil
	}
	return 0, NewConfigError("no decimals configured for %s on %s", currency, c.Network)
}

// TokenByID resolves an accepted token by its on-chain identifier.
func (c *NetworkConfig) TokenByID(id string) (TokenInfo, bool) {
	for _, t := range c.Tokens {
		if strings.EqualFold(t.ID, id) {
			return t, true
		}
	}
	return TokenInfo{}, false
}

func (c *NetworkConfig) String() string {
	return fmt.Sprintf("%s (%s)", c.Name, c.Network)
}
