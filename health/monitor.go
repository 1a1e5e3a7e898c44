// Package health probes each configured network for endpoint liveness,
// chain progress, gas price and merchant balance, and raises alerts when a
// network misbehaves for several checks in a row.
package health

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/chainpay-io/chainpay/alert"
	"github.com/chainpay-io/chainpay/logger"
	"github.com/chainpay-io/chainpay/types"
	"github.com/chainpay-io/chainpay/utils"
)

// failureThreshold is how many consecutive failed checks a network gets
// before an alert fires.
const failureThreshold = 3

// NetworkResolver supplies network configuration for checks.
type NetworkResolver interface {
	Network(n types.Network) (types.NetworkConfig, error)
	EnabledNetworks() []types.Network
}

// NetworkHealth is the outcome of one check of one network.
type NetworkHealth struct {
	Network   types.Network   `json:"network"`
	Healthy   bool            `json:"healthy"`
	Height    int64           `json:"height,omitempty"`
	GasPrice  decimal.Decimal `json:"gas_price,omitempty"`
	Balance   decimal.Decimal `json:"balance,omitempty"`
	Issues    []string        `json:"issues,omitempty"`
	CheckedAt time.Time       `json:"checked_at"`
}

// Monitor runs the per-network health checks.
type Monitor struct {
	networks NetworkResolver
	http     *http.Client
	log      logger.Logger
	alerts   *alert.Dispatcher

	mu          sync.Mutex
	failures    map[types.Network]int
	lastHeights map[types.Network]int64
}

func NewMonitor(networks NetworkResolver, timeout time.Duration, log logger.Logger, alerts *alert.Dispatcher) *Monitor {
	if log == nil {
		log = logger.NoopLogger{}
	}
	return &Monitor{
		networks:    networks,
		http:        &http.Client{Timeout: timeout},
		log:         log,
		alerts:      alerts,
		failures:    make(map[types.Network]int),
		lastHeights: make(map[types.Network]int64),
	}
}

// CheckAll checks every enabled network.
func (m *Monitor) CheckAll(ctx context.Context) map[types.Network]NetworkHealth {
	out := make(map[types.Network]NetworkHealth)
	for _, n := range m.networks.EnabledNetworks() {
		out[n] = m.Check(ctx, n)
	}
	return out
}

// Check probes one network and records consecutive-failure state.
func (m *Monitor) Check(ctx context.Context, n types.Network) NetworkHealth {
	h := NetworkHealth{Network: n, CheckedAt: time.Now()}

	nc, err := m.networks.Network(n)
	if err != nil {
		h.Issues = append(h.Issues, err.Error())
		m.recordFailure(ctx, n, h.Issues)
		return h
	}

	switch n.Family() {
	case types.ChainEVM:
		m.checkEVM(ctx, nc, &h)
	case types.ChainCosmos:
		m.checkCosmos(ctx, nc, &h)
	case types.ChainHedera:
		m.checkHedera(ctx, nc, &h)
	}

	h.Healthy = len(h.Issues) == 0
	if h.Healthy {
		m.recordRecovery(n)
	} else {
		m.recordFailure(ctx, n, h.Issues)
	}
	return h
}

func (m *Monitor) checkEVM(ctx context.Context, nc types.NetworkConfig, h *NetworkHealth) {
	height, err := m.evmBlockNumber(ctx, nc.RPCURL)
	if err != nil && nc.FallbackRPC != "" {
		height, err = m.evmBlockNumber(ctx, nc.FallbackRPC)
	}
	if err != nil {
		h.Issues = append(h.Issues, fmt.Sprintf("rpc unreachable: %v", err))
	} else {
		h.Height = height
		m.checkProgress(ctx, nc.Network, height, h)
	}

	if nc.ScanAPIURL != "" && !nc.MaxGasPrice.IsZero() {
		if gas, err := m.evmGasPrice(ctx, nc); err == nil {
			h.GasPrice = gas
			if gas.GreaterThan(nc.MaxGasPrice) {
				h.Issues = append(h.Issues, fmt.Sprintf("gas price %s gwei above limit %s", gas, nc.MaxGasPrice))
				m.dispatch(ctx, alert.Event{
					Type:     alert.TypeHighGasPrice,
					Network:  nc.Network,
					Severity: alert.SeverityWarning,
					Message:  "gas price above configured limit",
					Fields:   map[string]any{"gas_price": gas.String(), "limit": nc.MaxGasPrice.String()},
				})
			}
		}
	}

	if err == nil && nc.MerchantAddress != "" {
		bal, balErr := m.evmBalance(ctx, nc, nc.RPCURL)
		if balErr != nil && nc.FallbackRPC != "" {
			bal, balErr = m.evmBalance(ctx, nc, nc.FallbackRPC)
		}
		if balErr == nil {
			h.Balance = bal
			m.checkBalance(ctx, nc, bal, h)
		}
	}
}

func (m *Monitor) checkCosmos(ctx context.Context, nc types.NetworkConfig, h *NetworkHealth) {
	body, err := m.get(ctx, nc.RESTURL+"/cosmos/base/tendermint/v1beta1/blocks/latest")
	if err != nil {
		h.Issues = append(h.Issues, fmt.Sprintf("lcd unreachable: %v", err))
		return
	}
	h.Height = gjson.GetBytes(body, "block.header.height").Int()
	m.checkProgress(ctx, nc.Network, h.Height, h)

	if body, err := m.get(ctx, nc.RESTURL+"/cosmos/base/tendermint/v1beta1/syncing"); err == nil {
		if gjson.GetBytes(body, "syncing").Bool() {
			h.Issues = append(h.Issues, "node is still syncing")
		}
	}

	if nc.MerchantAddress != "" && !nc.MinBalance.IsZero() {
		balURL := fmt.Sprintf("%s/cosmos/bank/v1beta1/balances/%s", nc.RESTURL, url.PathEscape(nc.MerchantAddress))
		if body, err := m.get(ctx, balURL); err == nil {
			query := fmt.Sprintf(`balances.#(denom=="%s").amount`, nc.NativeToken.ID)
			if raw, err := utils.ParseBigInt(gjson.GetBytes(body, query).String()); err == nil {
				h.Balance = utils.ToHumanUnits(raw, nc.NativeToken.Decimals)
				m.checkBalance(ctx, nc, h.Balance, h)
			}
		}
	}
}

func (m *Monitor) checkHedera(ctx context.Context, nc types.NetworkConfig, h *NetworkHealth) {
	urls := []string{nc.MirrorNodeURL}
	if nc.FallbackMirror != "" {
		urls = append(urls, nc.FallbackMirror)
	}

	var body []byte
	var err error
	for _, base := range urls {
		balURL := fmt.Sprintf("%s/api/v1/balances?account.id=%s", base, url.QueryEscape(nc.OperatorID))
		if body, err = m.get(ctx, balURL); err == nil {
			break
		}
	}
	if err != nil {
		h.Issues = append(h.Issues, fmt.Sprintf("mirror node unreachable: %v", err))
		return
	}

	if tinybars := gjson.GetBytes(body, "balances.0.balance"); tinybars.Exists() {
		h.Balance = utils.ToHumanUnits(big.NewInt(tinybars.Int()), nc.NativeToken.Decimals)
		m.checkBalance(ctx, nc, h.Balance, h)
	}
}

// checkProgress flags a chain whose reported height has not advanced since
// the previous check.
func (m *Monitor) checkProgress(ctx context.Context, n types.Network, height int64, h *NetworkHealth) {
	m.mu.Lock()
	last := m.lastHeights[n]
	m.lastHeights[n] = height
	m.mu.Unlock()

	if last > 0 && height <= last {
		h.Issues = append(h.Issues, fmt.Sprintf("chain stalled at height %d", height))
		m.dispatch(ctx, alert.Event{
			Type:     alert.TypeEndpointStalled,
			Network:  n,
			Severity: alert.SeverityWarning,
			Message:  "chain height not advancing",
			Fields:   map[string]any{"height": height},
		})
	}
}

func (m *Monitor) checkBalance(ctx context.Context, nc types.NetworkConfig, bal decimal.Decimal, h *NetworkHealth) {
	if nc.MinBalance.IsZero() || bal.GreaterThanOrEqual(nc.MinBalance) {
		return
	}
	h.Issues = append(h.Issues, fmt.Sprintf("merchant balance %s below minimum %s", bal, nc.MinBalance))
	m.dispatch(ctx, alert.Event{
		Type:     alert.TypeLowBalance,
		Network:  nc.Network,
		Severity: alert.SeverityCritical,
		Message:  "merchant balance below minimum",
		Fields:   map[string]any{"balance": bal.String(), "minimum": nc.MinBalance.String()},
	})
}

func (m *Monitor) recordFailure(ctx context.Context, n types.Network, issues []string) {
	m.mu.Lock()
	m.failures[n]++
	count := m.failures[n]
	m.mu.Unlock()

	m.log.Warn("network health check failed", map[string]any{
		"network":     n,
		"consecutive": count,
		"issues":      issues,
	})
	if count >= failureThreshold {
		m.dispatch(ctx, alert.Event{
			Type:     alert.TypeAdapterDown,
			Network:  n,
			Severity: alert.SeverityCritical,
			Message:  fmt.Sprintf("network unhealthy for %d consecutive checks", count),
			Fields:   map[string]any{"issues": issues},
		})
	}
}

func (m *Monitor) recordRecovery(n types.Network) {
	m.mu.Lock()
	recovered := m.failures[n] >= failureThreshold
	m.failures[n] = 0
	m.mu.Unlock()

	if recovered && m.alerts != nil {
		m.alerts.Reset(alert.TypeAdapterDown, n)
		m.log.Info("network recovered", map[string]any{"network": n})
	}
}

func (m *Monitor) dispatch(ctx context.Context, ev alert.Event) {
	if m.alerts != nil {
		m.alerts.Dispatch(ctx, ev)
	}
}

// evmBlockNumber issues an eth_blockNumber JSON-RPC call.
func (m *Monitor) evmBlockNumber(ctx context.Context, rpcURL string) (int64, error) {
	body, err := m.rpc(ctx, rpcURL, `{"jsonrpc":"2.0","method":"eth_blockNumber","params":[],"id":1}`)
	if err != nil {
		return 0, err
	}
	raw, err := utils.ParseBigInt(gjson.GetBytes(body, "result").String())
	if err != nil {
		return 0, fmt.Errorf("unparsable block number: %w", err)
	}
	return raw.Int64(), nil
}

// evmGasPrice reads the explorer's gas oracle. Values are reported in gwei.
func (m *Monitor) evmGasPrice(ctx context.Context, nc types.NetworkConfig) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("module", "gastracker")
	q.Set("action", "gasoracle")
	if nc.ScanAPIKey != "" {
		q.Set("apikey", nc.ScanAPIKey)
	}
	body, err := m.get(ctx, nc.ScanAPIURL+"?"+q.Encode())
	if err != nil {
		return decimal.Zero, err
	}
	propose := gjson.GetBytes(body, "result.ProposeGasPrice").String()
	if propose == "" {
		return decimal.Zero, fmt.Errorf("gas oracle returned no price")
	}
	return decimal.NewFromString(propose)
}

// evmBalance reads the merchant's native balance via eth_getBalance.
func (m *Monitor) evmBalance(ctx context.Context, nc types.NetworkConfig, rpcURL string) (decimal.Decimal, error) {
	payload := fmt.Sprintf(`{"jsonrpc":"2.0","method":"eth_getBalance","params":["%s","latest"],"id":1}`, nc.MerchantAddress)
	body, err := m.rpc(ctx, rpcURL, payload)
	if err != nil {
		return decimal.Zero, err
	}
	wei, err := utils.ParseBigInt(gjson.GetBytes(body, "result").String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("unparsable balance: %w", err)
	}
	return utils.ToHumanUnits(wei, nc.NativeToken.Decimals), nil
}

func (m *Monitor) rpc(ctx context.Context, rpcURL, payload string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rpcURL, bytes.NewBufferString(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return m.do(req)
}

func (m *Monitor) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return m.do(req)
}

func (m *Monitor) do(req *http.Request) ([]byte, error) {
	resp, err := m.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
