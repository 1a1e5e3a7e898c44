package config

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/chainpay-io/chainpay/logger"
	"github.com/chainpay-io/chainpay/types"
)

// Service hands out validated NetworkConfig values with a TTL cache, and
// resolves a healthy RPC endpoint with primary/fallback failover. Fallback
// promotion only applies to the single lookup; the configured primary stays
// the primary.
type Service struct {
	cfg      *Config
	validate *validator.Validate
	http     *http.Client
	log      logger.Logger

	mu    sync.RWMutex
	cache map[types.Network]cacheEntry

	now func() time.Time
}

type cacheEntry struct {
	cfg     types.NetworkConfig
	expires time.Time
}

// NewService validates every enabled network's configuration up front.
// Missing required fields are fatal here, not per-sweep.
func NewService(cfg *Config, log logger.Logger) (*Service, error) {
	if log == nil {
		log = logger.NoopLogger{}
	}
	s := &Service{
		cfg:      cfg,
		validate: validator.New(),
		http:     &http.Client{Timeout: cfg.ProbeTimeout},
		log:      log,
		cache:    make(map[types.Network]cacheEntry),
		now:      time.Now,
	}

	for name, nc := range cfg.Networks {
		if !nc.Enabled {
			continue
		}
		if err := s.validateNetwork(nc); err != nil {
			return nil, fmt.Errorf("network %s: %w", name, err)
		}
	}
	return s, nil
}

// Network returns the configuration for a network, rebuilding the cached
// entry when the TTL has lapsed.
func (s *Service) Network(n types.Network) (types.NetworkConfig, error) {
	s.mu.RLock()
	entry, ok := s.cache[n]
	s.mu.RUnlock()
	if ok && s.now().Before(entry.expires) {
		return entry.cfg, nil
	}

	nc, ok := s.cfg.Networks[n.String()]
	if !ok || !nc.Enabled {
		return types.NetworkConfig{}, &types.Error{
			Code:    types.ErrUnsupportedNetwork,
			Message: fmt.Sprintf("network %s is not configured", n),
		}
	}
	if err := s.validateNetwork(nc); err != nil {
		return types.NetworkConfig{}, err
	}

	s.mu.Lock()
	s.cache[n] = cacheEntry{cfg: nc, expires: s.now().Add(s.cfg.CacheTTL)}
	s.mu.Unlock()
	return nc, nil
}

// Invalidate drops the cached entry for a network, forcing a rebuild on the
// next lookup. Called after an endpoint failure.
func (s *Service) Invalidate(n types.Network) {
	s.mu.Lock()
	delete(s.cache, n)
	s.mu.Unlock()
}

// EnabledNetworks returns the networks the engine should build adapters for.
func (s *Service) EnabledNetworks() []types.Network {
	var out []types.Network
	for name, nc := range s.cfg.Networks {
		if !nc.Enabled {
			continue
		}
		if n, err := types.ParseNetwork(name); err == nil {
			out = append(out, n)
		}
	}
	return out
}

// RPCURL returns a live RPC endpoint for the network: the primary when its
// liveness probe passes, otherwise the fallback. Both down yields
// AdapterUnavailable.
func (s *Service) RPCURL(ctx context.Context, n types.Network) (string, error) {
	nc, err := s.Network(n)
	if err != nil {
		return "", err
	}

	if s.probe(ctx, nc.RPCURL) {
		return nc.RPCURL, nil
	}
	if nc.FallbackRPC != "" && s.probe(ctx, nc.FallbackRPC) {
		s.log.Warn("using fallback rpc", map[string]any{"network": n})
		return nc.FallbackRPC, nil
	}

	return "", types.NewAdapterUnavailable(n, fmt.Errorf("no live rpc endpoint"))
}

// probe is a lightweight liveness check with a short timeout. Any HTTP
// response counts as alive; JSON-RPC servers commonly reject GETs with 4xx
// while being perfectly healthy.
func (s *Service) probe(ctx context.Context, url string) bool {
	if url == "" {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}

// validateNetwork enforces the per-family required fields: EVM networks need
// an RPC, an explorer API and gas limits; Cosmos needs RPC, LCD and chain ID;
// Hedera needs an operator account and a mirror node.
func (s *Service) validateNetwork(nc types.NetworkConfig) error {
	type check struct {
		field string
		value any
		tag   string
	}

	var checks []check
	switch nc.Network.Family() {
	case types.ChainEVM:
		checks = []check{
			{"rpc_url", nc.RPCURL, "required,url"},
			{"scan_api_url", nc.ScanAPIURL, "required,url"},
			{"merchant_address", nc.MerchantAddress, "required"},
			{"gas_limit", nc.GasLimit, "required,gt=0"},
			{"native_token.decimals", nc.NativeToken.Decimals, "required,gt=0"},
		}
	case types.ChainCosmos:
		checks = []check{
			{"rpc_url", nc.RPCURL, "required,url"},
			{"rest_url", nc.RESTURL, "required,url"},
			{"chain_id", nc.ChainID, "required"},
			{"merchant_address", nc.MerchantAddress, "required"},
			{"native_token.id", nc.NativeToken.ID, "required"},
		}
	case types.ChainHedera:
		checks = []check{
			{"operator_id", nc.OperatorID, "required"},
			{"mirror_node", nc.MirrorNodeURL, "required,url"},
			{"native_token.decimals", nc.NativeToken.Decimals, "required,gt=0"},
		}
	default:
		return &types.Error{
			Code:    types.ErrUnsupportedNetwork,
			Message: fmt.Sprintf("unsupported network: %s", nc.Network),
		}
	}

	for _, c := range checks {
		if err := s.validate.Var(c.value, c.tag); err != nil {
			return types.NewConfigError("missing or invalid required field %q", c.field)
		}
	}
	return nil
}
