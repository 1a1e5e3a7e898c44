// Package config loads engine configuration and serves validated per-network
// config to adapters, the scheduler, and the health monitor.
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/chainpay-io/chainpay/types"
)

// Config is the engine-wide configuration: sweep cadence, intent TTL, and the
// per-network table.
type Config struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	IntentTTL     time.Duration `mapstructure:"intent_ttl"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
	AlertCooldown time.Duration `mapstructure:"alert_cooldown"`
	LogLevel      string        `mapstructure:"log_level"`

	Networks map[string]types.NetworkConfig `mapstructure:"networks"`
}

// Load reads configuration from the given YAML file (optional) and
// CHAINPAY_-prefixed environment variables, on top of built-in defaults that
// mirror the public endpoints and token tables for each supported network.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CHAINPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, types.NewConfigError("read config file: %v", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		decimalDecodeHook,
	))); err != nil {
		return nil, types.NewConfigError("unmarshal config: %v", err)
	}

	// Stamp the network key into each entry so a NetworkConfig is
	// self-describing once it leaves the map.
	for name, nc := range cfg.Networks {
		network, err := types.ParseNetwork(name)
		if err != nil {
			return nil, err
		}
		nc.Network = network
		cfg.Networks[name] = nc
	}

	return &cfg, nil
}

// decimalDecodeHook lets max_gas_price / min_balance be written as numbers or
// strings in YAML.
func decimalDecodeHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(decimal.Decimal{}) {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return decimal.NewFromString(v)
	case float64:
		return decimal.NewFromFloat(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	default:
		return nil, fmt.Errorf("cannot decode %v into decimal", from)
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sweep_interval", "45s")
	v.SetDefault("intent_ttl", "30m")
	v.SetDefault("cache_ttl", "5m")
	v.SetDefault("probe_timeout", "5s")
	v.SetDefault("alert_cooldown", "15m")
	v.SetDefault("log_level", "info")

	// Networks ship disabled. Enabling one requires the operator to supply
	// the merchant address and endpoints validation demands.
	// Ethereum
	v.SetDefault("networks.ethereum.name", "Ethereum")
	v.SetDefault("networks.ethereum.enabled", false)
	v.SetDefault("networks.ethereum.scan_api_url", "https://api.etherscan.io/api")
	v.SetDefault("networks.ethereum.chain_id", "1")
	v.SetDefault("networks.ethereum.required_confirmations", 12)
	v.SetDefault("networks.ethereum.gas_limit", 21000)
	v.SetDefault("networks.ethereum.max_gas_price", "150")
	v.SetDefault("networks.ethereum.min_balance", "0.1")
	v.SetDefault("networks.ethereum.native_token.symbol", "ETH")
	v.SetDefault("networks.ethereum.native_token.decimals", 18)
	v.SetDefault("networks.ethereum.tokens.usdt.symbol", "USDT")
	v.SetDefault("networks.ethereum.tokens.usdt.decimals", 6)
	v.SetDefault("networks.ethereum.tokens.usdt.id", "0xdAC17F958D2ee523a2206206994597C13D831ec7")

	// BNB Smart Chain. BSC USDT uses 18 decimals, unlike Ethereum/Polygon.
	v.SetDefault("networks.bsc.name", "BNB Smart Chain")
	v.SetDefault("networks.bsc.enabled", false)
	v.SetDefault("networks.bsc.scan_api_url", "https://api.bscscan.com/api")
	v.SetDefault("networks.bsc.chain_id", "56")
	v.SetDefault("networks.bsc.required_confirmations", 5)
	v.SetDefault("networks.bsc.gas_limit", 21000)
	v.SetDefault("networks.bsc.max_gas_price", "10")
	v.SetDefault("networks.bsc.min_balance", "0.1")
	v.SetDefault("networks.bsc.native_token.symbol", "BNB")
	v.SetDefault("networks.bsc.native_token.decimals", 18)
	v.SetDefault("networks.bsc.tokens.usdt.symbol", "USDT")
	v.SetDefault("networks.bsc.tokens.usdt.decimals", 18)
	v.SetDefault("networks.bsc.tokens.usdt.id", "0x55d398326f99059fF775485246999027B3197955")

	// Polygon
	v.SetDefault("networks.polygon.name", "Polygon")
	v.SetDefault("networks.polygon.enabled", false)
	v.SetDefault("networks.polygon.scan_api_url", "https://api.polygonscan.com/api")
	v.SetDefault("networks.polygon.chain_id", "137")
	v.SetDefault("networks.polygon.required_confirmations", 5)
	v.SetDefault("networks.polygon.gas_limit", 21000)
	v.SetDefault("networks.polygon.max_gas_price", "300")
	v.SetDefault("networks.polygon.min_balance", "10")
	v.SetDefault("networks.polygon.native_token.symbol", "MATIC")
	v.SetDefault("networks.polygon.native_token.decimals", 18)
	v.SetDefault("networks.polygon.tokens.usdt.symbol", "USDT")
	v.SetDefault("networks.polygon.tokens.usdt.decimals", 6)
	v.SetDefault("networks.polygon.tokens.usdt.id", "0xc2132D05D31c914a87C6611C10748AEb04B58e8F")

	// Cosmos Hub
	v.SetDefault("networks.cosmos.name", "Cosmos Hub")
	v.SetDefault("networks.cosmos.enabled", false)
	v.SetDefault("networks.cosmos.rpc_url", "https://rpc-cosmoshub.keplr.app")
	v.SetDefault("networks.cosmos.rest_url", "https://lcd-cosmoshub.keplr.app")
	v.SetDefault("networks.cosmos.chain_id", "cosmoshub-4")
	v.SetDefault("networks.cosmos.required_confirmations", 2)
	v.SetDefault("networks.cosmos.gas_limit", 200000)
	v.SetDefault("networks.cosmos.max_gas_price", "0.025")
	v.SetDefault("networks.cosmos.min_balance", "1")
	v.SetDefault("networks.cosmos.native_token.symbol", "ATOM")
	v.SetDefault("networks.cosmos.native_token.decimals", 6)
	v.SetDefault("networks.cosmos.native_token.id", "uatom")
	v.SetDefault("networks.cosmos.wallets.keplr", "keplr")

	// Hedera
	v.SetDefault("networks.hedera.name", "Hedera")
	v.SetDefault("networks.hedera.enabled", false)
	v.SetDefault("networks.hedera.mirror_node", "https://mainnet-public.mirrornode.hedera.com")
	v.SetDefault("networks.hedera.required_confirmations", 1)
	v.SetDefault("networks.hedera.min_balance", "100")
	v.SetDefault("networks.hedera.native_token.symbol", "HBAR")
	v.SetDefault("networks.hedera.native_token.decimals", 8)
	v.SetDefault("networks.hedera.tokens.usdt.symbol", "USDT")
	v.SetDefault("networks.hedera.tokens.usdt.decimals", 6)
	v.SetDefault("networks.hedera.tokens.usdt.id", "0.0.456858")
	v.SetDefault("networks.hedera.wallets.hashpack", "hashpack")
	v.SetDefault("networks.hedera.wallets.metamask", "metamask")
}
