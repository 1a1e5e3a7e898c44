package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainpay-io/chainpay/types"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.SweepInterval)
	assert.Equal(t, 30*time.Minute, cfg.IntentTTL)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, "info", cfg.LogLevel)
	require.Len(t, cfg.Networks, 5)

	eth := cfg.Networks["ethereum"]
	assert.Equal(t, types.NetworkEthereum, eth.Network)
	assert.Equal(t, int64(12), eth.RequiredConfirmations)
	usdt, ok := eth.Token("USDT")
	require.True(t, ok)
	assert.Equal(t, int32(6), usdt.Decimals)
	assert.Equal(t, "0xdAC17F958D2ee523a2206206994597C13D831ec7", usdt.ID)

	// BSC USDT runs 18 decimals, unlike every other network.
	bsc := cfg.Networks["bsc"]
	bscUSDT, ok := bsc.Token("USDT")
	require.True(t, ok)
	assert.Equal(t, int32(18), bscUSDT.Decimals)
	assert.Equal(t, int64(5), bsc.RequiredConfirmations)

	hedera := cfg.Networks["hedera"]
	assert.Equal(t, int32(8), hedera.NativeToken.Decimals, "HBAR amounts are tinybars")
	assert.Equal(t, int64(1), hedera.RequiredConfirmations)

	cosmos := cfg.Networks["cosmos"]
	assert.Equal(t, "uatom", cosmos.NativeToken.ID)
	assert.Equal(t, "cosmoshub-4", cosmos.ChainID)
}

func TestLoadYAMLOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chainpay.yaml")
	yaml := `
sweep_interval: 10s
networks:
  ethereum:
    enabled: true
    rpc_url: https://eth.example.com
    merchant_address: "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
    max_gas_price: "200"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.SweepInterval)

	eth := cfg.Networks["ethereum"]
	assert.True(t, eth.Enabled)
	assert.Equal(t, "https://eth.example.com", eth.RPCURL)
	assert.Equal(t, "200", eth.MaxGasPrice.String())
	assert.Equal(t, "https://api.etherscan.io/api", eth.ScanAPIURL, "defaults survive partial overrides")

	assert.False(t, cfg.Networks["bsc"].Enabled, "networks are opt-in")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/chainpay.yaml")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrConfig))
}

func TestDecimalsFor(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	eth := cfg.Networks["ethereum"]
	d, err := eth.DecimalsFor("ETH")
	require.NoError(t, err)
	assert.Equal(t, int32(18), d)

	d, err = eth.DecimalsFor("usdt")
	require.NoError(t, err)
	assert.Equal(t, int32(6), d)

	_, err = eth.DecimalsFor("DOGE")
	assert.Error(t, err)
}
