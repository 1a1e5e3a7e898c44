package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainpay-io/chainpay/types"
)

const testCosmosRecipient = "cosmos1qypqxpq9qcrsszg2pvxq6rs0zqg3yyc5lzv7xu"

func newTestCosmosAdapter(t *testing.T, restURL string) *CosmosAdapter {
	t.Helper()
	adapter, err := NewCosmosAdapter(types.NetworkConfig{
		Network:     types.NetworkCosmos,
		RESTURL:     restURL,
		RPCURL:      restURL,
		ChainID:     "cosmoshub-4",
		NativeToken: types.TokenInfo{Symbol: "ATOM", Decimals: 6, ID: "uatom"},
	}, nil, nil)
	require.NoError(t, err)
	return adapter
}

func cosmosLCD(t *testing.T, latestHeight int64, searchBody string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/cosmos/base/tendermint/v1beta1/blocks/latest"):
			fmt.Fprintf(w, `{"block":{"header":{"height":"%d"}}}`, latestHeight)
		case strings.HasPrefix(r.URL.Path, "/cosmos/tx/v1beta1/txs"):
			fmt.Fprint(w, searchBody)
		default:
			http.NotFound(w, r)
		}
	}))
}

func cosmosSearchBody(height int64, code uint32, ts time.Time, amount string) string {
	return fmt.Sprintf(`{
		"txs":[{"body":{"messages":[{
			"@type":"/cosmos.bank.v1beta1.MsgSend",
			"from_address":"cosmos1sender00000000000000000000000000000000",
			"to_address":"%s",
			"amount":[{"denom":"uatom","amount":"%s"}]
		}],"memo":"CRYPTO_cosmos1"}}],
		"tx_responses":[{
			"code":%d,
			"txhash":"AB12CD34EF56AB12CD34EF56AB12CD34EF56AB12CD34EF56AB12CD34EF56AB12",
			"height":"%d",
			"timestamp":"%s"
		}]
	}`, testCosmosRecipient, amount, code, height, ts.UTC().Format(time.RFC3339))
}

func TestCosmosFindCandidates(t *testing.T) {
	srv := cosmosLCD(t, 1000, cosmosSearchBody(990, 0, time.Now(), "2500000"))
	defer srv.Close()

	adapter := newTestCosmosAdapter(t, srv.URL)

	candidates, err := adapter.FindCandidates(context.Background(), testCosmosRecipient, "", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	c := candidates[0]
	assert.Equal(t, "2500000", c.RawAmount.String(), "uatom smallest units")
	assert.Empty(t, c.TokenID, "native denom normalizes to empty token id")
	assert.Equal(t, int64(10), c.Confirmations, "latest height minus tx height")
	assert.Equal(t, "CRYPTO_cosmos1", c.Memo)
}

func TestCosmosFindCandidatesSkipsFailedTx(t *testing.T) {
	srv := cosmosLCD(t, 1000, cosmosSearchBody(990, 5, time.Now(), "2500000"))
	defer srv.Close()

	adapter := newTestCosmosAdapter(t, srv.URL)

	candidates, err := adapter.FindCandidates(context.Background(), testCosmosRecipient, "", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, candidates, "code != 0 means the transfer did not execute")
}

func TestCosmosFindCandidatesWrongDenomSkipped(t *testing.T) {
	body := strings.Replace(cosmosSearchBody(990, 0, time.Now(), "2500000"), "uatom", "uosmo", 1)
	srv := cosmosLCD(t, 1000, body)
	defer srv.Close()

	adapter := newTestCosmosAdapter(t, srv.URL)

	candidates, err := adapter.FindCandidates(context.Background(), testCosmosRecipient, "", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestCosmosFindCandidatesRejectsBadRecipient(t *testing.T) {
	adapter := newTestCosmosAdapter(t, "http://127.0.0.1:0")

	_, err := adapter.FindCandidates(context.Background(), "0xdAC17F958D2ee523a2206206994597C13D831ec7", "", time.Time{})
	assert.Error(t, err)
}

func TestCosmosConfirmationDepth(t *testing.T) {
	hash := "AB12CD34EF56AB12CD34EF56AB12CD34EF56AB12CD34EF56AB12CD34EF56AB12"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/cosmos/base/tendermint/v1beta1/blocks/latest"):
			fmt.Fprint(w, `{"block":{"header":{"height":"1012"}}}`)
		case strings.HasPrefix(r.URL.Path, "/cosmos/tx/v1beta1/txs/"):
			fmt.Fprintf(w, `{"tx":{"body":{"messages":[],"memo":""}},"tx_response":{"code":0,"txhash":"%s","height":"1000","timestamp":""}}`, hash)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	adapter := newTestCosmosAdapter(t, srv.URL)

	depth, err := adapter.ConfirmationDepth(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, int64(12), depth)
}

func TestCosmosLatestHeightUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	adapter := newTestCosmosAdapter(t, srv.URL)

	_, err := adapter.FindCandidates(context.Background(), testCosmosRecipient, "", time.Time{})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrAdapterUnavailable))
}
