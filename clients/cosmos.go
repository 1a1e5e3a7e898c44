package clients

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/chainpay-io/chainpay/logger"
	"github.com/chainpay-io/chainpay/metrics"
	"github.com/chainpay-io/chainpay/types"
	"github.com/chainpay-io/chainpay/utils"
)

// CosmosAdapter reads the chain's LCD (REST) API. Candidates are MsgSend
// transfers found via the transfer.recipient event index; amounts stay in
// uatom-style smallest units and the native denom is normalized to an empty
// token ID for the matching engine.
type CosmosAdapter struct {
	cfg  types.NetworkConfig
	rest *restClient
	log  logger.Logger
}

var _ Adapter = (*CosmosAdapter)(nil)

const msgSendType = "/cosmos.bank.v1beta1.MsgSend"

func NewCosmosAdapter(cfg types.NetworkConfig, log logger.Logger, rec metrics.Recorder) (*CosmosAdapter, error) {
	if log == nil {
		log = logger.NoopLogger{}
	}
	if !cfg.Network.IsCosmos() {
		return nil, types.NewConfigError("network %s is not a Cosmos network", cfg.Network)
	}
	if cfg.RESTURL == "" {
		return nil, types.NewConfigError("%s: rest_url is required", cfg.Network)
	}
	if cfg.ChainID == "" {
		return nil, types.NewConfigError("%s: chain_id is required", cfg.Network)
	}
	if cfg.NativeToken.ID == "" {
		return nil, types.NewConfigError("%s: native_token.id (base denom) is required", cfg.Network)
	}

	return &CosmosAdapter{
		cfg:  cfg,
		rest: newRestClient(cfg.Network, log, rec),
		log:  log,
	}, nil
}

func (a *CosmosAdapter) Network() types.Network {
	return a.cfg.Network
}

type cosmosCoin struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

type cosmosMessage struct {
	Type        string       `json:"@type"`
	FromAddress string       `json:"from_address"`
	ToAddress   string       `json:"to_address"`
	Amount      []cosmosCoin `json:"amount"`
}

type cosmosTx struct {
	Body struct {
		Messages []cosmosMessage `json:"messages"`
		Memo     string          `json:"memo"`
	} `json:"body"`
}

type cosmosTxResponse struct {
	Code      uint32 `json:"code"`
	TxHash    string `json:"txhash"`
	Height    string `json:"height"`
	Timestamp string `json:"timestamp"`
}

type cosmosSearchResponse struct {
	Txs         []cosmosTx         `json:"txs"`
	TxResponses []cosmosTxResponse `json:"tx_responses"`
}

type cosmosGetTxResponse struct {
	Tx         cosmosTx         `json:"tx"`
	TxResponse cosmosTxResponse `json:"tx_response"`
}

type cosmosLatestBlockResponse struct {
	Block struct {
		Header struct {
			Height string `json:"height"`
		} `json:"header"`
	} `json:"block"`
}

func (a *CosmosAdapter) FindCandidates(ctx context.Context, recipient, tokenID string, since time.Time) ([]types.CandidateTransaction, error) {
	if err := utils.ValidateAddress(a.cfg.Network, recipient); err != nil {
		return nil, err
	}

	latest, err := a.latestHeight(ctx)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("events", fmt.Sprintf("transfer.recipient='%s'", recipient))
	q.Set("order_by", "ORDER_BY_DESC")
	q.Set("pagination.limit", "100")

	var resp cosmosSearchResponse
	if err := a.rest.getJSON(ctx, a.urls("/cosmos/tx/v1beta1/txs?"+q.Encode()), &resp); err != nil {
		return nil, err
	}

	var candidates []types.CandidateTransaction
	for i, txr := range resp.TxResponses {
		if i >= len(resp.Txs) {
			break
		}
		if txr.Code != 0 {
			// tx_response.code != 0 means execution failed on-chain
			continue
		}

		ts, err := time.Parse(time.RFC3339, txr.Timestamp)
		if err != nil || ts.Before(since) {
			continue
		}

		height, _ := strconv.ParseInt(txr.Height, 10, 64)
		confirmations := latest - height
		if confirmations < 0 {
			confirmations = 0
		}

		for _, msg := range resp.Txs[i].Body.Messages {
			candidate, ok := a.candidateFromMsg(msg, recipient, tokenID)
			if !ok {
				continue
			}
			candidate.Hash = txr.TxHash
			candidate.Memo = resp.Txs[i].Body.Memo
			candidate.Confirmations = confirmations
			candidate.Timestamp = ts.UTC()
			candidates = append(candidates, candidate)
		}
	}
	return candidates, nil
}

// candidateFromMsg extracts a transfer of the wanted denom from a MsgSend.
// The native base denom (uatom) maps to an empty token ID; any other denom is
// carried through as the token ID.
func (a *CosmosAdapter) candidateFromMsg(msg cosmosMessage, recipient, tokenID string) (types.CandidateTransaction, bool) {
	if msg.Type != msgSendType || msg.ToAddress != recipient {
		return types.CandidateTransaction{}, false
	}

	wantDenom := tokenID
	if wantDenom == "" {
		wantDenom = a.cfg.NativeToken.ID
	}

	for _, coin := range msg.Amount {
		if coin.Denom != wantDenom {
			continue
		}
		raw, err := utils.ParseBigInt(coin.Amount)
		if err != nil || raw.Sign() <= 0 {
			continue
		}
		return types.CandidateTransaction{
			Network:          a.cfg.Network,
			SenderAddress:    msg.FromAddress,
			RecipientAddress: msg.ToAddress,
			TokenID:          tokenID,
			RawAmount:        raw,
		}, true
	}
	return types.CandidateTransaction{}, false
}

func (a *CosmosAdapter) ConfirmationDepth(ctx context.Context, hash string) (int64, error) {
	if err := utils.ValidateTxHash(a.cfg.Network, hash); err != nil {
		return 0, err
	}

	latest, err := a.latestHeight(ctx)
	if err != nil {
		return 0, err
	}

	var resp cosmosGetTxResponse
	if err := a.rest.getJSON(ctx, a.urls("/cosmos/tx/v1beta1/txs/"+hash), &resp); err != nil {
		return 0, err
	}
	if resp.TxResponse.Code != 0 {
		return 0, nil
	}

	height, err := strconv.ParseInt(resp.TxResponse.Height, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unparsable tx height %q", resp.TxResponse.Height)
	}
	if latest < height {
		return 0, nil
	}
	return latest - height, nil
}

func (a *CosmosAdapter) latestHeight(ctx context.Context) (int64, error) {
	var resp cosmosLatestBlockResponse
	if err := a.rest.getJSON(ctx, a.urls("/cosmos/base/tendermint/v1beta1/blocks/latest"), &resp); err != nil {
		return 0, err
	}
	height, err := strconv.ParseInt(resp.Block.Header.Height, 10, 64)
	if err != nil {
		return 0, types.NewAdapterUnavailable(a.cfg.Network, fmt.Errorf("unparsable latest height %q", resp.Block.Header.Height))
	}
	return height, nil
}

// urls builds the primary and fallback request URLs for an LCD path. The
// fallback_rpc entry for Cosmos networks is a second LCD base.
func (a *CosmosAdapter) urls(path string) []string {
	out := []string{a.cfg.RESTURL + path}
	if a.cfg.FallbackRPC != "" {
		out = append(out, a.cfg.FallbackRPC+path)
	}
	return out
}
