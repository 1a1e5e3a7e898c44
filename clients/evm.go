package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/chainpay-io/chainpay/logger"
	"github.com/chainpay-io/chainpay/metrics"
	"github.com/chainpay-io/chainpay/types"
	"github.com/chainpay-io/chainpay/utils"
)

// EVMAdapter serves the EVM-compatible networks (Ethereum, BSC, Polygon).
// Candidate discovery goes through the network's Etherscan-style explorer
// API; confirmation depth is read from the JSON-RPC node via ethclient, with
// the fallback RPC tried when the primary is down.
type EVMAdapter struct {
	cfg  types.NetworkConfig
	rest *restClient
	log  logger.Logger

	primary  *ethclient.Client
	fallback *ethclient.Client
}

var _ Adapter = (*EVMAdapter)(nil)

func NewEVMAdapter(cfg types.NetworkConfig, log logger.Logger, rec metrics.Recorder) (*EVMAdapter, error) {
	if log == nil {
		log = logger.NoopLogger{}
	}
	if !cfg.Network.IsEVM() {
		return nil, types.NewConfigError("network %s is not an EVM network", cfg.Network)
	}
	if cfg.ScanAPIURL == "" {
		return nil, types.NewConfigError("%s: scan_api_url is required", cfg.Network)
	}
	if cfg.RPCURL == "" {
		return nil, types.NewConfigError("%s: rpc_url is required", cfg.Network)
	}

	primary, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, types.NewConfigError("%s: dial rpc: %v", cfg.Network, err)
	}

	var fallback *ethclient.Client
	if cfg.FallbackRPC != "" {
		if fallback, err = ethclient.Dial(cfg.FallbackRPC); err != nil {
			return nil, types.NewConfigError("%s: dial fallback rpc: %v", cfg.Network, err)
		}
	}

	return &EVMAdapter{
		cfg:      cfg,
		rest:     newRestClient(cfg.Network, log, rec),
		log:      log,
		primary:  primary,
		fallback: fallback,
	}, nil
}

func (a *EVMAdapter) Network() types.Network {
	return a.cfg.Network
}

// scanListResponse is the Etherscan-style envelope. Result is an array on
// success and a bare string on errors ("Max rate limit reached"), so it stays
// raw until the status is known.
type scanListResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type scanTx struct {
	Hash            string `json:"hash"`
	From            string `json:"from"`
	To              string `json:"to"`
	Value           string `json:"value"`
	ContractAddress string `json:"contractAddress"`
	TimeStamp       string `json:"timeStamp"`
	Confirmations   string `json:"confirmations"`
	IsError         string `json:"isError"`
}

func (a *EVMAdapter) FindCandidates(ctx context.Context, recipient, tokenID string, since time.Time) ([]types.CandidateTransaction, error) {
	if !common.IsHexAddress(recipient) {
		return nil, fmt.Errorf("invalid EVM recipient address %q", recipient)
	}

	q := url.Values{}
	q.Set("module", "account")
	q.Set("address", recipient)
	q.Set("page", "1")
	q.Set("offset", "100")
	q.Set("sort", "desc")
	if a.cfg.ScanAPIKey != "" {
		q.Set("apikey", a.cfg.ScanAPIKey)
	}
	if tokenID != "" {
		if !common.IsHexAddress(tokenID) {
			return nil, fmt.Errorf("invalid token contract address %q", tokenID)
		}
		q.Set("action", "tokentx")
		q.Set("contractaddress", tokenID)
	} else {
		q.Set("action", "txlist")
	}

	var resp scanListResponse
	if err := a.rest.getJSON(ctx, []string{a.cfg.ScanAPIURL + "?" + q.Encode()}, &resp); err != nil {
		return nil, err
	}

	// Status "0" with an empty result means no transactions, not a failure.
	var txs []scanTx
	if err := json.Unmarshal(resp.Result, &txs); err != nil {
		if resp.Status == "0" {
			return nil, nil
		}
		return nil, types.NewAdapterUnavailable(a.cfg.Network, fmt.Errorf("scan api: %s", strings.TrimSpace(string(resp.Result))))
	}

	candidates := make([]types.CandidateTransaction, 0, len(txs))
	for _, tx := range txs {
		if !strings.EqualFold(tx.To, recipient) {
			continue
		}
		if tokenID == "" && tx.IsError != "" && tx.IsError != "0" {
			continue
		}

		ts, err := strconv.ParseInt(tx.TimeStamp, 10, 64)
		if err != nil || time.Unix(ts, 0).Before(since) {
			continue
		}

		raw, err := utils.ParseBigInt(tx.Value)
		if err != nil {
			a.log.Debug("skipping candidate", map[string]any{
				"network": a.cfg.Network, "hash": tx.Hash, "reason": ReasonUnparsableAmount,
			})
			continue
		}
		if raw.Sign() <= 0 {
			continue
		}

		confirmations, _ := strconv.ParseInt(tx.Confirmations, 10, 64)

		candidate := types.CandidateTransaction{
			Hash:             tx.Hash,
			Network:          a.cfg.Network,
			SenderAddress:    tx.From,
			RecipientAddress: tx.To,
			RawAmount:        raw,
			Confirmations:    confirmations,
			Timestamp:        time.Unix(ts, 0).UTC(),
		}
		if tokenID != "" {
			candidate.TokenID = tx.ContractAddress
			if candidate.TokenID == "" {
				candidate.TokenID = tokenID
			}
		}
		candidates = append(candidates, candidate)
	}
	return candidates, nil
}

// ConfirmationDepth computes currentBlock - txBlock against the JSON-RPC
// node, trying the fallback RPC when the primary fails.
func (a *EVMAdapter) ConfirmationDepth(ctx context.Context, hash string) (int64, error) {
	callCtx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	var lastErr error
	for _, cl := range []*ethclient.Client{a.primary, a.fallback} {
		if cl == nil {
			continue
		}
		depth, err := a.depthFrom(callCtx, cl, hash)
		if err == nil {
			return depth, nil
		}
		lastErr = err
	}
	return 0, types.NewAdapterUnavailable(a.cfg.Network, lastErr)
}

func (a *EVMAdapter) depthFrom(ctx context.Context, cl *ethclient.Client, hash string) (int64, error) {
	receipt, err := cl.TransactionReceipt(ctx, common.HexToHash(hash))
	if err != nil {
		return 0, err
	}
	head, err := cl.BlockNumber(ctx)
	if err != nil {
		return 0, err
	}

	txBlock := receipt.BlockNumber.Uint64()
	if head < txBlock {
		return 0, nil
	}
	return int64(head - txBlock), nil
}

// Close releases the underlying RPC connections.
func (a *EVMAdapter) Close() {
	a.primary.Close()
	if a.fallback != nil {
		a.fallback.Close()
	}
}
