package clients

import (
	"context"
	"encoding/base64"
	"math/big"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chainpay-io/chainpay/logger"
	"github.com/chainpay-io/chainpay/metrics"
	"github.com/chainpay-io/chainpay/types"
	"github.com/chainpay-io/chainpay/utils"
)

// HederaAdapter reads the public mirror-node REST API. Hedera finality is
// effectively binary: a transaction present on the mirror node with result
// SUCCESS is final, so confirmation depth is reported as 1.
type HederaAdapter struct {
	cfg  types.NetworkConfig
	rest *restClient
	log  logger.Logger
}

var _ Adapter = (*HederaAdapter)(nil)

func NewHederaAdapter(cfg types.NetworkConfig, log logger.Logger, rec metrics.Recorder) (*HederaAdapter, error) {
	if log == nil {
		log = logger.NoopLogger{}
	}
	if !cfg.Network.IsHedera() {
		return nil, types.NewConfigError("network %s is not a Hedera network", cfg.Network)
	}
	if cfg.MirrorNodeURL == "" {
		return nil, types.NewConfigError("%s: mirror_node is required", cfg.Network)
	}
	if cfg.OperatorID == "" {
		return nil, types.NewConfigError("%s: operator_id is required", cfg.Network)
	}

	return &HederaAdapter{
		cfg:  cfg,
		rest: newRestClient(cfg.Network, log, rec),
		log:  log,
	}, nil
}

func (a *HederaAdapter) Network() types.Network {
	return a.cfg.Network
}

type mirrorTransfer struct {
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
}

type mirrorTokenTransfer struct {
	TokenID string `json:"token_id"`
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
}

type mirrorTransaction struct {
	TransactionID      string                `json:"transaction_id"`
	ConsensusTimestamp string                `json:"consensus_timestamp"`
	MemoBase64         string                `json:"memo_base64"`
	Result             string                `json:"result"`
	Transfers          []mirrorTransfer      `json:"transfers"`
	TokenTransfers     []mirrorTokenTransfer `json:"token_transfers"`
}

type mirrorTransactionsResponse struct {
	Transactions []mirrorTransaction `json:"transactions"`
}

func (a *HederaAdapter) FindCandidates(ctx context.Context, recipient, tokenID string, since time.Time) ([]types.CandidateTransaction, error) {
	if err := utils.ValidateAddress(a.cfg.Network, recipient); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("account.id", recipient)
	q.Set("transactiontype", "CRYPTOTRANSFER")
	q.Set("result", "success")
	q.Set("limit", "100")
	q.Set("order", "desc")
	path := "/api/v1/transactions?" + q.Encode()

	var resp mirrorTransactionsResponse
	urls := []string{a.cfg.MirrorNodeURL + path}
	if a.cfg.FallbackMirror != "" {
		urls = append(urls, a.cfg.FallbackMirror+path)
	}
	if err := a.rest.getJSON(ctx, urls, &resp); err != nil {
		return nil, err
	}

	var candidates []types.CandidateTransaction
	for _, tx := range resp.Transactions {
		if !strings.EqualFold(tx.Result, "SUCCESS") {
			continue
		}
		ts := parseConsensusTimestamp(tx.ConsensusTimestamp)
		if ts.Before(since) {
			continue
		}

		candidate, ok := a.extractTransfer(tx, recipient, tokenID)
		if !ok {
			continue
		}
		candidate.Timestamp = ts
		candidate.Memo = decodeMemo(tx.MemoBase64)
		candidates = append(candidates, candidate)
	}
	return candidates, nil
}

// extractTransfer pulls the credit to recipient out of the transaction's
// transfer lists. Amounts are in tinybars for HBAR and in the token's
// smallest unit for token transfers.
func (a *HederaAdapter) extractTransfer(tx mirrorTransaction, recipient, tokenID string) (types.CandidateTransaction, bool) {
	candidate := types.CandidateTransaction{
		Hash:             tx.TransactionID,
		Network:          a.cfg.Network,
		RecipientAddress: recipient,
		Confirmations:    1,
	}

	if tokenID != "" {
		for _, tt := range tx.TokenTransfers {
			if tt.TokenID != tokenID {
				continue
			}
			if tt.Account == recipient && tt.Amount > 0 {
				candidate.TokenID = tt.TokenID
				candidate.RawAmount = big.NewInt(tt.Amount)
			}
			if tt.Amount < 0 {
				candidate.SenderAddress = tt.Account
			}
		}
		return candidate, candidate.RawAmount != nil
	}

	// The largest debit is the payer; smaller debits are node and service
	// fees.
	var largestDebit int64
	for _, tr := range tx.Transfers {
		if tr.Account == recipient && tr.Amount > 0 {
			candidate.RawAmount = big.NewInt(tr.Amount)
		}
		if tr.Amount < largestDebit {
			largestDebit = tr.Amount
			candidate.SenderAddress = tr.Account
		}
	}
	return candidate, candidate.RawAmount != nil
}

// ConfirmationDepth reports 1 for any transaction the mirror node has with
// result SUCCESS, 0 otherwise.
func (a *HederaAdapter) ConfirmationDepth(ctx context.Context, hash string) (int64, error) {
	path := "/api/v1/transactions/" + url.PathEscape(hash)

	var resp mirrorTransactionsResponse
	urls := []string{a.cfg.MirrorNodeURL + path}
	if a.cfg.FallbackMirror != "" {
		urls = append(urls, a.cfg.FallbackMirror+path)
	}
	if err := a.rest.getJSON(ctx, urls, &resp); err != nil {
		return 0, err
	}

	for _, tx := range resp.Transactions {
		if strings.EqualFold(tx.Result, "SUCCESS") {
			return 1, nil
		}
	}
	return 0, nil
}

func decodeMemo(b64 string) string {
	if b64 == "" {
		return ""
	}
	memo, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return ""
	}
	return string(memo)
}

// parseConsensusTimestamp parses the mirror node's "seconds.nanoseconds"
// consensus timestamps.
func parseConsensusTimestamp(s string) time.Time {
	secPart, nsecPart, _ := strings.Cut(s, ".")
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var nsec int64
	if nsecPart != "" {
		if len(nsecPart) < 9 {
			nsecPart += strings.Repeat("0", 9-len(nsecPart))
		}
		nsec, _ = strconv.ParseInt(nsecPart[:9], 10, 64)
	}
	return time.Unix(sec, nsec).UTC()
}
