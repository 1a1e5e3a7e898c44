// Package matching implements the pure decision logic that decides whether a
// candidate transaction satisfies a payment intent. It performs no I/O: the
// caller resolves decimals and confirmation requirements from network config
// and passes them in as Rules.
package matching

import (
	"strings"

	"github.com/chainpay-io/chainpay/types"
	"github.com/chainpay-io/chainpay/utils"
)

// Outcome is the verdict for one (intent, candidate) pair.
type Outcome string

const (
	// OutcomeMatched: all five checks passed, the candidate satisfies the
	// intent.
	OutcomeMatched Outcome = "matched"

	// OutcomePending: the candidate would match but has not reached the
	// required confirmation depth. It must be reconsidered next sweep, not
	// rejected.
	OutcomePending Outcome = "pending"

	OutcomeNoMatch Outcome = "no_match"
)

// Rules carries the per-network parameters the checks depend on.
type Rules struct {
	// Decimals is the precision of the intent's currency on its network.
	Decimals int32

	// RequiredConfirmations is the finality threshold from network config.
	RequiredConfirmations int64

	// MemoReference is set for networks that propagate the intent reference
	// in a transfer memo. Without it the match rests on the (recipient,
	// token, amount, time-window) tuple only.
	MemoReference bool
}

// Result is an outcome plus the reason the candidate was held or rejected.
type Result struct {
	Outcome Outcome
	Reason  string
}

func matched() Result              { return Result{Outcome: OutcomeMatched} }
func pending(reason string) Result { return Result{Outcome: OutcomePending, Reason: reason} }
func noMatch(reason string) Result { return Result{Outcome: OutcomeNoMatch, Reason: reason} }

// Match decides whether candidate satisfies intent under rules.
//
// Checks, in order: network identity, token identity, amount (overpayment
// accepted, underpayment rejected), reference, finality. A candidate that
// passes everything but finality is Pending, not NoMatch.
func Match(intent *types.PaymentIntent, candidate *types.CandidateTransaction, rules Rules) Result {
	if intent.Network != candidate.Network {
		return noMatch("network mismatch")
	}

	if !tokenMatches(intent, candidate) {
		return noMatch("token mismatch")
	}

	if candidate.RawAmount == nil || candidate.RawAmount.Sign() <= 0 {
		return noMatch("no amount")
	}
	amount := utils.ToHumanUnits(candidate.RawAmount, rules.Decimals)
	if amount.LessThan(intent.ExpectedAmount) {
		return noMatch("underpayment")
	}

	if rules.MemoReference {
		if !strings.Contains(candidate.Memo, intent.Reference) {
			return noMatch("memo does not contain reference")
		}
	} else {
		// No reliable memo propagation on this network: require the
		// transfer to fall inside the intent's payment window.
		if candidate.Timestamp.Before(intent.CreatedAt) || candidate.Timestamp.After(intent.ExpiresAt) {
			return noMatch("outside payment window")
		}
	}

	if candidate.Confirmations < rules.RequiredConfirmations {
		return pending("awaiting confirmations")
	}

	return matched()
}

// tokenMatches enforces check 2: a token intent requires the exact contract
// or token ID; a native intent requires a native transfer.
func tokenMatches(intent *types.PaymentIntent, candidate *types.CandidateTransaction) bool {
	if intent.TokenID == "" {
		return candidate.TokenID == ""
	}
	return utils.SameAddress(intent.Network, intent.TokenID, candidate.TokenID)
}
