package clients

// Adapter-level reason strings attached to skipped or rejected candidates in
// logs. Matching outcomes themselves live in the matching package.
const (
	// -----------------------------
	// ENDPOINT
	// -----------------------------
	ReasonEndpointUnreachable = "endpoint_unreachable"
	ReasonBadStatus           = "unexpected_status"
	ReasonMalformedResponse   = "malformed_response"

	// -----------------------------
	// TRANSACTION SHAPE
	// -----------------------------
	ReasonNotATransfer     = "not_a_transfer"
	ReasonWrongRecipient   = "wrong_recipient"
	ReasonWrongToken       = "wrong_token"
	ReasonFailedOnChain    = "failed_on_chain"
	ReasonUnparsableAmount = "unparsable_amount"
)
