package registry

import (
	"encoding/json"
	"fmt"

	"github.com/chainpay-io/chainpay/types"
)

// IntentDetails is everything a checkout page needs to render a payment
// prompt: the bare intent, per-wallet deep links, and a QR payload the
// wallet apps can scan.
type IntentDetails struct {
	Intent    types.PaymentIntent `json:"intent"`
	DeepLinks map[string]string   `json:"deep_links,omitempty"`
	QRPayload string              `json:"qr_payload"`
}

// qrPayload is the JSON document encoded into the QR code. Amount is the
// human-unit string so wallets don't need the decimal table.
type qrPayload struct {
	Network   string `json:"network"`
	Recipient string `json:"recipient"`
	TokenID   string `json:"token_id,omitempty"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Memo      string `json:"memo,omitempty"`
	Reference string `json:"reference"`
}

// Details builds the renderable view of an intent. Deep links come from the
// wallets configured for the intent's network.
func (r *Registry) Details(intent types.PaymentIntent) (IntentDetails, error) {
	nc, err := r.networks.Network(intent.Network)
	if err != nil {
		return IntentDetails{}, err
	}

	payload := qrPayload{
		Network:   intent.Network.String(),
		Recipient: intent.RecipientAddress,
		TokenID:   intent.TokenID,
		Amount:    intent.ExpectedAmount.String(),
		Currency:  intent.Currency,
		Reference: intent.Reference,
	}
	if intent.Network.SupportsMemo() {
		payload.Memo = intent.Memo
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return IntentDetails{}, fmt.Errorf("encoding qr payload: %w", err)
	}

	links := make(map[string]string, len(nc.Wallets))
	for wallet, scheme := range nc.Wallets {
		links[wallet] = deepLink(scheme, intent)
	}

	return IntentDetails{
		Intent:    intent,
		DeepLinks: links,
		QRPayload: string(raw),
	}, nil
}

// deepLink renders a wallet-specific URI. Each wallet family has its own
// convention; unknown schemes fall back to scheme://pay with query params.
func deepLink(scheme string, intent types.PaymentIntent) string {
	switch scheme {
	case "hashpack":
		return fmt.Sprintf("hashpack://pay?to=%s&amount=%s&memo=%s",
			intent.RecipientAddress, intent.ExpectedAmount, intent.Memo)
	case "keplr":
		return fmt.Sprintf("keplr://send?recipient=%s&amount=%s&memo=%s",
			intent.RecipientAddress, intent.ExpectedAmount, intent.Memo)
	case "metamask":
		if intent.TokenID != "" {
			return fmt.Sprintf("metamask://transfer?address=%s&to=%s&amount=%s",
				intent.TokenID, intent.RecipientAddress, intent.ExpectedAmount)
		}
		return fmt.Sprintf("metamask://send?to=%s&amount=%s",
			intent.RecipientAddress, intent.ExpectedAmount)
	default:
		return fmt.Sprintf("%s://pay?to=%s&amount=%s&reference=%s",
			scheme, intent.RecipientAddress, intent.ExpectedAmount, intent.Reference)
	}
}
