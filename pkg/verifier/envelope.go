package verifier

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/akash-mondal/twinkle-sub001/pkg/models"
)

const (
	// SchemeExact is the only payment scheme settled by the contract
	SchemeExact = "exact"
	// X402Version is the protocol version of the envelope
	X402Version = 1
)

// PaymentRequirements is what the resource server asked the payer for
type PaymentRequirements struct {
	Scheme            string `json:"scheme"`
	Network           string `json:"network"`
	Asset             string `json:"asset"`
	PayTo             string `json:"payTo"`
	MaxAmountRequired string `json:"maxAmountRequired"`
	Resource          string `json:"resource,omitempty"`
	Description       string `json:"description,omitempty"`
}

// IntentPayload is the wire form of a PaymentIntent; integers are decimal strings
type IntentPayload struct {
	Payer      string `json:"payer"`
	RequestID  string `json:"requestId"`
	Amount     string `json:"amount"`
	ValidUntil string `json:"validUntil"`
	Nonce      string `json:"nonce"`
}

// ExactPayload carries the signed intent for the exact scheme
type ExactPayload struct {
	Signature string        `json:"signature"`
	Intent    IntentPayload `json:"intent"`
}

// PaymentPayload is the decoded X-PAYMENT header
type PaymentPayload struct {
	X402Version int          `json:"x402Version"`
	Scheme      string       `json:"scheme"`
	Network     string       `json:"network"`
	Payload     ExactPayload `json:"payload"`
}

// DecodePaymentHeader decodes a base64 JSON X-PAYMENT header value
func DecodePaymentHeader(header string) (*PaymentPayload, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header))
	if err != nil {
		return nil, fmt.Errorf("failed to decode payment header: %w", err)
	}

	var payload PaymentPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment payload: %w", err)
	}
	return &payload, nil
}

// EncodePaymentHeader is the inverse of DecodePaymentHeader
func EncodePaymentHeader(payload *PaymentPayload) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// NetworkID returns the CAIP-2 identifier of an EVM chain
func NetworkID(chainID *big.Int) string {
	return "eip155:" + chainID.String()
}

// NewPaymentPayload builds the envelope a client sends for a signed intent
func NewPaymentPayload(chainID *big.Int, intent models.PaymentIntent, signature []byte) *PaymentPayload {
	return &PaymentPayload{
		X402Version: X402Version,
		Scheme:      SchemeExact,
		Network:     NetworkID(chainID),
		Payload: ExactPayload{
			Signature: hexutil.Encode(signature),
			Intent: IntentPayload{
				Payer:      intent.Payer.Hex(),
				RequestID:  intent.RequestIDHex(),
				Amount:     intent.Amount.String(),
				ValidUntil: strconv.FormatUint(intent.ValidUntil, 10),
				Nonce:      intent.Nonce.String(),
			},
		},
	}
}

// EnvelopeAdapter turns a protocol envelope into a settlement request after
// checking it targets this facilitator's chain, token and recipient
type EnvelopeAdapter struct {
	chainID   *big.Int
	token     common.Address
	recipient common.Address
}

// NewEnvelopeAdapter creates an adapter for the configured chain, settlement token and recipient
func NewEnvelopeAdapter(chainID *big.Int, token, recipient common.Address) *EnvelopeAdapter {
	return &EnvelopeAdapter{chainID: chainID, token: token, recipient: recipient}
}

// Adapt validates payload against requirements. A failing Result is a terminal
// validation failure; the signature itself is checked later by Verify.
func (a *EnvelopeAdapter) Adapt(payload *PaymentPayload, requirements PaymentRequirements) (*models.SettlementRequest, Result) {
	if payload == nil {
		return nil, invalid(ReasonInvalidPayload, "missing payment payload")
	}
	if payload.X402Version != X402Version {
		return nil, invalid(ReasonInvalidPayload, "unsupported x402 version %d", payload.X402Version)
	}
	if payload.Scheme != SchemeExact || requirements.Scheme != SchemeExact {
		return nil, invalid(ReasonUnsupportedScheme, "unsupported scheme %q, expected %q", payload.Scheme, SchemeExact)
	}

	network := NetworkID(a.chainID)
	if payload.Network != network || requirements.Network != network {
		return nil, invalid(ReasonNetworkMismatch, "network %q does not match configured %s", payload.Network, network)
	}

	if !common.IsHexAddress(requirements.Asset) || common.HexToAddress(requirements.Asset) != a.token {
		return nil, invalid(ReasonAssetMismatch, "asset %s is not the settlement token %s", requirements.Asset, a.token.Hex())
	}
	if !common.IsHexAddress(requirements.PayTo) || common.HexToAddress(requirements.PayTo) != a.recipient {
		return nil, invalid(ReasonRecipientMismatch, "payTo %s is not the settlement recipient %s", requirements.PayTo, a.recipient.Hex())
	}

	required, ok := new(big.Int).SetString(requirements.MaxAmountRequired, 10)
	if !ok || required.Sign() < 0 {
		return nil, invalid(ReasonInvalidPayload, "invalid maxAmountRequired %q", requirements.MaxAmountRequired)
	}

	intent, err := parseIntent(payload.Payload.Intent)
	if err != nil {
		return nil, invalid(ReasonInvalidPayload, "%v", err)
	}
	if intent.Amount.Cmp(required) < 0 {
		return nil, invalid(ReasonInsufficientAmount, "amount %s is less than required %s", intent.Amount, required)
	}

	signature, err := hexutil.Decode(payload.Payload.Signature)
	if err != nil {
		return nil, invalid(ReasonInvalidSignature, "invalid signature encoding: %v", err)
	}

	return &models.SettlementRequest{Intent: intent, Signature: signature}, Result{Valid: true}
}

func parseIntent(p IntentPayload) (models.PaymentIntent, error) {
	if !common.IsHexAddress(p.Payer) {
		return models.PaymentIntent{}, fmt.Errorf("invalid payer %q", p.Payer)
	}

	requestID, err := hexutil.Decode(p.RequestID)
	if err != nil || len(requestID) != 32 {
		return models.PaymentIntent{}, fmt.Errorf("invalid requestId %q", p.RequestID)
	}

	amount, ok := new(big.Int).SetString(p.Amount, 10)
	if !ok || amount.Sign() < 0 {
		return models.PaymentIntent{}, fmt.Errorf("invalid amount %q", p.Amount)
	}

	validUntil, err := strconv.ParseUint(p.ValidUntil, 10, 64)
	if err != nil {
		return models.PaymentIntent{}, fmt.Errorf("invalid validUntil %q", p.ValidUntil)
	}

	nonce, ok := new(big.Int).SetString(p.Nonce, 10)
	if !ok || nonce.Sign() < 0 {
		return models.PaymentIntent{}, fmt.Errorf("invalid nonce %q", p.Nonce)
	}

	intent := models.PaymentIntent{
		Payer:      common.HexToAddress(p.Payer),
		Amount:     amount,
		ValidUntil: validUntil,
		Nonce:      nonce,
	}
	copy(intent.RequestID[:], requestID)
	return intent, nil
}
