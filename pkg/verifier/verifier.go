package verifier

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/akash-mondal/twinkle-sub001/pkg/logger"
	"github.com/akash-mondal/twinkle-sub001/pkg/metrics"
	"github.com/akash-mondal/twinkle-sub001/pkg/models"
)

// Reason codes reported for validation failures
const (
	ReasonInvalidSignature   = "invalid_signature"
	ReasonPayerMismatch      = "payer_mismatch"
	ReasonIntentExpired      = "intent_expired"
	ReasonUnsupportedScheme  = "unsupported_scheme"
	ReasonNetworkMismatch    = "network_mismatch"
	ReasonAssetMismatch      = "asset_mismatch"
	ReasonRecipientMismatch  = "recipient_mismatch"
	ReasonInsufficientAmount = "insufficient_amount"
	ReasonInvalidPayload     = "invalid_payload"
)

// PrimaryType is the EIP-712 struct name the settlement contract verifies
const PrimaryType = "PaymentIntent"

// ErrInvalidSignatureFormat is returned for signatures that are not 65-byte r||s||v
var ErrInvalidSignatureFormat = errors.New("invalid signature format")

var intentTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	PrimaryType: []apitypes.Type{
		{Name: "payer", Type: "address"},
		{Name: "requestId", Type: "bytes32"},
		{Name: "amount", Type: "uint256"},
		{Name: "validUntil", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
	},
}

// Domain binds signatures to one settlement contract on one chain.
// It must match the contract's EIP-712 domain exactly, version included.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// Result is the outcome of a verification. Reason is one of the Reason codes.
type Result struct {
	Valid           bool
	Reason          string
	Message         string
	RecoveredSigner common.Address
}

func invalid(reason, format string, args ...interface{}) Result {
	metrics.VerificationFailures.WithLabelValues(reason).Inc()
	return Result{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Verifier checks payer signatures over payment intents
type Verifier struct {
	domain Domain
	now    func() time.Time
	logger logger.Logger
}

// Option customizes a Verifier
type Option func(*Verifier)

// WithClock replaces the wall clock used for expiry
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// New creates a verifier for domain
func New(domain Domain, log logger.Logger, opts ...Option) *Verifier {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	v := &Verifier{
		domain: domain,
		now:    time.Now,
		logger: log,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Domain returns the verifier's EIP-712 domain
func (v *Verifier) Domain() Domain {
	return v.domain
}

// CheckExpiry rejects an intent whose validUntil has passed. validUntil itself is still valid.
func (v *Verifier) CheckExpiry(intent models.PaymentIntent) Result {
	now := uint64(v.now().Unix())
	if now > intent.ValidUntil {
		v.logger.DebugWithRequest(intent.RequestIDHex(), "Intent expired at %d (now %d)", intent.ValidUntil, now)
		return invalid(ReasonIntentExpired, "intent expired at %d, current time %d", intent.ValidUntil, now)
	}
	return Result{Valid: true}
}

// Verify checks expiry first, then recovers the signer and compares it to the payer.
// An invalid result is final for this signature.
func (v *Verifier) Verify(intent models.PaymentIntent, signature []byte) Result {
	requestID := intent.RequestIDHex()

	if intent.Amount == nil || intent.Nonce == nil {
		return invalid(ReasonInvalidPayload, "intent is missing amount or nonce")
	}
	if intent.Amount.Sign() < 0 || intent.Nonce.Sign() < 0 {
		return invalid(ReasonInvalidPayload, "intent amount and nonce must not be negative")
	}

	if res := v.CheckExpiry(intent); !res.Valid {
		return res
	}

	signer, err := RecoverSigner(v.domain, intent, signature)
	if err != nil {
		return invalid(ReasonInvalidSignature, "%v", err)
	}

	if signer != intent.Payer {
		v.logger.DebugWithRequest(requestID, "Signature recovered to %s, payer is %s", signer.Hex(), intent.Payer.Hex())
		res := invalid(ReasonPayerMismatch, "signature recovered to %s, expected payer %s", signer.Hex(), intent.Payer.Hex())
		res.RecoveredSigner = signer
		return res
	}

	return Result{Valid: true, RecoveredSigner: signer}
}

func typedData(domain Domain, intent models.PaymentIntent) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       intentTypes,
		PrimaryType: PrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"payer":      intent.Payer.Hex(),
			"requestId":  common.BytesToHash(intent.RequestID[:]).Hex(),
			"amount":     (*math.HexOrDecimal256)(intent.Amount),
			"validUntil": (*math.HexOrDecimal256)(new(big.Int).SetUint64(intent.ValidUntil)),
			"nonce":      (*math.HexOrDecimal256)(intent.Nonce),
		},
	}
}

// HashIntent returns the EIP-712 digest keccak256(0x1901 || domainSeparator || structHash)
func HashIntent(domain Domain, intent models.PaymentIntent) ([]byte, error) {
	td := typedData(domain, intent)

	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	messageHash, err := td.HashStruct(PrimaryType, td.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash intent: %w", err)
	}

	rawData := append([]byte{0x19, 0x01}, append(domainSeparator, messageHash...)...)
	return crypto.Keccak256(rawData), nil
}

// SignIntent produces the 65-byte signature a payer client would send, with v in {27, 28}
func SignIntent(key *ecdsa.PrivateKey, domain Domain, intent models.PaymentIntent) ([]byte, error) {
	digest, err := HashIntent(domain, intent)
	if err != nil {
		return nil, err
	}

	signature, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign intent: %w", err)
	}

	signature[64] += 27
	return signature, nil
}

// RecoverSigner returns the address that signed intent under domain.
// Malleable (high-s) signatures are rejected.
func RecoverSigner(domain Domain, intent models.PaymentIntent, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSignatureFormat, crypto.SignatureLength, len(signature))
	}

	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return common.Address{}, fmt.Errorf("%w: invalid recovery id %d", ErrInvalidSignatureFormat, signature[64])
	}

	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if !crypto.ValidateSignatureValues(sig[64], r, s, true) {
		return common.Address{}, fmt.Errorf("%w: signature values out of range", ErrInvalidSignatureFormat)
	}

	digest, err := HashIntent(domain, intent)
	if err != nil {
		return common.Address{}, err
	}

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
