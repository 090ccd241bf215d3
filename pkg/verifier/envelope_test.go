package verifier

import (
	"encoding/base64"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akash-mondal/twinkle-sub001/pkg/testutil"
)

var (
	testToken     = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testRecipient = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

func testRequirements() PaymentRequirements {
	return PaymentRequirements{
		Scheme:            SchemeExact,
		Network:           "eip155:84532",
		Asset:             strings.ToLower(testToken.Hex()),
		PayTo:             testRecipient.Hex(),
		MaxAmountRequired: "1000000",
		Resource:          "https://api.example.org/report",
	}
}

func TestEnvelopeRoundTripThroughHeader(t *testing.T) {
	key, payer := testutil.GenerateKey(t)
	intent := testIntent(payer)
	sig, err := SignIntent(key, testDomain(), intent)
	require.NoError(t, err)

	header, err := EncodePaymentHeader(NewPaymentPayload(big.NewInt(84532), intent, sig))
	require.NoError(t, err)

	payload, err := DecodePaymentHeader(header)
	require.NoError(t, err)

	adapter := NewEnvelopeAdapter(big.NewInt(84532), testToken, testRecipient)
	req, res := adapter.Adapt(payload, testRequirements())
	require.True(t, res.Valid, res.Message)
	require.NotNil(t, req)

	assert.Equal(t, intent.Payer, req.Intent.Payer)
	assert.Equal(t, intent.RequestID, req.Intent.RequestID)
	testutil.AssertBigIntEqual(t, intent.Amount, req.Intent.Amount)
	testutil.AssertBigIntEqual(t, intent.Nonce, req.Intent.Nonce)
	assert.Equal(t, intent.ValidUntil, req.Intent.ValidUntil)
	assert.Equal(t, sig, req.Signature)

	assert.True(t, newTestVerifier().Verify(req.Intent, req.Signature).Valid)
}

func TestEnvelopeRejections(t *testing.T) {
	key, payer := testutil.GenerateKey(t)
	intent := testIntent(payer)
	sig, err := SignIntent(key, testDomain(), intent)
	require.NoError(t, err)

	tests := []struct {
		name       string
		mutate     func(p *PaymentPayload, r *PaymentRequirements)
		wantReason string
	}{
		{"wrong version", func(p *PaymentPayload, _ *PaymentRequirements) { p.X402Version = 9 }, ReasonInvalidPayload},
		{"payload scheme", func(p *PaymentPayload, _ *PaymentRequirements) { p.Scheme = "upto" }, ReasonUnsupportedScheme},
		{"requirements scheme", func(_ *PaymentPayload, r *PaymentRequirements) { r.Scheme = "upto" }, ReasonUnsupportedScheme},
		{"payload network", func(p *PaymentPayload, _ *PaymentRequirements) { p.Network = "eip155:8453" }, ReasonNetworkMismatch},
		{"legacy network name", func(_ *PaymentPayload, r *PaymentRequirements) { r.Network = "base-sepolia" }, ReasonNetworkMismatch},
		{"other asset", func(_ *PaymentPayload, r *PaymentRequirements) { r.Asset = testRecipient.Hex() }, ReasonAssetMismatch},
		{"malformed asset", func(_ *PaymentPayload, r *PaymentRequirements) { r.Asset = "usdc" }, ReasonAssetMismatch},
		{"other recipient", func(_ *PaymentPayload, r *PaymentRequirements) { r.PayTo = testToken.Hex() }, ReasonRecipientMismatch},
		{"amount below required", func(_ *PaymentPayload, r *PaymentRequirements) { r.MaxAmountRequired = "1000001" }, ReasonInsufficientAmount},
		{"bad required amount", func(_ *PaymentPayload, r *PaymentRequirements) { r.MaxAmountRequired = "1e6" }, ReasonInvalidPayload},
		{"bad payer", func(p *PaymentPayload, _ *PaymentRequirements) { p.Payload.Intent.Payer = "0x12" }, ReasonInvalidPayload},
		{"short request id", func(p *PaymentPayload, _ *PaymentRequirements) { p.Payload.Intent.RequestID = "0xabcd" }, ReasonInvalidPayload},
		{"negative amount", func(p *PaymentPayload, _ *PaymentRequirements) { p.Payload.Intent.Amount = "-1" }, ReasonInvalidPayload},
		{"bad validUntil", func(p *PaymentPayload, _ *PaymentRequirements) { p.Payload.Intent.ValidUntil = "tomorrow" }, ReasonInvalidPayload},
		{"bad nonce", func(p *PaymentPayload, _ *PaymentRequirements) { p.Payload.Intent.Nonce = "" }, ReasonInvalidPayload},
		{"bad signature hex", func(p *PaymentPayload, _ *PaymentRequirements) { p.Payload.Signature = "zz" }, ReasonInvalidSignature},
	}

	adapter := NewEnvelopeAdapter(big.NewInt(84532), testToken, testRecipient)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := NewPaymentPayload(big.NewInt(84532), intent, sig)
			requirements := testRequirements()
			tt.mutate(payload, &requirements)

			req, res := adapter.Adapt(payload, requirements)
			assert.Nil(t, req)
			assert.False(t, res.Valid)
			assert.Equal(t, tt.wantReason, res.Reason)
			assert.NotEmpty(t, res.Message)
		})
	}
}

func TestEnvelopeAmountAboveRequiredIsAccepted(t *testing.T) {
	_, payer := testutil.GenerateKey(t)
	intent := testIntent(payer)
	intent.Amount = big.NewInt(5_000_000)

	adapter := NewEnvelopeAdapter(big.NewInt(84532), testToken, testRecipient)
	req, res := adapter.Adapt(NewPaymentPayload(big.NewInt(84532), intent, make([]byte, 65)), testRequirements())
	require.True(t, res.Valid, res.Message)
	testutil.AssertBigIntEqual(t, big.NewInt(5_000_000), req.Intent.Amount)
}

func TestDecodePaymentHeaderErrors(t *testing.T) {
	_, err := DecodePaymentHeader("not base64!")
	assert.ErrorContains(t, err, "failed to decode payment header")

	_, err = DecodePaymentHeader(base64.StdEncoding.EncodeToString([]byte("{")))
	assert.ErrorContains(t, err, "failed to unmarshal payment payload")

	_, res := NewEnvelopeAdapter(big.NewInt(1), testToken, testRecipient).Adapt(nil, testRequirements())
	assert.Equal(t, ReasonInvalidPayload, res.Reason)
}

func TestNetworkID(t *testing.T) {
	assert.Equal(t, "eip155:8453", NetworkID(big.NewInt(8453)))
}
