package verifier

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akash-mondal/twinkle-sub001/pkg/models"
	"github.com/akash-mondal/twinkle-sub001/pkg/testutil"
)

var now = time.Unix(1_750_000_000, 0)

func testDomain() Domain {
	return Domain{
		Name:              "X402Settlement",
		Version:           "1",
		ChainID:           big.NewInt(84532),
		VerifyingContract: common.HexToAddress("0x1111111111111111111111111111111111111111"),
	}
}

func testIntent(payer common.Address) models.PaymentIntent {
	return models.PaymentIntent{
		Payer:      payer,
		RequestID:  testutil.RequestID("verifier"),
		Amount:     big.NewInt(1_000_000),
		ValidUntil: uint64(now.Add(time.Hour).Unix()),
		Nonce:      big.NewInt(7),
	}
}

func newTestVerifier() *Verifier {
	return New(testDomain(), nil, WithClock(func() time.Time { return now }))
}

func TestVerifyValidSignature(t *testing.T) {
	key, payer := testutil.GenerateKey(t)
	intent := testIntent(payer)

	sig, err := SignIntent(key, testDomain(), intent)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.Contains(t, []byte{27, 28}, sig[64])

	res := newTestVerifier().Verify(intent, sig)
	assert.True(t, res.Valid, res.Message)
	assert.Equal(t, payer, res.RecoveredSigner)
	assert.Empty(t, res.Reason)

	// raw 0/1 recovery ids are accepted too
	raw := append([]byte(nil), sig...)
	raw[64] -= 27
	assert.True(t, newTestVerifier().Verify(intent, raw).Valid)
}

func TestVerifyPayerMismatchReportsRecoveredAddress(t *testing.T) {
	key, signer := testutil.GenerateKey(t)
	_, payer := testutil.GenerateKey(t)
	intent := testIntent(payer)

	sig, err := SignIntent(key, testDomain(), intent)
	require.NoError(t, err)

	res := newTestVerifier().Verify(intent, sig)
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonPayerMismatch, res.Reason)
	assert.Equal(t, signer, res.RecoveredSigner)
	assert.Contains(t, res.Message, signer.Hex())
}

func TestVerifyExpiredRegardlessOfSignature(t *testing.T) {
	key, payer := testutil.GenerateKey(t)
	intent := testIntent(payer)
	intent.ValidUntil = uint64(now.Add(-time.Second).Unix())

	sig, err := SignIntent(key, testDomain(), intent)
	require.NoError(t, err)

	tests := []struct {
		name string
		sig  []byte
	}{
		{"valid signature", sig},
		{"garbage signature", []byte{0x01, 0x02}},
		{"no signature", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := newTestVerifier().Verify(intent, tt.sig)
			assert.False(t, res.Valid)
			assert.Equal(t, ReasonIntentExpired, res.Reason)
		})
	}
}

func TestVerifyValidUntilIsInclusive(t *testing.T) {
	key, payer := testutil.GenerateKey(t)
	intent := testIntent(payer)
	intent.ValidUntil = uint64(now.Unix())

	sig, err := SignIntent(key, testDomain(), intent)
	require.NoError(t, err)
	assert.True(t, newTestVerifier().Verify(intent, sig).Valid)
}

func TestCheckExpiry(t *testing.T) {
	intent := testIntent(testutil.GenerateAddress())
	v := newTestVerifier()

	intent.ValidUntil = uint64(now.Unix())
	assert.True(t, v.CheckExpiry(intent).Valid)

	intent.ValidUntil = uint64(now.Unix()) - 1
	res := v.CheckExpiry(intent)
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonIntentExpired, res.Reason)
}

func TestVerifyDomainBinding(t *testing.T) {
	key, payer := testutil.GenerateKey(t)
	intent := testIntent(payer)

	tests := []struct {
		name   string
		mutate func(d *Domain)
	}{
		{"other chain", func(d *Domain) { d.ChainID = big.NewInt(8453) }},
		{"other contract", func(d *Domain) { d.VerifyingContract = common.HexToAddress("0x2222222222222222222222222222222222222222") }},
		{"other version", func(d *Domain) { d.Version = "2" }},
		{"other name", func(d *Domain) { d.Name = "Other" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			domain := testDomain()
			tt.mutate(&domain)
			sig, err := SignIntent(key, domain, intent)
			require.NoError(t, err)

			res := newTestVerifier().Verify(intent, sig)
			assert.False(t, res.Valid)
			assert.Equal(t, ReasonPayerMismatch, res.Reason)
		})
	}
}

func TestVerifyTamperedIntent(t *testing.T) {
	key, payer := testutil.GenerateKey(t)
	intent := testIntent(payer)
	sig, err := SignIntent(key, testDomain(), intent)
	require.NoError(t, err)

	intent.Amount = big.NewInt(2_000_000)
	res := newTestVerifier().Verify(intent, sig)
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonPayerMismatch, res.Reason)
}

func TestVerifyMalformedSignatures(t *testing.T) {
	key, payer := testutil.GenerateKey(t)
	intent := testIntent(payer)
	sig, err := SignIntent(key, testDomain(), intent)
	require.NoError(t, err)

	badV := append([]byte(nil), sig...)
	badV[64] = 5

	// flip s to n - s, which recovers the same key but is malleable
	highS := append([]byte(nil), sig...)
	s := new(big.Int).SetBytes(highS[32:64])
	s.Sub(crypto.S256().Params().N, s)
	copy(highS[32:64], common.LeftPadBytes(s.Bytes(), 32))

	tests := []struct {
		name string
		sig  []byte
	}{
		{"too short", sig[:64]},
		{"bad recovery id", badV},
		{"high s", highS},
		{"zero r and s", make([]byte, 65)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := newTestVerifier().Verify(intent, tt.sig)
			assert.False(t, res.Valid)
			assert.Equal(t, ReasonInvalidSignature, res.Reason)
		})
	}
}

func TestVerifyMissingFields(t *testing.T) {
	_, payer := testutil.GenerateKey(t)
	intent := testIntent(payer)
	intent.Amount = nil

	res := newTestVerifier().Verify(intent, make([]byte, 65))
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonInvalidPayload, res.Reason)
}

func TestHashIntentIsDeterministic(t *testing.T) {
	_, payer := testutil.GenerateKey(t)
	intent := testIntent(payer)

	first, err := HashIntent(testDomain(), intent)
	require.NoError(t, err)
	second, err := HashIntent(testDomain(), intent)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, first, 32)

	intent.Nonce = big.NewInt(8)
	third, err := HashIntent(testDomain(), intent)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}
