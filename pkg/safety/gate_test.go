package safety

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akash-mondal/twinkle-sub001/pkg/models"
	"github.com/akash-mondal/twinkle-sub001/pkg/settlement/mocks"
	"github.com/akash-mondal/twinkle-sub001/pkg/testutil"
)

var (
	tokenAddr = common.HexToAddress("0x2222222222222222222222222222222222222222")
	spender   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	recipient = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

func newTestGate(token *mocks.Token) *Gate {
	return NewGate(token, tokenAddr, spender, recipient, nil)
}

func TestGateSafe(t *testing.T) {
	payer := testutil.GenerateAddress()
	token := mocks.NewToken()
	token.Fund(payer, 500, 200)

	res := newTestGate(token).Check(context.Background(), "req", payer, big.NewInt(100))
	assert.True(t, res.Safe)
	assert.Empty(t, res.Code)
	testutil.AssertBigIntEqual(t, big.NewInt(500), res.Details.Balance)
	testutil.AssertBigIntEqual(t, big.NewInt(200), res.Details.Allowance)
	assert.Equal(t, 7, token.Reads)
}

func TestGateInsufficientBalance(t *testing.T) {
	payer := testutil.GenerateAddress()
	token := mocks.NewToken()
	token.Fund(payer, 50, 1000)

	res := newTestGate(token).Check(context.Background(), "req", payer, big.NewInt(100))
	assert.False(t, res.Safe)
	assert.Equal(t, models.SafetyInsufficientBalance, res.Code)
	assert.Contains(t, res.Reason, "Insufficient balance: 50 < 100")
}

func TestGateDecisionOrder(t *testing.T) {
	payer := testutil.GenerateAddress()

	tests := []struct {
		name     string
		setup    func(tk *mocks.Token)
		wantCode string
	}{
		{"paused wins over everything", func(tk *mocks.Token) {
			tk.Paused = true
			tk.Blacklisted[payer] = true
			tk.Frozen[payer] = true
			tk.Blacklisted[recipient] = true
			tk.Fund(payer, 0, 0)
		}, models.SafetyTokenPaused},
		{"payer blacklisted before frozen", func(tk *mocks.Token) {
			tk.Blacklisted[payer] = true
			tk.Frozen[payer] = true
			tk.Fund(payer, 0, 0)
		}, models.SafetyPayerBlacklisted},
		{"payer frozen before recipient", func(tk *mocks.Token) {
			tk.Frozen[payer] = true
			tk.Blacklisted[recipient] = true
		}, models.SafetyPayerFrozen},
		{"recipient blacklisted before frozen", func(tk *mocks.Token) {
			tk.Blacklisted[recipient] = true
			tk.Frozen[recipient] = true
		}, models.SafetyRecipientBlacklisted},
		{"recipient frozen before balance", func(tk *mocks.Token) {
			tk.Frozen[recipient] = true
			tk.Fund(payer, 0, 0)
		}, models.SafetyRecipientFrozen},
		{"balance before allowance", func(tk *mocks.Token) {
			tk.Fund(payer, 10, 10)
		}, models.SafetyInsufficientBalance},
		{"allowance", func(tk *mocks.Token) {
			tk.Fund(payer, 1000, 99)
		}, models.SafetyInsufficientAllowance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := mocks.NewToken()
			token.Fund(payer, 1000, 1000)
			tt.setup(token)

			res := newTestGate(token).Check(context.Background(), "req", payer, big.NewInt(100))
			assert.False(t, res.Safe)
			assert.Equal(t, tt.wantCode, res.Code)
			assert.NotEmpty(t, res.Reason)
		})
	}
}

func TestGatePausedReason(t *testing.T) {
	payer := testutil.GenerateAddress()
	token := mocks.NewToken()
	token.Paused = true
	token.Fund(payer, 1000, 1000)

	res := newTestGate(token).Check(context.Background(), "req", payer, big.NewInt(1))
	require.False(t, res.Safe)
	assert.Contains(t, res.Reason, "paused")
	assert.True(t, res.Details.Paused)
	testutil.AssertBigIntEqual(t, big.NewInt(1000), res.Details.Balance, "details are still reported")
}

func TestGateFailsClosedOnReadError(t *testing.T) {
	payer := testutil.GenerateAddress()
	token := mocks.NewToken()
	token.Fund(payer, 1000, 1000)
	token.Errors["isFrozen"] = errors.New("execution reverted")

	res := newTestGate(token).Check(context.Background(), "req", payer, big.NewInt(1))
	assert.False(t, res.Safe)
	assert.Equal(t, models.SafetyReadFailed, res.Code)
	assert.Contains(t, res.Reason, "isFrozen")
}
