package contracts

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettlementABIMethods(t *testing.T) {
	parsed := SettlementContractABI()
	for _, method := range []string{MethodSettlePayment, MethodSettleBatch, MethodSettleAgentPayment} {
		_, ok := parsed.Methods[method]
		assert.True(t, ok, "missing method %s", method)
	}
	assert.Len(t, parsed.Methods[MethodSettleAgentPayment].Inputs, 10)

	token := TokenContractABI()
	for _, method := range []string{MethodPaused, MethodIsBlacklisted, MethodIsFrozen, MethodBalanceOf, MethodAllowance} {
		_, ok := token.Methods[method]
		assert.True(t, ok, "missing method %s", method)
	}
}

func TestParseAccessProofIssued(t *testing.T) {
	contract := common.HexToAddress("0x1111111111111111111111111111111111111111")
	payer := common.HexToAddress("0x4444444444444444444444444444444444444444")
	proofID := common.HexToHash("0xaa")
	requestID := common.HexToHash("0xbb")

	log, err := PackAccessProofIssued(contract, proofID, requestID, payer, big.NewInt(100))
	require.NoError(t, err)

	event, err := ParseAccessProofIssued(log)
	require.NoError(t, err)
	assert.Equal(t, proofID, event.ProofID)
	assert.Equal(t, requestID, event.RequestID)
	assert.Equal(t, payer, event.Payer)
	assert.Equal(t, int64(100), event.Amount.Int64())
}

func TestParseAccessProofIssuedRejectsOtherLogs(t *testing.T) {
	transferTopic := common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")
	tests := []struct {
		name string
		log  types.Log
	}{
		{"no topics", types.Log{}},
		{"transfer event", types.Log{Topics: []common.Hash{transferTopic, {}, {}}}},
		{"proof topic with wrong arity", types.Log{Topics: []common.Hash{AccessProofTopic(), {}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAccessProofIssued(tt.log)
			assert.ErrorIs(t, err, ErrNotAccessProof)
		})
	}
}
