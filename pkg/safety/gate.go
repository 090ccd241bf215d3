package safety

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/akash-mondal/twinkle-sub001/pkg/contracts"
	"github.com/akash-mondal/twinkle-sub001/pkg/logger"
	"github.com/akash-mondal/twinkle-sub001/pkg/metrics"
	"github.com/akash-mondal/twinkle-sub001/pkg/models"
)

// TokenReader performs read-only contract calls
type TokenReader interface {
	ReadContract(ctx context.Context, contract common.Address, parsed *abi.ABI, method string, args ...interface{}) ([]interface{}, error)
}

// Gate reads token state before any gas is spent and refuses settlements that would
// predictably revert or involve a restricted party
type Gate struct {
	reader    TokenReader
	token     common.Address
	spender   common.Address
	recipient common.Address
	tokenABI  *abi.ABI
	logger    logger.Logger
}

// NewGate creates a gate for token. spender is the settlement contract the payer approves;
// recipient is the party receiving the funds.
func NewGate(reader TokenReader, token, spender, recipient common.Address, log logger.Logger) *Gate {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Gate{
		reader:    reader,
		token:     token,
		spender:   spender,
		recipient: recipient,
		tokenABI:  contracts.TokenContractABI(),
		logger:    log,
	}
}

func (g *Gate) readBool(ctx context.Context, method string, args ...interface{}) (bool, error) {
	out, err := g.reader.ReadContract(ctx, g.token, g.tokenABI, method, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", method, err)
	}
	if len(out) == 0 {
		return false, fmt.Errorf("%s: empty result", method)
	}
	v, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("%s: unexpected result type %T", method, out[0])
	}
	return v, nil
}

func (g *Gate) readUint(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	out, err := g.reader.ReadContract(ctx, g.token, g.tokenABI, method, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty result", method)
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected result type %T", method, out[0])
	}
	return v, nil
}

// Check reads all token conditions in parallel and returns the first failing one in
// priority order, with the full snapshot attached. Any read error blocks the settlement.
func (g *Gate) Check(ctx context.Context, requestID string, payer common.Address, amount *big.Int) models.SafetyResult {
	var details models.SafetyDetails

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() (err error) {
		details.Paused, err = g.readBool(egCtx, contracts.MethodPaused)
		return err
	})
	eg.Go(func() (err error) {
		details.PayerBlacklisted, err = g.readBool(egCtx, contracts.MethodIsBlacklisted, payer)
		return err
	})
	eg.Go(func() (err error) {
		details.PayerFrozen, err = g.readBool(egCtx, contracts.MethodIsFrozen, payer)
		return err
	})
	eg.Go(func() (err error) {
		details.RecipientBlacklisted, err = g.readBool(egCtx, contracts.MethodIsBlacklisted, g.recipient)
		return err
	})
	eg.Go(func() (err error) {
		details.RecipientFrozen, err = g.readBool(egCtx, contracts.MethodIsFrozen, g.recipient)
		return err
	})
	eg.Go(func() (err error) {
		details.Balance, err = g.readUint(egCtx, contracts.MethodBalanceOf, payer)
		return err
	})
	eg.Go(func() (err error) {
		details.Allowance, err = g.readUint(egCtx, contracts.MethodAllowance, payer, g.spender)
		return err
	})

	if err := eg.Wait(); err != nil {
		g.logger.ErrorWithRequest(requestID, "Safety check could not read token state: %v", err)
		return block(models.SafetyReadFailed, fmt.Sprintf("Unable to verify token state: %v", err), details)
	}

	result := decide(payer, amount, g.recipient, details)
	if !result.Safe {
		g.logger.NoticeWithRequest(requestID, "Settlement blocked: %s", result.Reason)
	}
	return result
}

func block(code, reason string, details models.SafetyDetails) models.SafetyResult {
	metrics.SafetyBlocks.WithLabelValues(code).Inc()
	return models.SafetyResult{Code: code, Reason: reason, Details: details}
}

func decide(payer common.Address, amount *big.Int, recipient common.Address, d models.SafetyDetails) models.SafetyResult {
	switch {
	case d.Paused:
		return block(models.SafetyTokenPaused, "Token is paused", d)
	case d.PayerBlacklisted:
		return block(models.SafetyPayerBlacklisted, fmt.Sprintf("Payer %s is blacklisted", payer.Hex()), d)
	case d.PayerFrozen:
		return block(models.SafetyPayerFrozen, fmt.Sprintf("Payer %s is frozen", payer.Hex()), d)
	case d.RecipientBlacklisted:
		return block(models.SafetyRecipientBlacklisted, fmt.Sprintf("Recipient %s is blacklisted", recipient.Hex()), d)
	case d.RecipientFrozen:
		return block(models.SafetyRecipientFrozen, fmt.Sprintf("Recipient %s is frozen", recipient.Hex()), d)
	case d.Balance.Cmp(amount) < 0:
		return block(models.SafetyInsufficientBalance, fmt.Sprintf("Insufficient balance: %s < %s", d.Balance, amount), d)
	case d.Allowance.Cmp(amount) < 0:
		return block(models.SafetyInsufficientAllowance, fmt.Sprintf("Insufficient allowance: %s < %s", d.Allowance, amount), d)
	}
	return models.SafetyResult{Safe: true, Details: d}
}
