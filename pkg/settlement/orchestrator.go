package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/akash-mondal/twinkle-sub001/pkg/contracts"
	"github.com/akash-mondal/twinkle-sub001/pkg/logger"
	"github.com/akash-mondal/twinkle-sub001/pkg/metrics"
	"github.com/akash-mondal/twinkle-sub001/pkg/models"
	"github.com/akash-mondal/twinkle-sub001/pkg/nonce"
	"github.com/akash-mondal/twinkle-sub001/pkg/verifier"
)

// Settlement variants, used as metric labels
const (
	VariantSingle = "single"
	VariantBatch  = "batch"
	VariantAgent  = "agent"
)

// releaseTimeout bounds nonce release after the caller's context is gone
const releaseTimeout = 5 * time.Second

// Chain is the RPC capability the orchestrator submits through
type Chain interface {
	Address() common.Address
	SimulateContract(ctx context.Context, contract common.Address, parsed *abi.ABI, method string, args ...interface{}) ([]interface{}, error)
	WriteContract(ctx context.Context, contract common.Address, parsed *abi.ABI, method string, nonce uint64, args ...interface{}) (common.Hash, error)
	WaitForTransactionReceipt(ctx context.Context, hash common.Hash, timeout time.Duration, confirmations uint64) (*types.Receipt, error)
}

// SafetyChecker reads token state for one payer and amount
type SafetyChecker interface {
	Check(ctx context.Context, requestID string, payer common.Address, amount *big.Int) models.SafetyResult
}

// IntentVerifier checks the payer's signature and expiry
type IntentVerifier interface {
	Verify(intent models.PaymentIntent, signature []byte) verifier.Result
	CheckExpiry(intent models.PaymentIntent) verifier.Result
}

// NonceCoordinator hands out chain nonces for the facilitator key
type NonceCoordinator interface {
	Acquire(ctx context.Context, signer common.Address) (uint64, error)
	Confirm(ctx context.Context, signer common.Address, value uint64) error
	Release(ctx context.Context, signer common.Address, value uint64) error
}

// Config holds the orchestrator's retry and confirmation settings
type Config struct {
	Contract       common.Address
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Confirmations  uint64
	ConfirmTimeout time.Duration
	MaxConcurrency int
}

// Orchestrator drives each settlement request through safety, verification,
// nonce reservation, simulation, submission and confirmation, retrying
// transient failures with a fresh nonce
type Orchestrator struct {
	cfg      Config
	chain    Chain
	safety   SafetyChecker
	verifier IntentVerifier
	nonces   NonceCoordinator
	backoff  Backoff
	sleep    SleepFunc
	sem      *semaphore.Weighted
	abi      *abi.ABI
	logger   logger.Logger
	inFlight atomic.Int64
}

// Option customizes an Orchestrator
type Option func(*Orchestrator)

// WithSleep replaces the backoff sleep
func WithSleep(sleep SleepFunc) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// WithRand replaces the jitter source
func WithRand(r func() float64) Option {
	return func(o *Orchestrator) { o.backoff.Rand = r }
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(cfg Config, chain Chain, safety SafetyChecker, intentVerifier IntentVerifier, nonces NonceCoordinator, log logger.Logger, opts ...Option) *Orchestrator {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}

	o := &Orchestrator{
		cfg:      cfg,
		chain:    chain,
		safety:   safety,
		verifier: intentVerifier,
		nonces:   nonces,
		backoff:  Backoff{Base: cfg.BaseDelay, Max: cfg.MaxDelay},
		sleep:    sleepContext,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		abi:      contracts.SettlementContractABI(),
		logger:   log,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// InFlight returns the number of settlements currently running
func (o *Orchestrator) InFlight() int64 {
	return o.inFlight.Load()
}

// job is one settlement call, whatever its variant
type job struct {
	variant  string
	logID    string
	requests []models.SettlementRequest
	method   string
	args     []interface{}
}

func intentArgs(req models.SettlementRequest) []interface{} {
	intent := req.Intent
	return []interface{}{
		intent.RequestID,
		intent.Payer,
		intent.Amount,
		new(big.Int).SetUint64(intent.ValidUntil),
		intent.Nonce,
		req.Signature,
	}
}

// Settle settles a single payment intent
func (o *Orchestrator) Settle(ctx context.Context, req models.SettlementRequest) models.SettlementResult {
	return o.run(ctx, &job{
		variant:  VariantSingle,
		logID:    req.Intent.RequestIDHex(),
		requests: []models.SettlementRequest{req},
		method:   contracts.MethodSettlePayment,
		args:     intentArgs(req),
	})
}

// SettleAgentPayment settles a payment with agent attribution passed to the contract unmodified
func (o *Orchestrator) SettleAgentPayment(ctx context.Context, req models.AgentSettlementRequest) models.SettlementResult {
	args := append(intentArgs(req.SettlementRequest),
		req.Agent.AgentID,
		req.Agent.AgentType,
		req.Agent.SessionID,
		req.Agent.Metadata,
	)
	return o.run(ctx, &job{
		variant:  VariantAgent,
		logID:    req.Intent.RequestIDHex(),
		requests: []models.SettlementRequest{req.SettlementRequest},
		method:   contracts.MethodSettleAgentPayment,
		args:     args,
	})
}

// SettleBatch settles several intents in one transaction under one nonce.
// The batch succeeds or fails as a whole.
func (o *Orchestrator) SettleBatch(ctx context.Context, reqs []models.SettlementRequest) models.SettlementResult {
	if len(reqs) == 0 {
		return o.finish(VariantBatch, "", time.Now(), validationFailure(verifier.ReasonInvalidPayload, "batch is empty"))
	}

	var (
		requestIDs  = make([][32]byte, len(reqs))
		payers      = make([]common.Address, len(reqs))
		amounts     = make([]*big.Int, len(reqs))
		validUntils = make([]*big.Int, len(reqs))
		nonces      = make([]*big.Int, len(reqs))
		signatures  = make([][]byte, len(reqs))
		seen        = make(map[[32]byte]bool, len(reqs))
	)
	for i, req := range reqs {
		if seen[req.Intent.RequestID] {
			return o.finish(VariantBatch, reqs[0].Intent.RequestIDHex(), time.Now(), validationFailure(verifier.ReasonInvalidPayload,
				fmt.Sprintf("duplicate request %s in batch", req.Intent.RequestIDHex())))
		}
		seen[req.Intent.RequestID] = true

		requestIDs[i] = req.Intent.RequestID
		payers[i] = req.Intent.Payer
		amounts[i] = req.Intent.Amount
		validUntils[i] = new(big.Int).SetUint64(req.Intent.ValidUntil)
		nonces[i] = req.Intent.Nonce
		signatures[i] = req.Signature
	}

	return o.run(ctx, &job{
		variant:  VariantBatch,
		logID:    reqs[0].Intent.RequestIDHex(),
		requests: reqs,
		method:   contracts.MethodSettleBatch,
		args:     []interface{}{requestIDs, payers, amounts, validUntils, nonces, signatures},
	})
}

func (o *Orchestrator) run(ctx context.Context, j *job) models.SettlementResult {
	start := time.Now()
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return o.finish(j.variant, j.logID, start, cancelled(0, err))
	}
	defer o.sem.Release(1)

	o.inFlight.Add(1)
	metrics.InFlightSettlements.Inc()
	defer func() {
		o.inFlight.Add(-1)
		metrics.InFlightSettlements.Dec()
	}()

	return o.finish(j.variant, j.logID, start, o.execute(ctx, j))
}

// attemptOutcome is either a final result or the error that ended a non-final attempt
type attemptOutcome struct {
	result *models.SettlementResult
	err    error
}

func (o *Orchestrator) execute(ctx context.Context, j *job) models.SettlementResult {
	verified := false
	for attempt := 1; ; attempt++ {
		a := &models.SettlementAttempt{
			ID:            uuid.NewString(),
			RequestID:     j.logID,
			AttemptNumber: attempt,
			Status:        models.StatusInit,
			StartedAt:     time.Now(),
		}
		metrics.SettlementAttempts.WithLabelValues(j.variant).Inc()
		o.logger.DebugWithRequest(j.logID, "Attempt %d/%d (%s) for %s settlement", attempt, o.cfg.MaxAttempts, a.ID, j.variant)

		out := o.attempt(ctx, j, a, !verified)
		if out.result != nil {
			out.result.Attempts = attempt
			return *out.result
		}
		verified = true
		a.Status = models.StatusFailed
		a.Err = out.err

		if ctx.Err() != nil {
			return cancelled(attempt, out.err)
		}

		kind := models.FailureTransient
		retryable, errorType := ClassifyError(out.err)
		if errors.Is(out.err, nonce.ErrCoordinatorUnavailable) {
			kind = models.FailureCoordinatorUnavailable
			retryable, errorType = true, string(models.FailureCoordinatorUnavailable)
		}

		if !retryable {
			o.logger.ErrorWithRequest(j.logID, "Attempt %d failed with terminal error: %v", attempt, out.err)
			return failure(models.FailureTerminal, errorType, attempt, out.err.Error())
		}
		if attempt >= o.cfg.MaxAttempts {
			metrics.MaxAttemptsReached.WithLabelValues(errorType).Inc()
			o.logger.ErrorWithRequest(j.logID, "Giving up after %d attempts: %v", attempt, out.err)
			return failure(kind, errorType, attempt, fmt.Sprintf("failed after %d attempts: %v", attempt, out.err))
		}

		delay := o.backoff.Delay(attempt)
		a.Status = models.StatusRetrying
		metrics.RetryCount.WithLabelValues(errorType).Inc()
		o.logger.NoticeWithRequest(j.logID, "Attempt %d failed (%s), retrying in %v: %v", attempt, errorType, delay, out.err)

		if err := o.sleep(ctx, delay); err != nil {
			return cancelled(attempt, err)
		}
	}
}

func (o *Orchestrator) attempt(ctx context.Context, j *job, a *models.SettlementAttempt, verify bool) attemptOutcome {
	a.Status = models.StatusSafetyChecking
	if blocked := o.checkSafety(ctx, j); blocked != nil {
		res := failure(models.FailureSafetyBlocked, blocked.Code, 0, blocked.Reason)
		res.Safety = blocked
		return attemptOutcome{result: &res}
	}

	// the signature cannot change between attempts but expiry can pass during backoff
	a.Status = models.StatusVerifying
	for i, req := range j.requests {
		var vr verifier.Result
		if verify {
			vr = o.verifier.Verify(req.Intent, req.Signature)
		} else {
			vr = o.verifier.CheckExpiry(req.Intent)
		}
		if vr.Valid {
			continue
		}
		msg := vr.Message
		if len(j.requests) > 1 {
			msg = fmt.Sprintf("request %d (%s): %s", i, req.Intent.RequestIDHex(), msg)
		}
		o.logger.NoticeWithRequest(j.logID, "Verification failed: %s", msg)
		res := validationFailure(vr.Reason, msg)
		return attemptOutcome{result: &res}
	}

	signer := o.chain.Address()
	value, err := o.nonces.Acquire(ctx, signer)
	if err != nil {
		return attemptOutcome{err: err}
	}
	a.ReservedNonce = value
	a.HasNonce = true
	a.Status = models.StatusNonceReserved

	receipt, err := o.submit(ctx, j, a)
	if err != nil {
		o.release(ctx, j, a)
		return attemptOutcome{err: err}
	}

	if err := o.nonces.Confirm(ctx, signer, value); err != nil {
		// the transaction is mined; the next resync prunes the reservation
		o.logger.ErrorWithRequest(j.logID, "Failed to confirm nonce %d: %v", value, err)
	}
	a.Status = models.StatusSettled

	res := o.success(j, receipt)
	return attemptOutcome{result: &res}
}

// checkSafety returns the first blocking result, summing amounts per payer so a
// batch cannot overdraw a payer whose individual intents each fit
func (o *Orchestrator) checkSafety(ctx context.Context, j *job) *models.SafetyResult {
	totals := make(map[common.Address]*big.Int)
	var order []common.Address
	for _, req := range j.requests {
		total, ok := totals[req.Intent.Payer]
		if !ok {
			total = new(big.Int)
			totals[req.Intent.Payer] = total
			order = append(order, req.Intent.Payer)
		}
		if req.Intent.Amount != nil {
			total.Add(total, req.Intent.Amount)
		}
	}

	for _, payer := range order {
		res := o.safety.Check(ctx, j.logID, payer, totals[payer])
		if !res.Safe {
			return &res
		}
	}
	return nil
}

func (o *Orchestrator) submit(ctx context.Context, j *job, a *models.SettlementAttempt) (*types.Receipt, error) {
	a.Status = models.StatusSimulating
	if _, err := o.chain.SimulateContract(ctx, o.cfg.Contract, o.abi, j.method, j.args...); err != nil {
		return nil, fmt.Errorf("simulation failed: %w", err)
	}

	a.Status = models.StatusSubmitted
	hash, err := o.chain.WriteContract(ctx, o.cfg.Contract, o.abi, j.method, a.ReservedNonce, j.args...)
	if err != nil {
		return nil, fmt.Errorf("submission failed: %w", err)
	}
	o.logger.InfoWithRequest(j.logID, "Submitted %s with nonce %d: %s", j.method, a.ReservedNonce, hash.Hex())

	a.Status = models.StatusConfirming
	receipt, err := o.chain.WaitForTransactionReceipt(ctx, hash, o.cfg.ConfirmTimeout, o.cfg.Confirmations)
	if err != nil {
		return nil, fmt.Errorf("confirmation failed: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		// the hash is left out so its hex cannot match a retry rule
		return nil, errors.New("transaction reverted on-chain")
	}
	return receipt, nil
}

// release runs even when ctx is cancelled so the reservation never leaks
func (o *Orchestrator) release(ctx context.Context, j *job, a *models.SettlementAttempt) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := o.nonces.Release(releaseCtx, o.chain.Address(), a.ReservedNonce); err != nil {
		o.logger.ErrorWithRequest(j.logID, "Failed to release nonce %d: %v", a.ReservedNonce, err)
	}
}

func (o *Orchestrator) success(j *job, receipt *types.Receipt) models.SettlementResult {
	res := models.SettlementResult{
		Success:         true,
		TransactionHash: receipt.TxHash.Hex(),
		GasUsed:         receipt.GasUsed,
	}
	metrics.GasUsed.WithLabelValues(j.variant).Observe(float64(receipt.GasUsed))

	proofs := o.extractProofs(j, receipt)
	if j.variant == VariantBatch {
		res.AccessProofIDs = proofs
	} else if len(proofs) > 0 {
		res.AccessProofID = proofs[0]
	}
	return res
}

// extractProofs scans every log of the receipt, skipping anything that is not an
// AccessProofIssued from the settlement contract, and returns proof ids in request order
func (o *Orchestrator) extractProofs(j *job, receipt *types.Receipt) []string {
	byRequest := make(map[common.Hash]string)
	for _, log := range receipt.Logs {
		if log == nil || log.Address != o.cfg.Contract {
			continue
		}
		event, err := contracts.ParseAccessProofIssued(*log)
		if err != nil {
			if !errors.Is(err, contracts.ErrNotAccessProof) {
				o.logger.DebugWithRequest(j.logID, "Skipping undecodable log %d: %v", log.Index, err)
			}
			continue
		}
		if _, dup := byRequest[event.RequestID]; !dup {
			byRequest[event.RequestID] = event.ProofID.Hex()
		}
	}

	proofs := make([]string, 0, len(j.requests))
	for _, req := range j.requests {
		proof, ok := byRequest[common.Hash(req.Intent.RequestID)]
		if !ok {
			o.logger.NoticeWithRequest(j.logID, "No access proof event for request %s", req.Intent.RequestIDHex())
			continue
		}
		proofs = append(proofs, proof)
	}
	return proofs
}

func (o *Orchestrator) finish(variant, logID string, start time.Time, res models.SettlementResult) models.SettlementResult {
	metrics.SettlementDuration.WithLabelValues(variant).Observe(time.Since(start).Seconds())
	if res.Success {
		metrics.SettlementsTotal.WithLabelValues(variant, "success").Inc()
		o.logger.InfoWithRequest(logID, "Settled in %d attempt(s): tx %s", res.Attempts, res.TransactionHash)
		return res
	}

	metrics.SettlementsTotal.WithLabelValues(variant, "failure").Inc()
	metrics.SettlementFailures.WithLabelValues(variant, string(res.Kind)).Inc()
	o.logger.ErrorWithRequest(logID, "Settlement failed (%s) after %d attempt(s): %s", res.Kind, res.Attempts, res.Error)
	return res
}

func failure(kind models.FailureKind, reason string, attempts int, msg string) models.SettlementResult {
	return models.SettlementResult{
		Attempts: attempts,
		Error:    msg,
		Kind:     kind,
		Reason:   reason,
	}
}

func validationFailure(reason, msg string) models.SettlementResult {
	return failure(models.FailureValidation, reason, 0, msg)
}

func cancelled(attempts int, err error) models.SettlementResult {
	return failure(models.FailureCancelled, "", attempts, fmt.Sprintf("settlement cancelled: %v", err))
}
