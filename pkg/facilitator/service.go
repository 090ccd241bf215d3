package facilitator

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/sync/errgroup"

	"github.com/akash-mondal/twinkle-sub001/pkg/chainclient"
	"github.com/akash-mondal/twinkle-sub001/pkg/config"
	"github.com/akash-mondal/twinkle-sub001/pkg/health"
	"github.com/akash-mondal/twinkle-sub001/pkg/logger"
	"github.com/akash-mondal/twinkle-sub001/pkg/metrics"
	"github.com/akash-mondal/twinkle-sub001/pkg/models"
	"github.com/akash-mondal/twinkle-sub001/pkg/nonce"
	"github.com/akash-mondal/twinkle-sub001/pkg/safety"
	"github.com/akash-mondal/twinkle-sub001/pkg/settlement"
	"github.com/akash-mondal/twinkle-sub001/pkg/verifier"
)

// gasPriceRefreshInterval keeps the cached gas price under the client's max age
const gasPriceRefreshInterval = 15 * time.Second

// Backend is everything the settlement path needs from the chain
type Backend interface {
	settlement.Chain
	safety.TokenReader
	nonce.PendingNonceSource
}

// Service owns the settlement engine and the loops that keep it healthy
type Service struct {
	config       *config.Config
	signer       common.Address
	nonces       *nonce.Coordinator
	orchestrator *settlement.Orchestrator
	adapter      *verifier.EnvelopeAdapter
	health       *health.Server
	gasRoutine   *chainclient.GasPriceRoutine
	closers      []func() error
	logger       logger.Logger
}

// NewService dials the RPC providers and nonce store and wires the settlement engine
func NewService(ctx context.Context, cfg *config.Config, log logger.Logger) (*Service, error) {
	if log == nil {
		log = &logger.EmptyLogger{}
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %v", err)
	}

	client, err := chainclient.Dial(ctx, cfg.RPCURLs,
		chainclient.Options{
			ChainID:       big.NewInt(cfg.ChainID),
			PrivateKey:    privateKey,
			GasMultiplier: cfg.Gas.Multiplier,
			MaxGasPrice:   cfg.Gas.MaxGasPrice,
		},
		chainclient.ProviderOptions{
			RateLimit:        cfg.RPCRateLimit,
			BreakerEnabled:   cfg.CircuitBreaker.Enabled,
			BreakerThreshold: cfg.CircuitBreaker.Threshold,
			BreakerWindow:    cfg.CircuitBreaker.WindowDuration,
			BreakerReset:     cfg.CircuitBreaker.ResetTimeout,
		},
		log,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chain %d: %w", cfg.ChainID, err)
	}

	store, closeStore, err := openNonceStore(ctx, cfg.Nonce)
	if err != nil {
		client.Close()
		return nil, err
	}

	s := newService(cfg, client, store, log)
	s.closers = append(s.closers, closeStore, func() error {
		client.Close()
		return nil
	})
	s.health = health.NewServer(cfg.MetricsPort, cfg.MetricsAPIKey, client, s.nonces, s.orchestrator.InFlight, log)
	s.gasRoutine = chainclient.NewGasPriceRoutine(client, gasPriceRefreshInterval)

	log.Info("Facilitator %s on chain %d using %s nonce store and %d rpc provider(s)",
		s.signer.Hex(), cfg.ChainID, cfg.Nonce.Store, len(cfg.RPCURLs))
	return s, nil
}

// newService wires the engine over an existing backend and store
func newService(cfg *config.Config, backend Backend, store nonce.Store, log logger.Logger, opts ...settlement.Option) *Service {
	chainID := big.NewInt(cfg.ChainID)

	coordinator := nonce.NewCoordinator(store, backend, cfg.Nonce.SyncInterval, cfg.Nonce.ReservationTTL, log)
	intentVerifier := verifier.New(verifier.Domain{
		Name:              cfg.Domain.Name,
		Version:           cfg.Domain.Version,
		ChainID:           chainID,
		VerifyingContract: cfg.SettlementContract,
	}, log)
	gate := safety.NewGate(backend, cfg.TokenAddress, cfg.SettlementContract, cfg.RecipientAddress, log)

	orchestrator := settlement.NewOrchestrator(settlement.Config{
		Contract:       cfg.SettlementContract,
		MaxAttempts:    cfg.Retry.MaxAttempts,
		BaseDelay:      cfg.Retry.BaseDelay,
		MaxDelay:       cfg.Retry.MaxDelay,
		Confirmations:  cfg.Confirmations,
		ConfirmTimeout: cfg.ConfirmTimeout,
		MaxConcurrency: cfg.MaxConcurrency,
	}, backend, gate, intentVerifier, coordinator, log, opts...)

	return &Service{
		config:       cfg,
		signer:       backend.Address(),
		nonces:       coordinator,
		orchestrator: orchestrator,
		adapter:      verifier.NewEnvelopeAdapter(chainID, cfg.TokenAddress, cfg.RecipientAddress),
		logger:       log,
	}
}

func openNonceStore(ctx context.Context, cfg config.NonceConfig) (nonce.Store, func() error, error) {
	if cfg.Store == config.NonceStoreMemory {
		return nonce.NewMemoryStore(), func() error { return nil }, nil
	}

	store := nonce.NewRedisStoreFromAddr(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := store.Ping(ctx); err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	return store, store.Close, nil
}

// Settle settles a single payment intent
func (s *Service) Settle(ctx context.Context, req models.SettlementRequest) models.SettlementResult {
	return s.orchestrator.Settle(ctx, req)
}

// SettleBatch settles several intents in one transaction
func (s *Service) SettleBatch(ctx context.Context, reqs []models.SettlementRequest) models.SettlementResult {
	return s.orchestrator.SettleBatch(ctx, reqs)
}

// SettleAgentPayment settles a payment with agent attribution
func (s *Service) SettleAgentPayment(ctx context.Context, req models.AgentSettlementRequest) models.SettlementResult {
	return s.orchestrator.SettleAgentPayment(ctx, req)
}

// SettleEnvelope decodes an X-PAYMENT header value, checks it against the
// resource's requirements and settles the intent it carries
func (s *Service) SettleEnvelope(ctx context.Context, header string, requirements verifier.PaymentRequirements) models.SettlementResult {
	payload, err := verifier.DecodePaymentHeader(header)
	if err != nil {
		return s.rejectEnvelope(verifier.ReasonInvalidPayload, err.Error())
	}

	req, res := s.adapter.Adapt(payload, requirements)
	if !res.Valid {
		return s.rejectEnvelope(res.Reason, res.Message)
	}
	return s.orchestrator.Settle(ctx, *req)
}

func (s *Service) rejectEnvelope(reason, msg string) models.SettlementResult {
	metrics.SettlementsTotal.WithLabelValues(settlement.VariantSingle, "failure").Inc()
	metrics.SettlementFailures.WithLabelValues(settlement.VariantSingle, string(models.FailureValidation)).Inc()
	s.logger.Error("Rejected payment envelope (%s): %s", reason, msg)
	return models.SettlementResult{
		Error:  msg,
		Kind:   models.FailureValidation,
		Reason: reason,
	}
}

// Start runs the ops server, gas price refresh and nonce reconciler until ctx ends
func (s *Service) Start(ctx context.Context) error {
	defer s.close()

	if s.gasRoutine != nil {
		s.gasRoutine.Start(ctx)
		defer s.gasRoutine.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	if s.health != nil {
		g.Go(func() error {
			return s.health.Start(gctx)
		})
	}
	g.Go(func() error {
		s.reconcile(gctx)
		return nil
	})

	s.logger.Info("Settlement service started with %d max concurrent settlements", s.config.MaxConcurrency)
	err := g.Wait()
	s.logger.Info("Settlement service stopped")
	return err
}

// reconcile forces a periodic resync so abandoned reservations heal while idle
func (s *Service) reconcile(ctx context.Context) {
	interval := s.config.Nonce.SyncInterval
	if interval <= 0 {
		interval = config.DefaultNonceSyncInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Nonce reconciler shutting down")
			return
		case <-ticker.C:
			if err := s.nonces.RequestResync(ctx, s.signer); err != nil {
				s.logger.Error("Failed to request nonce resync: %v", err)
				continue
			}
			s.logger.Debug("Requested nonce resync for %s", s.signer.Hex())
		}
	}
}

func (s *Service) close() {
	for _, closeFn := range s.closers {
		if err := closeFn(); err != nil {
			s.logger.Error("Error closing resource: %v", err)
		}
	}
	s.closers = nil
}
