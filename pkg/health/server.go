package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/akash-mondal/twinkle-sub001/pkg/circuitbreaker"
	"github.com/akash-mondal/twinkle-sub001/pkg/logger"
	"github.com/akash-mondal/twinkle-sub001/pkg/models"
)

const shutdownTimeout = 5 * time.Second

// ProviderPool exposes the chain client's provider health
type ProviderPool interface {
	Address() common.Address
	ChainID() *big.Int
	ProviderStates() []circuitbreaker.State
	HasHealthyProvider() bool
	ResetProvider(rank int) error
}

// NonceStatus exposes the nonce coordinator's store
type NonceStatus interface {
	Ping(ctx context.Context) error
	Reservations(ctx context.Context, signer common.Address) ([]models.NonceReservation, error)
}

// Server serves health, readiness, status and metrics endpoints
type Server struct {
	port          string
	providers     ProviderPool
	nonces        NonceStatus
	inFlight      func() int64
	metricsAPIKey string
	logger        logger.Logger
}

// NewServer creates a new ops server
func NewServer(port, metricsAPIKey string, providers ProviderPool, nonces NonceStatus, inFlight func() int64, log logger.Logger) *Server {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	if inFlight == nil {
		inFlight = func() int64 { return 0 }
	}
	return &Server{
		port:          port,
		providers:     providers,
		nonces:        nonces,
		inFlight:      inFlight,
		metricsAPIKey: metricsAPIKey,
		logger:        log,
	}
}

// Status is the body of /status
type Status struct {
	Signer       string                    `json:"signer"`
	ChainID      string                    `json:"chainId"`
	Providers    []circuitbreaker.State    `json:"providers"`
	Reservations []models.NonceReservation `json:"reservations"`
	InFlight     int64                     `json:"inFlight"`
	NonceError   string                    `json:"nonceError,omitempty"`
}

// metricsAuthMiddleware checks for the bearer token when one is configured
func (s *Server) metricsAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metricsAPIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
			return
		}

		if parts[1] != s.metricsAPIKey {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Handler builds the server's routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// ready only when the nonce store answers and some provider is usable
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := s.nonces.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(fmt.Sprintf("Nonce store unavailable: %v", err)))
			return
		}
		if !s.providers.HasHealthyProvider() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("No healthy RPC provider"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Ready"))
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		signer := s.providers.Address()
		status := Status{
			Signer:    signer.Hex(),
			ChainID:   s.providers.ChainID().String(),
			Providers: s.providers.ProviderStates(),
			InFlight:  s.inFlight(),
		}

		reservations, err := s.nonces.Reservations(r.Context(), signer)
		if err != nil {
			status.NonceError = err.Error()
		} else {
			status.Reservations = reservations
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status); err != nil {
			s.logger.Error("Error encoding status JSON: %v", err)
		}
	})

	mux.HandleFunc("/providers/reset", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		rankStr := r.URL.Query().Get("provider")
		if rankStr == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("Missing provider parameter"))
			return
		}

		rank, err := strconv.Atoi(rankStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("Invalid provider index"))
			return
		}

		if err := s.providers.ResetProvider(rank); err != nil {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(err.Error()))
			return
		}

		s.logger.Notice("Circuit breaker for provider %d reset via ops endpoint", rank)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(fmt.Sprintf("Circuit breaker for provider %d reset", rank)))
	})

	mux.Handle("/metrics", s.metricsAuthMiddleware(promhttp.Handler()))

	return mux
}

// Start serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting health and metrics server on port %s", s.port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("health server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("health server shutdown: %w", err)
	}
	return nil
}
