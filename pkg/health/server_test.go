package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akash-mondal/twinkle-sub001/pkg/circuitbreaker"
	"github.com/akash-mondal/twinkle-sub001/pkg/models"
)

var signer = common.HexToAddress("0x00000000000000000000000000000000000000aa")

type fakeProviders struct {
	states []circuitbreaker.State
	reset  []int
}

func (f *fakeProviders) Address() common.Address { return signer }
func (f *fakeProviders) ChainID() *big.Int       { return big.NewInt(84532) }
func (f *fakeProviders) ProviderStates() []circuitbreaker.State {
	return f.states
}

func (f *fakeProviders) HasHealthyProvider() bool {
	for _, s := range f.states {
		if !s.Open {
			return true
		}
	}
	return false
}

func (f *fakeProviders) ResetProvider(rank int) error {
	if rank < 0 || rank >= len(f.states) {
		return fmt.Errorf("no provider at rank %d", rank)
	}
	f.states[rank].Open = false
	f.reset = append(f.reset, rank)
	return nil
}

type fakeNonces struct {
	err          error
	reservations []models.NonceReservation
}

func (f *fakeNonces) Ping(context.Context) error { return f.err }
func (f *fakeNonces) Reservations(context.Context, common.Address) ([]models.NonceReservation, error) {
	return f.reservations, f.err
}

func newTestServer(providers *fakeProviders, nonces *fakeNonces, apiKey string) http.Handler {
	return NewServer("0", apiKey, providers, nonces, func() int64 { return 3 }, nil).Handler()
}

func serve(h http.Handler, method, target string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h := newTestServer(&fakeProviders{}, &fakeNonces{}, "")
	rec := serve(h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestReady(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		h := newTestServer(&fakeProviders{states: []circuitbreaker.State{{Open: true}, {Open: false}}}, &fakeNonces{}, "")
		rec := serve(h, http.MethodGet, "/ready", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("all providers open", func(t *testing.T) {
		h := newTestServer(&fakeProviders{states: []circuitbreaker.State{{Open: true}}}, &fakeNonces{}, "")
		rec := serve(h, http.MethodGet, "/ready", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "No healthy RPC provider")
	})

	t.Run("nonce store down", func(t *testing.T) {
		h := newTestServer(&fakeProviders{states: []circuitbreaker.State{{}}}, &fakeNonces{err: errors.New("dial tcp: connection refused")}, "")
		rec := serve(h, http.MethodGet, "/ready", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "Nonce store unavailable")
	})
}

func TestStatus(t *testing.T) {
	providers := &fakeProviders{states: []circuitbreaker.State{{Name: "rpc-0", Enabled: true}}}
	nonces := &fakeNonces{reservations: []models.NonceReservation{{Value: 4, State: models.ReservationReserved}}}
	h := newTestServer(providers, nonces, "")

	rec := serve(h, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var status Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, signer.Hex(), status.Signer)
	assert.Equal(t, "84532", status.ChainID)
	assert.Equal(t, int64(3), status.InFlight)
	require.Len(t, status.Providers, 1)
	assert.Equal(t, "rpc-0", status.Providers[0].Name)
	require.Len(t, status.Reservations, 1)
	assert.Equal(t, uint64(4), status.Reservations[0].Value)
	assert.Empty(t, status.NonceError)
}

func TestStatusReportsNonceError(t *testing.T) {
	h := newTestServer(&fakeProviders{}, &fakeNonces{err: errors.New("redis down")}, "")

	rec := serve(h, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "redis down", status.NonceError)
}

func TestProviderReset(t *testing.T) {
	providers := &fakeProviders{states: []circuitbreaker.State{{Open: true}, {Open: true}}}
	h := newTestServer(providers, &fakeNonces{}, "")

	assert.Equal(t, http.StatusMethodNotAllowed, serve(h, http.MethodGet, "/providers/reset?provider=1", nil).Code)
	assert.Equal(t, http.StatusBadRequest, serve(h, http.MethodPost, "/providers/reset", nil).Code)
	assert.Equal(t, http.StatusBadRequest, serve(h, http.MethodPost, "/providers/reset?provider=x", nil).Code)
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodPost, "/providers/reset?provider=5", nil).Code)

	rec := serve(h, http.MethodPost, "/providers/reset?provider=1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int{1}, providers.reset)
	assert.False(t, providers.states[1].Open)
	assert.True(t, providers.states[0].Open)
}

func TestMetricsAuth(t *testing.T) {
	h := newTestServer(&fakeProviders{}, &fakeNonces{}, "secret")

	tests := []struct {
		name   string
		header map[string]string
		code   int
	}{
		{"missing header", nil, http.StatusUnauthorized},
		{"wrong scheme", map[string]string{"Authorization": "Basic secret"}, http.StatusUnauthorized},
		{"wrong key", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"valid", map[string]string{"Authorization": "Bearer secret"}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(h, http.MethodGet, "/metrics", tt.header)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestMetricsOpenWithoutKey(t *testing.T) {
	h := newTestServer(&fakeProviders{}, &fakeNonces{}, "")
	rec := serve(h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
