package chainclient

import (
	"context"
	"sync"
	"time"
)

// GasPriceRoutine keeps the client's cached gas price warm so submissions skip the lookup
type GasPriceRoutine struct {
	client   *Client
	interval time.Duration
	stopChan chan struct{}
	mu       sync.RWMutex
	running  bool
}

// NewGasPriceRoutine creates a new gas price refresh routine
func NewGasPriceRoutine(client *Client, interval time.Duration) *GasPriceRoutine {
	return &GasPriceRoutine{
		client:   client,
		interval: interval,
	}
}

// Start begins the periodic refresh until Stop is called or ctx ends
func (r *GasPriceRoutine) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return
	}

	r.stopChan = make(chan struct{})
	r.running = true

	go r.run(ctx, r.stopChan)
}

// Stop halts the periodic refresh
func (r *GasPriceRoutine) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}

	close(r.stopChan)
	r.stopChan = nil
	r.running = false
}

// IsRunning returns whether the routine is currently running
func (r *GasPriceRoutine) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

func (r *GasPriceRoutine) run(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.refresh(ctx)

	for {
		select {
		case <-ticker.C:
			r.refresh(ctx)
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (r *GasPriceRoutine) refresh(ctx context.Context) {
	if _, err := r.client.UpdateGasPrice(ctx); err != nil {
		r.client.logger.Error("Failed to update gas price for chain %s: %v", r.client.chainID, err)
	}
}
