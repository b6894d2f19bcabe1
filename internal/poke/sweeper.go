package poke

import (
	"context"
	"log"
	"time"
)

// Sweeper runs ExpireOld on a fixed interval. The sweep is idempotent and
// safe to run concurrently with itself, so overlap with a slow previous
// tick is harmless.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewSweeper(manager *Manager) *Sweeper {
	interval := manager.SweepInterval()
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{manager: manager, interval: interval}
}

// Start launches the background sweep goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.manager.ExpireOld(ctx); err != nil {
					log.Printf("WARNING: poke expiry sweep failed: %v", err)
				}
			}
		}
	}()
	log.Printf("Poke expiry sweep running every %s", s.interval)
}

// Stop halts the sweep and waits for the goroutine to exit.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}
