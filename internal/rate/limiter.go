// Package rate paces outbound Gmail RPCs so one triage session stays
// inside the backend's per-user quota.
package rate

import (
	"context"
	"fmt"
	"time"
)

// Limiter gates an outbound call until capacity is available.
type Limiter interface {
	Wait(ctx context.Context) error
}

// TokenBucket releases one call per tick at a fixed requests-per-second
// rate. The first call proceeds immediately; unused capacity accumulates
// up to one second's worth of tokens.
type TokenBucket struct {
	ticker *time.Ticker
	tokens chan struct{}
	quit   chan struct{}
	done   chan struct{}
}

// NewTokenBucket returns a limiter releasing rps tokens per second.
func NewTokenBucket(rps int) *TokenBucket {
	if rps <= 0 {
		rps = 1
	}
	tb := &TokenBucket{
		ticker: time.NewTicker(time.Second / time.Duration(rps)),
		tokens: make(chan struct{}, rps),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	tb.tokens <- struct{}{}
	go tb.fill()
	return tb
}

func (t *TokenBucket) fill() {
	defer close(t.done)
	for {
		select {
		case <-t.quit:
			return
		case <-t.ticker.C:
			select {
			case t.tokens <- struct{}{}:
			default:
			}
		}
	}
}

// Wait blocks until a token is available or the context is canceled.
func (t *TokenBucket) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate wait canceled: %w", ctx.Err())
	case <-t.tokens:
		return nil
	}
}

// Stop shuts down the refill goroutine and releases the ticker.
func (t *TokenBucket) Stop() {
	close(t.quit)
	<-t.done
	t.ticker.Stop()
}

var _ Limiter = (*TokenBucket)(nil)
