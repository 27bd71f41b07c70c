package pacing

import (
	"context"
	"time"
)

// Weight classifies a remote call by how hard it hits the RPC rate limit.
type Weight int

const (
	Light  Weight = iota // balance / single account reads
	Medium               // program scans, quote fetches
	Heavy                // transaction submission and confirmation
)

// Pacer inserts fixed delays between successive remote calls so a batch
// stays under the provider's rate limit.
type Pacer struct {
	light  time.Duration
	medium time.Duration
	heavy  time.Duration
	sleep  func(context.Context, time.Duration) error
}

func NewPacer() *Pacer {
	return NewPacerWithDelays(200*time.Millisecond, 500*time.Millisecond, time.Second)
}

// NewPacerWithDelays builds a pacer with explicit intervals per weight class.
func NewPacerWithDelays(light, medium, heavy time.Duration) *Pacer {
	return &Pacer{
		light:  light,
		medium: medium,
		heavy:  heavy,
		sleep:  sleepCtx,
	}
}

// Delay blocks for the weight class's pacing interval or until ctx is done.
func (p *Pacer) Delay(ctx context.Context, w Weight) error {
	switch w {
	case Medium:
		return p.sleep(ctx, p.medium)
	case Heavy:
		return p.sleep(ctx, p.heavy)
	default:
		return p.sleep(ctx, p.light)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retry invokes fn up to maxAttempts times, waiting baseDelay * attempt
// between tries (linear backoff) and returning the last error when all
// attempts fail. Only read-only calls go through here; state-changing
// ledger operations must not be wrapped to avoid duplicate submission.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func(context.Context) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 250 * time.Millisecond
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}
		if err := sleepCtx(ctx, baseDelay*time.Duration(attempt)); err != nil {
			return err
		}
	}
	return lastErr
}
