// Package ratelimit paces navigations against the target site. Delays are
// randomized so successive requests do not fire on a fixed cadence, and the
// pacer backs off when the site starts answering with challenge pages.
package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

type Limiter interface {
	Wait(ctx context.Context) error
	SetDelay(min, max time.Duration)
}

// Pacer enforces a randomized minimum gap between actions.
type Pacer struct {
	mu         sync.Mutex
	minDelay   time.Duration
	maxDelay   time.Duration
	lastAction time.Time
}

func NewPacer(minDelay, maxDelay time.Duration) *Pacer {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &Pacer{minDelay: minDelay, maxDelay: maxDelay}
}

// Wait blocks until at least a jittered delay has elapsed since the previous
// action, or the context is cancelled.
func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delay := p.nextDelay()
	if elapsed := time.Since(p.lastAction); elapsed < delay {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay - elapsed):
		}
	}

	p.lastAction = time.Now()
	return nil
}

func (p *Pacer) SetDelay(min, max time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.minDelay = min
	p.maxDelay = max
	if p.maxDelay < p.minDelay {
		p.maxDelay = p.minDelay
	}
}

func (p *Pacer) nextDelay() time.Duration {
	if p.maxDelay <= p.minDelay {
		return p.minDelay
	}
	return p.minDelay + time.Duration(rand.Int63n(int64(p.maxDelay-p.minDelay)))
}

// BackoffPacer widens the delay window after consecutive blocked responses
// and slowly narrows it again after sustained successes.
type BackoffPacer struct {
	*Pacer
	errorCount   int
	successCount int
	threshold    int
	factor       float64
	ceiling      time.Duration
}

func NewBackoffPacer(minDelay, maxDelay time.Duration) *BackoffPacer {
	return &BackoffPacer{
		Pacer:     NewPacer(minDelay, maxDelay),
		threshold: 3,
		factor:    1.5,
		ceiling:   2 * time.Minute,
	}
}

// RecordSuccess notes a navigation that came back unblocked.
func (b *BackoffPacer) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successCount++
	b.errorCount = 0

	if b.successCount > 5 {
		b.minDelay = clampDuration(time.Duration(float64(b.minDelay)*0.9), time.Second, b.ceiling)
		b.successCount = 0
	}
}

// RecordBlocked notes a challenge page or hard navigation failure.
func (b *BackoffPacer) RecordBlocked() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.errorCount++
	b.successCount = 0

	if b.errorCount >= b.threshold {
		b.minDelay = clampDuration(time.Duration(float64(b.minDelay)*b.factor), time.Second, b.ceiling)
		b.maxDelay = clampDuration(time.Duration(float64(b.maxDelay)*b.factor), b.minDelay, b.ceiling)
		b.errorCount = 0
	}
}

func clampDuration(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}
