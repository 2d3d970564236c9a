package reasoning

import (
	"context"
	"math"
	"time"
)

// Action is what the client does after a failed attempt.
type Action int

const (
	ActionAbort Action = iota
	ActionBackoff
	ActionSimplify
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 2 * time.Second
	DefaultMultiplier  = 3.0
)

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy bounds retries of a single reasoning call. The zero value is usable
// and behaves like DefaultPolicy.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	Classify    func(error) ErrorKind
	Sleep       SleepFunc
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		Multiplier:  DefaultMultiplier,
		Classify:    Classify,
		Sleep:       SleepContext,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.Multiplier <= 0 {
		p.Multiplier = DefaultMultiplier
	}
	if p.Classify == nil {
		p.Classify = Classify
	}
	if p.Sleep == nil {
		p.Sleep = SleepContext
	}
	return p
}

// Delay is the backoff before retrying after the zero-based attempt:
// BaseDelay * Multiplier^attempt.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	return time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt)))
}

// Decide maps a failed attempt to the next action.
func (p Policy) Decide(err error) Action {
	p = p.withDefaults()
	switch p.Classify(err) {
	case KindTransient:
		return ActionBackoff
	case KindMalformedRequest:
		return ActionSimplify
	default:
		return ActionAbort
	}
}

// SleepContext waits for d, returning early with ctx.Err() on cancellation.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
