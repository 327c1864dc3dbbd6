// Package retry polls a fetch function with exponential backoff until a predicate
// accepts its result.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"dataportal/internal/ctxlog"
)

// ErrDepthExceeded is returned once every permitted attempt was spent
// without satisfying the predicate.
var ErrDepthExceeded = errors.New("retry: max attempts exceeded")

const baseInterval = 100 * time.Millisecond

// Stats describes a completed poll. It is populated on every outcome.
type Stats struct {
	// Attempts is the zero-based index of the last fetch call.
	Attempts int
	Elapsed  time.Duration
}

// Poller runs bounded polls. The zero value is not usable; construct with New.
type Poller struct {
	maxAttempts int
	logProgress bool
	newTimer    func() backoff.Timer
	now         func() time.Time
}

// New returns a Poller that retries up to maxAttempts times after the first
// fetch, waiting 2^attempt * 100ms between calls. When logProgress is set
// every unsatisfied attempt is logged at info level.
func New(maxAttempts int, logProgress bool) *Poller {
	if maxAttempts < 0 {
		maxAttempts = 0
	}
	return &Poller{maxAttempts: maxAttempts, logProgress: logProgress, now: time.Now}
}

// WithTimer replaces the wait timer, typically with one that fires
// immediately in tests.
func (p *Poller) WithTimer(newTimer func() backoff.Timer) *Poller {
	cp := *p
	cp.newTimer = newTimer
	return &cp
}

// MaxAttempts reports the retry ceiling.
func (p *Poller) MaxAttempts() int { return p.maxAttempts }

func (p *Poller) schedule(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = baseInterval
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = 24 * time.Hour
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.maxAttempts)), ctx)
}

// Poll calls fetch until predicate reports true for its value. A fetch
// error or a false predicate counts as "not yet". Context cancellation
// ends the wait between attempts but never interrupts a running fetch.
func Poll[T any](ctx context.Context, p *Poller, fetch func(context.Context) (T, error), predicate func(T) bool) (T, Stats, error) {
	var (
		zero  T
		last  T
		calls int
	)
	start := p.now()
	logger := ctxlog.FromContext(ctx)
	errNotYet := errors.New("predicate not satisfied")

	op := func() error {
		calls++
		v, err := fetch(ctx)
		if err != nil {
			return err
		}
		if !predicate(v) {
			return errNotYet
		}
		last = v
		return nil
	}
	notify := func(err error, wait time.Duration) {
		if p.logProgress {
			logger.Info("retry attempt unsatisfied", "attempt", calls-1, "reason", err, "wait", wait)
		}
	}

	var timer backoff.Timer
	if p.newTimer != nil {
		timer = p.newTimer()
	}
	err := backoff.RetryNotifyWithTimer(op, p.schedule(ctx), notify, timer)
	stats := Stats{Attempts: calls - 1, Elapsed: p.now().Sub(start)}
	if stats.Attempts < 0 {
		stats.Attempts = 0
	}
	if err == nil {
		if p.logProgress {
			logger.Info("retry satisfied", "attempts", stats.Attempts, "elapsed", stats.Elapsed)
		}
		return last, stats, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return zero, stats, ctxErr
	}
	if p.logProgress {
		logger.Warn("retry exhausted", "attempts", stats.Attempts, "elapsed", stats.Elapsed, "last_error", err)
	}
	return zero, stats, fmt.Errorf("%w after %d attempts: %v", ErrDepthExceeded, stats.Attempts, err)
}
