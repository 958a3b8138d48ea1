package harness

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Probe is one evaluation of an externally observable condition. It returns
// done=true once the condition holds.
//
// A probe may legitimately fail while the observed system is still warming
// up (a window-listing query against a not-yet-ready display, for example).
// Such failures must be wrapped with [Transient]; WaitUntil swallows them
// and treats the condition as not yet true. Any other error is fatal and
// stops the wait immediately.
type Probe func(ctx context.Context) (done bool, err error)

// PollResult reports how a WaitUntil call went. It is a transient value,
// never persisted.
type PollResult struct {
	// Satisfied is true when the probe reported done before the deadline.
	Satisfied bool
	// Elapsed is the time spent polling.
	Elapsed time.Duration
	// Attempts counts probe evaluations, including the failed ones.
	Attempts int
}

// WaitUntil repeatedly evaluates probe until it reports done, a fatal probe
// error occurs, ctx is cancelled, or timeout elapses. The probe runs
// immediately, then once per interval; an interval <= 0 uses
// [DefaultPollInterval].
//
// WaitUntil performs no assertion itself: expiring the deadline is not an
// error, it just yields Satisfied=false for the caller to interpret. The
// total wait never exceeds timeout by more than one interval plus one probe
// evaluation.
func WaitUntil(ctx context.Context, probe Probe, timeout, interval time.Duration) (PollResult, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	start := time.Now()
	deadline := start.Add(timeout)

	res := PollResult{}

	for {
		res.Attempts++

		done, err := probe(ctx)
		if err != nil && !IsTransient(err) {
			res.Elapsed = time.Since(start)
			return res, err
		}

		if done && err == nil {
			res.Satisfied = true
			res.Elapsed = time.Since(start)

			return res, nil
		}

		if !time.Now().Before(deadline) {
			res.Elapsed = time.Since(start)
			return res, nil
		}

		select {
		case <-ctx.Done():
			res.Elapsed = time.Since(start)
			return res, fmt.Errorf("harness: waiting for condition: %w", ctx.Err())
		case <-time.After(interval):
		}
	}
}

// transientError marks a probe failure as retryable.
type transientError struct {
	err error
}

func (e *transientError) Error() string {
	return "transient: " + e.err.Error()
}

func (e *transientError) Unwrap() error {
	return e.err
}

// Transient wraps err so WaitUntil treats the failed probe as "condition not
// yet true" instead of propagating it. Wrapping nil returns nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}

	return &transientError{err: err}
}

// IsTransient reports whether err (or anything it wraps) was marked with
// [Transient].
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}
