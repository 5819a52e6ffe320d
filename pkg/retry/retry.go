// Package retry is the bounded exponential backoff used by the adapters, the
// reconciler and the coordinator.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrExhausted = errors.New("retry attempts exhausted")

// Policy bounds a retry loop. The wait before attempt n+1 is
// Initial*Multiplier^n, capped at Max.
type Policy struct {
	Attempts   int
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64

	// Retryable decides whether an error is worth another attempt. Errors
	// marked Permanent are never retried regardless.
	Retryable func(error) bool
}

func DefaultPolicy() Policy {
	return Policy{
		Attempts:   5,
		Initial:    time.Second,
		Max:        8 * time.Second,
		Multiplier: 2,
	}
}

func (p Policy) WithAttempts(n int) Policy {
	p.Attempts = n
	return p
}

func (p Policy) WithInitial(d time.Duration) Policy {
	p.Initial = d
	return p
}

func (p Policy) WithMax(d time.Duration) Policy {
	p.Max = d
	return p
}

func (p Policy) WithRetryable(f func(error) bool) Policy {
	p.Retryable = f
	return p
}

// ErrorFailed marks an error as non-retryable.
type ErrorFailed struct {
	Err error
}

func (ef ErrorFailed) Error() string {
	return ef.Err.Error()
}

func (ef ErrorFailed) Unwrap() error {
	return ef.Err
}

// Permanent wraps err so that Do returns it without another attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return ErrorFailed{Err: err}
}

func IsPermanent(err error) bool {
	return errors.As(err, &ErrorFailed{})
}

// ExhaustedError is returned once every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("timed out after %d attempts, last error: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrExhausted, e.Last}
}

// Do calls f until it succeeds, returns a non-retryable error, the attempts
// run out or ctx is done. The attempt number starts at 1.
func Do(ctx context.Context, p Policy, f func(attempt int) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	wait := p.Initial
	for i := 1; ; i++ {
		err := f(i)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			var ef ErrorFailed
			errors.As(err, &ef)
			return ef.Err
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if i >= attempts {
			return &ExhaustedError{Attempts: i, Last: err}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait = p.next(wait)
	}
}

func (p Policy) next(wait time.Duration) time.Duration {
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 2
	}
	wait = time.Duration(float64(wait) * multiplier)
	if p.Max > 0 && wait > p.Max {
		wait = p.Max
	}
	return wait
}

// Poll calls pollFunc until it reports done, returns an error, the timeout
// elapses or ctx is done. The interval between polls follows p, capped at
// p.Max. The attempt budget of p is ignored.
func Poll(ctx context.Context, timeout time.Duration, p Policy, pollFunc func() (bool, error)) error {
	deadline := time.After(timeout)

	wait := p.Initial
	nextPoll := time.After(0)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("polling timed out after %s", timeout)
		case <-nextPoll:
			shouldStop, err := pollFunc()
			if shouldStop || err != nil {
				return err
			}
			nextPoll = time.After(wait)
			wait = p.next(wait)
		}
	}
}
