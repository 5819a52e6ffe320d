// Package reconcile resolves the identifier a ledger assigns to an order once
// the transaction that created it is final.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/catalogfi/xswap/pkg/retry"
	"go.uber.org/zap"
)

var ErrCounterNotReady = errors.New("order counter not yet assigned")

// CounterLocation points at the monotonically increasing next-id counter.
type CounterLocation struct {
	Account  string
	Resource string
	Field    string
}

func (loc CounterLocation) String() string {
	return fmt.Sprintf("%s/%s.%s", loc.Account, loc.Resource, loc.Field)
}

// CounterReader reads the counter. A ledger that assigns ids implements it.
type CounterReader interface {
	CounterLocation() CounterLocation
	ReadCounter(ctx context.Context, loc CounterLocation) (uint64, error)
}

// OrderMatcher reports whether the ledger order with the given id carries
// hashlock. Readers that implement it allow cached ids to be re-validated.
type OrderMatcher interface {
	LedgerOrderMatches(ctx context.Context, loc CounterLocation, id uint64, hashlock [32]byte) (bool, error)
}

type Result struct {
	ID       uint64
	Degraded bool
	Attempts int
	ReadAt   time.Time
}

type Options struct {
	Attempts     int
	Interval     time.Duration
	MaxInterval  time.Duration
	SearchWindow uint64
}

func DefaultOptions() Options {
	return Options{
		Attempts:     5,
		Interval:     time.Second,
		MaxInterval:  8 * time.Second,
		SearchWindow: 16,
	}
}

func (opts Options) WithAttempts(n int) Options {
	opts.Attempts = n
	return opts
}

func (opts Options) WithInterval(d time.Duration) Options {
	opts.Interval = d
	return opts
}

type Reconciler struct {
	opts   Options
	logger *zap.Logger
}

func New(opts Options, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		opts:   opts,
		logger: logger.With(zap.String("component", "reconciler")),
	}
}

func (r *Reconciler) policy() retry.Policy {
	return retry.DefaultPolicy().
		WithAttempts(r.opts.Attempts).
		WithInitial(r.opts.Interval).
		WithMax(r.opts.MaxInterval)
}

// ResolveAssignedID reads the counter and infers the id assigned by the last
// finalized call as counter-1. When every read fails it falls back to
// previous+1, or 1 without a previous id, and flags the result as degraded.
// It only returns an error when ctx is done.
func (r *Reconciler) ResolveAssignedID(ctx context.Context, reader CounterReader, loc CounterLocation, previous *uint64) (Result, error) {
	var result Result
	err := retry.Do(ctx, r.policy(), func(attempt int) error {
		result.Attempts = attempt
		counter, err := reader.ReadCounter(ctx, loc)
		if err != nil {
			r.logger.Debug("counter read failed", zap.String("location", loc.String()), zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		if counter == 0 {
			return ErrCounterNotReady
		}
		result.ID = counter - 1
		result.ReadAt = time.Now()
		return nil
	})
	if err == nil {
		return result, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, ctxErr
	}

	predicted := uint64(1)
	if previous != nil {
		predicted = *previous + 1
	}
	r.logger.Warn("reconciliation degraded, using predicted id",
		zap.String("location", loc.String()),
		zap.Uint64("predicted", predicted),
		zap.Error(err))
	return Result{ID: predicted, Degraded: true, Attempts: result.Attempts, ReadAt: time.Now()}, nil
}

// Revalidate re-reads the ledger before a cached id is used. The cached id is
// kept when the ledger order still carries hashlock. Otherwise the ids below
// the fresh counter are searched and the fresh read wins.
func (r *Reconciler) Revalidate(ctx context.Context, reader CounterReader, loc CounterLocation, cached Result, hashlock [32]byte) (Result, error) {
	matcher, ok := reader.(OrderMatcher)
	if !ok {
		return cached, nil
	}

	var fresh Result
	err := retry.Do(ctx, r.policy(), func(attempt int) error {
		fresh.Attempts = attempt
		match, err := matcher.LedgerOrderMatches(ctx, loc, cached.ID, hashlock)
		if err != nil {
			return err
		}
		if match {
			fresh = Result{ID: cached.ID, Attempts: attempt, ReadAt: time.Now()}
			return nil
		}

		counter, err := reader.ReadCounter(ctx, loc)
		if err != nil {
			return err
		}
		var floor uint64
		if counter > r.opts.SearchWindow {
			floor = counter - r.opts.SearchWindow
		}
		for id := counter; id > floor; id-- {
			match, err := matcher.LedgerOrderMatches(ctx, loc, id-1, hashlock)
			if err != nil {
				return err
			}
			if match {
				fresh = Result{ID: id - 1, Attempts: attempt, ReadAt: time.Now()}
				return nil
			}
		}
		return retry.Permanent(fmt.Errorf("no ledger order with hashlock %x below counter %d", hashlock, counter))
	})
	if err != nil {
		return cached, err
	}
	if fresh.ID != cached.ID {
		r.logger.Warn("cached ledger id replaced by fresh read",
			zap.String("location", loc.String()),
			zap.Uint64("cached", cached.ID),
			zap.Uint64("fresh", fresh.ID))
	}
	return fresh, nil
}
