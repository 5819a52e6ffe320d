// Package gate checks that a resolver may call the privileged entry points of
// a ledger and performs the one-time owner authorization when it may not.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/catalogfi/xswap/pkg/chain"
	"github.com/catalogfi/xswap/pkg/retry"
	"go.uber.org/zap"
)

var ErrUnauthorized = errors.New("resolver not authorized")

// Registry is the ledger side of the allowlist.
type Registry interface {
	IsResolverAuthorized(ctx context.Context, resolver string) (bool, error)

	// AuthorizeResolver must be sent by the allowlist owner.
	AuthorizeResolver(ctx context.Context, resolver string) (chain.TxResult, error)

	AwaitFinality(ctx context.Context, ref chain.TxRef, confirmations uint64) (chain.FinalizedReceipt, error)
}

type Options struct {
	Confirmations   uint64
	FinalityTimeout time.Duration
	Retry           retry.Policy
}

func DefaultOptions() Options {
	return Options{
		Confirmations:   1,
		FinalityTimeout: 2 * time.Minute,
		Retry:           retry.DefaultPolicy().WithRetryable(chain.IsRetryable),
	}
}

type Gate struct {
	registry Registry
	opts     Options
	logger   *zap.Logger

	mu         *sync.Mutex
	authorized map[string]struct{}
}

func New(registry Registry, opts Options, logger *zap.Logger) *Gate {
	return &Gate{
		registry:   registry,
		opts:       opts,
		logger:     logger.With(zap.String("component", "gate")),
		mu:         new(sync.Mutex),
		authorized: map[string]struct{}{},
	}
}

// IsAuthorized reads the allowlist, retrying transient read failures.
func (g *Gate) IsAuthorized(ctx context.Context, resolver string) (bool, error) {
	g.mu.Lock()
	_, cached := g.authorized[resolver]
	g.mu.Unlock()
	if cached {
		return true, nil
	}

	var ok bool
	err := retry.Do(ctx, g.opts.Retry, func(int) error {
		var err error
		ok, err = g.registry.IsResolverAuthorized(ctx, resolver)
		return err
	})
	if err != nil {
		return false, err
	}
	if ok {
		g.mu.Lock()
		g.authorized[resolver] = struct{}{}
		g.mu.Unlock()
	}
	return ok, nil
}

// Authorize submits the owner-only authorization. It is never retried.
func (g *Gate) Authorize(ctx context.Context, resolver string) (chain.TxResult, error) {
	return g.registry.AuthorizeResolver(ctx, resolver)
}

// Ensure authorizes resolver once if the allowlist does not contain it. Every
// failure is wrapped in ErrUnauthorized.
func (g *Gate) Ensure(ctx context.Context, resolver string) error {
	ok, err := g.IsAuthorized(ctx, resolver)
	if err != nil {
		return fmt.Errorf("%w: reading allowlist: %v", ErrUnauthorized, err)
	}
	if ok {
		return nil
	}

	logger := g.logger.With(zap.String("resolver", resolver))
	logger.Info("authorizing resolver")
	res, err := g.Authorize(ctx, resolver)
	if err != nil {
		return fmt.Errorf("%w: authorize: %v", ErrUnauthorized, err)
	}

	finalityCtx, cancel := context.WithTimeout(ctx, g.opts.FinalityTimeout)
	defer cancel()
	if _, err := g.registry.AwaitFinality(finalityCtx, res.TxRef, g.opts.Confirmations); err != nil {
		return fmt.Errorf("%w: awaiting authorization %v: %v", ErrUnauthorized, res.TxRef, err)
	}

	ok, err = g.IsAuthorized(ctx, resolver)
	if err != nil {
		return fmt.Errorf("%w: reading allowlist: %v", ErrUnauthorized, err)
	}
	if !ok {
		return fmt.Errorf("%w: still missing after %v", ErrUnauthorized, res.TxRef)
	}
	logger.Info("resolver authorized", zap.String("tx", string(res.TxRef)))
	return nil
}
