package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/catalogfi/xswap/pkg/chain"
	"github.com/catalogfi/xswap/pkg/gate"
	"github.com/catalogfi/xswap/pkg/reconcile"
	"github.com/catalogfi/xswap/pkg/retry"
	"github.com/catalogfi/xswap/pkg/store"
	"github.com/catalogfi/xswap/pkg/swap"
	"github.com/catalogfi/xswap/pkg/swap/hashlock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// fundSource authorizes the resolver and locks the maker's funds on the
// source chain.
func (c *Coordinator) fundSource(ctx context.Context, order swap.Order, logger *zap.Logger) (*transition, error) {
	src, dst, err := c.legAdapters(order)
	if err != nil {
		return fail(swap.ClassRejected, err), nil
	}
	if err := hashlock.CheckConsistency(src, dst); err != nil {
		return fail(swap.ClassHashMismatch, err), nil
	}

	opened, err := c.opened(ctx, order.OrderID, swap.LegSrc)
	if err != nil {
		return nil, err
	}
	if !opened {
		if c.clock.Now().After(order.CreatedAt.Add(c.opts.FundingGrace)) {
			return fail(swap.ClassDeadline, fmt.Errorf("%w: source not funded within %v", ErrDeadline, c.opts.FundingGrace)), nil
		}
		for _, leg := range swap.Legs {
			g, ok := c.gates[order.Chain(leg)]
			if !ok {
				continue
			}
			if err := g.Ensure(ctx, order.Resolver.On(leg)); err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return fail(swap.ClassUnauthorized, err), nil
			}
		}
	} else {
		submitted, err := c.storedEscrow(ctx, order.OrderID, swap.LegSrc)
		if err != nil {
			return nil, err
		}
		if t := c.missedFunding(order, submitted); t != nil {
			return t, nil
		}
	}

	escrow, err := c.openLeg(ctx, order, swap.LegSrc, time.Time{}, logger)
	if err != nil {
		if transient(err) {
			if escrow.OpenTx != "" {
				if t := c.missedFunding(order, escrow); t != nil {
					return t, nil
				}
			}
			return nil, err
		}
		if escrow.OpenTx != "" {
			return cancelling(classify(err), err), nil
		}
		return fail(classify(err), err), nil
	}
	return &transition{to: swap.SrcFunded, txRef: escrow.OpenTx}, nil
}

// fundDestination re-validates the source escrow on chain and locks the
// resolver's funds on the destination chain.
func (c *Coordinator) fundDestination(ctx context.Context, order swap.Order, logger *zap.Logger) (*transition, error) {
	src, err := c.store.Escrow(ctx, order.OrderID, swap.LegSrc)
	if err != nil {
		return nil, err
	}
	srcAdapter, err := c.adapter(order.SrcChain)
	if err != nil {
		return cancelling(swap.ClassRejected, err), nil
	}

	src, err = c.revalidate(ctx, srcAdapter, src, order, logger)
	if err != nil {
		return nil, err
	}
	state, err := c.escrowState(ctx, srcAdapter, src)
	if err != nil {
		if transient(err) {
			return nil, err
		}
		return cancelling(classify(err), err), nil
	}
	if state.Claimed || state.Cancelled {
		c.divergence(logger, order, src, state)
		return cancelling(swap.ClassRejected, fmt.Errorf("%w: source escrow already settled", ErrParamMismatch)), nil
	}
	if err := verifyState(state, src.Immutables); err != nil {
		return cancelling(swap.ClassRejected, err), nil
	}

	if t := c.missedFunding(order, src); t != nil {
		return t, nil
	}

	escrow, err := c.openLeg(ctx, order, swap.LegDst, src.Deadline(swap.SrcCancellation), logger)
	if err != nil {
		if transient(err) {
			if t := c.missedFunding(order, src); t != nil {
				return t, nil
			}
			return nil, err
		}
		return cancelling(classify(err), err), nil
	}
	return &transition{to: swap.DstFunded, txRef: escrow.OpenTx}, nil
}

// fundingDeadline is the last moment the destination escrow may be funded. A
// later one would stay claimable after the maker can refund the source. Until
// the source deployment time is known the order expiry stands in for the
// source cancellation.
func fundingDeadline(order swap.Order, src swap.Escrow) time.Time {
	srcCancellation := order.ExpiresAt
	if src.Immutables.DeployedAt != 0 {
		srcCancellation = src.Deadline(swap.SrcCancellation)
	}
	return srcCancellation.Add(-order.Timelocks.Get(swap.DstCancellation))
}

// missedFunding moves the order to CANCELLING once the destination can no
// longer be funded in time.
func (c *Coordinator) missedFunding(order swap.Order, src swap.Escrow) *transition {
	deadline := fundingDeadline(order, src)
	if c.clock.Now().Before(deadline) {
		return nil
	}
	return cancelling(swap.ClassDeadline, fmt.Errorf("%w: destination must be funded before %v",
		ErrDeadline, deadline.UTC()))
}

// storedEscrow returns the stored escrow of a leg, or an empty escrow when
// nothing was recorded yet.
func (c *Coordinator) storedEscrow(ctx context.Context, orderID string, leg swap.Leg) (swap.Escrow, error) {
	escrow, err := c.store.Escrow(ctx, orderID, leg)
	if errors.Is(err, store.ErrNotFound) {
		return swap.Escrow{}, nil
	}
	return escrow, err
}

// opened reports whether an open of the leg was submitted before, according
// to either the journal or the store.
func (c *Coordinator) opened(ctx context.Context, orderID string, leg swap.Leg) (bool, error) {
	ok, err := c.journal.CheckAction(ctx, swap.ActionOpen, leg, orderID)
	if err != nil || ok {
		return ok, err
	}
	escrow, err := c.storedEscrow(ctx, orderID, leg)
	if err != nil {
		return false, err
	}
	return escrow.OpenTx != "", nil
}

// awaitReveal waits for the maker to claim the destination escrow.
func (c *Coordinator) awaitReveal(ctx context.Context, order swap.Order, logger *zap.Logger) (*transition, error) {
	dst, err := c.store.Escrow(ctx, order.OrderID, swap.LegDst)
	if err != nil {
		return nil, err
	}
	reveal, found, err := c.observeReveal(ctx, order, dst, logger)
	if err != nil {
		return nil, err
	}
	if found {
		return &transition{to: swap.Claimed, txRef: reveal.TxRef}, nil
	}

	deadline := dst.Deadline(swap.DstCancellation)
	if !c.clock.Now().Before(deadline) {
		return cancelling(swap.ClassDeadline, fmt.Errorf("%w: maker did not claim before %v", ErrDeadline, deadline.UTC())), nil
	}
	return nil, nil
}

// observeReveal looks for a claim of the destination escrow. A found secret is
// persisted together with the claim.
func (c *Coordinator) observeReveal(ctx context.Context, order swap.Order, dst swap.Escrow, logger *zap.Logger) (swap.Reveal, bool, error) {
	adapter, err := c.adapter(order.DstChain)
	if err != nil {
		return swap.Reveal{}, false, err
	}
	var reveals []swap.Reveal
	err = retry.Do(ctx, c.opts.Retry, func(int) error {
		var err error
		reveals, err = adapter.Reveals(ctx, chain.HandleOf(dst))
		return err
	})
	if err != nil {
		return swap.Reveal{}, false, err
	}

	secret, reveal, ok := hashlock.ObserveReveal(reveals, order.Hashlock)
	if len(reveals) > 0 && !ok {
		logger.Warn("ignoring claims whose preimage does not match the hashlock", zap.Int("claims", len(reveals)))
	}
	if !ok {
		return swap.Reveal{}, false, nil
	}

	wctx, cancel := detach(ctx)
	defer cancel()
	if err := c.store.SetSecret(wctx, order.OrderID, secret); err != nil {
		return swap.Reveal{}, false, err
	}
	if _, err := c.store.UpdateEscrow(wctx, order.OrderID, swap.LegDst, func(e *swap.Escrow) {
		e.Claimed = true
		e.ClaimTx = reveal.TxRef
	}); err != nil {
		return swap.Reveal{}, false, err
	}
	logger.Info("secret revealed", zap.String("tx", reveal.TxRef), zap.Uint64("block", reveal.Block))
	return reveal, true, nil
}

// claimSource withdraws the source escrow to the resolver with the revealed
// secret. The claim has to be final before the source cancellation, past it
// the order expires unless the ledger shows the escrow as claimed.
func (c *Coordinator) claimSource(ctx context.Context, order swap.Order, logger *zap.Logger) (*transition, error) {
	if order.Secret == nil {
		return nil, fmt.Errorf("%w: claimed order has no secret", ErrSecretUnavailable)
	}
	src, err := c.store.Escrow(ctx, order.OrderID, swap.LegSrc)
	if err != nil {
		return nil, err
	}
	adapter, err := c.adapter(order.SrcChain)
	if err != nil {
		return nil, err
	}
	src, err = c.revalidate(ctx, adapter, src, order, logger)
	if err != nil {
		return nil, err
	}

	deadline := src.Deadline(swap.SrcCancellation)
	expired := func(cause error) (*transition, error) {
		return &transition{
			to:    swap.Expired,
			class: swap.ClassDeadline,
			err:   fmt.Errorf("%w: source claim window closed at %v: %v", ErrDeadline, deadline.UTC(), cause),
		}, nil
	}
	claimedOnChain := func() (bool, error) {
		state, err := c.escrowState(ctx, adapter, src)
		if err != nil {
			return false, err
		}
		return state.Claimed, nil
	}

	if src.ClaimTx == "" {
		journaled, err := c.journal.CheckAction(ctx, swap.ActionClaim, swap.LegSrc, order.OrderID)
		if err != nil {
			return nil, err
		}
		if journaled || !c.clock.Now().Before(deadline) {
			claimed, err := claimedOnChain()
			if claimed {
				return c.settleSource(ctx, order, src.ClaimTx)
			}
			if !c.clock.Now().Before(deadline) {
				if err == nil {
					err = errors.New("source escrow not claimed")
				}
				return expired(err)
			}
			if err != nil {
				return nil, err
			}
		}

		var res chain.TxResult
		err = retry.Do(ctx, c.opts.Retry, func(int) error {
			var err error
			res, err = adapter.Claim(ctx, chain.HandleOf(src), *order.Secret)
			return err
		})
		if err != nil {
			if claimed, _ := claimedOnChain(); claimed {
				return c.settleSource(ctx, order, src.ClaimTx)
			}
			if !c.clock.Now().Before(deadline) {
				return expired(err)
			}
			return nil, err
		}
		if err := c.journal.StoreAction(ctx, swap.ActionClaim, swap.LegSrc, order.OrderID); err != nil {
			logger.Warn("failed to journal claim", zap.Error(err))
		}

		wctx, cancel := detach(ctx)
		src, err = c.store.UpdateEscrow(wctx, order.OrderID, swap.LegSrc, func(e *swap.Escrow) {
			e.ClaimTx = string(res.TxRef)
		})
		cancel()
		if err != nil {
			return nil, err
		}
		logger.Info("source claimed", zap.String("tx", src.ClaimTx))
	}

	if _, err := c.awaitFinality(ctx, adapter, chain.TxRef(src.ClaimTx)); err != nil {
		claimed, stateErr := claimedOnChain()
		if claimed {
			return c.settleSource(ctx, order, src.ClaimTx)
		}
		if !c.clock.Now().Before(deadline) {
			return expired(err)
		}
		if stateErr == nil {
			logger.Warn("source claim did not land, resubmitting", zap.String("tx", src.ClaimTx), zap.Error(err))
			if err := c.forgetClaim(ctx, order.OrderID); err != nil {
				return nil, err
			}
		}
		return nil, err
	}
	return c.settleSource(ctx, order, src.ClaimTx)
}

func (c *Coordinator) settleSource(ctx context.Context, order swap.Order, txRef string) (*transition, error) {
	wctx, cancel := detach(ctx)
	defer cancel()
	if _, err := c.store.UpdateEscrow(wctx, order.OrderID, swap.LegSrc, func(e *swap.Escrow) {
		e.Claimed = true
	}); err != nil {
		return nil, err
	}
	return &transition{to: swap.Settled, txRef: txRef}, nil
}

// forgetClaim drops a source claim that was reverted or never mined so that
// the next step submits a fresh one.
func (c *Coordinator) forgetClaim(ctx context.Context, orderID string) error {
	wctx, cancel := detach(ctx)
	defer cancel()
	if _, err := c.store.UpdateEscrow(wctx, orderID, swap.LegSrc, func(e *swap.Escrow) {
		e.ClaimTx = ""
	}); err != nil {
		return err
	}
	return c.journal.ClearAction(wctx, swap.ActionClaim, swap.LegSrc, orderID)
}

type legOutcome struct {
	done bool
	late bool
	err  error
}

// unwind cancels every funded and unclaimed leg once its cancellation stage
// opens. A destination claim seen while unwinding sends the order back to
// claiming the source.
func (c *Coordinator) unwind(ctx context.Context, order swap.Order, logger *zap.Logger) (*transition, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.UnwindTimeout)
	defer cancel()

	escrows, err := c.store.Escrows(ctx, order.OrderID)
	if err != nil {
		return nil, err
	}

	var src, dst *swap.Escrow
	for i := range escrows {
		switch escrows[i].Leg {
		case swap.LegSrc:
			src = &escrows[i]
		case swap.LegDst:
			dst = &escrows[i]
		}
	}
	if dst != nil && dst.OpenTx != "" && !dst.Cancelled && src != nil && src.Funded && !src.Claimed && !src.Cancelled {
		reveal, found, err := c.observeReveal(ctx, order, *dst, logger)
		if err != nil {
			logger.Warn("failed to check for a late reveal", zap.Error(err))
		} else if found {
			return &transition{to: swap.Claimed, txRef: reveal.TxRef}, nil
		}
	}

	outcomes := make([]legOutcome, len(escrows))
	var g errgroup.Group
	for i := range escrows {
		i := i
		g.Go(func() error {
			outcomes[i] = c.unwindLeg(ctx, order, escrows[i], logger)
			return nil
		})
	}
	g.Wait()

	var (
		late, pending bool
		errs          []error
	)
	for i, outcome := range outcomes {
		if outcome.err != nil {
			errs = append(errs, fmt.Errorf("%v leg: %w", escrows[i].Leg, outcome.err))
		}
		pending = pending || !outcome.done
		late = late || outcome.late
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if pending {
		return nil, nil
	}

	if late {
		return &transition{
			to:    swap.Expired,
			class: swap.ClassDeadline,
			err:   fmt.Errorf("%w: a funded leg was cancelled after its private cancellation window", ErrDeadline),
		}, nil
	}
	var cause error
	if order.Error != "" {
		cause = errors.New(order.Error)
	}
	return &transition{to: swap.Cancelled, class: order.ErrorClass, err: cause, txRef: order.LastTxRef}, nil
}

// unwindLeg cancels one escrow. It is done once the escrow holds no funds.
func (c *Coordinator) unwindLeg(ctx context.Context, order swap.Order, e swap.Escrow, logger *zap.Logger) legOutcome {
	logger = logger.With(zap.Stringer("leg", e.Leg))
	if e.OpenTx == "" || e.Cancelled || e.Claimed {
		return legOutcome{done: true, late: e.Late}
	}
	adapter, err := c.adapter(e.Chain)
	if err != nil {
		return legOutcome{err: err}
	}

	e, err = c.revalidate(ctx, adapter, e, order, logger)
	if err != nil {
		return legOutcome{err: err}
	}
	state, err := c.escrowState(ctx, adapter, e)
	if err != nil {
		return legOutcome{err: err}
	}
	if state.Claimed || state.Cancelled || !state.Funded {
		if e.Funded && (state.Claimed != e.Claimed || state.Cancelled != e.Cancelled) {
			c.divergence(logger, order, e, state)
		}
		if err := c.recordState(ctx, e, state); err != nil {
			return legOutcome{err: err}
		}
		return legOutcome{done: true, late: e.Late}
	}

	now := c.clock.Now()
	if now.Before(e.Deadline(swap.Cancellation(e.Leg))) {
		return legOutcome{}
	}

	attempted, err := c.journal.CheckAction(ctx, swap.ActionCancel, e.Leg, order.OrderID)
	if err != nil {
		return legOutcome{err: err}
	}
	if !attempted {
		if late := c.lateDeadline(e); !now.Before(late) {
			e.Late = true
			c.alert(logger, c.alerter.Error, "order %s: cancelling %v escrow after %v", order.OrderID, e.Leg, late.UTC())
		}
		if err := c.journal.StoreAction(ctx, swap.ActionCancel, e.Leg, order.OrderID); err != nil {
			return legOutcome{err: err}
		}
		late := e.Late
		if err := c.updateEscrow(ctx, e, func(stored *swap.Escrow) {
			stored.Late = late
		}); err != nil {
			return legOutcome{err: err}
		}
	}

	var res chain.TxResult
	err = retry.Do(ctx, c.opts.Retry, func(int) error {
		var err error
		res, err = adapter.Cancel(ctx, chain.HandleOf(e))
		return err
	})
	if err != nil {
		if state, stateErr := c.escrowState(ctx, adapter, e); stateErr == nil && (state.Cancelled || state.Claimed) {
			if err := c.recordState(ctx, e, state); err != nil {
				return legOutcome{err: err}
			}
			return legOutcome{done: true, late: e.Late}
		}
		return legOutcome{err: fmt.Errorf("cancel: %w", err)}
	}
	logger.Info("escrow cancelled", zap.String("tx", string(res.TxRef)))

	if err := c.updateEscrow(ctx, e, func(stored *swap.Escrow) {
		stored.CancelTx = string(res.TxRef)
	}); err != nil {
		return legOutcome{err: err}
	}
	if _, err := c.awaitFinality(ctx, adapter, res.TxRef); err != nil {
		state, stateErr := c.escrowState(ctx, adapter, e)
		if stateErr == nil && (state.Cancelled || state.Claimed) {
			if err := c.recordState(ctx, e, state); err != nil {
				return legOutcome{err: err}
			}
			return legOutcome{done: true, late: e.Late}
		}
		if stateErr == nil {
			logger.Warn("cancel did not land, resubmitting", zap.String("tx", string(res.TxRef)), zap.Error(err))
			// The journal entry stays, it marks the first attempt.
			if err := c.updateEscrow(ctx, e, func(stored *swap.Escrow) {
				stored.CancelTx = ""
			}); err != nil {
				return legOutcome{err: err}
			}
		}
		return legOutcome{err: err}
	}
	if err := c.updateEscrow(ctx, e, func(stored *swap.Escrow) {
		stored.Cancelled = true
	}); err != nil {
		return legOutcome{err: err}
	}
	return legOutcome{done: true, late: e.Late}
}

func (c *Coordinator) updateEscrow(ctx context.Context, e swap.Escrow, update func(*swap.Escrow)) error {
	wctx, cancel := detach(ctx)
	defer cancel()
	_, err := c.store.UpdateEscrow(wctx, e.OrderID, e.Leg, update)
	return err
}

// lateDeadline is the last moment a cancel of the leg counts as on time. The
// source leg has a public cancellation stage, the destination leg gets the
// configured grace.
func (c *Coordinator) lateDeadline(e swap.Escrow) time.Time {
	if e.Leg == swap.LegSrc {
		return e.Deadline(swap.SrcPublicCancellation)
	}
	return e.Deadline(swap.DstCancellation).Add(c.opts.ExpiryGrace)
}

func (c *Coordinator) recordState(ctx context.Context, e swap.Escrow, state chain.EscrowState) error {
	return c.updateEscrow(ctx, e, func(stored *swap.Escrow) {
		stored.Funded = stored.Funded || state.Funded || state.Claimed || state.Cancelled
		stored.Claimed = state.Claimed
		stored.Cancelled = state.Cancelled
	})
}

func (c *Coordinator) divergence(logger *zap.Logger, order swap.Order, e swap.Escrow, state chain.EscrowState) {
	logger.Warn("local escrow state diverges from chain",
		zap.Stringer("leg", e.Leg),
		zap.Bool("local_claimed", e.Claimed),
		zap.Bool("chain_claimed", state.Claimed),
		zap.Bool("local_cancelled", e.Cancelled),
		zap.Bool("chain_cancelled", state.Cancelled))
	c.alert(logger, c.alerter.Warn, "order %s: %v escrow state diverges from chain (claimed %v/%v, cancelled %v/%v)",
		order.OrderID, e.Leg, e.Claimed, state.Claimed, e.Cancelled, state.Cancelled)
}

// openLeg submits the escrow of a leg unless the journal or the store show a
// previous submission, then waits for finality, resolves the ledger id and
// checks the escrow on chain.
func (c *Coordinator) openLeg(ctx context.Context, order swap.Order, leg swap.Leg, srcCancellation time.Time, logger *zap.Logger) (swap.Escrow, error) {
	logger = logger.With(zap.Stringer("leg", leg))
	adapter, err := c.adapter(order.Chain(leg))
	if err != nil {
		return swap.Escrow{}, err
	}

	escrow, err := c.storedEscrow(ctx, order.OrderID, leg)
	if err != nil {
		return swap.Escrow{}, err
	}
	if escrow.OpenTx == "" {
		im := order.Immutables(leg)
		im.SafetyDeposit = c.deposit(order, leg)
		params := chain.EscrowParams{
			OrderID:         order.OrderID,
			Leg:             leg,
			Key:             chain.NewRequestKey(order.OrderID, leg, swap.ActionOpen),
			Immutables:      im,
			SrcCancellation: srcCancellation,
			MinAmount:       im.Amount,
		}

		var handle chain.EscrowHandle
		err := retry.Do(ctx, c.opts.Retry, func(int) error {
			var err error
			handle, err = adapter.OpenEscrow(ctx, params)
			return err
		})
		if err != nil {
			return swap.Escrow{}, fmt.Errorf("open %v escrow: %w", leg, err)
		}
		if err := c.journal.StoreAction(ctx, swap.ActionOpen, leg, order.OrderID); err != nil {
			logger.Warn("failed to journal open", zap.Error(err))
		}

		escrow = swap.Escrow{
			OrderID:    order.OrderID,
			Leg:        leg,
			Chain:      order.Chain(leg),
			Handle:     handle.Address,
			LedgerID:   handle.LedgerID,
			Immutables: handle.Immutables,
			OpenTx:     string(handle.OpenTx),
		}
		wctx, cancel := detach(ctx)
		err = c.store.PutEscrow(wctx, escrow)
		cancel()
		if err != nil {
			return escrow, err
		}
		logger.Info("escrow opened", zap.String("tx", escrow.OpenTx))
	}
	if escrow.Funded {
		return escrow, nil
	}

	receipt, err := c.awaitFinality(ctx, adapter, chain.TxRef(escrow.OpenTx))
	if err != nil {
		return escrow, err
	}
	if escrow.Immutables.DeployedAt == 0 {
		escrow.Immutables.DeployedAt = uint32(receipt.Time.Unix())
	}
	if escrow.Handle == "" {
		escrow.Handle = receipt.Escrow
	}

	if reader, ok := adapter.(reconcile.CounterReader); ok && escrow.LedgerID == nil {
		previous, err := c.store.LastLedgerID(ctx, order.Chain(leg))
		if err != nil {
			return escrow, err
		}
		loc := reader.CounterLocation()
		res, err := c.reconciler.ResolveAssignedID(ctx, reader, loc, previous)
		if err != nil {
			return escrow, err
		}
		if fresh, err := c.reconciler.Revalidate(ctx, reader, loc, res, order.Hashlock); err == nil {
			res = fresh
		} else {
			logger.Warn("could not confirm ledger id", zap.Uint64("id", res.ID), zap.Error(err))
		}
		escrow.LedgerID = &res.ID
		escrow.Degraded = res.Degraded
		if res.Degraded {
			c.alert(logger, c.alerter.Warn, "order %s: %v ledger id %d is a prediction", order.OrderID, leg, res.ID)
		}

		wctx, cancel := detach(ctx)
		err = c.store.PutEscrow(wctx, escrow)
		cancel()
		if err != nil {
			return escrow, err
		}
	}

	state, err := c.escrowState(ctx, adapter, escrow)
	if err != nil {
		return escrow, err
	}
	if err := verifyState(state, escrow.Immutables); err != nil {
		return escrow, err
	}
	escrow.Funded = true

	wctx, cancel := detach(ctx)
	defer cancel()
	if err := c.store.PutEscrow(wctx, escrow); err != nil {
		return escrow, err
	}
	return escrow, nil
}

// revalidate re-reads the ledger id of an escrow before it is used. Escrows on
// chains without an order counter are returned unchanged.
func (c *Coordinator) revalidate(ctx context.Context, adapter chain.Adapter, e swap.Escrow, order swap.Order, logger *zap.Logger) (swap.Escrow, error) {
	reader, ok := adapter.(reconcile.CounterReader)
	if !ok {
		return e, nil
	}
	var cached reconcile.Result
	if e.LedgerID != nil {
		cached.ID = *e.LedgerID
	}
	fresh, err := c.reconciler.Revalidate(ctx, reader, reader.CounterLocation(), cached, order.Hashlock)
	if err != nil {
		if e.LedgerID != nil {
			logger.Warn("keeping cached ledger id", zap.Uint64("id", cached.ID), zap.Error(err))
			return e, nil
		}
		return e, err
	}
	if e.LedgerID != nil && fresh.ID == *e.LedgerID && !e.Degraded {
		return e, nil
	}

	wctx, cancel := detach(ctx)
	defer cancel()
	if err := c.store.SetLedgerID(wctx, order.OrderID, e.Leg, fresh.ID, false); err != nil {
		return e, err
	}
	e.LedgerID = &fresh.ID
	e.Degraded = false
	return e, nil
}

func (c *Coordinator) awaitFinality(ctx context.Context, adapter chain.Adapter, ref chain.TxRef) (chain.FinalizedReceipt, error) {
	var receipt chain.FinalizedReceipt
	err := retry.Do(ctx, c.opts.Retry, func(int) error {
		fctx, cancel := context.WithTimeout(ctx, c.opts.FinalityTimeout)
		defer cancel()
		var err error
		receipt, err = adapter.AwaitFinality(fctx, ref, c.opts.Confirmations)
		if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return chain.Timeout("finality", err)
		}
		return err
	})
	if err != nil {
		return receipt, fmt.Errorf("finality of %v: %w", ref, err)
	}
	return receipt, nil
}

func (c *Coordinator) escrowState(ctx context.Context, adapter chain.Adapter, e swap.Escrow) (chain.EscrowState, error) {
	var state chain.EscrowState
	err := retry.Do(ctx, c.opts.Retry, func(int) error {
		var err error
		state, err = adapter.EscrowState(ctx, chain.HandleOf(e))
		return err
	})
	return state, err
}

func (c *Coordinator) deposit(order swap.Order, leg swap.Leg) *big.Int {
	if order.SafetyDeposit != nil && order.SafetyDeposit.Sign() > 0 {
		return new(big.Int).Set(order.SafetyDeposit)
	}
	return c.opts.Deposit.For(order.Amount(leg))
}

func (c *Coordinator) adapter(ch swap.Chain) (chain.Adapter, error) {
	adapter, ok := c.adapters.Get(ch)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChain, ch)
	}
	return adapter, nil
}

func (c *Coordinator) legAdapters(order swap.Order) (chain.Adapter, chain.Adapter, error) {
	src, err := c.adapter(order.SrcChain)
	if err != nil {
		return nil, nil, err
	}
	dst, err := c.adapter(order.DstChain)
	if err != nil {
		return nil, nil, err
	}
	return src, dst, nil
}

func verifyState(state chain.EscrowState, im swap.Immutables) error {
	if !state.Funded {
		return fmt.Errorf("%w: escrow not funded", ErrParamMismatch)
	}
	if state.Hashlock != im.Hashlock {
		return fmt.Errorf("%w: hashlock %x, want %x", ErrParamMismatch, state.Hashlock, im.Hashlock)
	}
	if state.Amount == nil || state.Amount.Cmp(im.Amount) < 0 {
		return fmt.Errorf("%w: amount %v, want %v", ErrParamMismatch, state.Amount, im.Amount)
	}
	return nil
}

func fail(class swap.ErrorClass, err error) *transition {
	return &transition{to: swap.Failed, class: class, err: err}
}

func cancelling(class swap.ErrorClass, err error) *transition {
	return &transition{to: swap.Cancelling, class: class, err: err}
}

// transient reports whether a step error leaves the order in its status.
func transient(err error) bool {
	switch classify(err) {
	case swap.ClassTransient:
		return true
	default:
		return false
	}
}

func classify(err error) swap.ErrorClass {
	switch {
	case err == nil:
		return swap.ClassNone
	case errors.Is(err, gate.ErrUnauthorized), errors.Is(err, chain.ErrUnauthorized):
		return swap.ClassUnauthorized
	case errors.Is(err, hashlock.ErrHashMismatch):
		return swap.ClassHashMismatch
	case errors.Is(err, ErrDeadline):
		return swap.ClassDeadline
	case errors.Is(err, chain.ErrRejected),
		errors.Is(err, chain.ErrInsufficientFunds),
		errors.Is(err, ErrParamMismatch),
		errors.Is(err, ErrUnknownChain):
		return swap.ClassRejected
	default:
		return swap.ClassTransient
	}
}
