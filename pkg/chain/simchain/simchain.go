// Package simchain is a deterministic in-memory ledger with HTLC escrows, an
// order counter and a resolver allowlist. It backs tests and the daemon's
// simulation mode.
package simchain

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/catalogfi/xswap/pkg/chain"
	"github.com/catalogfi/xswap/pkg/reconcile"
	"github.com/catalogfi/xswap/pkg/swap"
	"github.com/catalogfi/xswap/pkg/swap/hashlock"
)

type Op string

const (
	OpOpen         Op = "open"
	OpClaim        Op = "claim"
	OpCancel       Op = "cancel"
	OpFinality     Op = "finality"
	OpState        Op = "state"
	OpReveals      Op = "reveals"
	OpCounter      Op = "counter"
	OpMatch        Op = "match"
	OpIsAuthorized Op = "is_authorized"
	OpAuthorize    Op = "authorize"
)

type Options struct {
	HashFunc hashlock.Func

	// RequireAuthorization restricts destination escrows to allowlisted takers.
	RequireAuthorization bool

	// Owner controls whether AuthorizeResolver succeeds.
	Owner bool

	// Faucet tops up funders that cannot cover an escrow.
	Faucet bool
}

func DefaultOptions() Options {
	return Options{HashFunc: hashlock.SHA256, Owner: true}
}

func (opts Options) WithHashFunc(f hashlock.Func) Options {
	opts.HashFunc = f
	return opts
}

func (opts Options) WithAuthorization(required, owner bool) Options {
	opts.RequireAuthorization = required
	opts.Owner = owner
	return opts
}

func (opts Options) WithFaucet() Options {
	opts.Faucet = true
	return opts
}

type escrow struct {
	id         uint64
	leg        swap.Leg
	immutables swap.Immutables
	deployedAt time.Time
	claimTx    chain.TxRef
	cancelTx   chain.TxRef
	reveals    []swap.Reveal
}

type tx struct {
	ref    chain.TxRef
	block  uint64
	at     time.Time
	escrow *escrow
}

type fault struct {
	times int
	err   error
}

type Chain struct {
	name  swap.Chain
	opts  Options
	clock *Clock

	mu    *sync.Mutex
	block uint64

	// counter is the next id to assign, ids start at 1.
	counter    uint64
	escrows    map[uint64]*escrow
	txs        map[chain.TxRef]*tx
	opened     map[chain.RequestKey]chain.EscrowHandle
	balances   map[string]*big.Int
	authorized map[string]bool
	faults     map[Op]*fault
	effects    map[Op]int
}

var (
	_ chain.Adapter           = (*Chain)(nil)
	_ reconcile.CounterReader = (*Chain)(nil)
	_ reconcile.OrderMatcher  = (*Chain)(nil)
)

func New(name swap.Chain, clock *Clock, opts Options) *Chain {
	return &Chain{
		name:       name,
		opts:       opts,
		clock:      clock,
		mu:         new(sync.Mutex),
		counter:    1,
		escrows:    map[uint64]*escrow{},
		txs:        map[chain.TxRef]*tx{},
		opened:     map[chain.RequestKey]chain.EscrowHandle{},
		balances:   map[string]*big.Int{},
		authorized: map[string]bool{},
		faults:     map[Op]*fault{},
		effects:    map[Op]int{},
	}
}

func (c *Chain) Chain() swap.Chain { return c.name }

func (c *Chain) Kind() chain.Kind { return chain.KindSim }

func (c *Chain) HashFunc() hashlock.Func { return c.opts.HashFunc }

// Fail makes the next n calls of op return err.
func (c *Chain) Fail(op Op, n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults[op] = &fault{times: n, err: err}
}

// FailRPC makes the next n calls of op fail with a transient error.
func (c *Chain) FailRPC(op Op, n int) {
	c.Fail(op, n, chain.RPC(string(op), errors.New("connection refused")))
}

// Effects returns how many times op changed chain state.
func (c *Chain) Effects(op Op) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.effects[op]
}

func (c *Chain) Mint(account, asset string, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credit(account, asset, amount)
}

func (c *Chain) Balance(account, asset string) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.balances[balanceKey(account, asset)]; ok {
		return new(big.Int).Set(b)
	}
	return big.NewInt(0)
}

// Live returns the number of escrows that still hold funds.
func (c *Chain) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.escrows {
		if e.claimTx == "" && e.cancelTx == "" {
			n++
		}
	}
	return n
}

func (c *Chain) OpenEscrow(ctx context.Context, params chain.EscrowParams) (chain.EscrowHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fault(OpOpen); err != nil {
		return chain.EscrowHandle{}, err
	}
	if handle, ok := c.opened[params.Key]; ok {
		return handle, nil
	}

	im := params.Immutables
	if im.Hashlock == ([32]byte{}) {
		return chain.EscrowHandle{}, chain.Rejected("open", errors.New("empty hashlock"))
	}
	if im.Amount == nil || im.Amount.Sign() <= 0 {
		return chain.EscrowHandle{}, chain.Rejected("open", errors.New("invalid amount"))
	}
	now := c.clock.Now()
	if params.Leg == swap.LegDst {
		if c.opts.RequireAuthorization && !c.authorized[im.Taker] {
			return chain.EscrowHandle{}, chain.Unauthorized("open", fmt.Errorf("taker %s", im.Taker))
		}
		dstCancel := now.Add(im.Timelocks.Get(swap.DstCancellation))
		if !params.SrcCancellation.IsZero() && !dstCancel.Before(params.SrcCancellation) {
			return chain.EscrowHandle{}, chain.Rejected("open", errors.New("invalid creation time"))
		}
	}

	funder := funderOf(params.Leg, im)
	deposit := im.SafetyDeposit
	if deposit == nil {
		deposit = big.NewInt(0)
	}
	if c.opts.Faucet {
		c.topUp(funder, im.Token, im.Amount)
		c.topUp(im.Taker, nativeAsset, deposit)
	}
	if c.balanceOf(funder, im.Token).Cmp(im.Amount) < 0 {
		return chain.EscrowHandle{}, chain.InsufficientFunds("open", fmt.Errorf("%s holds less than %v %s", funder, im.Amount, im.Token))
	}
	if deposit.Sign() > 0 && c.balanceOf(im.Taker, nativeAsset).Cmp(deposit) < 0 {
		return chain.EscrowHandle{}, chain.InsufficientFunds("open", fmt.Errorf("%s cannot cover the safety deposit", im.Taker))
	}
	c.debit(funder, im.Token, im.Amount)
	c.debit(im.Taker, nativeAsset, deposit)

	im.DeployedAt = uint32(now.Unix())
	e := &escrow{
		id:         c.counter,
		leg:        params.Leg,
		immutables: im,
		deployedAt: now,
	}
	c.counter++
	c.escrows[e.id] = e
	t := c.newTx(e)
	c.effects[OpOpen]++

	handle := chain.EscrowHandle{
		Chain:      c.name,
		Leg:        params.Leg,
		Key:        params.Key,
		Address:    string(c.name),
		OpenTx:     t.ref,
		Immutables: im,
	}
	c.opened[params.Key] = handle
	return handle, nil
}

func (c *Chain) Claim(ctx context.Context, handle chain.EscrowHandle, secret [32]byte) (chain.TxResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fault(OpClaim); err != nil {
		return chain.TxResult{}, err
	}
	e, err := c.lookup(handle)
	if err != nil {
		return chain.TxResult{}, err
	}
	if e.claimTx != "" {
		return chain.TxResult{TxRef: e.claimTx}, nil
	}
	if e.cancelTx != "" {
		return chain.TxResult{}, chain.Rejected("claim", errors.New("escrow cancelled"))
	}
	sum := c.opts.HashFunc.Sum(secret)
	if sum != e.immutables.Hashlock {
		return chain.TxResult{}, chain.Rejected("claim", errors.New("invalid secret"))
	}
	now := c.clock.Now()
	tl := e.immutables.Timelocks
	if now.Before(tl.Deadline(swap.Withdrawal(e.leg), e.deployedAt)) {
		return chain.TxResult{}, chain.Rejected("claim", errors.New("invalid time: withdrawal not open"))
	}
	if !now.Before(tl.Deadline(swap.Cancellation(e.leg), e.deployedAt)) {
		return chain.TxResult{}, chain.Rejected("claim", errors.New("invalid time: withdrawal closed"))
	}

	c.credit(beneficiaryOf(e.leg, e.immutables), e.immutables.Token, e.immutables.Amount)
	c.credit(e.immutables.Taker, nativeAsset, e.immutables.SafetyDeposit)
	t := c.newTx(e)
	e.claimTx = t.ref
	e.reveals = append(e.reveals, swap.Reveal{TxRef: string(t.ref), Block: t.block, Secret: secret})
	c.effects[OpClaim]++
	return chain.TxResult{TxRef: t.ref}, nil
}

func (c *Chain) Cancel(ctx context.Context, handle chain.EscrowHandle) (chain.TxResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fault(OpCancel); err != nil {
		return chain.TxResult{}, err
	}
	e, err := c.lookup(handle)
	if err != nil {
		return chain.TxResult{}, err
	}
	if e.cancelTx != "" {
		return chain.TxResult{TxRef: e.cancelTx}, nil
	}
	if e.claimTx != "" {
		return chain.TxResult{}, chain.Rejected("cancel", errors.New("escrow claimed"))
	}
	if c.clock.Now().Before(e.immutables.Timelocks.Deadline(swap.Cancellation(e.leg), e.deployedAt)) {
		return chain.TxResult{}, chain.Rejected("cancel", errors.New("invalid time: cancellation not open"))
	}

	c.credit(funderOf(e.leg, e.immutables), e.immutables.Token, e.immutables.Amount)
	c.credit(e.immutables.Taker, nativeAsset, e.immutables.SafetyDeposit)
	t := c.newTx(e)
	e.cancelTx = t.ref
	c.effects[OpCancel]++
	return chain.TxResult{TxRef: t.ref}, nil
}

func (c *Chain) AwaitFinality(ctx context.Context, ref chain.TxRef, confirmations uint64) (chain.FinalizedReceipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fault(OpFinality); err != nil {
		return chain.FinalizedReceipt{}, err
	}
	t, ok := c.txs[ref]
	if !ok {
		return chain.FinalizedReceipt{}, chain.Timeout("finality", fmt.Errorf("unknown tx %s", ref))
	}
	if confirmations == 0 {
		confirmations = 1
	}
	if c.block < t.block+confirmations-1 {
		c.block = t.block + confirmations - 1
	}
	return chain.FinalizedReceipt{
		TxRef:         ref,
		Block:         t.block,
		Time:          t.at,
		Confirmations: c.block - t.block + 1,
		Escrow:        string(c.name),
	}, nil
}

func (c *Chain) EscrowState(ctx context.Context, handle chain.EscrowHandle) (chain.EscrowState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fault(OpState); err != nil {
		return chain.EscrowState{}, err
	}
	e, err := c.lookup(handle)
	if err != nil {
		return chain.EscrowState{}, err
	}
	return chain.EscrowState{
		Funded:    true,
		Claimed:   e.claimTx != "",
		Cancelled: e.cancelTx != "",
		Amount:    new(big.Int).Set(e.immutables.Amount),
		Hashlock:  e.immutables.Hashlock,
	}, nil
}

func (c *Chain) Reveals(ctx context.Context, handle chain.EscrowHandle) ([]swap.Reveal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fault(OpReveals); err != nil {
		return nil, err
	}
	e, err := c.lookup(handle)
	if err != nil {
		return nil, err
	}
	return append([]swap.Reveal(nil), e.reveals...), nil
}

func (c *Chain) Head(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.block, nil
}

func (c *Chain) CounterLocation() reconcile.CounterLocation {
	return reconcile.CounterLocation{Account: string(c.name), Resource: "SwapLedger", Field: "order_id_counter"}
}

func (c *Chain) ReadCounter(ctx context.Context, loc reconcile.CounterLocation) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fault(OpCounter); err != nil {
		return 0, err
	}
	return c.counter, nil
}

func (c *Chain) LedgerOrderMatches(ctx context.Context, loc reconcile.CounterLocation, id uint64, hashlock [32]byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fault(OpMatch); err != nil {
		return false, err
	}
	e, ok := c.escrows[id]
	if !ok {
		return false, nil
	}
	return e.immutables.Hashlock == hashlock, nil
}

func (c *Chain) IsResolverAuthorized(ctx context.Context, resolver string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fault(OpIsAuthorized); err != nil {
		return false, err
	}
	return c.authorized[resolver], nil
}

func (c *Chain) AuthorizeResolver(ctx context.Context, resolver string) (chain.TxResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fault(OpAuthorize); err != nil {
		return chain.TxResult{}, err
	}
	if !c.opts.Owner {
		return chain.TxResult{}, chain.Unauthorized("authorize", errors.New("signer is not the ledger owner"))
	}
	c.authorized[resolver] = true
	t := c.newTx(nil)
	c.effects[OpAuthorize]++
	return chain.TxResult{TxRef: t.ref}, nil
}

const nativeAsset = "native"

func funderOf(leg swap.Leg, im swap.Immutables) string {
	if leg == swap.LegSrc {
		return im.Maker
	}
	return im.Taker
}

func beneficiaryOf(leg swap.Leg, im swap.Immutables) string {
	if leg == swap.LegSrc {
		return im.Taker
	}
	return im.Maker
}

func balanceKey(account, asset string) string {
	return account + "/" + asset
}

func (c *Chain) balanceOf(account, asset string) *big.Int {
	if b, ok := c.balances[balanceKey(account, asset)]; ok {
		return b
	}
	return big.NewInt(0)
}

func (c *Chain) credit(account, asset string, amount *big.Int) {
	if amount == nil || amount.Sign() == 0 {
		return
	}
	key := balanceKey(account, asset)
	if _, ok := c.balances[key]; !ok {
		c.balances[key] = big.NewInt(0)
	}
	c.balances[key].Add(c.balances[key], amount)
}

func (c *Chain) topUp(account, asset string, amount *big.Int) {
	if short := new(big.Int).Sub(amount, c.balanceOf(account, asset)); short.Sign() > 0 {
		c.credit(account, asset, short)
	}
}

func (c *Chain) debit(account, asset string, amount *big.Int) {
	c.credit(account, asset, new(big.Int).Neg(amount))
}

func (c *Chain) fault(op Op) error {
	f, ok := c.faults[op]
	if !ok || f.times == 0 {
		return nil
	}
	f.times--
	return f.err
}

func (c *Chain) lookup(handle chain.EscrowHandle) (*escrow, error) {
	if handle.LedgerID == nil {
		return nil, chain.Rejected("lookup", errors.New("missing ledger order id"))
	}
	e, ok := c.escrows[*handle.LedgerID]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", chain.ErrNotFound, *handle.LedgerID)
	}
	if e.immutables.Hashlock != handle.Immutables.Hashlock {
		return nil, chain.Rejected("lookup", fmt.Errorf("order %d has a different hashlock", e.id))
	}
	return e, nil
}

func (c *Chain) newTx(e *escrow) *tx {
	c.block++
	t := &tx{
		ref:    chain.TxRef(fmt.Sprintf("0x%s%08x", hex.EncodeToString([]byte(c.name))[:8], c.block)),
		block:  c.block,
		at:     c.clock.Now(),
		escrow: e,
	}
	c.txs[t.ref] = t
	return t
}
