// Package coordinator drives cross-chain orders through their saga: fund the
// source escrow, fund the destination escrow, wait for the maker to reveal
// the secret and claim the source, or unwind every funded leg once a deadline
// passes.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/catalogfi/xswap/pkg/alert"
	"github.com/catalogfi/xswap/pkg/chain"
	"github.com/catalogfi/xswap/pkg/gate"
	"github.com/catalogfi/xswap/pkg/reconcile"
	"github.com/catalogfi/xswap/pkg/store"
	"github.com/catalogfi/xswap/pkg/swap"
	"github.com/catalogfi/xswap/pkg/swap/hashlock"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var (
	ErrUnknownChain      = errors.New("unsupported chain")
	ErrParamMismatch     = errors.New("escrow parameters do not match the order")
	ErrDeadline          = errors.New("deadline passed")
	ErrNotCancellable    = errors.New("order cannot be cancelled in its current state")
	ErrSecretUnavailable = errors.New("secret not available")
	ErrAmountLimit       = errors.New("amount outside chain limits")
	ErrNotStarted        = errors.New("coordinator not started")
)

// Clock is the source of deadlines.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

type Config struct {
	Adapters chain.Registry

	// Gates holds the allowlist gate of every chain that restricts resolvers.
	Gates map[swap.Chain]*gate.Gate

	Reconciler *reconcile.Reconciler
	Store      store.Store
	Journal    Journal
	Alerter    alert.Alerter
	Clock      Clock
	Logger     *zap.Logger
}

type CreateRequest struct {
	Maker    swap.Accounts `json:"maker"`
	Resolver swap.Accounts `json:"resolver"`

	SrcChain  swap.Chain `json:"srcChain"`
	DstChain  swap.Chain `json:"dstChain"`
	SrcAsset  string     `json:"srcAsset"`
	DstAsset  string     `json:"dstAsset"`
	SrcAmount *big.Int   `json:"srcAmount"`
	DstAmount *big.Int   `json:"dstAmount"`

	// SafetyDeposit overrides the deposit policy when set.
	SafetyDeposit *big.Int `json:"safetyDeposit,omitempty"`

	// Hashlock is set by makers that keep the secret themselves.
	Hashlock *[32]byte `json:"hashlock,omitempty"`

	Timelocks *swap.Timelocks `json:"timelocks,omitempty"`
}

// View is an order together with its escrows and status history.
type View struct {
	swap.Order
	Escrows     []swap.Escrow      `json:"escrows"`
	Transitions []store.Transition `json:"transitions"`
}

type task struct {
	cancel   context.CancelFunc
	operator bool
	done     chan struct{}
}

type Coordinator struct {
	adapters   chain.Registry
	gates      map[swap.Chain]*gate.Gate
	reconciler *reconcile.Reconciler
	store      store.Store
	journal    Journal
	alerter    alert.Alerter
	clock      Clock
	logger     *zap.Logger
	opts       Options

	events *Broadcaster
	sem    *semaphore.Weighted
	wg     *sync.WaitGroup

	mu    *sync.Mutex
	root  context.Context
	stop  context.CancelFunc
	tasks map[string]*task
	locks map[string]*sync.Mutex
}

func New(cfg Config, opts Options) (*Coordinator, error) {
	if len(cfg.Adapters) == 0 {
		return nil, fmt.Errorf("no chain adapters configured")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("missing store")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = wallClock{}
	}
	if cfg.Journal == nil {
		cfg.Journal = NewMemoryJournal()
	}
	if cfg.Alerter == nil {
		cfg.Alerter = alert.NewLogAlerter(cfg.Logger)
	}
	if cfg.Reconciler == nil {
		cfg.Reconciler = reconcile.New(reconcile.DefaultOptions(), cfg.Logger)
	}
	if cfg.Gates == nil {
		cfg.Gates = map[swap.Chain]*gate.Gate{}
	}
	defaults := DefaultOptions()
	if opts.PoolSize <= 0 {
		opts.PoolSize = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaults.PollInterval
	}
	if opts.FinalityTimeout <= 0 {
		opts.FinalityTimeout = defaults.FinalityTimeout
	}
	if opts.UnwindTimeout <= 0 {
		opts.UnwindTimeout = defaults.UnwindTimeout
	}
	return &Coordinator{
		adapters:   cfg.Adapters,
		gates:      cfg.Gates,
		reconciler: cfg.Reconciler,
		store:      cfg.Store,
		journal:    cfg.Journal,
		alerter:    cfg.Alerter,
		clock:      cfg.Clock,
		logger:     cfg.Logger.With(zap.String("component", "coordinator")),
		opts:       opts,
		events:     NewBroadcaster(64),
		sem:        semaphore.NewWeighted(opts.PoolSize),
		wg:         new(sync.WaitGroup),
		mu:         new(sync.Mutex),
		tasks:      map[string]*task{},
		locks:      map[string]*sync.Mutex{},
	}, nil
}

// Start resumes every order that has not reached a terminal status.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	c.root, c.stop = context.WithCancel(ctx)
	c.mu.Unlock()

	orders, err := c.store.NonTerminal(ctx)
	if err != nil {
		return fmt.Errorf("loading open orders: %w", err)
	}
	for _, order := range orders {
		c.logger.Info("resuming order", zap.String("order", order.OrderID), zap.Stringer("status", order.Status))
		c.launch(order.OrderID)
	}
	return nil
}

// Stop cancels every running task and waits for them to exit. Orders keep
// their status and are resumed by the next Start.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	stop := c.stop
	c.mu.Unlock()
	if stop != nil {
		stop()
	}
	c.wg.Wait()
	c.events.Close()
}

func (c *Coordinator) Subscribe() (<-chan Event, func()) {
	return c.events.Subscribe()
}

func (c *Coordinator) Chains() chain.Registry {
	return c.adapters
}

func (c *Coordinator) Create(ctx context.Context, req CreateRequest) (swap.Order, error) {
	srcAdapter, ok := c.adapters.Get(req.SrcChain)
	if !ok {
		return swap.Order{}, fmt.Errorf("%w: %s", ErrUnknownChain, req.SrcChain)
	}
	dstAdapter, ok := c.adapters.Get(req.DstChain)
	if !ok {
		return swap.Order{}, fmt.Errorf("%w: %s", ErrUnknownChain, req.DstChain)
	}
	if err := hashlock.CheckConsistency(srcAdapter, dstAdapter); err != nil {
		return swap.Order{}, err
	}
	if err := c.checkLimits(req.SrcChain, req.SrcAmount); err != nil {
		return swap.Order{}, err
	}
	if err := c.checkLimits(req.DstChain, req.DstAmount); err != nil {
		return swap.Order{}, err
	}

	timelocks := c.opts.Timelocks
	if req.Timelocks != nil {
		timelocks = *req.Timelocks
	}

	now := c.clock.Now()
	order := swap.Order{
		OrderID:       uuid.NewString(),
		Maker:         req.Maker,
		Resolver:      req.Resolver,
		SrcChain:      req.SrcChain,
		DstChain:      req.DstChain,
		SrcAsset:      req.SrcAsset,
		DstAsset:      req.DstAsset,
		SrcAmount:     req.SrcAmount,
		DstAmount:     req.DstAmount,
		SafetyDeposit: req.SafetyDeposit,
		Timelocks:     timelocks,
		Status:        swap.Announced,
		ExpiresAt:     now.Add(timelocks.Get(swap.SrcCancellation)),
		CreatedAt:     now,
	}
	if req.Hashlock != nil {
		order.Hashlock = *req.Hashlock
	} else {
		secret, err := hashlock.GenerateSecret()
		if err != nil {
			return swap.Order{}, err
		}
		order.Secret = &secret
		order.Hashlock = hashlock.Hash(secret)
	}
	if err := order.Validate(); err != nil {
		return swap.Order{}, err
	}

	if err := c.store.PutOrder(ctx, order); err != nil {
		return swap.Order{}, err
	}
	c.logger.Info("order announced",
		zap.String("order", order.OrderID),
		zap.String("src", string(order.SrcChain)),
		zap.String("dst", string(order.DstChain)),
		zap.String("hashlock", order.HashlockHex()))
	c.events.Publish(Event{OrderID: order.OrderID, From: swap.Unknown, To: swap.Announced, At: now})
	c.launch(order.OrderID)
	order.Secret = nil
	return order, nil
}

func (c *Coordinator) checkLimits(ch swap.Chain, amount *big.Int) error {
	limits, ok := c.opts.Limits[ch]
	if !ok || amount == nil {
		return nil
	}
	if limits.Min != nil && amount.Cmp(limits.Min) < 0 {
		return fmt.Errorf("%w: %v below minimum %v on %s", ErrAmountLimit, amount, limits.Min, ch)
	}
	if limits.Max != nil && amount.Cmp(limits.Max) > 0 {
		return fmt.Errorf("%w: %v above maximum %v on %s", ErrAmountLimit, amount, limits.Max, ch)
	}
	return nil
}

func (c *Coordinator) Get(ctx context.Context, orderID string) (View, error) {
	order, err := c.store.Order(ctx, orderID)
	if err != nil {
		return View{}, err
	}
	order.Secret = nil
	escrows, err := c.store.Escrows(ctx, orderID)
	if err != nil {
		return View{}, err
	}
	transitions, err := c.store.Transitions(ctx, orderID)
	if err != nil {
		return View{}, err
	}
	return View{Order: order, Escrows: escrows, Transitions: transitions}, nil
}

func (c *Coordinator) List(ctx context.Context, filter store.Filter) ([]swap.Order, int64, error) {
	orders, err := c.store.Orders(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	total, err := c.store.CountOrders(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	for i := range orders {
		orders[i].Secret = nil
	}
	return orders, total, nil
}

// Secret returns the preimage of an order created without a maker hashlock,
// once the destination escrow is funded.
func (c *Coordinator) Secret(ctx context.Context, orderID string) ([32]byte, error) {
	order, err := c.store.Order(ctx, orderID)
	if err != nil {
		return [32]byte{}, err
	}
	if order.Secret == nil {
		return [32]byte{}, fmt.Errorf("%w: hashlock was supplied by the maker", ErrSecretUnavailable)
	}
	switch order.Status {
	case swap.DstFunded, swap.Claimed, swap.Settled:
		return *order.Secret, nil
	default:
		return [32]byte{}, fmt.Errorf("%w: order is %v", ErrSecretUnavailable, order.Status)
	}
}

// Cancel stops the order's task and moves it to CANCELLING. Funded escrows
// are cancelled once their cancellation stage opens.
func (c *Coordinator) Cancel(ctx context.Context, orderID string) error {
	order, err := c.store.Order(ctx, orderID)
	if err != nil {
		return err
	}
	if !cancellable(order.Status) {
		return fmt.Errorf("%w: %v", ErrNotCancellable, order.Status)
	}

	c.mu.Lock()
	if c.root == nil {
		c.mu.Unlock()
		return ErrNotStarted
	}
	t, running := c.tasks[orderID]
	if running {
		t.operator = true
		t.cancel()
	}
	c.mu.Unlock()

	if running {
		select {
		case <-t.done:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}
	if err := c.beginUnwind(ctx, orderID); err != nil {
		return err
	}
	c.launch(orderID)
	return nil
}

func cancellable(status swap.Status) bool {
	switch status {
	case swap.Announced, swap.SrcFunded, swap.DstFunded:
		return true
	default:
		return false
	}
}

// beginUnwind moves a cancellable order to CANCELLING on behalf of the operator.
func (c *Coordinator) beginUnwind(ctx context.Context, orderID string) error {
	lock := c.lock(orderID)
	lock.Lock()
	defer lock.Unlock()

	order, err := c.store.Order(ctx, orderID)
	if err != nil {
		return err
	}
	if !cancellable(order.Status) {
		return fmt.Errorf("%w: %v", ErrNotCancellable, order.Status)
	}
	return c.apply(ctx, order, transition{
		to:    swap.Cancelling,
		class: swap.ClassOperator,
		err:   errors.New("cancelled by operator"),
	}, c.logger.With(zap.String("order", orderID)))
}

func (c *Coordinator) lock(orderID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[orderID]
	if !ok {
		lock = new(sync.Mutex)
		c.locks[orderID] = lock
	}
	return lock
}

func (c *Coordinator) launch(orderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.root == nil || c.root.Err() != nil {
		return
	}
	if _, ok := c.tasks[orderID]; ok {
		return
	}
	ctx, cancel := context.WithCancel(c.root)
	t := &task{cancel: cancel, done: make(chan struct{})}
	c.tasks[orderID] = t

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx, orderID, t)
	}()
}

func (c *Coordinator) run(ctx context.Context, orderID string, t *task) {
	defer close(t.done)
	logger := c.logger.With(zap.String("order", orderID))

	c.drive(ctx, orderID, logger)

	c.mu.Lock()
	delete(c.tasks, orderID)
	operator := t.operator
	root := c.root
	c.mu.Unlock()
	t.cancel()

	if !operator {
		return
	}
	unwindCtx, cancel := context.WithTimeout(context.WithoutCancel(root), c.opts.UnwindTimeout)
	defer cancel()
	if err := c.beginUnwind(unwindCtx, orderID); err != nil {
		logger.Error("failed to begin unwind", zap.Error(err))
		return
	}
	c.launch(orderID)
}

// drive runs steps until the order is terminal or ctx is done. A pool slot
// is held for one step at a time and never while the order sleeps.
func (c *Coordinator) drive(ctx context.Context, orderID string, logger *zap.Logger) {
	lock := c.lock(orderID)
	for ctx.Err() == nil {
		order, err := c.store.Order(ctx, orderID)
		if err != nil {
			logger.Error("failed to load order", zap.Error(err))
			c.sleep(ctx)
			continue
		}
		if order.Status.IsTerminal() {
			return
		}

		if err := c.sem.Acquire(ctx, 1); err != nil {
			return
		}
		lock.Lock()
		next, err := c.step(ctx, order, logger)
		if err == nil && next != nil {
			err = c.apply(ctx, order, *next, logger)
		}
		lock.Unlock()
		c.sem.Release(1)

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("step failed, order keeps its status",
				zap.Stringer("status", order.Status),
				zap.Error(err))
		}
		if next == nil || err != nil {
			c.sleep(ctx)
		}
	}
}

func (c *Coordinator) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(c.opts.PollInterval):
	}
}

type transition struct {
	to    swap.Status
	class swap.ErrorClass
	err   error
	txRef string
}

func (c *Coordinator) step(ctx context.Context, order swap.Order, logger *zap.Logger) (*transition, error) {
	switch order.Status {
	case swap.Announced:
		return c.fundSource(ctx, order, logger)
	case swap.SrcFunded:
		return c.fundDestination(ctx, order, logger)
	case swap.DstFunded:
		return c.awaitReveal(ctx, order, logger)
	case swap.Claimed:
		return c.claimSource(ctx, order, logger)
	case swap.Cancelling:
		return c.unwind(ctx, order, logger)
	default:
		return nil, fmt.Errorf("no step for status %v", order.Status)
	}
}

// apply persists a transition and publishes it.
func (c *Coordinator) apply(ctx context.Context, order swap.Order, t transition, logger *zap.Logger) error {
	ctx, cancel := detach(ctx)
	defer cancel()

	update := store.Update{TxRef: t.txRef, Class: t.class, Err: t.err}
	if err := c.store.Transition(ctx, order.OrderID, order.Status, t.to, update); err != nil {
		return err
	}

	fields := []zap.Field{
		zap.Stringer("from", order.Status),
		zap.Stringer("to", t.to),
	}
	if t.txRef != "" {
		fields = append(fields, zap.String("tx", t.txRef))
	}
	if t.class != swap.ClassNone {
		fields = append(fields, zap.String("class", string(t.class)))
	}
	if t.err != nil {
		fields = append(fields, zap.Error(t.err))
	}
	logger.Info("order transition", fields...)

	event := Event{
		OrderID:    order.OrderID,
		From:       order.Status,
		To:         t.to,
		ErrorClass: t.class,
		TxRef:      t.txRef,
		At:         c.clock.Now(),
	}
	if t.err != nil {
		event.Error = t.err.Error()
	}
	c.events.Publish(event)

	switch {
	case t.to == swap.Expired:
		c.alert(logger, c.alerter.Error, "order %s expired with funds at risk: %v", order.OrderID, t.err)
	case t.class == swap.ClassUnauthorized:
		c.alert(logger, c.alerter.Error, "order %s failed, resolver not authorized: %v", order.OrderID, t.err)
	}
	return nil
}

func (c *Coordinator) alert(logger *zap.Logger, send func(string) error, format string, args ...interface{}) {
	if err := send(fmt.Sprintf(format, args...)); err != nil {
		logger.Warn("failed to send alert", zap.Error(err))
	}
}

// detach returns a context for writes that must not be abandoned when the
// task is cancelled.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
}
