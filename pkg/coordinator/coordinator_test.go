package coordinator_test

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/catalogfi/xswap/pkg/chain"
	"github.com/catalogfi/xswap/pkg/chain/simchain"
	"github.com/catalogfi/xswap/pkg/coordinator"
	"github.com/catalogfi/xswap/pkg/gate"
	"github.com/catalogfi/xswap/pkg/reconcile"
	"github.com/catalogfi/xswap/pkg/store"
	"github.com/catalogfi/xswap/pkg/swap"
	"github.com/catalogfi/xswap/pkg/swap/hashlock"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const (
	srcChain swap.Chain = "ethereum_sepolia"
	dstChain swap.Chain = "aptos_testnet"
	srcAsset            = "0xusdc"
	dstAsset            = "0x1::aptos_coin::AptosCoin"
)

var (
	maker    = swap.Accounts{Src: "0xmaker", Dst: "0xmaker_move"}
	resolver = swap.Accounts{Src: "0xresolver", Dst: "0xresolver_move"}
)

type recorder struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (r *recorder) SendMessage(text string) error { return nil }

func (r *recorder) Info(text string) error { return nil }

func (r *recorder) Warn(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warns = append(r.warns, text)
	return nil
}

func (r *recorder) Error(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, text)
	return nil
}

func (r *recorder) Errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errors...)
}

func (r *recorder) Warns() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.warns...)
}

var _ = Describe("Coordinator", func() {
	var (
		clock    *simchain.Clock
		src, dst *simchain.Chain
		gates    map[swap.Chain]*gate.Gate
		s        store.Store
		alerts   *recorder
		opts     coordinator.Options
		coord    *coordinator.Coordinator
		start    time.Time
	)

	newCoordinator := func(journal coordinator.Journal) *coordinator.Coordinator {
		logger := zap.NewNop()
		c, err := coordinator.New(coordinator.Config{
			Adapters:   chain.Registry{srcChain: src, dstChain: dst},
			Gates:      gates,
			Reconciler: reconcile.New(reconcile.DefaultOptions().WithAttempts(3).WithInterval(time.Millisecond), logger),
			Store:      s,
			Journal:    journal,
			Alerter:    alerts,
			Clock:      clock,
			Logger:     logger,
		}, opts)
		Expect(err).Should(BeNil())
		return c
	}

	request := func() coordinator.CreateRequest {
		return coordinator.CreateRequest{
			Maker:     maker,
			Resolver:  resolver,
			SrcChain:  srcChain,
			DstChain:  dstChain,
			SrcAsset:  srcAsset,
			DstAsset:  dstAsset,
			SrcAmount: big.NewInt(1000),
			DstAmount: big.NewInt(990),
		}
	}

	status := func(orderID string) func() swap.Status {
		return func() swap.Status {
			view, err := coord.Get(context.Background(), orderID)
			Expect(err).Should(BeNil())
			return view.Status
		}
	}

	escrowOf := func(ctx context.Context, orderID string, leg swap.Leg) swap.Escrow {
		view, err := coord.Get(ctx, orderID)
		Expect(err).Should(BeNil())
		for _, e := range view.Escrows {
			if e.Leg == leg {
				return e
			}
		}
		Fail(fmt.Sprintf("order %s has no %v escrow", orderID, leg))
		return swap.Escrow{}
	}

	BeforeEach(func() {
		start = time.Unix(1700000000, 0)
		clock = simchain.NewClock(start)
		src = simchain.New(srcChain, clock, simchain.DefaultOptions())
		dst = simchain.New(dstChain, clock, simchain.DefaultOptions())
		gates = map[swap.Chain]*gate.Gate{}
		alerts = &recorder{}

		src.Mint(maker.Src, srcAsset, big.NewInt(10000))
		src.Mint(resolver.Src, "native", big.NewInt(100))
		dst.Mint(resolver.Dst, dstAsset, big.NewInt(10000))
		dst.Mint(resolver.Dst, "native", big.NewInt(100))

		var err error
		dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
		s, err = store.NewStore(store.Dialector(dsn), &gorm.Config{
			NowFunc: func() time.Time { return time.Now().UTC() },
			Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		})
		Expect(err).Should(BeNil())

		opts = coordinator.DefaultOptions().
			WithPollInterval(5 * time.Millisecond).
			WithRetry(coordinator.DefaultOptions().Retry.WithAttempts(3).WithInitial(time.Millisecond).WithMax(2 * time.Millisecond)).
			WithDeposit(coordinator.FixedDeposit(big.NewInt(5)))
		coord = newCoordinator(coordinator.NewMemoryJournal())
		Expect(coord.Start(context.Background())).Should(Succeed())
	})

	AfterEach(func() {
		coord.Stop()
		Expect(s.Close()).Should(Succeed())
	})

	Context("when both parties follow the protocol", func() {
		It("should settle the order and return the safety deposits", func(ctx context.Context) {
			events, unsubscribe := coord.Subscribe()
			defer unsubscribe()

			order, err := coord.Create(ctx, request())
			Expect(err).Should(BeNil())
			Expect(order.Status).Should(Equal(swap.Announced))
			Expect(order.Secret).Should(BeNil())
			Expect(order.ExpiresAt).Should(BeTemporally("==", start.Add(24*time.Hour)))

			Eventually(status(order.OrderID)).Should(Equal(swap.DstFunded))
			Expect(src.Balance(resolver.Src, "native").Int64()).Should(Equal(int64(95)))
			Expect(dst.Balance(resolver.Dst, "native").Int64()).Should(Equal(int64(95)))

			secret, err := coord.Secret(ctx, order.OrderID)
			Expect(err).Should(BeNil())
			Expect(hashlock.Hash(secret)).Should(Equal(order.Hashlock))

			clock.Advance(time.Hour)
			_, err = dst.Claim(ctx, chain.HandleOf(escrowOf(ctx, order.OrderID, swap.LegDst)), secret)
			Expect(err).Should(BeNil())

			Eventually(status(order.OrderID)).Should(Equal(swap.Settled))
			Expect(dst.Balance(maker.Dst, dstAsset).Int64()).Should(Equal(int64(990)))
			Expect(src.Balance(resolver.Src, srcAsset).Int64()).Should(Equal(int64(1000)))
			Expect(src.Balance(resolver.Src, "native").Int64()).Should(Equal(int64(100)))
			Expect(dst.Balance(resolver.Dst, "native").Int64()).Should(Equal(int64(100)))
			Expect(src.Live()).Should(Equal(0))
			Expect(dst.Live()).Should(Equal(0))

			view, err := coord.Get(ctx, order.OrderID)
			Expect(err).Should(BeNil())
			var path []swap.Status
			for _, t := range view.Transitions {
				path = append(path, t.To)
			}
			Expect(path).Should(Equal([]swap.Status{
				swap.Announced, swap.SrcFunded, swap.DstFunded, swap.Claimed, swap.Settled,
			}))
			for _, e := range view.Escrows {
				Expect(e.LedgerID).ShouldNot(BeNil())
				Expect(e.Degraded).Should(BeFalse())
			}

			var seen []swap.Status
			Eventually(func() []swap.Status {
				for {
					select {
					case event := <-events:
						if event.OrderID == order.OrderID {
							seen = append(seen, event.To)
						}
					default:
						return seen
					}
				}
			}).Should(ContainElement(swap.Settled))
		})

		It("should use the safety deposit named by the order", func(ctx context.Context) {
			req := request()
			req.SafetyDeposit = big.NewInt(9)
			order, err := coord.Create(ctx, req)
			Expect(err).Should(BeNil())

			Eventually(status(order.OrderID)).Should(Equal(swap.DstFunded))
			Expect(escrowOf(ctx, order.OrderID, swap.LegSrc).Immutables.SafetyDeposit.Int64()).Should(Equal(int64(9)))
			Expect(dst.Balance(resolver.Dst, "native").Int64()).Should(Equal(int64(91)))
		})

		It("should keep every ledger id distinct under concurrency", func(ctx context.Context) {
			var orders []swap.Order
			for i := 0; i < 5; i++ {
				order, err := coord.Create(ctx, request())
				Expect(err).Should(BeNil())
				orders = append(orders, order)
			}

			ids := map[uint64]bool{}
			for _, order := range orders {
				Eventually(status(order.OrderID)).Should(Equal(swap.DstFunded))
				e := escrowOf(ctx, order.OrderID, swap.LegSrc)
				Expect(e.LedgerID).ShouldNot(BeNil())
				ok, err := src.LedgerOrderMatches(ctx, src.CounterLocation(), *e.LedgerID, order.Hashlock)
				Expect(err).Should(BeNil())
				Expect(ok).Should(BeTrue())
				ids[*e.LedgerID] = true
			}
			Expect(ids).Should(HaveLen(5))
		})

		It("should recover from transient counter reads", func(ctx context.Context) {
			src.FailRPC(simchain.OpCounter, 2)
			order, err := coord.Create(ctx, request())
			Expect(err).Should(BeNil())

			Eventually(status(order.OrderID)).Should(Equal(swap.DstFunded))
			Expect(escrowOf(ctx, order.OrderID, swap.LegSrc).Degraded).Should(BeFalse())
		})
	})

	Context("when the order is rejected up front", func() {
		It("should refuse destination timelocks that outlive the source", func(ctx context.Context) {
			req := request()
			tl := swap.DefaultTimelocks()
			tl.DstCancellation = tl.SrcCancellation
			req.Timelocks = &tl

			_, err := coord.Create(ctx, req)
			Expect(errors.Is(err, swap.ErrDstAfterSrc)).Should(BeTrue())
			Expect(src.Effects(simchain.OpOpen)).Should(Equal(0))
		})

		It("should refuse chains that hash the preimage differently", func(ctx context.Context) {
			coord.Stop()
			dst = simchain.New(dstChain, clock, simchain.DefaultOptions().WithHashFunc(hashlock.Keccak256))
			coord = newCoordinator(coordinator.NewMemoryJournal())
			Expect(coord.Start(context.Background())).Should(Succeed())

			_, err := coord.Create(ctx, request())
			Expect(errors.Is(err, hashlock.ErrHashMismatch)).Should(BeTrue())
		})

		It("should refuse unknown chains and amounts outside the limits", func(ctx context.Context) {
			req := request()
			req.DstChain = "solana"
			_, err := coord.Create(ctx, req)
			Expect(errors.Is(err, coordinator.ErrUnknownChain)).Should(BeTrue())

			coord.Stop()
			opts = opts.WithLimits(srcChain, coordinator.Limits{Max: big.NewInt(100)})
			coord = newCoordinator(coordinator.NewMemoryJournal())
			Expect(coord.Start(context.Background())).Should(Succeed())
			_, err = coord.Create(ctx, request())
			Expect(errors.Is(err, coordinator.ErrAmountLimit)).Should(BeTrue())
		})

		It("should fail when the resolver cannot be authorized", func(ctx context.Context) {
			coord.Stop()
			dst = simchain.New(dstChain, clock, simchain.DefaultOptions().WithAuthorization(true, false))
			dst.Mint(resolver.Dst, dstAsset, big.NewInt(10000))
			gates[dstChain] = gate.New(dst, gate.Options{Confirmations: 1, FinalityTimeout: time.Second, Retry: opts.Retry}, zap.NewNop())
			coord = newCoordinator(coordinator.NewMemoryJournal())
			Expect(coord.Start(context.Background())).Should(Succeed())

			order, err := coord.Create(ctx, request())
			Expect(err).Should(BeNil())
			Eventually(status(order.OrderID)).Should(Equal(swap.Failed))

			view, err := coord.Get(ctx, order.OrderID)
			Expect(err).Should(BeNil())
			Expect(view.ErrorClass).Should(Equal(swap.ClassUnauthorized))
			Expect(src.Effects(simchain.OpOpen)).Should(Equal(0))
			Expect(alerts.Errors()).ShouldNot(BeEmpty())
		})

		It("should authorize the resolver once when the signer owns the allowlist", func(ctx context.Context) {
			coord.Stop()
			dst = simchain.New(dstChain, clock, simchain.DefaultOptions().WithAuthorization(true, true))
			dst.Mint(resolver.Dst, dstAsset, big.NewInt(10000))
			dst.Mint(resolver.Dst, "native", big.NewInt(100))
			gates[dstChain] = gate.New(dst, gate.Options{Confirmations: 1, FinalityTimeout: time.Second, Retry: opts.Retry}, zap.NewNop())
			coord = newCoordinator(coordinator.NewMemoryJournal())
			Expect(coord.Start(context.Background())).Should(Succeed())

			order, err := coord.Create(ctx, request())
			Expect(err).Should(BeNil())
			Eventually(status(order.OrderID)).Should(Equal(swap.DstFunded))
			Expect(dst.Effects(simchain.OpAuthorize)).Should(Equal(1))
		})

		It("should fail when the maker cannot fund the source", func(ctx context.Context) {
			req := request()
			req.SrcAmount = big.NewInt(1000000)
			order, err := coord.Create(ctx, req)
			Expect(err).Should(BeNil())

			Eventually(status(order.OrderID)).Should(Equal(swap.Failed))
			view, err := coord.Get(ctx, order.OrderID)
			Expect(err).Should(BeNil())
			Expect(view.ErrorClass).Should(Equal(swap.ClassRejected))
		})
	})

	Context("when the swap has to be unwound", func() {
		It("should cancel the source once the resolver fails to fund the destination", func(ctx context.Context) {
			req := request()
			req.DstAmount = big.NewInt(1000000)
			order, err := coord.Create(ctx, req)
			Expect(err).Should(BeNil())

			Eventually(status(order.OrderID)).Should(Equal(swap.Cancelling))
			Consistently(status(order.OrderID), 50*time.Millisecond).Should(Equal(swap.Cancelling))
			Expect(src.Balance(maker.Src, srcAsset).Int64()).Should(Equal(int64(9000)))

			clock.Advance(24 * time.Hour)
			Eventually(status(order.OrderID)).Should(Equal(swap.Cancelled))
			Expect(src.Balance(maker.Src, srcAsset).Int64()).Should(Equal(int64(10000)))
			Expect(src.Balance(resolver.Src, "native").Int64()).Should(Equal(int64(100)))

			view, err := coord.Get(ctx, order.OrderID)
			Expect(err).Should(BeNil())
			Expect(view.ErrorClass).Should(Equal(swap.ClassRejected))
			Expect(src.Live()).Should(Equal(0))
		})

		It("should cancel both legs when the maker never claims", func(ctx context.Context) {
			order, err := coord.Create(ctx, request())
			Expect(err).Should(BeNil())
			Eventually(status(order.OrderID)).Should(Equal(swap.DstFunded))

			clock.Advance(3 * time.Hour)
			Eventually(status(order.OrderID)).Should(Equal(swap.Cancelling))
			Eventually(func() bool {
				return escrowOf(ctx, order.OrderID, swap.LegDst).Cancelled
			}).Should(BeTrue())
			Expect(dst.Balance(resolver.Dst, dstAsset).Int64()).Should(Equal(int64(10000)))
			Expect(escrowOf(ctx, order.OrderID, swap.LegSrc).Cancelled).Should(BeFalse())

			clock.Advance(21 * time.Hour)
			Eventually(status(order.OrderID)).Should(Equal(swap.Cancelled))
			Expect(src.Balance(maker.Src, srcAsset).Int64()).Should(Equal(int64(10000)))
			Expect(src.Live()).Should(Equal(0))
			Expect(dst.Live()).Should(Equal(0))

			view, err := coord.Get(ctx, order.OrderID)
			Expect(err).Should(BeNil())
			Expect(view.ErrorClass).Should(Equal(swap.ClassDeadline))
			Expect(alerts.Errors()).Should(BeEmpty())
		})

		It("should claim the source when the maker reveals while unwinding", func(ctx context.Context) {
			order, err := coord.Create(ctx, request())
			Expect(err).Should(BeNil())
			Eventually(status(order.OrderID)).Should(Equal(swap.DstFunded))
			secret, err := coord.Secret(ctx, order.OrderID)
			Expect(err).Should(BeNil())

			Expect(coord.Cancel(ctx, order.OrderID)).Should(Succeed())
			Expect(status(order.OrderID)()).Should(Equal(swap.Cancelling))

			clock.Advance(time.Hour)
			_, err = dst.Claim(ctx, chain.HandleOf(escrowOf(ctx, order.OrderID, swap.LegDst)), secret)
			Expect(err).Should(BeNil())

			Eventually(status(order.OrderID)).Should(Equal(swap.Settled))
			Expect(src.Balance(resolver.Src, srcAsset).Int64()).Should(Equal(int64(1000)))
		})

		It("should expire an order whose legs were cancelled too late", func(ctx context.Context) {
			order, err := coord.Create(ctx, request())
			Expect(err).Should(BeNil())
			Eventually(status(order.OrderID)).Should(Equal(swap.DstFunded))

			clock.Advance(26 * time.Hour)
			Eventually(status(order.OrderID)).Should(Equal(swap.Expired))
			Expect(src.Live()).Should(Equal(0))
			Expect(dst.Live()).Should(Equal(0))
			Expect(escrowOf(ctx, order.OrderID, swap.LegDst).Late).Should(BeTrue())
			Eventually(alerts.Errors).ShouldNot(BeEmpty())
		})

		It("should unwind on operator request", func(ctx context.Context) {
			order, err := coord.Create(ctx, request())
			Expect(err).Should(BeNil())
			Eventually(status(order.OrderID)).Should(Equal(swap.DstFunded))

			Expect(coord.Cancel(ctx, order.OrderID)).Should(Succeed())
			Expect(status(order.OrderID)()).Should(Equal(swap.Cancelling))

			clock.Advance(24 * time.Hour)
			Eventually(status(order.OrderID)).Should(Equal(swap.Cancelled))
			view, err := coord.Get(ctx, order.OrderID)
			Expect(err).Should(BeNil())
			Expect(view.ErrorClass).Should(Equal(swap.ClassOperator))

			err = coord.Cancel(ctx, order.OrderID)
			Expect(errors.Is(err, coordinator.ErrNotCancellable)).Should(BeTrue())
		})

		It("should withhold the secret until the destination is funded", func(ctx context.Context) {
			req := request()
			req.DstAmount = big.NewInt(1000000)
			order, err := coord.Create(ctx, req)
			Expect(err).Should(BeNil())
			Eventually(status(order.OrderID)).Should(Equal(swap.Cancelling))

			_, err = coord.Secret(ctx, order.OrderID)
			Expect(errors.Is(err, coordinator.ErrSecretUnavailable)).Should(BeTrue())
		})
	})

	Context("when the ledger does not confirm in time", func() {
		It("should unwind when the destination escrow never becomes final", func(ctx context.Context) {
			dst.Fail(simchain.OpFinality, 1<<20, chain.Timeout("finality", errors.New("transaction dropped")))
			order, err := coord.Create(ctx, request())
			Expect(err).Should(BeNil())
			Eventually(func() int { return dst.Effects(simchain.OpOpen) }).Should(Equal(1))
			Consistently(status(order.OrderID), 50*time.Millisecond).Should(Equal(swap.SrcFunded))

			By("Passing the last moment the destination could be funded")
			clock.Advance(22 * time.Hour)
			Eventually(status(order.OrderID)).Should(Equal(swap.Cancelling))
			Eventually(dst.Live).Should(Equal(0))
			Expect(src.Live()).Should(Equal(1))

			By("Refunding the maker once the source cancellation opens")
			clock.Advance(150 * time.Minute)
			Eventually(status(order.OrderID)).Should(Equal(swap.Expired))
			Expect(src.Live()).Should(Equal(0))
			Expect(src.Balance(maker.Src, srcAsset).Int64()).Should(Equal(int64(10000)))
			Expect(escrowOf(ctx, order.OrderID, swap.LegSrc).Late).Should(BeFalse())
			Expect(escrowOf(ctx, order.OrderID, swap.LegDst).Late).Should(BeTrue())
		})

		It("should settle when the claim receipt is lost but the ledger shows the claim", func(ctx context.Context) {
			order, err := coord.Create(ctx, request())
			Expect(err).Should(BeNil())
			Eventually(status(order.OrderID)).Should(Equal(swap.DstFunded))
			secret, err := coord.Secret(ctx, order.OrderID)
			Expect(err).Should(BeNil())

			src.Fail(simchain.OpFinality, 1<<20, chain.Rejected("finality", errors.New("receipt not found")))
			clock.Advance(time.Hour)
			_, err = dst.Claim(ctx, chain.HandleOf(escrowOf(ctx, order.OrderID, swap.LegDst)), secret)
			Expect(err).Should(BeNil())

			Eventually(status(order.OrderID)).Should(Equal(swap.Settled))
			Expect(src.Effects(simchain.OpClaim)).Should(Equal(1))
			Expect(src.Balance(resolver.Src, srcAsset).Int64()).Should(Equal(int64(1000)))
			Expect(escrowOf(ctx, order.OrderID, swap.LegSrc).Claimed).Should(BeTrue())
		})

		It("should expire the order when the source cannot be claimed before its cancellation", func(ctx context.Context) {
			order, err := coord.Create(ctx, request())
			Expect(err).Should(BeNil())
			Eventually(status(order.OrderID)).Should(Equal(swap.DstFunded))
			secret, err := coord.Secret(ctx, order.OrderID)
			Expect(err).Should(BeNil())

			src.FailRPC(simchain.OpClaim, 1<<20)
			clock.Advance(time.Hour)
			_, err = dst.Claim(ctx, chain.HandleOf(escrowOf(ctx, order.OrderID, swap.LegDst)), secret)
			Expect(err).Should(BeNil())
			Eventually(status(order.OrderID)).Should(Equal(swap.Claimed))
			Consistently(status(order.OrderID), 50*time.Millisecond).Should(Equal(swap.Claimed))

			clock.Advance(24 * time.Hour)
			Eventually(status(order.OrderID)).Should(Equal(swap.Expired))
			view, err := coord.Get(ctx, order.OrderID)
			Expect(err).Should(BeNil())
			Expect(view.ErrorClass).Should(Equal(swap.ClassDeadline))
			Expect(src.Effects(simchain.OpClaim)).Should(Equal(0))
			Eventually(alerts.Errors).ShouldNot(BeEmpty())
		})
	})

	Context("when the order counter cannot be read", func() {
		It("should predict the id that follows the last known one", func(ctx context.Context) {
			first, err := coord.Create(ctx, request())
			Expect(err).Should(BeNil())
			Eventually(status(first.OrderID)).Should(Equal(swap.DstFunded))
			firstID := escrowOf(ctx, first.OrderID, swap.LegSrc).LedgerID
			Expect(firstID).ShouldNot(BeNil())

			src.FailRPC(simchain.OpCounter, 1<<20)
			src.FailRPC(simchain.OpMatch, 1<<20)
			second, err := coord.Create(ctx, request())
			Expect(err).Should(BeNil())
			Eventually(status(second.OrderID)).Should(Equal(swap.DstFunded))

			e := escrowOf(ctx, second.OrderID, swap.LegSrc)
			Expect(e.LedgerID).ShouldNot(BeNil())
			Expect(*e.LedgerID).Should(Equal(*firstID + 1))
			Expect(e.Degraded).Should(BeTrue())
			Expect(e.Funded).Should(BeTrue())
			Expect(alerts.Warns()).Should(ContainElement(ContainSubstring("is a prediction")))
		})
	})

	Context("when more orders are live than the pool has slots", func() {
		It("should keep driving every order", func(ctx context.Context) {
			coord.Stop()
			opts = opts.WithPoolSize(1)
			coord = newCoordinator(coordinator.NewMemoryJournal())
			Expect(coord.Start(context.Background())).Should(Succeed())

			first, err := coord.Create(ctx, request())
			Expect(err).Should(BeNil())
			Eventually(status(first.OrderID)).Should(Equal(swap.DstFunded))

			second, err := coord.Create(ctx, request())
			Expect(err).Should(BeNil())
			Eventually(status(second.OrderID)).Should(Equal(swap.DstFunded))
			Expect(status(first.OrderID)()).Should(Equal(swap.DstFunded))
			Expect(src.Effects(simchain.OpOpen)).Should(Equal(2))
			Expect(dst.Effects(simchain.OpOpen)).Should(Equal(2))
		})
	})

	Context("when the coordinator restarts", func() {
		It("should resume without submitting the source escrow twice", func(ctx context.Context) {
			src.Fail(simchain.OpFinality, 1<<20, chain.RPC("finality", errors.New("node unavailable")))
			order, err := coord.Create(ctx, request())
			Expect(err).Should(BeNil())
			Eventually(func() int { return src.Effects(simchain.OpOpen) }).Should(Equal(1))
			Consistently(status(order.OrderID), 50*time.Millisecond).Should(Equal(swap.Announced))

			coord.Stop()
			src.Fail(simchain.OpFinality, 0, nil)
			coord = newCoordinator(coordinator.NewMemoryJournal())
			Expect(coord.Start(context.Background())).Should(Succeed())

			Eventually(status(order.OrderID)).Should(Equal(swap.DstFunded))
			Expect(src.Effects(simchain.OpOpen)).Should(Equal(1))
			Expect(dst.Effects(simchain.OpOpen)).Should(Equal(1))
		})

		It("should list orders newest first", func(ctx context.Context) {
			first, err := coord.Create(ctx, request())
			Expect(err).Should(BeNil())
			second, err := coord.Create(ctx, request())
			Expect(err).Should(BeNil())

			orders, total, err := coord.List(ctx, store.Filter{Maker: maker.Src})
			Expect(err).Should(BeNil())
			Expect(total).Should(Equal(int64(2)))
			Expect(orders[0].OrderID).Should(Equal(second.OrderID))
			Expect(orders[1].OrderID).Should(Equal(first.OrderID))
			for _, o := range orders {
				Expect(o.Secret).Should(BeNil())
				Expect(strings.HasPrefix(string(o.SrcChain), "ethereum")).Should(BeTrue())
			}
		})
	})
})
