package simchain_test

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/catalogfi/xswap/pkg/chain"
	"github.com/catalogfi/xswap/pkg/chain/simchain"
	"github.com/catalogfi/xswap/pkg/swap"
	"github.com/catalogfi/xswap/pkg/swap/hashlock"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Chain", func() {
	var (
		clock  *simchain.Clock
		sim    *simchain.Chain
		secret [32]byte
		im     swap.Immutables
	)

	open := func(ctx context.Context, leg swap.Leg) chain.EscrowHandle {
		handle, err := sim.OpenEscrow(ctx, chain.EscrowParams{
			OrderID:    "order-1",
			Leg:        leg,
			Key:        chain.NewRequestKey("order-1", leg, swap.ActionOpen),
			Immutables: im,
		})
		Expect(err).Should(BeNil())
		counter, err := sim.ReadCounter(ctx, sim.CounterLocation())
		Expect(err).Should(BeNil())
		id := counter - 1
		handle.LedgerID = &id
		return handle
	}

	BeforeEach(func() {
		var err error
		clock = simchain.NewClock(time.Unix(1700000000, 0))
		sim = simchain.New("sim_a", clock, simchain.DefaultOptions())
		secret, err = hashlock.GenerateSecret()
		Expect(err).Should(BeNil())
		im = swap.Immutables{
			Hashlock:      hashlock.Hash(secret),
			Maker:         "maker",
			Taker:         "resolver",
			Token:         "usdc",
			Amount:        big.NewInt(100),
			SafetyDeposit: big.NewInt(5),
			Timelocks:     swap.DefaultTimelocks(),
		}
		sim.Mint("maker", "usdc", big.NewInt(1000))
		sim.Mint("resolver", "native", big.NewInt(50))
	})

	Context("when opening escrows", func() {
		It("should assign increasing ids starting at 1", func(ctx context.Context) {
			first := open(ctx, swap.LegSrc)
			Expect(*first.LedgerID).Should(Equal(uint64(1)))
			Expect(sim.Balance("maker", "usdc").Int64()).Should(Equal(int64(900)))
			Expect(sim.Balance("resolver", "native").Int64()).Should(Equal(int64(45)))

			_, err := sim.OpenEscrow(ctx, chain.EscrowParams{
				OrderID:    "order-2",
				Leg:        swap.LegSrc,
				Key:        chain.NewRequestKey("order-2", swap.LegSrc, swap.ActionOpen),
				Immutables: im,
			})
			Expect(err).Should(BeNil())
			counter, err := sim.ReadCounter(ctx, sim.CounterLocation())
			Expect(err).Should(BeNil())
			Expect(counter).Should(Equal(uint64(3)))
		})

		It("should not open twice for the same request key", func(ctx context.Context) {
			first := open(ctx, swap.LegSrc)
			again := open(ctx, swap.LegSrc)
			Expect(again.OpenTx).Should(Equal(first.OpenTx))
			Expect(sim.Effects(simchain.OpOpen)).Should(Equal(1))
			Expect(sim.Balance("maker", "usdc").Int64()).Should(Equal(int64(900)))
		})

		It("should fail when the funder cannot cover the amount", func(ctx context.Context) {
			im.Amount = big.NewInt(5000)
			_, err := sim.OpenEscrow(ctx, chain.EscrowParams{Leg: swap.LegSrc, Immutables: im})
			Expect(errors.Is(err, chain.ErrInsufficientFunds)).Should(BeTrue())
		})

		It("should top up the funder from the faucet", func(ctx context.Context) {
			sim = simchain.New("sim_b", clock, simchain.DefaultOptions().WithFaucet())
			im.Amount = big.NewInt(5000)
			_, err := sim.OpenEscrow(ctx, chain.EscrowParams{
				Leg:        swap.LegSrc,
				Key:        chain.NewRequestKey("order-2", swap.LegSrc, swap.ActionOpen),
				Immutables: im,
			})
			Expect(err).Should(BeNil())
			Expect(sim.Balance("maker", "usdc").Sign()).Should(Equal(0))
		})

		It("should reject a destination escrow that outlives the source cancellation", func(ctx context.Context) {
			sim.Mint("resolver", "usdc", big.NewInt(1000))
			_, err := sim.OpenEscrow(ctx, chain.EscrowParams{
				Leg:             swap.LegDst,
				Immutables:      im,
				SrcCancellation: clock.Now().Add(time.Hour),
			})
			Expect(errors.Is(err, chain.ErrRejected)).Should(BeTrue())
		})

		It("should require an authorized taker when the allowlist is enforced", func(ctx context.Context) {
			sim = simchain.New("sim_b", clock, simchain.DefaultOptions().WithAuthorization(true, true))
			sim.Mint("resolver", "usdc", big.NewInt(1000))
			sim.Mint("resolver", "native", big.NewInt(50))
			params := chain.EscrowParams{Leg: swap.LegDst, Immutables: im}
			_, err := sim.OpenEscrow(ctx, params)
			Expect(errors.Is(err, chain.ErrUnauthorized)).Should(BeTrue())

			_, err = sim.AuthorizeResolver(ctx, "resolver")
			Expect(err).Should(BeNil())
			_, err = sim.OpenEscrow(ctx, params)
			Expect(err).Should(BeNil())
		})
	})

	Context("when claiming", func() {
		It("should pay the beneficiary and expose the preimage", func(ctx context.Context) {
			handle := open(ctx, swap.LegSrc)
			res, err := sim.Claim(ctx, handle, secret)
			Expect(err).Should(BeNil())
			Expect(sim.Balance("resolver", "usdc").Int64()).Should(Equal(int64(100)))
			Expect(sim.Balance("resolver", "native").Int64()).Should(Equal(int64(50)))

			reveals, err := sim.Reveals(ctx, handle)
			Expect(err).Should(BeNil())
			Expect(reveals).Should(HaveLen(1))
			Expect(reveals[0].Secret).Should(Equal(secret))
			Expect(reveals[0].TxRef).Should(Equal(string(res.TxRef)))
		})

		It("should return the first transaction on a repeated claim", func(ctx context.Context) {
			handle := open(ctx, swap.LegSrc)
			first, err := sim.Claim(ctx, handle, secret)
			Expect(err).Should(BeNil())
			second, err := sim.Claim(ctx, handle, secret)
			Expect(err).Should(BeNil())
			Expect(second.TxRef).Should(Equal(first.TxRef))
			Expect(sim.Effects(simchain.OpClaim)).Should(Equal(1))
		})

		It("should reject a wrong secret", func(ctx context.Context) {
			handle := open(ctx, swap.LegSrc)
			_, err := sim.Claim(ctx, handle, [32]byte{1})
			Expect(errors.Is(err, chain.ErrRejected)).Should(BeTrue())
		})

		It("should reject a destination claim before the withdrawal stage", func(ctx context.Context) {
			sim.Mint("resolver", "usdc", big.NewInt(1000))
			handle := open(ctx, swap.LegDst)
			_, err := sim.Claim(ctx, handle, secret)
			Expect(errors.Is(err, chain.ErrRejected)).Should(BeTrue())

			clock.Advance(time.Hour)
			_, err = sim.Claim(ctx, handle, secret)
			Expect(err).Should(BeNil())
			Expect(sim.Balance("maker", "usdc").Int64()).Should(Equal(int64(1100)))
		})

		It("should reject a claim after the cancellation stage", func(ctx context.Context) {
			handle := open(ctx, swap.LegSrc)
			clock.Advance(24 * time.Hour)
			_, err := sim.Claim(ctx, handle, secret)
			Expect(errors.Is(err, chain.ErrRejected)).Should(BeTrue())
		})
	})

	Context("when cancelling", func() {
		It("should refund the funder only after the cancellation stage", func(ctx context.Context) {
			handle := open(ctx, swap.LegSrc)
			_, err := sim.Cancel(ctx, handle)
			Expect(errors.Is(err, chain.ErrRejected)).Should(BeTrue())

			clock.Advance(24 * time.Hour)
			first, err := sim.Cancel(ctx, handle)
			Expect(err).Should(BeNil())
			second, err := sim.Cancel(ctx, handle)
			Expect(err).Should(BeNil())
			Expect(second.TxRef).Should(Equal(first.TxRef))
			Expect(sim.Balance("maker", "usdc").Int64()).Should(Equal(int64(1000)))
			Expect(sim.Live()).Should(Equal(0))
		})

		It("should not cancel a claimed escrow", func(ctx context.Context) {
			handle := open(ctx, swap.LegSrc)
			_, err := sim.Claim(ctx, handle, secret)
			Expect(err).Should(BeNil())
			clock.Advance(24 * time.Hour)
			_, err = sim.Cancel(ctx, handle)
			Expect(errors.Is(err, chain.ErrRejected)).Should(BeTrue())
		})
	})

	Context("when faults are injected", func() {
		It("should fail the next calls and then recover", func(ctx context.Context) {
			sim.FailRPC(simchain.OpCounter, 2)
			for i := 0; i < 2; i++ {
				_, err := sim.ReadCounter(ctx, sim.CounterLocation())
				Expect(chain.IsRetryable(err)).Should(BeTrue())
			}
			counter, err := sim.ReadCounter(ctx, sim.CounterLocation())
			Expect(err).Should(BeNil())
			Expect(counter).Should(Equal(uint64(1)))
		})
	})

	Context("when waiting for finality", func() {
		It("should report the transaction time", func(ctx context.Context) {
			handle := open(ctx, swap.LegSrc)
			receipt, err := sim.AwaitFinality(ctx, handle.OpenTx, 3)
			Expect(err).Should(BeNil())
			Expect(receipt.Time).Should(BeTemporally("==", clock.Now()))
			Expect(receipt.Confirmations).Should(Equal(uint64(3)))
		})
	})
})

var _ = Describe("Clock", func() {
	It("should only move forward", func() {
		clock := simchain.NewClock(time.Unix(100, 0))
		clock.Advance(time.Minute)
		Expect(clock.Now()).Should(BeTemporally("==", time.Unix(160, 0)))
		clock.Set(time.Unix(50, 0))
		Expect(clock.Now()).Should(BeTemporally("==", time.Unix(160, 0)))
		clock.Set(time.Unix(200, 0))
		Expect(clock.Now()).Should(BeTemporally("==", time.Unix(200, 0)))
	})
})
