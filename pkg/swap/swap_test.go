package swap_test

import (
	"encoding/json"
	"errors"
	"math/big"

	"github.com/catalogfi/xswap/pkg/swap"
	"github.com/fatih/color"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Timelocks", func() {
	Context("when packing into the escrow word", func() {
		It("should place every stage in its own 32 bit slot", func() {
			tl := swap.Timelocks{
				SrcWithdrawal:         10,
				SrcPublicWithdrawal:   120,
				SrcCancellation:       86400,
				SrcPublicCancellation: 90000,
				DstWithdrawal:         3600,
				DstPublicWithdrawal:   7200,
				DstCancellation:       10800,
			}
			word := tl.Pack(1700000000)

			By("Reading slots back by shifting")
			mask := big.NewInt(0xffffffff)
			slot := func(i uint) uint64 {
				v := new(big.Int).Rsh(word, i*32)
				return v.And(v, mask).Uint64()
			}
			Expect(slot(0)).Should(Equal(uint64(10)))
			Expect(slot(2)).Should(Equal(uint64(86400)))
			Expect(slot(4)).Should(Equal(uint64(3600)))
			Expect(slot(5)).Should(Equal(uint64(7200)))
			Expect(slot(6)).Should(Equal(uint64(10800)))
			Expect(slot(7)).Should(Equal(uint64(1700000000)))

			By("Unpacking returns the same values")
			unpacked, deployedAt := swap.UnpackTimelocks(word)
			Expect(unpacked).Should(Equal(tl))
			Expect(deployedAt).Should(Equal(uint32(1700000000)))
			By(color.GreenString("packed word = %v", word.Text(16)))
		})
	})

	Context("when validating", func() {
		It("should accept the defaults", func() {
			Expect(swap.DefaultTimelocks().Validate()).Should(Succeed())
		})

		It("should reject a destination cancellation at or after the source cancellation", func() {
			tl := swap.DefaultTimelocks()
			tl.DstCancellation = tl.SrcCancellation
			tl.DstPublicWithdrawal = tl.DstWithdrawal
			err := tl.Validate()
			Expect(errors.Is(err, swap.ErrDstAfterSrc)).Should(BeTrue())
		})

		It("should reject stages out of order", func() {
			tl := swap.DefaultTimelocks()
			tl.DstWithdrawal = tl.DstCancellation + 1
			Expect(errors.Is(tl.Validate(), swap.ErrTimelockOrder)).Should(BeTrue())
		})
	})
})

var _ = Describe("Status", func() {
	It("should not allow transitions out of terminal states", func() {
		for _, terminal := range []swap.Status{swap.Settled, swap.Cancelled, swap.Expired, swap.Failed} {
			Expect(terminal.IsTerminal()).Should(BeTrue())
			for status := swap.Unknown; status <= swap.Failed; status++ {
				Expect(terminal.CanTransition(status)).Should(BeFalse())
			}
		}
	})

	It("should never fail an order once the source is funded", func() {
		Expect(swap.Announced.CanTransition(swap.Failed)).Should(BeTrue())
		Expect(swap.SrcFunded.CanTransition(swap.Failed)).Should(BeFalse())
		Expect(swap.DstFunded.CanTransition(swap.Failed)).Should(BeFalse())
	})

	It("should encode as its name in json", func() {
		data, err := json.Marshal(swap.DstFunded)
		Expect(err).Should(BeNil())
		Expect(string(data)).Should(Equal(`"DST_FUNDED"`))

		var status swap.Status
		Expect(json.Unmarshal([]byte(`"cancelling"`), &status)).Should(Succeed())
		Expect(status).Should(Equal(swap.Cancelling))
	})
})

var _ = Describe("Order", func() {
	newOrder := func() swap.Order {
		return swap.Order{
			OrderID:   "order-1",
			Maker:     swap.Accounts{Src: "maker-a", Dst: "maker-b"},
			Resolver:  swap.Accounts{Src: "resolver-a", Dst: "resolver-b"},
			SrcChain:  "chain_a",
			DstChain:  "chain_b",
			SrcAsset:  "token-a",
			DstAsset:  "token-b",
			SrcAmount: big.NewInt(100),
			DstAmount: big.NewInt(99),
			Hashlock:  [32]byte{1},
			Timelocks: swap.DefaultTimelocks(),
		}
	}

	It("should validate a well formed order", func() {
		Expect(newOrder().Validate()).Should(Succeed())
	})

	It("should reject missing accounts and amounts", func() {
		o := newOrder()
		o.Resolver.Dst = ""
		Expect(errors.Is(o.Validate(), swap.ErrMissingAccount)).Should(BeTrue())

		o = newOrder()
		o.DstAmount = big.NewInt(0)
		Expect(errors.Is(o.Validate(), swap.ErrInvalidAmount)).Should(BeTrue())
	})

	It("should build immutables that share the hashlock on both legs", func() {
		o := newOrder()
		src, dst := o.Immutables(swap.LegSrc), o.Immutables(swap.LegDst)
		Expect(src.Hashlock).Should(Equal(dst.Hashlock))
		Expect(src.OrderHash).Should(Equal(dst.OrderHash))
		Expect(src.Maker).Should(Equal("maker-a"))
		Expect(dst.Taker).Should(Equal("resolver-b"))
		Expect(dst.Amount.Int64()).Should(Equal(int64(99)))
	})
})
