package movechain_test

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"math/big"
	"net/http/httptest"
	"strconv"
	"time"

	"github.com/catalogfi/xswap/pkg/chain"
	"github.com/catalogfi/xswap/pkg/chain/movechain"
	"github.com/catalogfi/xswap/pkg/gate"
	"github.com/catalogfi/xswap/pkg/retry"
	"github.com/catalogfi/xswap/pkg/swap"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Move adapter", func() {
	var (
		node   *fakeNode
		server *httptest.Server
		key    ed25519.PrivateKey
		opts   movechain.Options
		c      *movechain.Chain

		secret   = [32]byte{0x5e, 0xc7}
		hashlock = sha256.Sum256(secret[:])
		nodeTime = time.Unix(1700000000, 0)
	)

	immutables := func() swap.Immutables {
		return swap.Immutables{
			Hashlock:      hashlock,
			Amount:        big.NewInt(500),
			SafetyDeposit: big.NewInt(5),
			Token:         movechain.AptosCoin,
			Timelocks:     swap.DefaultTimelocks(),
		}
	}

	params := func(leg swap.Leg) chain.EscrowParams {
		return chain.EscrowParams{
			OrderID:         "order-1",
			Leg:             leg,
			Key:             chain.NewRequestKey("order-1", leg, swap.ActionOpen),
			Immutables:      immutables(),
			SrcCancellation: nodeTime.Add(24 * time.Hour),
		}
	}

	BeforeEach(func(ctx context.Context) {
		key = ed25519.NewKeyFromSeed(make([]byte, ed25519.SeedSize))
		node = newFakeNode(movechain.AddressOf(key.Public().(ed25519.PublicKey)))
		server = httptest.NewServer(node)
		DeferCleanup(server.Close)

		opts = movechain.OptionsLocalnet("0xcafe::swap_v3", "0xcafe")
		opts.PollInterval = time.Millisecond
		opts.MaxPollInterval = 5 * time.Millisecond
		opts.FinalityTimeout = 100 * time.Millisecond
		opts.EventPage = 2

		var err error
		c, err = movechain.Dial(ctx, "aptos_localnet", opts, key, server.URL, zap.NewNop())
		Expect(err).Should(BeNil())
	})

	It("should derive the address from the public key", func() {
		pub := key.Public().(ed25519.PublicKey)
		want := sha3.Sum256(append(append([]byte{}, pub...), 0x00))
		Expect(c.Address()).Should(Equal(hexutil.Encode(want[:])))
		Expect(c.Address()).Should(HaveLen(66))
	})

	It("should refuse a node serving another chain", func(ctx context.Context) {
		_, err := movechain.Dial(ctx, "aptos_testnet", movechain.OptionsTestnet("0xcafe::swap_v3", "0xcafe"), key, server.URL, zap.NewNop())
		Expect(err).ShouldNot(BeNil())
	})

	Context("when funding the destination escrow", func() {
		It("should lock the amount until the destination cancellation", func(ctx context.Context) {
			handle, err := c.OpenEscrow(ctx, params(swap.LegDst))
			Expect(err).Should(BeNil())
			Expect(handle.OpenTx).ShouldNot(BeEmpty())
			Expect(handle.Address).Should(Equal("0xcafe"))

			Expect(node.submitted).Should(HaveLen(1))
			payload := node.submitted[0].Payload
			Expect(payload.Function).Should(Equal("0xcafe::swap_v3::fund_dst_escrow"))
			Expect(payload.TypeArguments).Should(Equal([]string{movechain.AptosCoin}))
			Expect(payload.Arguments).Should(Equal([]interface{}{
				"500",
				strconv.FormatInt(nodeTime.Unix()+10800, 10),
				hexutil.Encode(hashlock[:]),
			}))

			receipt, err := c.AwaitFinality(ctx, handle.OpenTx, 1)
			Expect(err).Should(BeNil())
			Expect(receipt.Escrow).Should(Equal("0xcafe"))
			Expect(receipt.Time).Should(BeTemporally("==", nodeTime))
		})

		It("should not submit twice for the same request", func(ctx context.Context) {
			first, err := c.OpenEscrow(ctx, params(swap.LegDst))
			Expect(err).Should(BeNil())
			second, err := c.OpenEscrow(ctx, params(swap.LegDst))
			Expect(err).Should(BeNil())
			Expect(second.OpenTx).Should(Equal(first.OpenTx))
			Expect(node.submitted).Should(HaveLen(1))
		})

		It("should reject an escrow outliving the source cancellation", func(ctx context.Context) {
			p := params(swap.LegDst)
			p.SrcCancellation = nodeTime.Add(time.Hour)
			_, err := c.OpenEscrow(ctx, p)
			Expect(errors.Is(err, chain.ErrRejected)).Should(BeTrue())
			Expect(errors.Is(err, swap.ErrDstAfterSrc)).Should(BeTrue())
			Expect(node.submitted).Should(BeEmpty())
		})
	})

	Context("when announcing the source order", func() {
		It("should pass the minimum fill and the cancellation offset", func(ctx context.Context) {
			p := params(swap.LegSrc)
			p.MinAmount = big.NewInt(300)
			_, err := c.OpenEscrow(ctx, p)
			Expect(err).Should(BeNil())

			payload := node.submitted[0].Payload
			Expect(payload.Function).Should(Equal("0xcafe::swap_v3::announce_order"))
			Expect(payload.Arguments).Should(Equal([]interface{}{"500", "300", "86400", hexutil.Encode(hashlock[:])}))
		})

		It("should not accept a minimum above the amount", func(ctx context.Context) {
			p := params(swap.LegSrc)
			p.MinAmount = big.NewInt(900)
			_, err := c.OpenEscrow(ctx, p)
			Expect(err).Should(BeNil())
			Expect(node.submitted[0].Payload.Arguments[1]).Should(Equal("500"))
		})
	})

	Context("when reading the order counter", func() {
		It("should match ledger ids by hashlock", func(ctx context.Context) {
			_, err := c.OpenEscrow(ctx, params(swap.LegSrc))
			Expect(err).Should(BeNil())
			_, err = c.OpenEscrow(ctx, params(swap.LegDst))
			Expect(err).Should(BeNil())

			loc := c.CounterLocation()
			Expect(loc.Resource).Should(Equal("0xcafe::swap_v3::SwapLedger"))
			counter, err := c.ReadCounter(ctx, loc)
			Expect(err).Should(BeNil())
			Expect(counter).Should(Equal(uint64(2)))

			ok, err := c.LedgerOrderMatches(ctx, loc, 1, hashlock)
			Expect(err).Should(BeNil())
			Expect(ok).Should(BeTrue())
			ok, err = c.LedgerOrderMatches(ctx, loc, 1, [32]byte{1})
			Expect(err).Should(BeNil())
			Expect(ok).Should(BeFalse())
			ok, err = c.LedgerOrderMatches(ctx, loc, 7, hashlock)
			Expect(err).Should(BeNil())
			Expect(ok).Should(BeFalse())
		})
	})

	Context("when settling", func() {
		var handle chain.EscrowHandle

		BeforeEach(func(ctx context.Context) {
			var err error
			handle, err = c.OpenEscrow(ctx, params(swap.LegDst))
			Expect(err).Should(BeNil())
			id := uint64(0)
			handle.LedgerID = &id
			handle.Key = chain.NewRequestKey("order-1", swap.LegDst, swap.ActionOpen)
		})

		It("should expose the revealed secret after a claim", func(ctx context.Context) {
			state, err := c.EscrowState(ctx, handle)
			Expect(err).Should(BeNil())
			Expect(state.Funded).Should(BeTrue())
			Expect(state.Claimed).Should(BeFalse())
			Expect(state.Hashlock).Should(Equal(hashlock))

			res, err := c.Claim(ctx, handle, secret)
			Expect(err).Should(BeNil())
			Expect(node.submitted[1].Payload.Arguments).Should(Equal([]interface{}{"0", hexutil.Encode(secret[:])}))
			_, err = c.AwaitFinality(ctx, res.TxRef, 1)
			Expect(err).Should(BeNil())

			state, err = c.EscrowState(ctx, handle)
			Expect(err).Should(BeNil())
			Expect(state.Claimed).Should(BeTrue())

			reveals, err := c.Reveals(ctx, handle)
			Expect(err).Should(BeNil())
			Expect(reveals).Should(HaveLen(1))
			Expect(reveals[0].Secret).Should(Equal(secret))
			Expect(reveals[0].TxRef).Should(Equal(string(res.TxRef)))
		})

		It("should page through claim events of other orders", func(ctx context.Context) {
			for i := 0; i < 3; i++ {
				other := [32]byte{byte(i + 1)}
				p := params(swap.LegDst)
				p.Key = chain.NewRequestKey("other-"+strconv.Itoa(i), swap.LegDst, swap.ActionOpen)
				h, err := c.OpenEscrow(ctx, p)
				Expect(err).Should(BeNil())
				id := uint64(i + 1)
				h.LedgerID = &id
				_, err = c.Claim(ctx, h, other)
				Expect(err).Should(BeNil())
			}
			_, err := c.Claim(ctx, handle, secret)
			Expect(err).Should(BeNil())

			reveals, err := c.Reveals(ctx, handle)
			Expect(err).Should(BeNil())
			Expect(reveals).Should(HaveLen(1))
			Expect(reveals[0].Secret).Should(Equal(secret))
		})

		It("should cancel by ledger id", func(ctx context.Context) {
			res, err := c.Cancel(ctx, handle)
			Expect(err).Should(BeNil())
			Expect(node.submitted[1].Payload.Function).Should(Equal("0xcafe::swap_v3::cancel_swap"))
			_, err = c.AwaitFinality(ctx, res.TxRef, 1)
			Expect(err).Should(BeNil())

			state, err := c.EscrowState(ctx, handle)
			Expect(err).Should(BeNil())
			Expect(state.Cancelled).Should(BeTrue())
		})

		It("should refuse to settle without a ledger id", func(ctx context.Context) {
			handle.LedgerID = nil
			_, err := c.Claim(ctx, handle, secret)
			Expect(errors.Is(err, chain.ErrRejected)).Should(BeTrue())
		})

		It("should classify aborted transactions", func(ctx context.Context) {
			node.abort = "Move abort in 0xcafe::swap_v3: EINSUFFICIENT_BALANCE(0x10006)"
			res, err := c.Claim(ctx, handle, secret)
			Expect(err).Should(BeNil())
			_, err = c.AwaitFinality(ctx, res.TxRef, 1)
			Expect(errors.Is(err, chain.ErrInsufficientFunds)).Should(BeTrue())
			Expect(chain.IsRetryable(err)).Should(BeFalse())

			res, err = c.Cancel(ctx, handle)
			Expect(err).Should(BeNil())
			cancelled, err := c.AwaitFinality(ctx, res.TxRef, 1)
			Expect(err).Should(BeNil())
			Expect(cancelled.Block).Should(Equal(uint64(3)))
		})

		It("should treat a second claim of the order as rejected", func(ctx context.Context) {
			node.orders[0]["claimed"] = true
			res, err := c.Claim(ctx, handle, secret)
			Expect(err).Should(BeNil())
			_, err = c.AwaitFinality(ctx, res.TxRef, 1)
			Expect(errors.Is(err, chain.ErrRejected)).Should(BeTrue())
		})
	})

	It("should time out on an unknown transaction", func(ctx context.Context) {
		_, err := c.AwaitFinality(ctx, "0xdead", 1)
		Expect(errors.Is(err, chain.ErrTimeout)).Should(BeTrue())
	})

	It("should recover from a stale sequence number", func(ctx context.Context) {
		_, err := c.OpenEscrow(ctx, params(swap.LegSrc))
		Expect(err).Should(BeNil())
		node.seq[c.Address()] += 2

		policy := retry.Policy{Attempts: 2, Initial: time.Millisecond, Max: time.Millisecond, Multiplier: 1, Retryable: chain.IsRetryable}
		err = retry.Do(ctx, policy, func(int) error {
			_, err := c.OpenEscrow(ctx, params(swap.LegDst))
			return err
		})
		Expect(err).Should(BeNil())
		Expect(node.submitted).Should(HaveLen(2))
		Expect(node.submitted[1].SequenceNumber).Should(Equal("3"))
	})

	It("should report an unavailable node as transient", func(ctx context.Context) {
		node.down = true
		_, err := c.Head(ctx)
		Expect(chain.IsRetryable(err)).Should(BeTrue())
	})

	It("should create the ledger resource once", func(ctx context.Context) {
		node.initialized = false
		Expect(c.Initialize(ctx)).Should(Succeed())
		Expect(node.submitted).Should(HaveLen(1))
		Expect(c.Initialize(ctx)).Should(Succeed())
		Expect(node.submitted).Should(HaveLen(1))
	})

	Context("when gating the resolver", func() {
		It("should authorize the owner's resolver once", func(ctx context.Context) {
			g := gate.New(c, gate.DefaultOptions(), zap.NewNop())
			Expect(g.Ensure(ctx, "0xbeef")).Should(Succeed())
			Expect(node.authorized["0xbeef"]).Should(BeTrue())
			Expect(g.Ensure(ctx, "0xbeef")).Should(Succeed())
			Expect(node.submitted).Should(HaveLen(1))
		})

		It("should fail when the wallet is not the owner", func(ctx context.Context) {
			node.owner = "0x01"
			g := gate.New(c, gate.DefaultOptions(), zap.NewNop())
			err := g.Ensure(ctx, "0xbeef")
			Expect(errors.Is(err, gate.ErrUnauthorized)).Should(BeTrue())
			Expect(err.Error()).Should(ContainSubstring("ENOT_AUTHORIZED"))
		})
	})
})
