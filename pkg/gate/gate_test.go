package gate_test

import (
	"context"
	"errors"
	"time"

	"github.com/catalogfi/xswap/pkg/chain/simchain"
	"github.com/catalogfi/xswap/pkg/gate"
	"go.uber.org/zap"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Gate", func() {
	var (
		sim  *simchain.Chain
		opts gate.Options
	)

	BeforeEach(func() {
		sim = simchain.New("sim", simchain.NewClock(time.Now()), simchain.DefaultOptions().WithAuthorization(true, true))
		opts = gate.DefaultOptions()
		opts.Retry = opts.Retry.WithInitial(time.Millisecond).WithMax(time.Millisecond)
	})

	It("should authorize a missing resolver exactly once", func(ctx context.Context) {
		g := gate.New(sim, opts, zap.NewNop())
		Expect(g.Ensure(ctx, "resolver")).Should(Succeed())
		Expect(g.Ensure(ctx, "resolver")).Should(Succeed())
		Expect(sim.Effects(simchain.OpAuthorize)).Should(Equal(1))

		ok, err := sim.IsResolverAuthorized(ctx, "resolver")
		Expect(err).Should(BeNil())
		Expect(ok).Should(BeTrue())
	})

	It("should not submit anything for an already authorized resolver", func(ctx context.Context) {
		_, err := sim.AuthorizeResolver(ctx, "resolver")
		Expect(err).Should(BeNil())
		g := gate.New(sim, opts, zap.NewNop())
		Expect(g.Ensure(ctx, "resolver")).Should(Succeed())
		Expect(sim.Effects(simchain.OpAuthorize)).Should(Equal(1))
	})

	It("should retry transient allowlist reads", func(ctx context.Context) {
		sim.FailRPC(simchain.OpIsAuthorized, 2)
		g := gate.New(sim, opts, zap.NewNop())
		ok, err := g.IsAuthorized(ctx, "resolver")
		Expect(err).Should(BeNil())
		Expect(ok).Should(BeFalse())
	})

	It("should fail with ErrUnauthorized when the signer is not the owner", func(ctx context.Context) {
		sim = simchain.New("sim", simchain.NewClock(time.Now()), simchain.DefaultOptions().WithAuthorization(true, false))
		g := gate.New(sim, opts, zap.NewNop())
		err := g.Ensure(ctx, "resolver")
		Expect(errors.Is(err, gate.ErrUnauthorized)).Should(BeTrue())
	})

	It("should never retry the authorization itself", func(ctx context.Context) {
		sim.FailRPC(simchain.OpAuthorize, 1)
		g := gate.New(sim, opts, zap.NewNop())
		err := g.Ensure(ctx, "resolver")
		Expect(errors.Is(err, gate.ErrUnauthorized)).Should(BeTrue())
		Expect(sim.Effects(simchain.OpAuthorize)).Should(Equal(0))
	})

	It("should give up on reads once the retry budget is spent", func(ctx context.Context) {
		sim.FailRPC(simchain.OpIsAuthorized, 10)
		g := gate.New(sim, opts, zap.NewNop())
		err := g.Ensure(ctx, "resolver")
		Expect(errors.Is(err, gate.ErrUnauthorized)).Should(BeTrue())
		Expect(sim.Effects(simchain.OpAuthorize)).Should(Equal(0))
	})
})
