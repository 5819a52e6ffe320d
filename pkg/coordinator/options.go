package coordinator

import (
	"math/big"
	"time"

	"github.com/catalogfi/xswap/pkg/chain"
	"github.com/catalogfi/xswap/pkg/retry"
	"github.com/catalogfi/xswap/pkg/swap"
)

type DepositKind string

const (
	DepositNone  DepositKind = "none"
	DepositFixed DepositKind = "fixed"
	DepositBps   DepositKind = "bps"
)

// DepositPolicy computes the safety deposit of a leg when the order does not
// name one.
type DepositPolicy struct {
	Kind   DepositKind `json:"kind"`
	Amount *big.Int    `json:"amount,omitempty"`
	Bps    uint64      `json:"bps,omitempty"`
}

func NoDeposit() DepositPolicy {
	return DepositPolicy{Kind: DepositNone}
}

func FixedDeposit(amount *big.Int) DepositPolicy {
	return DepositPolicy{Kind: DepositFixed, Amount: amount}
}

func BpsDeposit(bps uint64) DepositPolicy {
	return DepositPolicy{Kind: DepositBps, Bps: bps}
}

func (p DepositPolicy) For(amount *big.Int) *big.Int {
	switch p.Kind {
	case DepositFixed:
		if p.Amount == nil {
			return big.NewInt(0)
		}
		return new(big.Int).Set(p.Amount)
	case DepositBps:
		if amount == nil {
			return big.NewInt(0)
		}
		v := new(big.Int).Mul(amount, new(big.Int).SetUint64(p.Bps))
		return v.Div(v, big.NewInt(10000))
	default:
		return big.NewInt(0)
	}
}

// Limits bounds the amount of a leg on one chain. Nil bounds are ignored.
type Limits struct {
	Min *big.Int `json:"min,omitempty"`
	Max *big.Int `json:"max,omitempty"`
}

type Options struct {
	// PoolSize bounds the number of order steps run at once. Orders waiting
	// between steps do not hold a slot.
	PoolSize int64

	Confirmations   uint64
	FinalityTimeout time.Duration
	UnwindTimeout   time.Duration
	PollInterval    time.Duration

	// FundingGrace is how long an announced order may wait for its source
	// escrow before it fails.
	FundingGrace time.Duration

	// ExpiryGrace is added to the destination cancellation to find the last
	// moment a destination cancel still counts as on time.
	ExpiryGrace time.Duration

	Retry     retry.Policy
	Deposit   DepositPolicy
	Timelocks swap.Timelocks
	Limits    map[swap.Chain]Limits
}

func DefaultOptions() Options {
	return Options{
		PoolSize:        64,
		Confirmations:   1,
		FinalityTimeout: 2 * time.Minute,
		UnwindTimeout:   5 * time.Minute,
		PollInterval:    15 * time.Second,
		FundingGrace:    time.Hour,
		ExpiryGrace:     time.Hour,
		Retry:           retry.DefaultPolicy().WithRetryable(chain.IsRetryable),
		Deposit:         NoDeposit(),
		Timelocks:       swap.DefaultTimelocks(),
		Limits:          map[swap.Chain]Limits{},
	}
}

func (opts Options) WithPoolSize(n int64) Options {
	opts.PoolSize = n
	return opts
}

func (opts Options) WithConfirmations(n uint64) Options {
	opts.Confirmations = n
	return opts
}

func (opts Options) WithPollInterval(d time.Duration) Options {
	opts.PollInterval = d
	return opts
}

func (opts Options) WithRetry(p retry.Policy) Options {
	opts.Retry = p
	return opts
}

func (opts Options) WithDeposit(p DepositPolicy) Options {
	opts.Deposit = p
	return opts
}

func (opts Options) WithTimelocks(t swap.Timelocks) Options {
	opts.Timelocks = t
	return opts
}

func (opts Options) WithLimits(c swap.Chain, l Limits) Options {
	limits := make(map[swap.Chain]Limits, len(opts.Limits)+1)
	for k, v := range opts.Limits {
		limits[k] = v
	}
	limits[c] = l
	opts.Limits = limits
	return opts
}

func (opts Options) WithFundingGrace(d time.Duration) Options {
	opts.FundingGrace = d
	return opts
}
