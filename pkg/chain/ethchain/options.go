package ethchain

import (
	"math/big"
	"time"

	"github.com/catalogfi/xswap/pkg/retry"
	"github.com/catalogfi/xswap/pkg/swap/hashlock"
	"github.com/ethereum/go-ethereum/common"
)

type Options struct {
	ChainID *big.Int
	Factory common.Address

	// Resolver is the resolver contract that withdraws and cancels on behalf
	// of the wallet. A zero address calls the escrows directly.
	Resolver common.Address

	HashFunc hashlock.Func

	// FromBlock is the first block scanned for escrow creations.
	FromBlock uint64

	// LogStep is the block window of a single log query.
	LogStep uint64

	FinalityTimeout time.Duration
	PollInterval    time.Duration
	MaxPollInterval time.Duration
}

func NewOptions(chainID *big.Int, factory common.Address) Options {
	return Options{
		ChainID:         chainID,
		Factory:         factory,
		HashFunc:        hashlock.SHA256,
		LogStep:         500,
		FinalityTimeout: 2 * time.Minute,
		PollInterval:    time.Second,
		MaxPollInterval: 8 * time.Second,
	}
}

func OptionsMainnet(factory common.Address) Options {
	return NewOptions(big.NewInt(1), factory)
}

func OptionsSepolia(factory common.Address) Options {
	return NewOptions(big.NewInt(11155111), factory)
}

func OptionsLocalnet(factory common.Address) Options {
	return NewOptions(big.NewInt(1337), factory)
}

func (opts Options) WithChainID(id *big.Int) Options {
	opts.ChainID = id
	return opts
}

func (opts Options) WithResolver(resolver common.Address) Options {
	opts.Resolver = resolver
	return opts
}

func (opts Options) WithHashFunc(f hashlock.Func) Options {
	opts.HashFunc = f
	return opts
}

func (opts Options) WithFromBlock(block uint64) Options {
	opts.FromBlock = block
	return opts
}

func (opts Options) WithLogStep(step uint64) Options {
	opts.LogStep = step
	return opts
}

func (opts Options) pollPolicy() retry.Policy {
	max := opts.MaxPollInterval
	if max <= 0 {
		max = 8 * opts.PollInterval
	}
	return retry.DefaultPolicy().WithInitial(opts.PollInterval).WithMax(max)
}
