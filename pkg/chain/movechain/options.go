package movechain

import (
	"time"

	"github.com/catalogfi/xswap/pkg/retry"
	"github.com/catalogfi/xswap/pkg/swap/hashlock"
)

const AptosCoin = "0x1::aptos_coin::AptosCoin"

type Options struct {
	ChainID uint8

	// Module is the fully qualified swap module, e.g. "0xabc::swap_v3".
	Module string

	// LedgerAddress holds the SwapLedger resource.
	LedgerAddress string

	CoinType string
	HashFunc hashlock.Func

	MaxGasAmount   uint64
	GasUnitPrice   uint64
	ExpirationSecs uint64

	// EventPage is the page size of a single event query.
	EventPage int

	FinalityTimeout time.Duration
	PollInterval    time.Duration
	MaxPollInterval time.Duration
}

func NewOptions(chainID uint8, module, ledger string) Options {
	return Options{
		ChainID:         chainID,
		Module:          module,
		LedgerAddress:   ledger,
		CoinType:        AptosCoin,
		HashFunc:        hashlock.SHA256,
		MaxGasAmount:    20000,
		GasUnitPrice:    100,
		ExpirationSecs:  60,
		EventPage:       100,
		FinalityTimeout: time.Minute,
		PollInterval:    time.Second,
		MaxPollInterval: 8 * time.Second,
	}
}

func OptionsMainnet(module, ledger string) Options {
	return NewOptions(1, module, ledger)
}

func OptionsTestnet(module, ledger string) Options {
	return NewOptions(2, module, ledger)
}

func OptionsLocalnet(module, ledger string) Options {
	return NewOptions(4, module, ledger)
}

func (opts Options) WithCoinType(coin string) Options {
	opts.CoinType = coin
	return opts
}

func (opts Options) WithHashFunc(f hashlock.Func) Options {
	opts.HashFunc = f
	return opts
}

func (opts Options) WithGas(maxAmount, unitPrice uint64) Options {
	opts.MaxGasAmount = maxAmount
	opts.GasUnitPrice = unitPrice
	return opts
}

func (opts Options) function(name string) string {
	return opts.Module + "::" + name
}

func (opts Options) ledgerResource() string {
	return opts.Module + "::SwapLedger"
}

func (opts Options) pollPolicy() retry.Policy {
	max := opts.MaxPollInterval
	if max <= 0 {
		max = 8 * opts.PollInterval
	}
	return retry.DefaultPolicy().WithInitial(opts.PollInterval).WithMax(max)
}
