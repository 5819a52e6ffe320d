// Package ethchain deploys and settles escrows through the EVM escrow factory.
// Destination escrows are created by the resolver wallet, source escrows are
// created by the maker's order fill and located from the factory logs.
package ethchain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/catalogfi/xswap/pkg/chain"
	"github.com/catalogfi/xswap/pkg/reconcile"
	"github.com/catalogfi/xswap/pkg/retry"
	"github.com/catalogfi/xswap/pkg/swap"
	"github.com/catalogfi/xswap/pkg/swap/hashlock"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// Client is the part of ethclient.Client the adapter uses.
type Client interface {
	bind.ContractBackend
	bind.DeployBackend

	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

type Chain struct {
	name   swap.Chain
	opts   Options
	client Client
	wallet *wallet
	logger *zap.Logger

	factory  *bind.BoundContract
	resolver *bind.BoundContract

	mu    *sync.Mutex
	sent  map[requestKey]common.Hash
	index *ledgerIndex
}

type requestKey struct {
	key    chain.RequestKey
	action swap.Action
}

// Dial connects to the node at url and checks that it serves the configured
// chain.
func Dial(ctx context.Context, name swap.Chain, opts Options, key *ecdsa.PrivateKey, url string, logger *zap.Logger) (*Chain, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", name, err)
	}
	return New(ctx, name, opts, key, client, logger)
}

func New(ctx context.Context, name swap.Chain, opts Options, key *ecdsa.PrivateKey, client Client, logger *zap.Logger) (*Chain, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Make sure the chain ID matches our expectation, so we know we are on the right chain.
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	if opts.ChainID == nil || opts.ChainID.Cmp(chainID) != 0 {
		return nil, fmt.Errorf("wrong chain ID, expect %v, got %v", opts.ChainID, chainID)
	}
	w, err := newWallet(ctx, key, client, chainID)
	if err != nil {
		return nil, err
	}
	return newChain(name, opts, client, w, logger), nil
}

func newChain(name swap.Chain, opts Options, client Client, w *wallet, logger *zap.Logger) *Chain {
	if opts.LogStep == 0 {
		opts.LogStep = 500
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.FinalityTimeout <= 0 {
		opts.FinalityTimeout = 2 * time.Minute
	}
	c := &Chain{
		name:    name,
		opts:    opts,
		client:  client,
		wallet:  w,
		logger:  logger.With(zap.String("chain", string(name))),
		factory: bind.NewBoundContract(opts.Factory, factoryABI, client, client, client),
		mu:      new(sync.Mutex),
		sent:    map[requestKey]common.Hash{},
		index:   newLedgerIndex(opts.FromBlock),
	}
	if opts.Resolver != (common.Address{}) {
		c.resolver = bind.NewBoundContract(opts.Resolver, resolverABI, client, client, client)
	}
	return c
}

func (c *Chain) Chain() swap.Chain { return c.name }

func (c *Chain) Kind() chain.Kind { return chain.KindEVM }

func (c *Chain) HashFunc() hashlock.Func { return c.opts.HashFunc }

func (c *Chain) Address() common.Address { return c.wallet.Address() }

func (c *Chain) Head(ctx context.Context) (uint64, error) {
	head, err := c.client.BlockNumber(ctx)
	if err != nil {
		return 0, chain.RPC("head", err)
	}
	return head, nil
}

// OpenEscrow creates the destination escrow through the factory. Source
// escrows are created by the maker's order fill, OpenEscrow returns the
// escrow once its creation log is visible.
func (c *Chain) OpenEscrow(ctx context.Context, params chain.EscrowParams) (chain.EscrowHandle, error) {
	if params.Leg == swap.LegSrc {
		return c.locateSrc(ctx, params)
	}

	key := requestKey{params.Key, swap.ActionOpen}
	handle := chain.EscrowHandle{
		Chain:      c.name,
		Leg:        params.Leg,
		Key:        params.Key,
		Immutables: params.Immutables,
	}
	if hash, ok := c.sentTx(key); ok {
		handle.OpenTx = chain.TxRef(hash.Hex())
		return handle, nil
	}

	im := params.Immutables
	if im.Amount == nil || im.Amount.Sign() <= 0 {
		return chain.EscrowHandle{}, chain.Rejected("open", errors.New("invalid amount"))
	}
	value := new(big.Int)
	if im.SafetyDeposit != nil {
		value.Set(im.SafetyDeposit)
	}
	token := tokenAddress(im.Token)
	if token == (common.Address{}) {
		value.Add(value, im.Amount)
	} else if err := c.wallet.approve(ctx, token, c.opts.Factory, im.Amount); err != nil {
		return chain.EscrowHandle{}, chain.Classify("approve", err)
	}

	im.DeployedAt = 0
	srcCancellation := new(big.Int)
	if !params.SrcCancellation.IsZero() {
		srcCancellation.SetInt64(params.SrcCancellation.Unix())
	}
	tx, err := c.wallet.send(ctx, c.factory, value, "createDstEscrow", encodeImmutables(im), srcCancellation)
	if err != nil {
		return chain.EscrowHandle{}, chain.Classify("open", err)
	}
	c.recordTx(key, tx.Hash())
	c.logger.Debug("destination escrow submitted", zap.String("order", params.OrderID), zap.String("tx", tx.Hash().Hex()))

	handle.OpenTx = chain.TxRef(tx.Hash().Hex())
	return handle, nil
}

func (c *Chain) locateSrc(ctx context.Context, params chain.EscrowParams) (chain.EscrowHandle, error) {
	if err := c.refresh(ctx); err != nil {
		return chain.EscrowHandle{}, err
	}
	entry, ok := c.index.byHashlock(params.Immutables.Hashlock, srcCreatedID)
	if !ok {
		return chain.EscrowHandle{}, fmt.Errorf("%w: no source escrow with hashlock %x yet", chain.ErrNotFound, params.Immutables.Hashlock)
	}
	im := decodeImmutables(entry.src.Immutables)
	if !common.IsHexAddress(params.Immutables.Taker) || common.HexToAddress(im.Taker) != common.HexToAddress(params.Immutables.Taker) {
		return chain.EscrowHandle{}, chain.Rejected("open", fmt.Errorf("source escrow taker %s, want %s", im.Taker, params.Immutables.Taker))
	}

	var out []interface{}
	err := c.factory.Call(&bind.CallOpts{Context: ctx}, &out, "addressOfEscrowSrc", entry.src.Immutables)
	if err != nil {
		return chain.EscrowHandle{}, chain.Classify("address", err)
	}
	addr := *abi.ConvertType(out[0], new(common.Address)).(*common.Address)
	id := entry.id
	return chain.EscrowHandle{
		Chain:      c.name,
		Leg:        params.Leg,
		Key:        params.Key,
		Address:    addr.Hex(),
		LedgerID:   &id,
		OpenTx:     chain.TxRef(entry.tx.Hex()),
		Immutables: im,
	}, nil
}

func (c *Chain) Claim(ctx context.Context, handle chain.EscrowHandle, secret [32]byte) (chain.TxResult, error) {
	return c.settle(ctx, handle, swap.ActionClaim, func(escrow common.Address, im immutables) (*types.Transaction, error) {
		if c.resolver != nil {
			return c.wallet.send(ctx, c.resolver, nil, "withdraw", escrow, secret, im)
		}
		contract := bind.NewBoundContract(escrow, escrowABI, c.client, c.client, c.client)
		return c.wallet.send(ctx, contract, nil, "withdraw", secret, im)
	})
}

func (c *Chain) Cancel(ctx context.Context, handle chain.EscrowHandle) (chain.TxResult, error) {
	return c.settle(ctx, handle, swap.ActionCancel, func(escrow common.Address, im immutables) (*types.Transaction, error) {
		if c.resolver != nil {
			return c.wallet.send(ctx, c.resolver, nil, "cancel", escrow, im)
		}
		contract := bind.NewBoundContract(escrow, escrowABI, c.client, c.client, c.client)
		return c.wallet.send(ctx, contract, nil, "cancel", im)
	})
}

func (c *Chain) settle(ctx context.Context, handle chain.EscrowHandle, action swap.Action, submit func(common.Address, immutables) (*types.Transaction, error)) (chain.TxResult, error) {
	key := requestKey{handle.Key, action}
	if hash, ok := c.sentTx(key); ok {
		return chain.TxResult{TxRef: chain.TxRef(hash.Hex())}, nil
	}
	if !common.IsHexAddress(handle.Address) {
		return chain.TxResult{}, chain.Rejected(string(action), fmt.Errorf("missing escrow address"))
	}
	tx, err := submit(common.HexToAddress(handle.Address), encodeImmutables(handle.Immutables))
	if err != nil {
		return chain.TxResult{}, chain.Classify(string(action), err)
	}
	c.recordTx(key, tx.Hash())
	return chain.TxResult{TxRef: chain.TxRef(tx.Hash().Hex())}, nil
}

// AwaitFinality polls the receipt until the transaction is the given number
// of blocks deep.
func (c *Chain) AwaitFinality(ctx context.Context, ref chain.TxRef, confirmations uint64) (chain.FinalizedReceipt, error) {
	if confirmations == 0 {
		confirmations = 1
	}
	hash := common.HexToHash(string(ref))

	var (
		receipt *types.Receipt
		head    uint64
	)
	err := retry.Poll(ctx, c.opts.FinalityTimeout, c.opts.pollPolicy(), func() (bool, error) {
		r, err := c.client.TransactionReceipt(ctx, hash)
		if errors.Is(err, ethereum.NotFound) {
			return false, nil
		}
		if err != nil {
			return false, chain.RPC("receipt", err)
		}
		head, err = c.client.BlockNumber(ctx)
		if err != nil {
			return false, chain.RPC("head", err)
		}
		if head+1 < r.BlockNumber.Uint64()+confirmations {
			return false, nil
		}
		receipt = r
		return true, nil
	})
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, chain.ErrRPC) {
			return chain.FinalizedReceipt{}, err
		}
		return chain.FinalizedReceipt{}, chain.Timeout("finality", fmt.Errorf("%s: %w", ref, err))
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return chain.FinalizedReceipt{}, chain.Rejected("finality", fmt.Errorf("tx %s reverted", ref))
	}

	header, err := c.client.HeaderByNumber(ctx, receipt.BlockNumber)
	if err != nil {
		return chain.FinalizedReceipt{}, chain.RPC("header", err)
	}
	final := chain.FinalizedReceipt{
		TxRef:         ref,
		Block:         receipt.BlockNumber.Uint64(),
		Time:          time.Unix(int64(header.Time), 0),
		Confirmations: head + 1 - receipt.BlockNumber.Uint64(),
	}
	for _, log := range receipt.Logs {
		if log.Address != c.opts.Factory || len(log.Topics) == 0 || log.Topics[0] != dstCreatedID {
			continue
		}
		values, err := factoryABI.Unpack("DstEscrowCreated", log.Data)
		if err != nil {
			return final, chain.Rejected("finality", fmt.Errorf("decode escrow creation: %w", err))
		}
		final.Escrow = values[0].(common.Address).Hex()
	}
	return final, nil
}

// EscrowState combines the escrow balance with its withdrawal and cancel logs.
func (c *Chain) EscrowState(ctx context.Context, handle chain.EscrowHandle) (chain.EscrowState, error) {
	if !common.IsHexAddress(handle.Address) {
		return chain.EscrowState{}, fmt.Errorf("%w: missing escrow address", chain.ErrNotFound)
	}
	escrow := common.HexToAddress(handle.Address)
	from, err := c.deployBlock(ctx, handle)
	if err != nil {
		return chain.EscrowState{}, err
	}
	withdrawals, err := c.scan(ctx, escrow, from, withdrawalID)
	if err != nil {
		return chain.EscrowState{}, err
	}
	cancels, err := c.scan(ctx, escrow, from, cancelledID)
	if err != nil {
		return chain.EscrowState{}, err
	}

	im := handle.Immutables
	state := chain.EscrowState{
		Claimed:   len(withdrawals) > 0,
		Cancelled: len(cancels) > 0,
		Hashlock:  im.Hashlock,
	}
	if state.Claimed || state.Cancelled {
		state.Funded = true
		state.Amount = new(big.Int).Set(im.Amount)
		return state, nil
	}

	balance, err := c.balanceOf(ctx, tokenAddress(im.Token), escrow)
	if err != nil {
		return chain.EscrowState{}, err
	}
	state.Amount = balance
	state.Funded = im.Amount != nil && balance.Cmp(im.Amount) >= 0
	return state, nil
}

// Reveals scans the escrow's withdrawal logs for the preimage.
func (c *Chain) Reveals(ctx context.Context, handle chain.EscrowHandle) ([]swap.Reveal, error) {
	if !common.IsHexAddress(handle.Address) {
		return nil, fmt.Errorf("%w: missing escrow address", chain.ErrNotFound)
	}
	from, err := c.deployBlock(ctx, handle)
	if err != nil {
		return nil, err
	}
	logs, err := c.scan(ctx, common.HexToAddress(handle.Address), from, withdrawalID)
	if err != nil {
		return nil, err
	}
	reveals := make([]swap.Reveal, 0, len(logs))
	for _, log := range logs {
		secret, err := decodeWithdrawal(log)
		if err != nil {
			c.logger.Warn("skipping undecodable withdrawal", zap.String("tx", log.TxHash.Hex()), zap.Error(err))
			continue
		}
		reveals = append(reveals, swap.Reveal{TxRef: log.TxHash.Hex(), Block: log.BlockNumber, Secret: secret})
	}
	return reveals, nil
}

func decodeWithdrawal(log types.Log) ([32]byte, error) {
	values, err := escrowABI.Unpack("EscrowWithdrawal", log.Data)
	if err != nil {
		return [32]byte{}, err
	}
	secret, ok := values[0].([32]byte)
	if !ok {
		return [32]byte{}, fmt.Errorf("unexpected secret type %T", values[0])
	}
	return secret, nil
}

func (c *Chain) deployBlock(ctx context.Context, handle chain.EscrowHandle) (uint64, error) {
	if handle.OpenTx == "" {
		return c.opts.FromBlock, nil
	}
	receipt, err := c.client.TransactionReceipt(ctx, common.HexToHash(string(handle.OpenTx)))
	if err != nil {
		return 0, chain.RPC("receipt", err)
	}
	return receipt.BlockNumber.Uint64(), nil
}

// scan collects the logs of addr with topic from block from to the head, in
// windows of LogStep blocks.
func (c *Chain) scan(ctx context.Context, addr common.Address, from uint64, topic common.Hash) ([]types.Log, error) {
	head, err := c.client.BlockNumber(ctx)
	if err != nil {
		return nil, chain.RPC("head", err)
	}
	var logs []types.Log
	for start := from; start <= head; start += c.opts.LogStep {
		end := start + c.opts.LogStep - 1
		if end > head {
			end = head
		}
		found, err := c.client.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(start),
			ToBlock:   new(big.Int).SetUint64(end),
			Addresses: []common.Address{addr},
			Topics:    [][]common.Hash{{topic}},
		})
		if err != nil {
			return nil, chain.RPC("logs", err)
		}
		logs = append(logs, found...)
	}
	return logs, nil
}

func (c *Chain) balanceOf(ctx context.Context, token, account common.Address) (*big.Int, error) {
	if token == (common.Address{}) {
		balance, err := c.client.BalanceAt(ctx, account, nil)
		if err != nil {
			return nil, chain.RPC("balance", err)
		}
		return balance, nil
	}
	erc20 := bind.NewBoundContract(token, erc20ABI, c.client, c.client, c.client)
	var out []interface{}
	if err := erc20.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", account); err != nil {
		return nil, chain.RPC("balance", err)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (c *Chain) sentTx(key requestKey) (common.Hash, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hash, ok := c.sent[key]
	return hash, ok
}

func (c *Chain) recordTx(key requestKey, hash common.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent[key] = hash
}

// CounterLocation names the escrow creation count of the factory.
func (c *Chain) CounterLocation() reconcile.CounterLocation {
	return reconcile.CounterLocation{Account: c.opts.Factory.Hex(), Resource: "EscrowFactory", Field: "escrows_created"}
}

// ReadCounter returns the number of escrows the factory created since
// FromBlock. The n-th creation has id n-1.
func (c *Chain) ReadCounter(ctx context.Context, loc reconcile.CounterLocation) (uint64, error) {
	if err := c.refresh(ctx); err != nil {
		return 0, err
	}
	return c.index.count(), nil
}

func (c *Chain) LedgerOrderMatches(ctx context.Context, loc reconcile.CounterLocation, id uint64, hashlock [32]byte) (bool, error) {
	if err := c.refresh(ctx); err != nil {
		return false, err
	}
	entry, ok := c.index.at(id)
	return ok && entry.hashlock == hashlock, nil
}

func (c *Chain) refresh(ctx context.Context) error {
	return c.index.refresh(ctx, c.client, c.opts.Factory, c.opts.LogStep)
}
