// Package movechain deploys and settles escrows on a Move ledger through its
// REST API. Orders live in a single SwapLedger resource and are addressed by
// the id its counter assigned them.
package movechain

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/catalogfi/xswap/pkg/chain"
	"github.com/catalogfi/xswap/pkg/reconcile"
	"github.com/catalogfi/xswap/pkg/retry"
	"github.com/catalogfi/xswap/pkg/swap"
	"github.com/catalogfi/xswap/pkg/swap/hashlock"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"
)

// ledgerOrder is the view of one order returned by get_order.
type ledgerOrder struct {
	Depositor   string `json:"depositor"`
	Beneficiary string `json:"beneficiary"`
	Amount      string `json:"amount"`
	MinAmount   string `json:"min_amount"`
	Hashlock    string `json:"hashlock"`
	Expiration  string `json:"expiration"`
	Claimed     bool   `json:"claimed"`
	Cancelled   bool   `json:"cancelled"`
}

type swapLedger struct {
	OrderIDCounter string `json:"order_id_counter"`
}

type claimEvent struct {
	OrderID string `json:"order_id"`
	Secret  string `json:"secret"`
}

type Chain struct {
	name   swap.Chain
	opts   Options
	client Client
	key    ed25519.PrivateKey
	addr   string
	logger *zap.Logger

	mu        *sync.Mutex
	seq       uint64
	seqLoaded bool
	sent      map[requestKey]string

	claims *claimIndex
}

type requestKey struct {
	key    chain.RequestKey
	action swap.Action
}

// AddressOf derives the account address of a single-key ed25519 account.
func AddressOf(pub ed25519.PublicKey) string {
	sum := sha3.Sum256(append(append([]byte{}, pub...), 0x00))
	return hexutil.Encode(sum[:])
}

// Dial connects to the node at url and checks that it serves the configured
// chain.
func Dial(ctx context.Context, name swap.Chain, opts Options, key ed25519.PrivateKey, url string, logger *zap.Logger) (*Chain, error) {
	return New(ctx, name, opts, key, NewClient(url), logger)
}

func New(ctx context.Context, name swap.Chain, opts Options, key ed25519.PrivateKey, client Client, logger *zap.Logger) (*Chain, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	info, err := client.LedgerInfo(ctx)
	if err != nil {
		return nil, err
	}
	if info.ChainID != opts.ChainID {
		return nil, fmt.Errorf("wrong chain ID, expect %v, got %v", opts.ChainID, info.ChainID)
	}
	if opts.EventPage <= 0 {
		opts.EventPage = 100
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.FinalityTimeout <= 0 {
		opts.FinalityTimeout = time.Minute
	}
	return &Chain{
		name:   name,
		opts:   opts,
		client: client,
		key:    key,
		addr:   AddressOf(key.Public().(ed25519.PublicKey)),
		logger: logger.With(zap.String("chain", string(name))),
		mu:     new(sync.Mutex),
		sent:   map[requestKey]string{},
		claims: newClaimIndex(),
	}, nil
}

func (c *Chain) Chain() swap.Chain { return c.name }

func (c *Chain) Kind() chain.Kind { return chain.KindMove }

func (c *Chain) HashFunc() hashlock.Func { return c.opts.HashFunc }

func (c *Chain) Address() string { return c.addr }

func (c *Chain) Head(ctx context.Context) (uint64, error) {
	info, err := c.client.LedgerInfo(ctx)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(info.BlockHeight, 10, 64)
}

// Initialize creates the SwapLedger resource unless it already exists.
func (c *Chain) Initialize(ctx context.Context) error {
	var ledger swapLedger
	err := c.client.Resource(ctx, c.opts.LedgerAddress, c.opts.ledgerResource(), &ledger)
	if err == nil {
		return nil
	}
	if !errors.Is(err, chain.ErrNotFound) {
		return err
	}
	hash, err := c.submit(ctx, "initialize_swap_ledger", []string{c.opts.CoinType})
	if err != nil {
		return err
	}
	c.logger.Info("swap ledger initialized", zap.String("tx", hash))
	_, err = c.AwaitFinality(ctx, chain.TxRef(hash), 1)
	return err
}

// OpenEscrow announces the order on the source leg and funds the escrow on
// the destination leg. The ledger id is assigned by the order counter and is
// not known until the transaction is final.
func (c *Chain) OpenEscrow(ctx context.Context, params chain.EscrowParams) (chain.EscrowHandle, error) {
	key := requestKey{params.Key, swap.ActionOpen}
	handle := chain.EscrowHandle{
		Chain:      c.name,
		Leg:        params.Leg,
		Key:        params.Key,
		Address:    c.opts.LedgerAddress,
		Immutables: params.Immutables,
	}
	if hash, ok := c.sentTx(key); ok {
		handle.OpenTx = chain.TxRef(hash)
		return handle, nil
	}

	im := params.Immutables
	if im.Amount == nil || im.Amount.Sign() <= 0 {
		return chain.EscrowHandle{}, chain.Rejected("open", errors.New("invalid amount"))
	}

	var (
		function string
		args     []interface{}
	)
	switch params.Leg {
	case swap.LegSrc:
		min := params.MinAmount
		if min == nil || min.Sign() <= 0 || min.Cmp(im.Amount) > 0 {
			min = im.Amount
		}
		function = "announce_order"
		args = []interface{}{
			im.Amount.String(),
			min.String(),
			strconv.FormatUint(uint64(im.Timelocks.SrcCancellation), 10),
			hexutil.Encode(im.Hashlock[:]),
		}
	case swap.LegDst:
		info, err := c.client.LedgerInfo(ctx)
		if err != nil {
			return chain.EscrowHandle{}, err
		}
		expiration := info.Time().Add(time.Duration(im.Timelocks.DstCancellation) * time.Second)
		if !params.SrcCancellation.IsZero() && !expiration.Before(params.SrcCancellation) {
			return chain.EscrowHandle{}, chain.Rejected("open", fmt.Errorf("%w: %v is not before %v",
				swap.ErrDstAfterSrc, expiration.UTC(), params.SrcCancellation.UTC()))
		}
		function = "fund_dst_escrow"
		args = []interface{}{
			im.Amount.String(),
			strconv.FormatInt(expiration.Unix(), 10),
			hexutil.Encode(im.Hashlock[:]),
		}
	default:
		return chain.EscrowHandle{}, chain.Rejected("open", fmt.Errorf("unknown leg %v", params.Leg))
	}

	hash, err := c.submit(ctx, function, []string{c.opts.CoinType}, args...)
	if err != nil {
		return chain.EscrowHandle{}, err
	}
	c.recordTx(key, hash)
	c.logger.Debug("escrow submitted", zap.String("order", params.OrderID), zap.Stringer("leg", params.Leg), zap.String("tx", hash))

	handle.OpenTx = chain.TxRef(hash)
	return handle, nil
}

func (c *Chain) Claim(ctx context.Context, handle chain.EscrowHandle, secret [32]byte) (chain.TxResult, error) {
	return c.settle(ctx, handle, swap.ActionClaim, "claim_funds", hexutil.Encode(secret[:]))
}

func (c *Chain) Cancel(ctx context.Context, handle chain.EscrowHandle) (chain.TxResult, error) {
	return c.settle(ctx, handle, swap.ActionCancel, "cancel_swap")
}

func (c *Chain) settle(ctx context.Context, handle chain.EscrowHandle, action swap.Action, function string, args ...interface{}) (chain.TxResult, error) {
	key := requestKey{handle.Key, action}
	if hash, ok := c.sentTx(key); ok {
		return chain.TxResult{TxRef: chain.TxRef(hash)}, nil
	}
	if handle.LedgerID == nil {
		return chain.TxResult{}, chain.Rejected(string(action), errors.New("missing ledger order id"))
	}
	args = append([]interface{}{strconv.FormatUint(*handle.LedgerID, 10)}, args...)
	hash, err := c.submit(ctx, function, []string{c.opts.CoinType}, args...)
	if err != nil {
		return chain.TxResult{}, err
	}
	c.recordTx(key, hash)
	return chain.TxResult{TxRef: chain.TxRef(hash)}, nil
}

// AwaitFinality waits for the transaction to be committed. Committed
// transactions are final, so every confirmation requirement is met at once.
func (c *Chain) AwaitFinality(ctx context.Context, ref chain.TxRef, confirmations uint64) (chain.FinalizedReceipt, error) {
	if confirmations == 0 {
		confirmations = 1
	}
	var tx Transaction
	err := retry.Poll(ctx, c.opts.FinalityTimeout, c.opts.pollPolicy(), func() (bool, error) {
		var err error
		tx, err = c.client.TransactionByHash(ctx, string(ref))
		if errors.Is(err, chain.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return !tx.Pending(), nil
	})
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, chain.ErrRPC) {
			return chain.FinalizedReceipt{}, err
		}
		return chain.FinalizedReceipt{}, chain.Timeout("finality", fmt.Errorf("%s: %w", ref, err))
	}
	if !tx.Success {
		return chain.FinalizedReceipt{}, vmError("finality", tx.VMStatus)
	}

	version, err := strconv.ParseUint(tx.Version, 10, 64)
	if err != nil {
		return chain.FinalizedReceipt{}, chain.RPC("finality", fmt.Errorf("bad version %q", tx.Version))
	}
	micros, _ := strconv.ParseInt(tx.Timestamp, 10, 64)
	return chain.FinalizedReceipt{
		TxRef:         ref,
		Block:         version,
		Time:          time.UnixMicro(micros),
		Confirmations: confirmations,
		Escrow:        c.opts.LedgerAddress,
	}, nil
}

// vmError classifies the status of a committed but failed transaction. It is
// never transient.
func vmError(op, status string) error {
	err := chain.Classify(op, errors.New(status))
	if chain.IsRetryable(err) {
		return chain.Rejected(op, errors.New(status))
	}
	return err
}

func (c *Chain) EscrowState(ctx context.Context, handle chain.EscrowHandle) (chain.EscrowState, error) {
	if handle.LedgerID == nil {
		return chain.EscrowState{}, fmt.Errorf("%w: missing ledger order id", chain.ErrNotFound)
	}
	order, err := c.order(ctx, *handle.LedgerID)
	if err != nil {
		return chain.EscrowState{}, err
	}
	amount, ok := new(big.Int).SetString(order.Amount, 10)
	if !ok {
		return chain.EscrowState{}, chain.RPC("state", fmt.Errorf("bad amount %q", order.Amount))
	}
	state := chain.EscrowState{
		Funded:    handle.Immutables.Amount != nil && amount.Cmp(handle.Immutables.Amount) >= 0,
		Claimed:   order.Claimed,
		Cancelled: order.Cancelled,
		Amount:    amount,
	}
	hl, err := hexutil.Decode(order.Hashlock)
	if err != nil || len(hl) != 32 {
		return chain.EscrowState{}, chain.RPC("state", fmt.Errorf("bad hashlock %q", order.Hashlock))
	}
	copy(state.Hashlock[:], hl)
	return state, nil
}

// Reveals returns the claims of the order with their preimages.
func (c *Chain) Reveals(ctx context.Context, handle chain.EscrowHandle) ([]swap.Reveal, error) {
	if handle.LedgerID == nil {
		return nil, fmt.Errorf("%w: missing ledger order id", chain.ErrNotFound)
	}
	if err := c.claims.refresh(ctx, c.client, c.opts, c.logger); err != nil {
		return nil, err
	}
	reveals := c.claims.of(*handle.LedgerID)
	for i := range reveals {
		if reveals[i].TxRef != "" {
			continue
		}
		tx, err := c.client.TransactionByVersion(ctx, reveals[i].Block)
		if err != nil {
			return nil, err
		}
		reveals[i].TxRef = tx.Hash
		c.claims.setTx(*handle.LedgerID, reveals[i].Block, tx.Hash)
	}
	return reveals, nil
}

func (c *Chain) order(ctx context.Context, id uint64) (ledgerOrder, error) {
	out, err := c.client.View(ctx, ViewPayload{
		Function:      c.opts.function("get_order"),
		TypeArguments: []string{},
		Arguments:     []interface{}{strconv.FormatUint(id, 10)},
	})
	if err != nil {
		if errors.Is(err, chain.ErrRejected) {
			return ledgerOrder{}, fmt.Errorf("%w: order %d: %v", chain.ErrNotFound, id, err)
		}
		return ledgerOrder{}, err
	}
	if len(out) == 0 {
		return ledgerOrder{}, fmt.Errorf("%w: order %d", chain.ErrNotFound, id)
	}
	var order ledgerOrder
	if err := json.Unmarshal(out[0], &order); err != nil {
		return ledgerOrder{}, chain.RPC("view", err)
	}
	return order, nil
}

// CounterLocation names the order counter of the SwapLedger resource.
func (c *Chain) CounterLocation() reconcile.CounterLocation {
	return reconcile.CounterLocation{
		Account:  c.opts.LedgerAddress,
		Resource: c.opts.ledgerResource(),
		Field:    "order_id_counter",
	}
}

func (c *Chain) ReadCounter(ctx context.Context, loc reconcile.CounterLocation) (uint64, error) {
	var ledger swapLedger
	if err := c.client.Resource(ctx, loc.Account, loc.Resource, &ledger); err != nil {
		return 0, err
	}
	counter, err := strconv.ParseUint(ledger.OrderIDCounter, 10, 64)
	if err != nil {
		return 0, chain.RPC("counter", fmt.Errorf("bad counter %q", ledger.OrderIDCounter))
	}
	return counter, nil
}

func (c *Chain) LedgerOrderMatches(ctx context.Context, loc reconcile.CounterLocation, id uint64, hl [32]byte) (bool, error) {
	order, err := c.order(ctx, id)
	if errors.Is(err, chain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	got, err := hexutil.Decode(order.Hashlock)
	if err != nil {
		return false, nil
	}
	return string(got) == string(hl[:]), nil
}

func (c *Chain) IsResolverAuthorized(ctx context.Context, resolver string) (bool, error) {
	out, err := c.client.View(ctx, ViewPayload{
		Function:      c.opts.function("is_resolver_authorized"),
		TypeArguments: []string{},
		Arguments:     []interface{}{resolver},
	})
	if err != nil {
		return false, err
	}
	if len(out) == 0 {
		return false, chain.RPC("view", errors.New("empty view result"))
	}
	var ok bool
	if err := json.Unmarshal(out[0], &ok); err != nil {
		return false, chain.RPC("view", err)
	}
	return ok, nil
}

// AuthorizeResolver adds resolver to the allowlist. The ledger only accepts it
// from the owner account.
func (c *Chain) AuthorizeResolver(ctx context.Context, resolver string) (chain.TxResult, error) {
	hash, err := c.submit(ctx, "authorize_resolver", []string{}, resolver)
	if err != nil {
		return chain.TxResult{}, err
	}
	return chain.TxResult{TxRef: chain.TxRef(hash)}, nil
}

// submit signs and submits an entry function call with the next sequence
// number of the account.
func (c *Chain) submit(ctx context.Context, function string, typeArgs []string, args ...interface{}) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.seqLoaded {
		account, err := c.client.Account(ctx, c.addr)
		if err != nil {
			return "", err
		}
		seq, err := strconv.ParseUint(account.SequenceNumber, 10, 64)
		if err != nil {
			return "", chain.RPC("account", fmt.Errorf("bad sequence number %q", account.SequenceNumber))
		}
		c.seq, c.seqLoaded = seq, true
	}
	info, err := c.client.LedgerInfo(ctx)
	if err != nil {
		return "", err
	}
	if args == nil {
		args = []interface{}{}
	}

	raw := RawTransaction{
		Sender:                  c.addr,
		SequenceNumber:          strconv.FormatUint(c.seq, 10),
		MaxGasAmount:            strconv.FormatUint(c.opts.MaxGasAmount, 10),
		GasUnitPrice:            strconv.FormatUint(c.opts.GasUnitPrice, 10),
		ExpirationTimestampSecs: strconv.FormatInt(info.Time().Unix()+int64(c.opts.ExpirationSecs), 10),
		Payload: EntryFunctionPayload{
			Type:          "entry_function_payload",
			Function:      c.opts.function(function),
			TypeArguments: typeArgs,
			Arguments:     args,
		},
	}
	msg, err := c.client.EncodeSubmission(ctx, raw)
	if err != nil {
		return "", err
	}
	hash, err := c.client.Submit(ctx, SignedTransaction{
		RawTransaction: raw,
		Signature: Signature{
			Type:      "ed25519_signature",
			PublicKey: hexutil.Encode(c.key.Public().(ed25519.PublicKey)),
			Signature: hexutil.Encode(ed25519.Sign(c.key, msg)),
		},
	})
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "sequence_number_too_old") {
			c.seqLoaded = false
		}
		return "", err
	}
	c.seq++
	return hash, nil
}

func (c *Chain) sentTx(key requestKey) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hash, ok := c.sent[key]
	return hash, ok
}

func (c *Chain) recordTx(key requestKey, hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent[key] = hash
}
