// Package chain defines the contract every ledger integration implements.
// Adapters translate coordinator intent into chain calls and report outcomes,
// they keep no per-order state beyond request de-duplication.
package chain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"time"

	"github.com/catalogfi/xswap/pkg/swap"
	"github.com/catalogfi/xswap/pkg/swap/hashlock"
)

type Kind string

const (
	KindEVM  Kind = "evm"
	KindMove Kind = "move"
	KindSim  Kind = "sim"
)

type TxRef string

type TxResult struct {
	TxRef TxRef
}

// RequestKey identifies a logical operation. Submitting twice with the same
// key must not change chain state twice.
type RequestKey [32]byte

func NewRequestKey(orderID string, leg swap.Leg, action swap.Action) RequestKey {
	return sha256.Sum256([]byte(orderID + "/" + leg.String() + "/" + string(action)))
}

func (key RequestKey) String() string {
	return hex.EncodeToString(key[:])
}

// EscrowParams is everything needed to deploy one leg's escrow.
type EscrowParams struct {
	OrderID    string
	Leg        swap.Leg
	Key        RequestKey
	Immutables swap.Immutables

	// SrcCancellation is the absolute source cancellation time. Destination
	// escrows must become cancellable before it.
	SrcCancellation time.Time

	// MinAmount is the smallest fill the maker accepts on ledgers that
	// support partial announcements.
	MinAmount *big.Int
}

// EscrowHandle locates a deployed escrow.
type EscrowHandle struct {
	Chain      swap.Chain
	Leg        swap.Leg
	Key        RequestKey
	Address    string
	LedgerID   *uint64
	OpenTx     TxRef
	Immutables swap.Immutables
}

// FinalizedReceipt is returned once a transaction reached the requested depth.
type FinalizedReceipt struct {
	TxRef         TxRef
	Block         uint64
	Time          time.Time
	Confirmations uint64

	// Escrow is the address of an escrow created by the transaction, if any.
	Escrow string
}

type EscrowState struct {
	Funded    bool
	Claimed   bool
	Cancelled bool
	Amount    *big.Int
	Hashlock  [32]byte
}

type Adapter interface {
	hashlock.Verifier

	Chain() swap.Chain

	Kind() Kind

	// OpenEscrow submits the escrow deployment and returns without waiting
	// for finality.
	OpenEscrow(ctx context.Context, params EscrowParams) (EscrowHandle, error)

	// Claim withdraws the escrow to its beneficiary by revealing secret.
	Claim(ctx context.Context, handle EscrowHandle, secret [32]byte) (TxResult, error)

	// Cancel returns the escrow to its funder after the cancellation stage.
	Cancel(ctx context.Context, handle EscrowHandle) (TxResult, error)

	// AwaitFinality blocks until the transaction has the given number of
	// confirmations, ctx is done or the adapter gives up with ErrTimeout.
	AwaitFinality(ctx context.Context, ref TxRef, confirmations uint64) (FinalizedReceipt, error)

	EscrowState(ctx context.Context, handle EscrowHandle) (EscrowState, error)

	// Reveals lists the claims of the escrow together with their preimages.
	Reveals(ctx context.Context, handle EscrowHandle) ([]swap.Reveal, error)

	// Head returns the latest block height, used by health checks.
	Head(ctx context.Context) (uint64, error)
}

// Registry resolves the adapter of a chain.
type Registry map[swap.Chain]Adapter

func (r Registry) Get(c swap.Chain) (Adapter, bool) {
	adapter, ok := r[c]
	return adapter, ok
}

// HandleOf rebuilds the handle of a stored escrow.
func HandleOf(e swap.Escrow) EscrowHandle {
	return EscrowHandle{
		Chain:      e.Chain,
		Leg:        e.Leg,
		Key:        NewRequestKey(e.OrderID, e.Leg, swap.ActionOpen),
		Address:    e.Handle,
		LedgerID:   e.LedgerID,
		OpenTx:     TxRef(e.OpenTx),
		Immutables: e.Immutables,
	}
}
