package swap

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"
)

var (
	ErrInvalidAmount   = errors.New("amount must be positive")
	ErrMissingAccount  = errors.New("missing account")
	ErrSameChain       = errors.New("source and destination chain must differ")
	ErrMissingHashlock = errors.New("missing hashlock")
)

// Accounts holds one party's address on each chain.
type Accounts struct {
	Src string `json:"src"`
	Dst string `json:"dst"`
}

func (a Accounts) On(leg Leg) string {
	if leg == LegSrc {
		return a.Src
	}
	return a.Dst
}

// Immutables mirror the parameter tuple every escrow is deployed with.
type Immutables struct {
	OrderHash     [32]byte  `json:"orderHash"`
	Hashlock      [32]byte  `json:"hashlock"`
	Maker         string    `json:"maker"`
	Taker         string    `json:"taker"`
	Token         string    `json:"token"`
	Amount        *big.Int  `json:"amount"`
	SafetyDeposit *big.Int  `json:"safetyDeposit"`
	Timelocks     Timelocks `json:"timelocks"`
	DeployedAt    uint32    `json:"deployedAt"`
}

// PackedTimelocks returns the timelocks word including the deployment timestamp.
func (im Immutables) PackedTimelocks() *big.Int {
	return im.Timelocks.Pack(im.DeployedAt)
}

// Escrow is the local view of one leg's escrow.
type Escrow struct {
	OrderID    string     `json:"orderId"`
	Leg        Leg        `json:"leg"`
	Chain      Chain      `json:"chain"`
	Handle     string     `json:"handle"`
	LedgerID   *uint64    `json:"ledgerId,omitempty"`
	Degraded   bool       `json:"degraded"`
	Immutables Immutables `json:"immutables"`

	// Late is set when the first cancel attempt came after the leg's last
	// private cancellation moment.
	Late bool `json:"late,omitempty"`

	Funded    bool `json:"funded"`
	Claimed   bool `json:"claimed"`
	Cancelled bool `json:"cancelled"`

	OpenTx   string `json:"openTx,omitempty"`
	ClaimTx  string `json:"claimTx,omitempty"`
	CancelTx string `json:"cancelTx,omitempty"`
}

// DeployedAt returns the deployment time recorded in the immutables.
func (e Escrow) DeployedAt() time.Time {
	return time.Unix(int64(e.Immutables.DeployedAt), 0)
}

// Deadline returns the absolute time of a stage for this escrow.
func (e Escrow) Deadline(stage Stage) time.Time {
	return e.Immutables.Timelocks.Deadline(stage, e.DeployedAt())
}

// Live reports whether the escrow may still hold funds.
func (e Escrow) Live() bool {
	return e.Funded && !e.Claimed && !e.Cancelled
}

type Order struct {
	OrderID  string   `json:"orderId"`
	Maker    Accounts `json:"maker"`
	Resolver Accounts `json:"resolver"`

	SrcChain      Chain    `json:"srcChain"`
	DstChain      Chain    `json:"dstChain"`
	SrcAsset      string   `json:"srcAsset"`
	DstAsset      string   `json:"dstAsset"`
	SrcAmount     *big.Int `json:"srcAmount"`
	DstAmount     *big.Int `json:"dstAmount"`
	SafetyDeposit *big.Int `json:"safetyDeposit"`

	Hashlock  [32]byte  `json:"hashlock"`
	Secret    *[32]byte `json:"-"`
	Timelocks Timelocks `json:"timelocks"`

	Status     Status     `json:"status"`
	ErrorClass ErrorClass `json:"errorClass,omitempty"`
	Error      string     `json:"error,omitempty"`
	LastTxRef  string     `json:"lastTxRef,omitempty"`

	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks the order before any funds move.
func (o Order) Validate() error {
	if o.SrcChain == "" || o.DstChain == "" {
		return fmt.Errorf("missing chain")
	}
	if o.SrcChain == o.DstChain {
		return ErrSameChain
	}
	for name, addr := range map[string]string{
		"maker.src": o.Maker.Src, "maker.dst": o.Maker.Dst,
		"resolver.src": o.Resolver.Src, "resolver.dst": o.Resolver.Dst,
	} {
		if addr == "" {
			return fmt.Errorf("%w: %s", ErrMissingAccount, name)
		}
	}
	if o.SrcAmount == nil || o.SrcAmount.Sign() <= 0 {
		return fmt.Errorf("%w: src", ErrInvalidAmount)
	}
	if o.DstAmount == nil || o.DstAmount.Sign() <= 0 {
		return fmt.Errorf("%w: dst", ErrInvalidAmount)
	}
	if o.SafetyDeposit != nil && o.SafetyDeposit.Sign() < 0 {
		return fmt.Errorf("safety deposit must not be negative")
	}
	if o.Hashlock == ([32]byte{}) {
		return ErrMissingHashlock
	}
	return o.Timelocks.Validate()
}

func (o Order) Chain(leg Leg) Chain {
	if leg == LegSrc {
		return o.SrcChain
	}
	return o.DstChain
}

func (o Order) Asset(leg Leg) string {
	if leg == LegSrc {
		return o.SrcAsset
	}
	return o.DstAsset
}

func (o Order) Amount(leg Leg) *big.Int {
	if leg == LegSrc {
		return o.SrcAmount
	}
	return o.DstAmount
}

// OrderHash binds the escrows of both legs to the order.
func (o Order) OrderHash() [32]byte {
	h := sha256.New()
	h.Write([]byte(o.OrderID))
	h.Write(o.Hashlock[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Immutables builds the escrow parameters for a leg. The maker and taker
// orientation is the same on both legs.
func (o Order) Immutables(leg Leg) Immutables {
	deposit := o.SafetyDeposit
	if deposit == nil {
		deposit = big.NewInt(0)
	}
	return Immutables{
		OrderHash:     o.OrderHash(),
		Hashlock:      o.Hashlock,
		Maker:         o.Maker.On(leg),
		Taker:         o.Resolver.On(leg),
		Token:         o.Asset(leg),
		Amount:        new(big.Int).Set(o.Amount(leg)),
		SafetyDeposit: new(big.Int).Set(deposit),
		Timelocks:     o.Timelocks,
	}
}

func (o Order) HashlockHex() string {
	return hex.EncodeToString(o.Hashlock[:])
}
