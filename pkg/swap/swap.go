package swap

import "fmt"

type Action string

var (
	ActionOpen   Action = "open"
	ActionClaim  Action = "claim"
	ActionCancel Action = "cancel"
)

// Chain is the configured name of a ledger, e.g. "ethereum_sepolia".
type Chain string

// Leg identifies one side of an order.
type Leg uint8

const (
	LegSrc Leg = iota + 1
	LegDst
)

func (leg Leg) String() string {
	switch leg {
	case LegSrc:
		return "src"
	case LegDst:
		return "dst"
	default:
		return fmt.Sprintf("leg(%d)", uint8(leg))
	}
}

// Other returns the opposite leg.
func (leg Leg) Other() Leg {
	if leg == LegSrc {
		return LegDst
	}
	return LegSrc
}

// Legs in the order they are funded.
var Legs = []Leg{LegSrc, LegDst}

// ErrorClass is reported alongside every terminal state.
type ErrorClass string

const (
	ClassNone         ErrorClass = ""
	ClassTransient    ErrorClass = "transient"
	ClassRejected     ErrorClass = "rejected"
	ClassUnauthorized ErrorClass = "unauthorized"
	ClassDeadline     ErrorClass = "deadline"
	ClassHashMismatch ErrorClass = "hash_mismatch"
	ClassOperator     ErrorClass = "operator"
)

// Reveal is a claim observed on chain that carries a preimage.
type Reveal struct {
	TxRef  string
	Block  uint64
	Secret [32]byte
}
