package swap

import (
	"errors"
	"fmt"
	"math/big"
	"time"
)

// Stage indexes a 32-bit slot of the packed timelocks word. The layout is
// shared with the deployed escrow contracts: seven stage offsets in the low
// 224 bits and the deployment timestamp in the high 32 bits.
type Stage uint8

const (
	SrcWithdrawal Stage = iota
	SrcPublicWithdrawal
	SrcCancellation
	SrcPublicCancellation
	DstWithdrawal
	DstPublicWithdrawal
	DstCancellation
)

const deployedAtOffset = 224

var (
	ErrTimelockOrder = errors.New("timelock stages out of order")
	ErrDstAfterSrc   = errors.New("destination cancellation must precede source cancellation")
)

// Timelocks are stage offsets in seconds from escrow deployment.
type Timelocks struct {
	SrcWithdrawal         uint32 `json:"srcWithdrawal"`
	SrcPublicWithdrawal   uint32 `json:"srcPublicWithdrawal"`
	SrcCancellation       uint32 `json:"srcCancellation"`
	SrcPublicCancellation uint32 `json:"srcPublicCancellation"`
	DstWithdrawal         uint32 `json:"dstWithdrawal"`
	DstPublicWithdrawal   uint32 `json:"dstPublicWithdrawal"`
	DstCancellation       uint32 `json:"dstCancellation"`
}

func DefaultTimelocks() Timelocks {
	return Timelocks{
		SrcWithdrawal:         0,
		SrcPublicWithdrawal:   43200,
		SrcCancellation:       86400,
		SrcPublicCancellation: 90000,
		DstWithdrawal:         3600,
		DstPublicWithdrawal:   7200,
		DstCancellation:       10800,
	}
}

func (t Timelocks) Validate() error {
	if t.SrcWithdrawal > t.SrcPublicWithdrawal ||
		t.SrcPublicWithdrawal > t.SrcCancellation ||
		t.SrcCancellation > t.SrcPublicCancellation {
		return fmt.Errorf("%w: src %d/%d/%d/%d", ErrTimelockOrder,
			t.SrcWithdrawal, t.SrcPublicWithdrawal, t.SrcCancellation, t.SrcPublicCancellation)
	}
	if t.DstWithdrawal > t.DstPublicWithdrawal || t.DstPublicWithdrawal > t.DstCancellation {
		return fmt.Errorf("%w: dst %d/%d/%d", ErrTimelockOrder,
			t.DstWithdrawal, t.DstPublicWithdrawal, t.DstCancellation)
	}
	if t.DstCancellation == 0 || t.SrcCancellation == 0 {
		return fmt.Errorf("%w: cancellation stages must be non-zero", ErrTimelockOrder)
	}
	if t.DstCancellation >= t.SrcCancellation {
		return fmt.Errorf("%w: dst=%ds src=%ds", ErrDstAfterSrc, t.DstCancellation, t.SrcCancellation)
	}
	return nil
}

func (t Timelocks) Get(stage Stage) time.Duration {
	var secs uint32
	switch stage {
	case SrcWithdrawal:
		secs = t.SrcWithdrawal
	case SrcPublicWithdrawal:
		secs = t.SrcPublicWithdrawal
	case SrcCancellation:
		secs = t.SrcCancellation
	case SrcPublicCancellation:
		secs = t.SrcPublicCancellation
	case DstWithdrawal:
		secs = t.DstWithdrawal
	case DstPublicWithdrawal:
		secs = t.DstPublicWithdrawal
	case DstCancellation:
		secs = t.DstCancellation
	}
	return time.Duration(secs) * time.Second
}

// Withdrawal returns the stage at which the leg's escrow accepts a claim.
func Withdrawal(leg Leg) Stage {
	if leg == LegSrc {
		return SrcWithdrawal
	}
	return DstWithdrawal
}

// Cancellation returns the stage at which the leg's escrow accepts a cancel.
func Cancellation(leg Leg) Stage {
	if leg == LegSrc {
		return SrcCancellation
	}
	return DstCancellation
}

// Deadline returns the absolute time of a stage for an escrow deployed at deployedAt.
func (t Timelocks) Deadline(stage Stage, deployedAt time.Time) time.Time {
	return deployedAt.Add(t.Get(stage))
}

// Pack encodes the timelocks into the 256-bit word stored in the escrow immutables.
func (t Timelocks) Pack(deployedAt uint32) *big.Int {
	word := new(big.Int)
	stages := []uint32{
		t.SrcWithdrawal, t.SrcPublicWithdrawal, t.SrcCancellation, t.SrcPublicCancellation,
		t.DstWithdrawal, t.DstPublicWithdrawal, t.DstCancellation,
	}
	for i, secs := range stages {
		slot := new(big.Int).SetUint64(uint64(secs))
		word.Or(word, slot.Lsh(slot, uint(i*32)))
	}
	at := new(big.Int).SetUint64(uint64(deployedAt))
	return word.Or(word, at.Lsh(at, deployedAtOffset))
}

// UnpackTimelocks is the inverse of Pack.
func UnpackTimelocks(word *big.Int) (Timelocks, uint32) {
	mask := new(big.Int).SetUint64(0xffffffff)
	slot := func(i uint) uint32 {
		v := new(big.Int).Rsh(word, i*32)
		return uint32(v.And(v, mask).Uint64())
	}
	return Timelocks{
		SrcWithdrawal:         slot(0),
		SrcPublicWithdrawal:   slot(1),
		SrcCancellation:       slot(2),
		SrcPublicCancellation: slot(3),
		DstWithdrawal:         slot(4),
		DstPublicWithdrawal:   slot(5),
		DstCancellation:       slot(6),
	}, slot(deployedAtOffset / 32)
}
