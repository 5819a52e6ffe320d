package chain

import (
	"errors"
	"fmt"
	"strings"
)

// Error classes reported by adapters.
var (
	ErrRPC               = errors.New("rpc failure")
	ErrRejected          = errors.New("rejected by contract")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrTimeout           = errors.New("finality timeout")
	ErrUnauthorized      = errors.New("unauthorized caller")
	ErrNotFound          = errors.New("escrow not found")
)

// Error carries the failing operation, its class and the underlying cause.
type Error struct {
	Op    string
	Class error
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Class)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Class, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Class}
	}
	return []error{e.Class, e.Err}
}

func newError(class error, op string, err error) error {
	return &Error{Op: op, Class: class, Err: err}
}

func RPC(op string, err error) error { return newError(ErrRPC, op, err) }

func Rejected(op string, err error) error { return newError(ErrRejected, op, err) }

func InsufficientFunds(op string, err error) error { return newError(ErrInsufficientFunds, op, err) }

func Timeout(op string, err error) error { return newError(ErrTimeout, op, err) }

func Unauthorized(op string, err error) error { return newError(ErrUnauthorized, op, err) }

// IsRetryable reports whether err is a transient infrastructure failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRPC) || errors.Is(err, ErrTimeout)
}

// Classify maps a raw node error to a class using the messages returned by
// common node implementations. Unknown errors are treated as transient.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return err
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"),
		strings.Contains(msg, "insufficient balance"),
		strings.Contains(msg, "einsufficient_balance"):
		return InsufficientFunds(op, err)
	case strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "enot_authorized"),
		strings.Contains(msg, "not owner"):
		return Unauthorized(op, err)
	case strings.Contains(msg, "execution reverted"),
		strings.Contains(msg, "move_abort"),
		strings.Contains(msg, "move abort"):
		return Rejected(op, err)
	default:
		return RPC(op, err)
	}
}
