package hashlock

import (
	cryptoRand "crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/catalogfi/xswap/pkg/swap"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrHashMismatch = errors.New("hash function mismatch between chains")

// Func names the preimage check an escrow performs on claim.
type Func string

const (
	SHA256    Func = "sha256"
	Keccak256 Func = "keccak256"
)

func ParseFunc(s string) (Func, error) {
	switch Func(s) {
	case "", SHA256:
		return SHA256, nil
	case Keccak256:
		return Keccak256, nil
	default:
		return "", fmt.Errorf("unknown hash function %q", s)
	}
}

func (f Func) Sum(secret [32]byte) [32]byte {
	switch f {
	case Keccak256:
		return crypto.Keccak256Hash(secret[:])
	default:
		return sha256.Sum256(secret[:])
	}
}

// Verifier is implemented by every chain adapter and reports the hash its
// escrows check a claimed preimage against.
type Verifier interface {
	HashFunc() Func
}

// GenerateSecret returns 32 bytes from the system CSPRNG.
func GenerateSecret() ([32]byte, error) {
	var secret [32]byte
	if _, err := cryptoRand.Read(secret[:]); err != nil {
		return secret, err
	}
	return secret, nil
}

// Hash is the single hash agreed for both legs.
func Hash(secret [32]byte) [32]byte {
	return SHA256.Sum(secret)
}

func Verify(secret, hashlock [32]byte) bool {
	sum := Hash(secret)
	return subtle.ConstantTimeCompare(sum[:], hashlock[:]) == 1
}

// CheckConsistency fails unless every verifier accepts the same preimage for
// the hashlock produced by Hash.
func CheckConsistency(verifiers ...Verifier) error {
	probe, err := GenerateSecret()
	if err != nil {
		return err
	}
	want := Hash(probe)
	for _, v := range verifiers {
		got := v.HashFunc().Sum(probe)
		if subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
			return fmt.Errorf("%w: escrow checks %s, orders are locked with %s", ErrHashMismatch, v.HashFunc(), SHA256)
		}
	}
	return nil
}

// ObserveReveal returns the first revealed preimage of hashlock. Reveals that
// do not hash to hashlock are skipped.
func ObserveReveal(reveals []swap.Reveal, hashlock [32]byte) ([32]byte, swap.Reveal, bool) {
	for _, reveal := range reveals {
		if Verify(reveal.Secret, hashlock) {
			return reveal.Secret, reveal, true
		}
	}
	return [32]byte{}, swap.Reveal{}, false
}
