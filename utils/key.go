package utils

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/catalogfi/xswap/pkg/chain"
	"github.com/catalogfi/xswap/pkg/chain/movechain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
)

// Coin indexes of the derivation path per ledger kind.
const (
	CoinEVM  uint32 = 60
	CoinMove uint32 = 637
)

type Key struct {
	inner *bip32.Key
}

func (key *Key) ECDSA() (*ecdsa.PrivateKey, error) {
	return crypto.ToECDSA(key.inner.Key)
}

// Ed25519 uses the child private key as the ed25519 seed.
func (key *Key) Ed25519() ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(key.inner.Key)
}

func (key *Key) EvmAddress() (common.Address, error) {
	ecdsaKey, err := key.ECDSA()
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(ecdsaKey.PublicKey), nil
}

func (key *Key) Address(kind chain.Kind) (string, error) {
	switch kind {
	case chain.KindEVM, chain.KindSim:
		addr, err := key.EvmAddress()
		if err != nil {
			return "", err
		}
		return addr.Hex(), nil
	case chain.KindMove:
		return movechain.AddressOf(key.Ed25519().Public().(ed25519.PublicKey)), nil
	default:
		return "", fmt.Errorf("unsupported chain kind %v", kind)
	}
}

func LoadKey(seed []byte, kind chain.Kind, user, selector uint32) (*Key, error) {
	masterKey, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, err
	}

	var index uint32
	switch kind {
	case chain.KindEVM, chain.KindSim:
		index = CoinEVM
	case chain.KindMove:
		index = CoinMove
	default:
		return nil, fmt.Errorf("invalid chain kind: %s", kind)
	}

	for _, idx := range []uint32{index, user, selector} {
		masterKey, err = masterKey.NewChildKey(idx)
		if err != nil {
			return nil, fmt.Errorf("failed to create child key: %v", err)
		}
	}
	return &Key{masterKey}, nil
}

type Keys struct {
	entropy []byte
	mu      *sync.Mutex
	m       map[[32]byte]*Key
}

func NewKeys(entropy []byte) Keys {
	return Keys{
		entropy: entropy,
		mu:      new(sync.Mutex),
		m:       map[[32]byte]*Key{},
	}
}

func LoadKeys(mnemonic string) (Keys, error) {
	entropy, err := bip39.EntropyFromMnemonic(mnemonic)
	if err != nil {
		return Keys{}, err
	}
	return NewKeys(entropy), nil
}

func (keys Keys) GetKey(kind chain.Kind, user, selector uint32) (*Key, error) {
	digest := append(append([]byte{}, keys.entropy...), []byte(fmt.Sprintf("%v_%v_%v", kind, user, selector))...)
	mapKey := sha256.Sum256(digest)

	keys.mu.Lock()
	defer keys.mu.Unlock()
	value, ok := keys.m[mapKey]
	if !ok {
		var err error
		value, err = LoadKey(keys.entropy, kind, user, selector)
		if err != nil {
			return nil, err
		}
		keys.m[mapKey] = value
	}
	return value, nil
}
