package ethchain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/catalogfi/xswap/pkg/chain"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type indexEntry struct {
	id       uint64
	kind     common.Hash
	hashlock [32]byte
	tx       common.Hash
	block    uint64
	escrow   common.Address
	src      *srcCreated
}

// ledgerIndex numbers the escrow creations of the factory in log order. It
// scans new blocks incrementally.
type ledgerIndex struct {
	mu      *sync.Mutex
	next    uint64
	entries []indexEntry
}

func newLedgerIndex(from uint64) *ledgerIndex {
	return &ledgerIndex{mu: new(sync.Mutex), next: from}
}

func (idx *ledgerIndex) refresh(ctx context.Context, client Client, factory common.Address, step uint64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	head, err := client.BlockNumber(ctx)
	if err != nil {
		return chain.RPC("head", err)
	}
	for idx.next <= head {
		end := idx.next + step - 1
		if end > head {
			end = head
		}
		logs, err := client.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(idx.next),
			ToBlock:   new(big.Int).SetUint64(end),
			Addresses: []common.Address{factory},
			Topics:    [][]common.Hash{{srcCreatedID, dstCreatedID}},
		})
		if err != nil {
			return chain.RPC("logs", err)
		}
		for _, log := range logs {
			if log.Removed {
				continue
			}
			entry, err := decodeCreation(log)
			if err != nil {
				return fmt.Errorf("decode creation in %s: %w", log.TxHash.Hex(), err)
			}
			entry.id = uint64(len(idx.entries))
			idx.entries = append(idx.entries, entry)
		}
		idx.next = end + 1
	}
	return nil
}

func (idx *ledgerIndex) count() uint64 {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return uint64(len(idx.entries))
}

func (idx *ledgerIndex) at(id uint64) (indexEntry, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if id >= uint64(len(idx.entries)) {
		return indexEntry{}, false
	}
	return idx.entries[id], true
}

// byHashlock returns the latest creation of the given kind with hashlock.
func (idx *ledgerIndex) byHashlock(hashlock [32]byte, kind common.Hash) (indexEntry, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for i := len(idx.entries) - 1; i >= 0; i-- {
		if idx.entries[i].kind == kind && idx.entries[i].hashlock == hashlock {
			return idx.entries[i], true
		}
	}
	return indexEntry{}, false
}

func decodeCreation(log types.Log) (indexEntry, error) {
	if len(log.Topics) == 0 {
		return indexEntry{}, fmt.Errorf("missing topic")
	}
	entry := indexEntry{kind: log.Topics[0], tx: log.TxHash, block: log.BlockNumber}
	switch log.Topics[0] {
	case srcCreatedID:
		values, err := factoryABI.Unpack("SrcEscrowCreated", log.Data)
		if err != nil {
			return indexEntry{}, err
		}
		created := &srcCreated{
			Immutables: *abi.ConvertType(values[0], new(immutables)).(*immutables),
			Complement: *abi.ConvertType(values[1], new(complement)).(*complement),
		}
		entry.src = created
		entry.hashlock = created.Immutables.Hashlock
	case dstCreatedID:
		values, err := factoryABI.Unpack("DstEscrowCreated", log.Data)
		if err != nil {
			return indexEntry{}, err
		}
		entry.escrow = values[0].(common.Address)
		entry.hashlock = values[1].([32]byte)
	default:
		return indexEntry{}, fmt.Errorf("unexpected topic %s", log.Topics[0].Hex())
	}
	return entry, nil
}
