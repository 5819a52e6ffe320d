package movechain

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/catalogfi/xswap/pkg/swap"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
)

// claimIndex collects the claim events of the ledger by order id. Events are
// fetched from the last seen sequence number on.
type claimIndex struct {
	mu      *sync.Mutex
	next    uint64
	byOrder map[uint64][]swap.Reveal
}

func newClaimIndex() *claimIndex {
	return &claimIndex{mu: new(sync.Mutex), byOrder: map[uint64][]swap.Reveal{}}
}

func (idx *claimIndex) refresh(ctx context.Context, client Client, opts Options, logger *zap.Logger) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for {
		events, err := client.Events(ctx, opts.LedgerAddress, opts.ledgerResource(), "claim_events", idx.next, opts.EventPage)
		if err != nil {
			return err
		}
		for _, event := range events {
			idx.next++
			var claim claimEvent
			if err := json.Unmarshal(event.Data, &claim); err != nil {
				logger.Warn("skipping undecodable claim", zap.String("seq", event.SequenceNumber), zap.Error(err))
				continue
			}
			id, err := strconv.ParseUint(claim.OrderID, 10, 64)
			if err != nil {
				logger.Warn("skipping claim with bad order id", zap.String("id", claim.OrderID))
				continue
			}
			secret, err := hexutil.Decode(claim.Secret)
			if err != nil || len(secret) != 32 {
				logger.Warn("skipping claim with bad secret", zap.Uint64("order", id))
				continue
			}
			version, _ := strconv.ParseUint(event.Version, 10, 64)
			reveal := swap.Reveal{Block: version}
			copy(reveal.Secret[:], secret)
			idx.byOrder[id] = append(idx.byOrder[id], reveal)
		}
		if len(events) < opts.EventPage {
			return nil
		}
	}
}

func (idx *claimIndex) of(id uint64) []swap.Reveal {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return append([]swap.Reveal(nil), idx.byOrder[id]...)
}

// setTx records the transaction hash of a claim found by version.
func (idx *claimIndex) setTx(id, version uint64, hash string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for i, reveal := range idx.byOrder[id] {
		if reveal.Block == version {
			idx.byOrder[id][i].TxRef = hash
		}
	}
}
