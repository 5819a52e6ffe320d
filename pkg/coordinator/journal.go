package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/catalogfi/xswap/pkg/swap"
	"github.com/redis/go-redis/v9"
)

// Journal remembers which chain actions were submitted for an order so that a
// restarted coordinator probes the chain instead of resubmitting.
type Journal interface {
	// StoreAction records that action was submitted on a leg of the order.
	StoreAction(ctx context.Context, action swap.Action, leg swap.Leg, orderID string) error

	// CheckAction reports whether action was recorded before.
	CheckAction(ctx context.Context, action swap.Action, leg swap.Leg, orderID string) (bool, error)

	// ClearAction forgets a submission that never reached the ledger.
	ClearAction(ctx context.Context, action swap.Action, leg swap.Leg, orderID string) error

	Ping(ctx context.Context) error
}

type redisJournal struct {
	client *redis.Client
}

func NewRedisJournal(redisURL string) (Journal, error) {
	parsedURL, err := url.Parse(redisURL)
	if err != nil {
		return nil, err
	}
	redisPassword, _ := parsedURL.User.Password()
	client := redis.NewClient(&redis.Options{
		Addr:     parsedURL.Host,
		Password: redisPassword,
		DB:       0,
	})
	return redisJournal{client: client}, nil
}

func (rj redisJournal) StoreAction(ctx context.Context, action swap.Action, leg swap.Leg, orderID string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return rj.client.Set(ctx, actionKey(action, leg, orderID), true, 0).Err()
}

func (rj redisJournal) CheckAction(ctx context.Context, action swap.Action, leg swap.Leg, orderID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	ok, err := rj.client.Get(ctx, actionKey(action, leg, orderID)).Bool()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	return ok, err
}

func (rj redisJournal) ClearAction(ctx context.Context, action swap.Action, leg swap.Leg, orderID string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return rj.client.Del(ctx, actionKey(action, leg, orderID)).Err()
}

func (rj redisJournal) Ping(ctx context.Context) error {
	return rj.client.Ping(ctx).Err()
}

type memoryJournal struct {
	mu      *sync.RWMutex
	actions map[string]struct{}
}

func NewMemoryJournal() Journal {
	return &memoryJournal{
		mu:      new(sync.RWMutex),
		actions: map[string]struct{}{},
	}
}

func (mj *memoryJournal) StoreAction(ctx context.Context, action swap.Action, leg swap.Leg, orderID string) error {
	mj.mu.Lock()
	defer mj.mu.Unlock()
	mj.actions[actionKey(action, leg, orderID)] = struct{}{}
	return nil
}

func (mj *memoryJournal) CheckAction(ctx context.Context, action swap.Action, leg swap.Leg, orderID string) (bool, error) {
	mj.mu.RLock()
	defer mj.mu.RUnlock()
	_, ok := mj.actions[actionKey(action, leg, orderID)]
	return ok, nil
}

func (mj *memoryJournal) ClearAction(ctx context.Context, action swap.Action, leg swap.Leg, orderID string) error {
	mj.mu.Lock()
	defer mj.mu.Unlock()
	delete(mj.actions, actionKey(action, leg, orderID))
	return nil
}

func (mj *memoryJournal) Ping(ctx context.Context) error {
	return nil
}

func actionKey(action swap.Action, leg swap.Leg, orderID string) string {
	return fmt.Sprintf("%v-%v-%v", action, leg, orderID)
}
