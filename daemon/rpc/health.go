package jsonrpc

import (
	"context"
	"net/http"
	"time"

	"github.com/alexliesenfeld/health"
	"github.com/catalogfi/xswap/pkg/chain"
	"github.com/catalogfi/xswap/pkg/store"
	"go.uber.org/zap"
)

func (r *rpc) healthHandler() http.Handler {
	opts := []health.CheckerOption{
		health.WithCacheDuration(1 * time.Second),
		health.WithTimeout(10 * time.Second),
		health.WithPeriodicCheck(60*time.Second, 3*time.Second, health.Check{
			Name: "database",
			Check: func(ctx context.Context) error {
				_, err := r.coreConfig.Store.CountOrders(ctx, store.Filter{Limit: 1})
				return err
			},
		}),
		health.WithStatusListener(func(ctx context.Context, state health.CheckerState) {
			r.logger.Info("health status changed", zap.String("status", string(state.Status)))
		}),
	}

	for name, adapter := range r.coreConfig.Coordinator.Chains() {
		opts = append(opts, health.WithPeriodicCheck(60*time.Second, 3*time.Second, headCheck(string(name), adapter)))
	}
	if r.coreConfig.Journal != nil {
		opts = append(opts, health.WithPeriodicCheck(60*time.Second, 3*time.Second, health.Check{
			Name:  "journal",
			Check: r.coreConfig.Journal.Ping,
		}))
	}

	return health.NewHandler(health.NewChecker(opts...))
}

func headCheck(name string, adapter chain.Adapter) health.Check {
	return health.Check{
		Name: name + " rpc",
		Check: func(ctx context.Context) error {
			_, err := adapter.Head(ctx)
			return err
		},
	}
}
