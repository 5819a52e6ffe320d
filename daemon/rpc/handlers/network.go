package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/catalogfi/xswap/daemon/types"
	"github.com/catalogfi/xswap/pkg/swap"
	"go.uber.org/zap"
)

const headTimeout = 5 * time.Second

// Status reports the head of every configured chain, the number of orders
// still in flight and whether the action journal answers.
func Status(ctx context.Context, cfg types.CoreConfig) (types.ResponseStatus, error) {
	resp := types.ResponseStatus{Chains: map[swap.Chain]types.ChainStatus{}, Journal: "ok"}
	for name, adapter := range cfg.Coordinator.Chains() {
		status := types.ChainStatus{Kind: string(adapter.Kind())}
		headCtx, cancel := context.WithTimeout(ctx, headTimeout)
		head, err := adapter.Head(headCtx)
		cancel()
		if err != nil {
			status.Error = err.Error()
		} else {
			status.Head = head
		}
		resp.Chains[name] = status
	}

	active, err := cfg.Store.NonTerminal(ctx)
	if err != nil {
		return types.ResponseStatus{}, err
	}
	resp.Active = len(active)

	if cfg.Journal != nil {
		if err := cfg.Journal.Ping(ctx); err != nil {
			resp.Journal = err.Error()
		}
	}
	return resp, nil
}

// Authorize puts resolver on the allowlist of a chain that restricts
// resolvers. The daemon key must own the allowlist.
func Authorize(ctx context.Context, cfg types.CoreConfig, caller types.Caller, params types.RequestAuthorize) error {
	if !caller.Operator {
		return types.ErrOperatorOnly
	}
	g, ok := cfg.Gates[params.Chain]
	if !ok {
		return fmt.Errorf("%w: %s does not restrict resolvers", types.ErrInvalidParams, params.Chain)
	}
	cfg.Logger.Info("authorize requested", zap.String("chain", string(params.Chain)), zap.String("resolver", params.Resolver))
	return g.Ensure(ctx, params.Resolver)
}
