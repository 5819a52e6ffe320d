package handlers

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/catalogfi/xswap/daemon/types"
	"github.com/catalogfi/xswap/pkg/coordinator"
	"github.com/catalogfi/xswap/pkg/swap"
	"go.uber.org/zap"
)

func Create(ctx context.Context, cfg types.CoreConfig, caller types.Caller, params types.RequestCreate) (types.ResponseCreate, error) {
	req, err := params.ToCreateRequest()
	if err != nil {
		return types.ResponseCreate{}, fmt.Errorf("%w: %v", types.ErrInvalidParams, err)
	}
	if !caller.Owns(swap.Order{Maker: req.Maker}) {
		return types.ResponseCreate{}, types.ErrForbidden
	}

	order, err := cfg.Coordinator.Create(ctx, req)
	if err != nil {
		return types.ResponseCreate{}, err
	}
	return types.ResponseCreate{
		OrderID:   order.OrderID,
		Hashlock:  order.HashlockHex(),
		Status:    order.Status,
		ExpiresAt: order.ExpiresAt,
	}, nil
}

func Get(ctx context.Context, cfg types.CoreConfig, caller types.Caller, params types.RequestOrder) (coordinator.View, error) {
	view, err := cfg.Coordinator.Get(ctx, params.OrderID)
	if err != nil {
		return coordinator.View{}, err
	}
	if !caller.Owns(view.Order) {
		return coordinator.View{}, types.ErrForbidden
	}
	return view, nil
}

// List returns one page of orders. Makers only ever see their own.
func List(ctx context.Context, cfg types.CoreConfig, caller types.Caller, params types.RequestListOrders) (types.ResponseListOrders, error) {
	if !caller.Operator {
		params.Maker = caller.Address
	}
	filter, err := params.Filter()
	if err != nil {
		return types.ResponseListOrders{}, fmt.Errorf("%w: %v", types.ErrInvalidParams, err)
	}

	orders, total, err := cfg.Coordinator.List(ctx, filter)
	if err != nil {
		return types.ResponseListOrders{}, err
	}
	return types.ResponseListOrders{
		Orders:  orders,
		Total:   total,
		Page:    filter.Offset/filter.Limit + 1,
		PerPage: filter.Limit,
	}, nil
}

func Cancel(ctx context.Context, cfg types.CoreConfig, caller types.Caller, params types.RequestOrder) error {
	if _, err := Get(ctx, cfg, caller, params); err != nil {
		return err
	}
	cfg.Logger.Info("cancel requested",
		zap.String("order", params.OrderID),
		zap.Bool("operator", caller.Operator))
	return cfg.Coordinator.Cancel(ctx, params.OrderID)
}

func Secret(ctx context.Context, cfg types.CoreConfig, caller types.Caller, params types.RequestOrder) (types.ResponseSecret, error) {
	if _, err := Get(ctx, cfg, caller, params); err != nil {
		return types.ResponseSecret{}, err
	}
	secret, err := cfg.Coordinator.Secret(ctx, params.OrderID)
	if err != nil {
		return types.ResponseSecret{}, err
	}
	return types.ResponseSecret{OrderID: params.OrderID, Secret: hex.EncodeToString(secret[:])}, nil
}
