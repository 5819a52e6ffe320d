package methods

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/catalogfi/xswap/daemon/rpc/handlers"
	"github.com/catalogfi/xswap/daemon/types"
	"github.com/gin-gonic/gin/binding"
)

type Method interface {
	Name() string
	Query(ctx context.Context, cfg *types.CoreConfig, caller types.Caller, params json.RawMessage) (json.RawMessage, error)
}

// All returns every method the daemon serves.
func All() []Method {
	return []Method{
		CreateOrder(),
		GetOrder(),
		ListOrders(),
		CancelOrder(),
		GetSecret(),
		Authorize(),
		Status(),
	}
}

func decode(params json.RawMessage, req interface{}) error {
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	if err := json.Unmarshal(params, req); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidParams, err)
	}
	if err := binding.Validator.ValidateStruct(req); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidParams, err)
	}
	return nil
}

type createOrder struct{}

func CreateOrder() Method {
	return &createOrder{}
}

func (a *createOrder) Name() string {
	return "createOrder"
}

func (a *createOrder) Query(ctx context.Context, cfg *types.CoreConfig, caller types.Caller, params json.RawMessage) (json.RawMessage, error) {
	var req types.RequestCreate
	if err := decode(params, &req); err != nil {
		return nil, err
	}

	resp, err := handlers.Create(ctx, *cfg, caller, req)
	if err != nil {
		return nil, err
	}

	return json.Marshal(resp)
}

type getOrder struct{}

func GetOrder() Method {
	return &getOrder{}
}

func (a *getOrder) Name() string {
	return "getOrder"
}

func (a *getOrder) Query(ctx context.Context, cfg *types.CoreConfig, caller types.Caller, params json.RawMessage) (json.RawMessage, error) {
	var req types.RequestOrder
	if err := decode(params, &req); err != nil {
		return nil, err
	}

	view, err := handlers.Get(ctx, *cfg, caller, req)
	if err != nil {
		return nil, err
	}

	return json.Marshal(view)
}

type listOrders struct{}

func ListOrders() Method {
	return &listOrders{}
}

func (a *listOrders) Name() string {
	return "listOrders"
}

func (a *listOrders) Query(ctx context.Context, cfg *types.CoreConfig, caller types.Caller, params json.RawMessage) (json.RawMessage, error) {
	var req types.RequestListOrders
	if err := decode(params, &req); err != nil {
		return nil, err
	}

	orders, err := handlers.List(ctx, *cfg, caller, req)
	if err != nil {
		return nil, err
	}

	return json.Marshal(orders)
}

type cancelOrder struct{}

func CancelOrder() Method {
	return &cancelOrder{}
}

func (a *cancelOrder) Name() string {
	return "cancelOrder"
}

func (a *cancelOrder) Query(ctx context.Context, cfg *types.CoreConfig, caller types.Caller, params json.RawMessage) (json.RawMessage, error) {
	var req types.RequestOrder
	if err := decode(params, &req); err != nil {
		return nil, err
	}

	if err := handlers.Cancel(ctx, *cfg, caller, req); err != nil {
		return nil, err
	}

	return json.Marshal("cancellation started")
}

type getSecret struct{}

func GetSecret() Method {
	return &getSecret{}
}

func (a *getSecret) Name() string {
	return "getSecret"
}

func (a *getSecret) Query(ctx context.Context, cfg *types.CoreConfig, caller types.Caller, params json.RawMessage) (json.RawMessage, error) {
	var req types.RequestOrder
	if err := decode(params, &req); err != nil {
		return nil, err
	}

	secret, err := handlers.Secret(ctx, *cfg, caller, req)
	if err != nil {
		return nil, err
	}

	return json.Marshal(secret)
}

type authorize struct{}

func Authorize() Method {
	return &authorize{}
}

func (a *authorize) Name() string {
	return "authorize"
}

func (a *authorize) Query(ctx context.Context, cfg *types.CoreConfig, caller types.Caller, params json.RawMessage) (json.RawMessage, error) {
	var req types.RequestAuthorize
	if err := decode(params, &req); err != nil {
		return nil, err
	}

	if err := handlers.Authorize(ctx, *cfg, caller, req); err != nil {
		return nil, err
	}

	return json.Marshal(fmt.Sprintf("%s authorized on %s", req.Resolver, req.Chain))
}

type status struct{}

func Status() Method {
	return &status{}
}

func (a *status) Name() string {
	return "status"
}

func (a *status) Query(ctx context.Context, cfg *types.CoreConfig, caller types.Caller, params json.RawMessage) (json.RawMessage, error) {
	if !caller.Operator {
		return nil, types.ErrOperatorOnly
	}

	resp, err := handlers.Status(ctx, *cfg)
	if err != nil {
		return nil, err
	}

	return json.Marshal(resp)
}
