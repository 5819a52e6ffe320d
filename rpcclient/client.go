package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	jsonrpc "github.com/catalogfi/xswap/daemon/rpc"
	"github.com/catalogfi/xswap/daemon/types"
	"github.com/catalogfi/xswap/pkg/coordinator"
)

// RPCError is a JSON-RPC error returned by the daemon.
type RPCError struct {
	Code    int
	Message string
	Data    string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Message, e.Code, e.Data)
}

type client struct {
	User      string
	Pass      string
	Protocol  string
	RPCServer string
	http      *http.Client
}

type Client interface {
	CreateOrder(ctx context.Context, data types.RequestCreate) (types.ResponseCreate, error)
	GetOrder(ctx context.Context, orderID string) (coordinator.View, error)
	ListOrders(ctx context.Context, data types.RequestListOrders) (types.ResponseListOrders, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetSecret(ctx context.Context, orderID string) (types.ResponseSecret, error)
	Authorize(ctx context.Context, data types.RequestAuthorize) error
	Status(ctx context.Context) (types.ResponseStatus, error)
}

func NewClient(userName string, password string, protocol string, rpcServer string) Client {
	return &client{
		User:      userName,
		Pass:      password,
		Protocol:  protocol,
		RPCServer: rpcServer,
		http:      &http.Client{Timeout: time.Minute},
	}
}

// SendPostRequest sends the marshalled JSON-RPC command using HTTP-POST mode
// to the server described in the passed config struct. It also attempts to
// unmarshal the response as a JSON-RPC response and returns either the result
// field or the error field depending on whether or not there is an error.
func (c *client) SendPostRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	jsonData, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	payload := jsonrpc.Request{
		Version: "2.0",
		ID:      time.Now().UnixNano(),
		Method:  method,
		Params:  json.RawMessage(jsonData),
	}
	marshalledJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	url := c.Protocol + "://" + c.RPCServer
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(marshalledJSON))
	if err != nil {
		return nil, err
	}
	httpRequest.Header.Set("Content-Type", "application/json")

	// Configure basic access authorization.
	httpRequest.SetBasicAuth(c.User, c.Pass)

	httpResponse, err := c.http.Do(httpRequest)
	if err != nil {
		return nil, err
	}

	// Read the raw bytes and close the response.
	respBytes, err := io.ReadAll(httpResponse.Body)
	httpResponse.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("error reading json reply: %w", err)
	}

	// The daemon answers failed calls with a non 2xx status and a JSON-RPC
	// error body. Anything else is reported as the raw status.
	var resp jsonrpc.Response
	if err := json.Unmarshal(respBytes, &resp); err != nil || (resp.Error == nil && resp.Result == nil) {
		if len(respBytes) == 0 {
			return nil, fmt.Errorf("%d %s", httpResponse.StatusCode, http.StatusText(httpResponse.StatusCode))
		}
		return nil, fmt.Errorf("%d %s: %s", httpResponse.StatusCode, http.StatusText(httpResponse.StatusCode), respBytes)
	}
	if resp.Error != nil {
		return nil, &RPCError{Code: resp.Error.Code, Message: resp.Error.Message, Data: resp.Error.Data}
	}
	return resp.Result, nil
}

func (c *client) call(ctx context.Context, method string, params, out interface{}) error {
	resp, err := c.SendPostRequest(ctx, method, params)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

func (c *client) CreateOrder(ctx context.Context, data types.RequestCreate) (types.ResponseCreate, error) {
	var resp types.ResponseCreate
	err := c.call(ctx, "createOrder", data, &resp)
	return resp, err
}

func (c *client) GetOrder(ctx context.Context, orderID string) (coordinator.View, error) {
	var resp coordinator.View
	err := c.call(ctx, "getOrder", types.RequestOrder{OrderID: orderID}, &resp)
	return resp, err
}

func (c *client) ListOrders(ctx context.Context, data types.RequestListOrders) (types.ResponseListOrders, error) {
	var resp types.ResponseListOrders
	err := c.call(ctx, "listOrders", data, &resp)
	return resp, err
}

func (c *client) CancelOrder(ctx context.Context, orderID string) error {
	return c.call(ctx, "cancelOrder", types.RequestOrder{OrderID: orderID}, nil)
}

func (c *client) GetSecret(ctx context.Context, orderID string) (types.ResponseSecret, error) {
	var resp types.ResponseSecret
	err := c.call(ctx, "getSecret", types.RequestOrder{OrderID: orderID}, &resp)
	return resp, err
}

func (c *client) Authorize(ctx context.Context, data types.RequestAuthorize) error {
	return c.call(ctx, "authorize", data, nil)
}

func (c *client) Status(ctx context.Context) (types.ResponseStatus, error) {
	var resp types.ResponseStatus
	err := c.call(ctx, "status", nil, &resp)
	return resp, err
}
