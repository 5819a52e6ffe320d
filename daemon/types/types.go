package types

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/catalogfi/xswap/pkg/coordinator"
	"github.com/catalogfi/xswap/pkg/gate"
	"github.com/catalogfi/xswap/pkg/store"
	"github.com/catalogfi/xswap/pkg/swap"
	"github.com/catalogfi/xswap/utils"
	"go.uber.org/zap"
)

var (
	ErrForbidden     = errors.New("order belongs to another maker")
	ErrOperatorOnly  = errors.New("method is restricted to the operator")
	ErrInvalidParams = errors.New("invalid params")
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 200
)

type CoreConfig struct {
	Coordinator *coordinator.Coordinator
	Gates       map[swap.Chain]*gate.Gate
	Store       store.Store
	Journal     coordinator.Journal
	EnvConfig   utils.Config
	Logger      *zap.Logger
}

// Caller is the authenticated party of a request. Makers authenticate with a
// SIWE issued token and only see their own orders.
type Caller struct {
	Operator bool
	Address  string
}

func (c Caller) Owns(order swap.Order) bool {
	return c.Operator || strings.EqualFold(order.Maker.Src, c.Address)
}

type RequestCreate struct {
	Maker    swap.Accounts `json:"maker" binding:"required"`
	Resolver swap.Accounts `json:"resolver" binding:"required"`

	SrcChain  swap.Chain `json:"srcChain" binding:"required"`
	DstChain  swap.Chain `json:"dstChain" binding:"required"`
	SrcAsset  string     `json:"srcAsset" binding:"required"`
	DstAsset  string     `json:"dstAsset" binding:"required"`
	SrcAmount string     `json:"srcAmount" binding:"required"`
	DstAmount string     `json:"dstAmount" binding:"required"`

	SafetyDeposit string          `json:"safetyDeposit,omitempty"`
	Hashlock      string          `json:"hashlock,omitempty"`
	Timelocks     *swap.Timelocks `json:"timelocks,omitempty"`
}

// ToCreateRequest parses the decimal amounts and the optional hex hashlock.
func (req RequestCreate) ToCreateRequest() (coordinator.CreateRequest, error) {
	srcAmount, err := parseAmount("srcAmount", req.SrcAmount)
	if err != nil {
		return coordinator.CreateRequest{}, err
	}
	dstAmount, err := parseAmount("dstAmount", req.DstAmount)
	if err != nil {
		return coordinator.CreateRequest{}, err
	}
	create := coordinator.CreateRequest{
		Maker:     req.Maker,
		Resolver:  req.Resolver,
		SrcChain:  req.SrcChain,
		DstChain:  req.DstChain,
		SrcAsset:  req.SrcAsset,
		DstAsset:  req.DstAsset,
		SrcAmount: srcAmount,
		DstAmount: dstAmount,
		Timelocks: req.Timelocks,
	}
	if req.SafetyDeposit != "" {
		if create.SafetyDeposit, err = parseAmount("safetyDeposit", req.SafetyDeposit); err != nil {
			return coordinator.CreateRequest{}, err
		}
	}
	if req.Hashlock != "" {
		hashlock, err := hex.DecodeString(strings.TrimPrefix(req.Hashlock, "0x"))
		if err != nil || len(hashlock) != 32 {
			return coordinator.CreateRequest{}, fmt.Errorf("hashlock must be 32 hex encoded bytes")
		}
		create.Hashlock = new([32]byte)
		copy(create.Hashlock[:], hashlock)
	}
	return create, nil
}

func parseAmount(field, s string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s %q", field, s)
	}
	return amount, nil
}

type ResponseCreate struct {
	OrderID   string      `json:"orderId"`
	Hashlock  string      `json:"hashlock"`
	Status    swap.Status `json:"status"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

type RequestOrder struct {
	OrderID string `json:"orderId" binding:"required"`
}

type RequestListOrders struct {
	Maker    string   `json:"maker"`
	Chain    string   `json:"chain"`
	Statuses []string `json:"statuses"`
	Page     int      `json:"page"`
	PerPage  int      `json:"perPage"`
}

// Filter converts the request to a store filter. Pages start at 1.
func (req RequestListOrders) Filter() (store.Filter, error) {
	filter := store.Filter{Maker: req.Maker, Chain: swap.Chain(req.Chain)}
	for _, s := range req.Statuses {
		status, err := swap.ParseStatus(s)
		if err != nil {
			return store.Filter{}, err
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	perPage := req.PerPage
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	page := req.Page
	if page <= 0 {
		page = 1
	}
	filter.Limit = perPage
	filter.Offset = (page - 1) * perPage
	return filter, nil
}

type ResponseListOrders struct {
	Orders  []swap.Order `json:"orders"`
	Total   int64        `json:"total"`
	Page    int          `json:"page"`
	PerPage int          `json:"perPage"`
}

type ResponseSecret struct {
	OrderID string `json:"orderId"`
	Secret  string `json:"secret"`
}

type RequestAuthorize struct {
	Chain    swap.Chain `json:"chain" binding:"required"`
	Resolver string     `json:"resolver" binding:"required"`
}

type ChainStatus struct {
	Kind  string `json:"kind"`
	Head  uint64 `json:"head,omitempty"`
	Error string `json:"error,omitempty"`
}

type ResponseStatus struct {
	Chains  map[swap.Chain]ChainStatus `json:"chains"`
	Active  int                        `json:"active"`
	Journal string                     `json:"journal"`
}
