package store

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/catalogfi/xswap/pkg/swap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrDuplicateOrder    = errors.New("order already exists")
	ErrStaleTransition   = errors.New("order status changed concurrently")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrTokenExpired      = errors.New("token expired")
)

const tokenTTL = 12 * time.Hour

type Order struct {
	gorm.Model

	OrderID     string `gorm:"uniqueIndex"`
	MakerSrc    string `gorm:"index"`
	MakerDst    string `gorm:"index"`
	ResolverSrc string
	ResolverDst string

	SrcChain      string `gorm:"index"`
	DstChain      string `gorm:"index"`
	SrcAsset      string
	DstAsset      string
	SrcAmount     string
	DstAmount     string
	SafetyDeposit string

	Hashlock  string `gorm:"uniqueIndex"`
	Secret    string
	Timelocks swap.Timelocks `gorm:"serializer:json"`

	Status     swap.Status `gorm:"index"`
	ErrorClass string
	Error      string
	LastTxRef  string
	ExpiresAt  time.Time
}

// Transition is one row of the append-only status history of an order.
type Transition struct {
	gorm.Model

	OrderID    string      `gorm:"index"`
	From       swap.Status `gorm:"column:from_status" json:"from"`
	To         swap.Status `gorm:"column:to_status" json:"to"`
	TxRef      string      `json:"txRef,omitempty"`
	ErrorClass string      `json:"errorClass,omitempty"`
	Error      string      `json:"error,omitempty"`
}

type Escrow struct {
	gorm.Model

	OrderID    string   `gorm:"index:,unique,composite:order_leg"`
	Leg        swap.Leg `gorm:"index:,unique,composite:order_leg"`
	Chain      string
	Handle     string
	LedgerID   *uint64
	Degraded   bool
	Late       bool
	Immutables swap.Immutables `gorm:"serializer:json"`

	Funded    bool
	Claimed   bool
	Cancelled bool

	OpenTx   string
	ClaimTx  string
	CancelTx string
}

type Token struct {
	gorm.Model

	Address string `gorm:"uniqueIndex"`
	Token   string
}

// Update carries the optional details recorded with a transition.
type Update struct {
	TxRef string
	Class swap.ErrorClass
	Err   error
}

type Filter struct {
	Statuses []swap.Status
	Maker    string
	Chain    swap.Chain
	Offset   int
	Limit    int
}

type Store interface {
	PutOrder(ctx context.Context, order swap.Order) error

	Order(ctx context.Context, orderID string) (swap.Order, error)

	OrderByHashlock(ctx context.Context, hashlock [32]byte) (swap.Order, error)

	// Orders lists orders matching filter, newest first.
	Orders(ctx context.Context, filter Filter) ([]swap.Order, error)

	CountOrders(ctx context.Context, filter Filter) (int64, error)

	// NonTerminal lists the orders a restarted coordinator has to resume.
	NonTerminal(ctx context.Context) ([]swap.Order, error)

	// Transition moves an order from one status to another. It fails with
	// ErrStaleTransition when the stored status is not from and with
	// ErrIllegalTransition when the move is not allowed.
	Transition(ctx context.Context, orderID string, from, to swap.Status, update Update) error

	Transitions(ctx context.Context, orderID string) ([]Transition, error)

	SetSecret(ctx context.Context, orderID string, secret [32]byte) error

	PutEscrow(ctx context.Context, escrow swap.Escrow) error

	Escrow(ctx context.Context, orderID string, leg swap.Leg) (swap.Escrow, error)

	Escrows(ctx context.Context, orderID string) ([]swap.Escrow, error)

	// UpdateEscrow applies update to the stored escrow of a leg in a single
	// transaction.
	UpdateEscrow(ctx context.Context, orderID string, leg swap.Leg, update func(*swap.Escrow)) (swap.Escrow, error)

	SetLedgerID(ctx context.Context, orderID string, leg swap.Leg, id uint64, degraded bool) error

	// LastLedgerID returns the highest ledger id recorded for an escrow on
	// the chain, or nil when none is known.
	LastLedgerID(ctx context.Context, ch swap.Chain) (*uint64, error)

	PutToken(ctx context.Context, address, token string) error

	Token(ctx context.Context, address string) (string, error)

	Close() error
}

type store struct {
	mu *sync.RWMutex
	db *gorm.DB
}

// Dialector picks the database driver from the dsn. Postgres urls use the
// postgres driver, anything else is treated as a sqlite path.
func Dialector(dsn string) gorm.Dialector {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return postgres.Open(dsn)
	}
	return sqlite.Open(dsn)
}

func NewStore(dialector gorm.Dialector, opts ...gorm.Option) (Store, error) {
	db, err := gorm.Open(dialector, opts...)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Order{}, &Transition{}, &Escrow{}, &Token{}); err != nil {
		return nil, err
	}

	sqlDb, err := db.DB()
	if err != nil {
		return nil, err
	}
	if dialector.Name() == "sqlite" {
		sqlDb.SetMaxOpenConns(1)
	} else {
		sqlDb.SetMaxIdleConns(5)
		sqlDb.SetMaxOpenConns(5)
	}
	sqlDb.SetConnMaxIdleTime(10 * time.Minute)
	return &store{mu: new(sync.RWMutex), db: db}, nil
}

func (s *store) PutOrder(ctx context.Context, order swap.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := fromOrder(order)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Order{}).Where("order_id = ? OR hashlock = ?", row.OrderID, row.Hashlock).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: %s", ErrDuplicateOrder, row.OrderID)
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return tx.Create(&Transition{OrderID: row.OrderID, From: swap.Unknown, To: row.Status}).Error
	})
}

func (s *store) Order(ctx context.Context, orderID string) (swap.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var row Order
	if err := s.db.WithContext(ctx).Where("order_id = ?", orderID).First(&row).Error; err != nil {
		return swap.Order{}, notFound(err, orderID)
	}
	return row.toOrder()
}

func (s *store) OrderByHashlock(ctx context.Context, hashlock [32]byte) (swap.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var row Order
	if err := s.db.WithContext(ctx).Where("hashlock = ?", hex.EncodeToString(hashlock[:])).First(&row).Error; err != nil {
		return swap.Order{}, notFound(err, hex.EncodeToString(hashlock[:]))
	}
	return row.toOrder()
}

func (s *store) Orders(ctx context.Context, filter Filter) ([]swap.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := s.filtered(ctx, filter)
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	rows := []Order{}
	if err := query.Order("id desc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return toOrders(rows)
}

func (s *store) CountOrders(ctx context.Context, filter Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	err := s.filtered(ctx, filter).Count(&count).Error
	return count, err
}

func (s *store) filtered(ctx context.Context, filter Filter) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&Order{})
	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}
	if filter.Maker != "" {
		maker := strings.ToLower(filter.Maker)
		query = query.Where("(LOWER(maker_src) = ? OR LOWER(maker_dst) = ?)", maker, maker)
	}
	if filter.Chain != "" {
		query = query.Where("(src_chain = ? OR dst_chain = ?)", filter.Chain, filter.Chain)
	}
	return query
}

func (s *store) NonTerminal(ctx context.Context) ([]swap.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := []Order{}
	terminal := []swap.Status{swap.Settled, swap.Cancelled, swap.Expired, swap.Failed}
	if err := s.db.WithContext(ctx).Where("status NOT IN ?", terminal).Order("id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return toOrders(rows)
}

func (s *store) Transition(ctx context.Context, orderID string, from, to swap.Status, update Update) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %v -> %v", ErrIllegalTransition, from, to)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	errMsg := ""
	if update.Err != nil {
		errMsg = update.Err.Error()
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"status":      to,
			"error_class": string(update.Class),
			"error":       errMsg,
		}
		if update.TxRef != "" {
			updates["last_tx_ref"] = update.TxRef
		}
		res := tx.Model(&Order{}).Where("order_id = ? AND status = ?", orderID, from).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var row Order
			if err := tx.Where("order_id = ?", orderID).First(&row).Error; err != nil {
				return notFound(err, orderID)
			}
			return fmt.Errorf("%w: %s is %v, not %v", ErrStaleTransition, orderID, row.Status, from)
		}
		return tx.Create(&Transition{
			OrderID:    orderID,
			From:       from,
			To:         to,
			TxRef:      update.TxRef,
			ErrorClass: string(update.Class),
			Error:      errMsg,
		}).Error
	})
}

func (s *store) Transitions(ctx context.Context, orderID string) ([]Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	transitions := []Transition{}
	if err := s.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id asc").Find(&transitions).Error; err != nil {
		return nil, err
	}
	return transitions, nil
}

func (s *store) SetSecret(ctx context.Context, orderID string, secret [32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.db.WithContext(ctx).Model(&Order{}).Where("order_id = ?", orderID).Update("secret", hex.EncodeToString(secret[:]))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, orderID)
	}
	return nil
}

func (s *store) PutEscrow(ctx context.Context, escrow swap.Escrow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := fromEscrow(escrow)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "order_id"}, {Name: "leg"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"updated_at", "chain", "handle", "ledger_id", "degraded", "late", "immutables",
			"funded", "claimed", "cancelled", "open_tx", "claim_tx", "cancel_tx",
		}),
	}).Create(&row).Error
}

func (s *store) Escrow(ctx context.Context, orderID string, leg swap.Leg) (swap.Escrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var row Escrow
	if err := s.db.WithContext(ctx).Where("order_id = ? AND leg = ?", orderID, leg).First(&row).Error; err != nil {
		return swap.Escrow{}, notFound(err, fmt.Sprintf("%s/%v", orderID, leg))
	}
	return row.toEscrow(), nil
}

func (s *store) Escrows(ctx context.Context, orderID string) ([]swap.Escrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := []Escrow{}
	if err := s.db.WithContext(ctx).Where("order_id = ?", orderID).Order("leg asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	escrows := make([]swap.Escrow, len(rows))
	for i := range rows {
		escrows[i] = rows[i].toEscrow()
	}
	return escrows, nil
}

func (s *store) UpdateEscrow(ctx context.Context, orderID string, leg swap.Leg, update func(*swap.Escrow)) (swap.Escrow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var escrow swap.Escrow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Escrow
		if err := tx.Where("order_id = ? AND leg = ?", orderID, leg).First(&row).Error; err != nil {
			return notFound(err, fmt.Sprintf("%s/%v", orderID, leg))
		}
		escrow = row.toEscrow()
		update(&escrow)
		escrow.OrderID, escrow.Leg = orderID, leg

		updated := fromEscrow(escrow)
		updated.Model = row.Model
		return tx.Save(&updated).Error
	})
	return escrow, err
}

func (s *store) SetLedgerID(ctx context.Context, orderID string, leg swap.Leg, id uint64, degraded bool) error {
	_, err := s.UpdateEscrow(ctx, orderID, leg, func(e *swap.Escrow) {
		e.LedgerID = &id
		e.Degraded = degraded
	})
	return err
}

func (s *store) LastLedgerID(ctx context.Context, ch swap.Chain) (*uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var row Escrow
	err := s.db.WithContext(ctx).
		Where("chain = ? AND ledger_id IS NOT NULL", string(ch)).
		Order("ledger_id desc").
		Limit(1).
		Find(&row).Error
	if err != nil {
		return nil, err
	}
	return row.LedgerID, nil
}

func (s *store) PutToken(ctx context.Context, address, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := Token{Address: strings.ToLower(address), Token: token}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{"updated_at", "token"}),
	}).Create(&row).Error
}

func (s *store) Token(ctx context.Context, address string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var token Token
	if err := s.db.WithContext(ctx).Where("address = ?", strings.ToLower(address)).First(&token).Error; err != nil {
		return "", notFound(err, address)
	}
	if time.Since(token.UpdatedAt) >= tokenTTL {
		return token.Token, ErrTokenExpired
	}
	return token.Token, nil
}

func (s *store) Close() error {
	sqlDb, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDb.Close()
}

func notFound(err error, key string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return err
}

func fromOrder(order swap.Order) Order {
	secret := ""
	if order.Secret != nil {
		secret = hex.EncodeToString(order.Secret[:])
	}
	return Order{
		OrderID:       order.OrderID,
		MakerSrc:      order.Maker.Src,
		MakerDst:      order.Maker.Dst,
		ResolverSrc:   order.Resolver.Src,
		ResolverDst:   order.Resolver.Dst,
		SrcChain:      string(order.SrcChain),
		DstChain:      string(order.DstChain),
		SrcAsset:      order.SrcAsset,
		DstAsset:      order.DstAsset,
		SrcAmount:     bigString(order.SrcAmount),
		DstAmount:     bigString(order.DstAmount),
		SafetyDeposit: bigString(order.SafetyDeposit),
		Hashlock:      hex.EncodeToString(order.Hashlock[:]),
		Secret:        secret,
		Timelocks:     order.Timelocks,
		Status:        order.Status,
		ErrorClass:    string(order.ErrorClass),
		Error:         order.Error,
		LastTxRef:     order.LastTxRef,
		ExpiresAt:     order.ExpiresAt,
	}
}

func (row Order) toOrder() (swap.Order, error) {
	order := swap.Order{
		OrderID:    row.OrderID,
		Maker:      swap.Accounts{Src: row.MakerSrc, Dst: row.MakerDst},
		Resolver:   swap.Accounts{Src: row.ResolverSrc, Dst: row.ResolverDst},
		SrcChain:   swap.Chain(row.SrcChain),
		DstChain:   swap.Chain(row.DstChain),
		SrcAsset:   row.SrcAsset,
		DstAsset:   row.DstAsset,
		Timelocks:  row.Timelocks,
		Status:     row.Status,
		ErrorClass: swap.ErrorClass(row.ErrorClass),
		Error:      row.Error,
		LastTxRef:  row.LastTxRef,
		ExpiresAt:  row.ExpiresAt,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}

	var err error
	if order.SrcAmount, err = parseBig(row.SrcAmount); err != nil {
		return swap.Order{}, fmt.Errorf("order %s: src amount: %w", row.OrderID, err)
	}
	if order.DstAmount, err = parseBig(row.DstAmount); err != nil {
		return swap.Order{}, fmt.Errorf("order %s: dst amount: %w", row.OrderID, err)
	}
	if order.SafetyDeposit, err = parseBig(row.SafetyDeposit); err != nil {
		return swap.Order{}, fmt.Errorf("order %s: safety deposit: %w", row.OrderID, err)
	}
	if order.Hashlock, err = decode32(row.Hashlock); err != nil {
		return swap.Order{}, fmt.Errorf("order %s: hashlock: %w", row.OrderID, err)
	}
	if row.Secret != "" {
		secret, err := decode32(row.Secret)
		if err != nil {
			return swap.Order{}, fmt.Errorf("order %s: secret: %w", row.OrderID, err)
		}
		order.Secret = &secret
	}
	return order, nil
}

func toOrders(rows []Order) ([]swap.Order, error) {
	orders := make([]swap.Order, 0, len(rows))
	for _, row := range rows {
		order, err := row.toOrder()
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func fromEscrow(e swap.Escrow) Escrow {
	return Escrow{
		OrderID:    e.OrderID,
		Leg:        e.Leg,
		Chain:      string(e.Chain),
		Handle:     e.Handle,
		LedgerID:   e.LedgerID,
		Degraded:   e.Degraded,
		Late:       e.Late,
		Immutables: e.Immutables,
		Funded:     e.Funded,
		Claimed:    e.Claimed,
		Cancelled:  e.Cancelled,
		OpenTx:     e.OpenTx,
		ClaimTx:    e.ClaimTx,
		CancelTx:   e.CancelTx,
	}
}

func (row Escrow) toEscrow() swap.Escrow {
	return swap.Escrow{
		OrderID:    row.OrderID,
		Leg:        row.Leg,
		Chain:      swap.Chain(row.Chain),
		Handle:     row.Handle,
		LedgerID:   row.LedgerID,
		Degraded:   row.Degraded,
		Late:       row.Late,
		Immutables: row.Immutables,
		Funded:     row.Funded,
		Claimed:    row.Claimed,
		Cancelled:  row.Cancelled,
		OpenTx:     row.OpenTx,
		ClaimTx:    row.ClaimTx,
		CancelTx:   row.CancelTx,
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseBig(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return v, nil
}

func decode32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}
