package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"executioncore/src/model"
)

// OrderStore is the durable snapshot behind the ledger. Satisfied by
// repository.OrderRepository. A nil store keeps the ledger memory-only.
type OrderStore interface {
	Save(ctx context.Context, order *model.Order) error
	UpdateStatus(ctx context.Context, id, status string) error
	FindOpen(ctx context.Context) ([]model.Order, error)
}

// Ledger tracks open orders and reserved capital per account. Each account
// has its own critical section: operations on one account never block
// another account's.
type Ledger struct {
	store OrderStore
	books *bookSet
}

func New(store OrderStore) *Ledger {
	return &Ledger{
		store: store,
		books: newBookSet(),
	}
}

// LoadSnapshot rebuilds the in-memory books from the persisted open orders.
// Called once on startup, before any runner starts.
func (l *Ledger) LoadSnapshot(ctx context.Context) error {
	if l.store == nil {
		return nil
	}

	orders, err := l.store.FindOpen(ctx)
	if err != nil {
		return fmt.Errorf("failed to load ledger snapshot: %w", err)
	}

	for i := range orders {
		o := orders[i]
		book := l.books.get(o.AccountID)
		book.mu.Lock()
		book.orders[o.ID] = &o
		book.mu.Unlock()
	}

	logger.WithField("orders", len(orders)).Info("ledger snapshot loaded")
	return nil
}

// AddOrder registers an order. Entries (nil parent) increase the account's
// reserved capital by the order's reservation. Duplicate IDs are rejected.
func (l *Ledger) AddOrder(ctx context.Context, order *model.Order) error {
	if order == nil || order.ID == "" {
		return fmt.Errorf("order without id")
	}

	book := l.books.get(order.AccountID)
	book.mu.Lock()
	if _, exists := book.orders[order.ID]; exists {
		book.mu.Unlock()
		return fmt.Errorf("order %s already tracked", order.ID)
	}

	stored := *order
	book.orders[order.ID] = &stored
	book.mu.Unlock()

	logger.WithFields(map[string]interface{}{
		"account_id": order.AccountID,
		"order_id":   order.ID,
		"symbol":     order.Symbol,
		"dir":        order.OrderDir,
		"reserved":   order.ReservedCapital.String(),
	}).Info("order registered in ledger")

	l.persist(ctx, &stored)
	return nil
}

// MarkFilled transitions an order to filled and releases its reservation.
// Idempotent: the second call for the same order is a no-op returning false.
func (l *Ledger) MarkFilled(ctx context.Context, accountID uint, orderID string) bool {
	return l.finish(ctx, accountID, orderID, model.OrderStatusFilled)
}

// MarkCancelled transitions an order to cancelled and releases its
// reservation. Same idempotence contract as MarkFilled.
func (l *Ledger) MarkCancelled(ctx context.Context, accountID uint, orderID string) bool {
	return l.finish(ctx, accountID, orderID, model.OrderStatusCancelled)
}

func (l *Ledger) finish(ctx context.Context, accountID uint, orderID, status string) bool {
	book := l.books.get(accountID)

	book.mu.Lock()
	order, ok := book.orders[orderID]
	if !ok || !order.OpenStatus() {
		book.mu.Unlock()
		return false
	}

	order.Status = status
	order.UpdatedAt = time.Now().UTC()
	snapshot := *order
	book.mu.Unlock()

	logger.WithFields(map[string]interface{}{
		"account_id": accountID,
		"order_id":   orderID,
		"status":     status,
	}).Info("order reservation released")

	l.persist(ctx, &snapshot)
	return true
}

// ReservedCapital sums the reservations of all open orders of an account.
func (l *Ledger) ReservedCapital(accountID uint) decimal.Decimal {
	book := l.books.get(accountID)
	book.mu.Lock()
	defer book.mu.Unlock()

	total := decimal.Zero
	for _, o := range book.orders {
		if o.OpenStatus() {
			total = total.Add(o.ReservedCapital)
		}
	}
	return total
}

// CheckDoubleReservation reports whether more than one order attached to the
// same position independently reserves capital. The entry order holds the
// position's capital; stop/target orders must ride on it for free.
func (l *Ledger) CheckDoubleReservation(accountID uint, positionID string) (bool, string) {
	book := l.books.get(accountID)
	book.mu.Lock()
	defer book.mu.Unlock()

	reserving := 0
	total := decimal.Zero
	for _, o := range book.orders {
		if !o.OpenStatus() || !o.ReservedCapital.IsPositive() {
			continue
		}

		attached := o.ParentPositionID != nil && *o.ParentPositionID == positionID
		if attached || (o.IsEntry() && o.ID == positionID) {
			reserving++
			total = total.Add(o.ReservedCapital)
		}
	}

	if reserving > 1 {
		explanation := fmt.Sprintf(
			"position %s has %d orders reserving capital (total %s); only the entry may reserve",
			positionID, reserving, total.String(),
		)

		logger.WithFields(map[string]interface{}{
			"account_id":  accountID,
			"position_id": positionID,
			"orders":      reserving,
			"total":       total.String(),
		}).Error("double reservation detected")

		return true, explanation
	}

	return false, fmt.Sprintf("position %s reserves capital on %d order(s)", positionID, reserving)
}

// DetectFragmentation reports whether the account's total reserved capital
// exceeds warnFraction of its balance, a signal that many small stuck orders
// are pinning the account's capital.
func (l *Ledger) DetectFragmentation(accountID uint, balance, warnFraction decimal.Decimal) (bool, string) {
	held := l.ReservedCapital(accountID)
	if !balance.IsPositive() {
		return held.IsPositive(), fmt.Sprintf("balance is %s with %s held", balance.String(), held.String())
	}

	threshold := balance.Mul(warnFraction)
	if held.GreaterThan(threshold) {
		explanation := fmt.Sprintf(
			"held capital %s exceeds %s%% of balance %s",
			held.String(), warnFraction.Mul(decimal.NewFromInt(100)).String(), balance.String(),
		)

		logger.WithFields(map[string]interface{}{
			"account_id": accountID,
			"held":       held.String(),
			"balance":    balance.String(),
		}).Warn("capital fragmentation detected")

		return true, explanation
	}

	return false, fmt.Sprintf("held capital %s within threshold of balance %s", held.String(), balance.String())
}

// CleanupStale counts open orders older than maxAge. With force set they are
// also marked cancelled and their reservations released. Safe to call
// repeatedly.
func (l *Ledger) CleanupStale(ctx context.Context, accountID uint, maxAge time.Duration, force bool) int {
	cutoff := time.Now().Add(-maxAge)

	book := l.books.get(accountID)
	book.mu.Lock()
	var stale []string
	for _, o := range book.orders {
		if o.OpenStatus() && o.CreatedAt.Before(cutoff) {
			stale = append(stale, o.ID)
		}
	}
	book.mu.Unlock()

	if len(stale) == 0 {
		return 0
	}

	logger.WithFields(map[string]interface{}{
		"account_id": accountID,
		"count":      len(stale),
		"max_age":    maxAge.String(),
		"force":      force,
	}).Warn("stale open orders detected")

	if force {
		for _, id := range stale {
			l.MarkCancelled(ctx, accountID, id)
		}
	}

	return len(stale)
}

// Order returns a copy of one tracked order, or nil.
func (l *Ledger) Order(accountID uint, orderID string) *model.Order {
	book := l.books.get(accountID)
	book.mu.Lock()
	defer book.mu.Unlock()

	o, ok := book.orders[orderID]
	if !ok {
		return nil
	}
	snapshot := *o
	return &snapshot
}

// OpenOrders returns copies of the account's open orders, oldest first.
func (l *Ledger) OpenOrders(accountID uint) []model.Order {
	book := l.books.get(accountID)
	book.mu.Lock()
	defer book.mu.Unlock()

	var open []model.Order
	for _, o := range book.orders {
		if o.OpenStatus() {
			open = append(open, *o)
		}
	}

	sort.Slice(open, func(i, j int) bool { return open[i].CreatedAt.Before(open[j].CreatedAt) })
	return open
}

func (l *Ledger) persist(ctx context.Context, order *model.Order) {
	if l.store == nil {
		return
	}

	if err := l.store.Save(ctx, order); err != nil {
		// In-memory state stays authoritative; the snapshot will catch up
		// on the next mutation of this order.
		logger.WithFields(map[string]interface{}{
			"account_id": order.AccountID,
			"order_id":   order.ID,
		}).WithError(err).Error("failed to persist ledger order")
	}
}
