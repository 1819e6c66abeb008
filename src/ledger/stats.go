package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"executioncore/src/model"
)

// Stats is an observability snapshot of one account's books.
type Stats struct {
	AccountID      uint            `json:"account_id"`
	OpenOrders     int             `json:"open_orders"`
	OpenEntries    int             `json:"open_entries"`
	OpenExits      int             `json:"open_exits"`
	HeldCapital    decimal.Decimal `json:"held_capital"`
	OldestOrderAge time.Duration   `json:"oldest_order_age"`
}

// AccountStats aggregates counts, ages and held capital for an account.
func (l *Ledger) AccountStats(accountID uint) Stats {
	book := l.books.get(accountID)
	book.mu.Lock()
	defer book.mu.Unlock()

	stats := Stats{AccountID: accountID, HeldCapital: decimal.Zero}
	now := time.Now()

	for _, o := range book.orders {
		if !o.OpenStatus() {
			continue
		}

		stats.OpenOrders++
		if o.OrderDir == model.OrderDirExit {
			stats.OpenExits++
		} else {
			stats.OpenEntries++
		}

		stats.HeldCapital = stats.HeldCapital.Add(o.ReservedCapital)
		if age := now.Sub(o.CreatedAt); age > stats.OldestOrderAge {
			stats.OldestOrderAge = age
		}
	}

	return stats
}
