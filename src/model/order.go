package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderStatusPending   = "pending"
	OrderStatusOpen      = "open"
	OrderStatusFilled    = "filled"
	OrderStatusCancelled = "cancelled"
	OrderStatusRejected  = "rejected"
)

const (
	OrderDirEntry = "entry"
	OrderDirExit  = "exit"
)

const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Order is one order the core has sent (or is about to send) to an exchange.
//
// Entries carry a nil ParentPositionID and reserve capital; exit, stop and
// target orders reference the position their entry opened and must not
// reserve the capital the entry already holds.
type Order struct {
	ID                string          `gorm:"primaryKey;size:64" json:"id"`
	AccountID         uint            `gorm:"index;not null" json:"account_id"`
	Exchange          string          `gorm:"size:40;index;not null" json:"exchange"`
	Symbol            string          `gorm:"size:30;not null" json:"symbol"`
	Side              string          `gorm:"size:6;not null" json:"side"`
	OrderDir          string          `gorm:"size:10;not null" json:"order_dir"`
	RequestedPrice    decimal.Decimal `gorm:"type:numeric" json:"requested_price"`
	RequestedQuantity decimal.Decimal `gorm:"type:numeric" json:"requested_quantity"`
	FilledPrice       decimal.Decimal `gorm:"type:numeric" json:"filled_price"`
	Status            string          `gorm:"size:20;not null;default:pending" json:"status"`
	ReservedCapital   decimal.Decimal `gorm:"type:numeric" json:"reserved_capital"`
	ParentPositionID  *string         `gorm:"size:64;index" json:"parent_position_id,omitempty"`
	Sequence          int64           `json:"sequence"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (Order) TableName() string {
	return "orders"
}

// IsEntry reports whether the order opens a position (reserves capital).
func (o *Order) IsEntry() bool {
	return o.ParentPositionID == nil
}

// OpenStatus reports whether the order still holds a reservation.
func (o *Order) OpenStatus() bool {
	return o.Status == OrderStatusPending || o.Status == OrderStatusOpen
}
