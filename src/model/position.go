package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PositionSourceStrategy = "strategy"
	PositionSourceAdopted  = "adopted"
	PositionSourceUnknown  = "unknown"
)

const (
	PositionStatusOpen   = "open"
	PositionStatusClosed = "closed"
)

// Position is one open exposure on one exchange for one account.
//
// Source=adopted means the position was reconstructed from exchange state
// after a restart: its entry price is the market price at adoption time, so
// its P&L starts at zero.
type Position struct {
	ID         string          `gorm:"primaryKey;size:64" json:"id"`
	AccountID  uint            `gorm:"index;not null" json:"account_id"`
	Exchange   string          `gorm:"size:40;index;not null" json:"exchange"`
	Symbol     string          `gorm:"size:30;not null" json:"symbol"`
	Side       string          `gorm:"size:6;not null" json:"side"`
	EntryPrice decimal.Decimal `gorm:"type:numeric" json:"entry_price"`
	Quantity   decimal.Decimal `gorm:"type:numeric" json:"quantity"`
	QuoteSize  decimal.Decimal `gorm:"type:numeric" json:"quote_size"`
	Source     string          `gorm:"size:10;not null;default:unknown" json:"source"`
	Status     string          `gorm:"size:10;not null;default:open" json:"status"`
	OpenedAt   time.Time       `json:"opened_at"`
	ClosedAt   *time.Time      `json:"closed_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func (Position) TableName() string {
	return "positions"
}
