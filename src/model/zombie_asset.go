package model

import "time"

const (
	ZombieReasonPriceUnavailable    = "price_unavailable"
	ZombieReasonQuantityUnavailable = "quantity_unavailable"
	ZombieReasonUnsupportedSymbol   = "unsupported_symbol"
)

// ZombieAsset quarantines a symbol whose price or metadata lookup failed
// during reconciliation, so later cycles do not re-fail the same lookup.
// Entries leave the blacklist only through operator action or a later
// successful lookup.
type ZombieAsset struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	AccountID uint      `gorm:"uniqueIndex:idx_zombie_key;not null" json:"account_id"`
	Exchange  string    `gorm:"size:40;uniqueIndex:idx_zombie_key;not null" json:"exchange"`
	Symbol    string    `gorm:"size:30;uniqueIndex:idx_zombie_key;not null" json:"symbol"`
	Reason    string    `gorm:"size:40;not null" json:"reason"`
	Detail    string    `gorm:"size:255" json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ZombieAsset) TableName() string {
	return "zombie_assets"
}
