package model

import "time"

const (
	AccountRoleMaster = "master"
	AccountRoleUser   = "user"
)

// Account is one trading identity (the master account or a user account).
// Accounts are an isolated risk and capital boundary: nothing in one
// account's books may reserve or release capital in another's.
type Account struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:60;uniqueIndex;not null" json:"name"`
	Role      string    `gorm:"size:10;not null;default:user" json:"role"`
	Active    bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Links []ExchangeLink `gorm:"foreignKey:AccountID" json:"links,omitempty"`
}

func (Account) TableName() string {
	return "accounts"
}

// ExchangeLink is one authenticated channel between an account and an
// exchange. API credentials are stored encrypted (see src/security).
//
// CredentialScope groups links that sign with the same credential: links
// sharing a scope must share one sequence generator, because the exchange
// checks the request counter per credential, not per connection.
type ExchangeLink struct {
	ID              uint   `gorm:"primaryKey" json:"id"`
	AccountID       uint   `gorm:"uniqueIndex:idx_account_exchange;not null" json:"account_id"`
	Exchange        string `gorm:"size:40;uniqueIndex:idx_account_exchange;not null" json:"exchange"`
	CredentialScope string `gorm:"size:120;index;not null" json:"credential_scope"`
	APIKeyHash      string `gorm:"size:512" json:"-"`
	APISecretHash   string `gorm:"size:512" json:"-"`
	Enabled         bool   `gorm:"not null;default:true" json:"enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ExchangeLink) TableName() string {
	return "exchange_links"
}
