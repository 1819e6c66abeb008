package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"executioncore/src/database"
	"executioncore/src/model"
)

// AccountRepository reads trading accounts and their exchange links.
type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository() *AccountRepository {
	return &AccountRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *AccountRepository) WithDB(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// ListActive returns every active account with its enabled exchange links
// preloaded. The orchestrator builds its runner set from this.
func (r *AccountRepository) ListActive(ctx context.Context) ([]model.Account, error) {
	var accounts []model.Account

	err := r.db.WithContext(ctx).
		Preload("Links", "enabled = ?", true).
		Where("active = ?", true).
		Order("id ASC").
		Find(&accounts).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "AccountRepository",
			"op":   "ListActive",
		}).WithError(err).Error("Failed to list active accounts")
		return nil, err
	}

	return accounts, nil
}

// Save creates an account or updates an existing one by its unique name.
func (r *AccountRepository) Save(ctx context.Context, account *model.Account) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			UpdateAll: true,
		}).
		Create(account).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "AccountRepository",
			"op":   "Save",
			"name": account.Name,
		}).WithError(err).Error("Failed to save account")
		return err
	}

	return nil
}

// SaveLink upserts one exchange link keyed by (account_id, exchange).
// Used by the keys CLI to rotate credentials in place.
func (r *AccountRepository) SaveLink(ctx context.Context, link *model.ExchangeLink) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "account_id"},
				{Name: "exchange"},
			},
			DoUpdates: clause.AssignmentColumns([]string{
				"credential_scope", "api_key_hash", "api_secret_hash", "enabled", "updated_at",
			}),
		}).
		Create(link).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "AccountRepository",
			"op":       "SaveLink",
			"account":  link.AccountID,
			"exchange": link.Exchange,
		}).WithError(err).Error("Failed to save exchange link")
		return err
	}

	return nil
}

// FindByName fetches one account by its unique name, or (nil, nil).
func (r *AccountRepository) FindByName(ctx context.Context, name string) (*model.Account, error) {
	var account model.Account

	err := r.db.WithContext(ctx).
		Preload("Links").
		Where("name = ?", name).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "AccountRepository",
			"op":   "FindByName",
			"name": name,
		}).WithError(err).Error("Failed to fetch account")
		return nil, err
	}

	return &account, nil
}
