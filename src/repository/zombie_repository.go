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

// ZombieRepository manages the persisted blacklist of symbols whose
// price/metadata lookup failed, so reconciliation does not re-fail them
// every cycle.
type ZombieRepository struct {
	db *gorm.DB
}

func NewZombieRepository() *ZombieRepository {
	return &ZombieRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *ZombieRepository) WithDB(db *gorm.DB) *ZombieRepository {
	return &ZombieRepository{db: db}
}

// Upsert records (or refreshes) a blacklist entry.
func (r *ZombieRepository) Upsert(ctx context.Context, z *model.ZombieAsset) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}, {Name: "exchange"}, {Name: "symbol"}},
			DoUpdates: clause.AssignmentColumns([]string{"reason", "detail", "updated_at"}),
		}).
		Create(z).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "ZombieRepository",
			"op":     "Upsert",
			"symbol": z.Symbol,
			"reason": z.Reason,
		}).WithError(err).Error("Failed to upsert zombie asset")
		return err
	}

	return nil
}

// Find returns the blacklist entry for a symbol, or (nil, nil).
func (r *ZombieRepository) Find(ctx context.Context, accountID uint, exchange, symbol string) (*model.ZombieAsset, error) {
	var z model.ZombieAsset

	err := r.db.WithContext(ctx).
		Where("account_id = ? AND exchange = ? AND symbol = ?", accountID, exchange, symbol).
		First(&z).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":   "ZombieRepository",
			"op":     "Find",
			"symbol": symbol,
		}).WithError(err).Error("Failed to fetch zombie asset")
		return nil, err
	}

	return &z, nil
}

// List returns every blacklist entry for an account.
func (r *ZombieRepository) List(ctx context.Context, accountID uint) ([]model.ZombieAsset, error) {
	var zombies []model.ZombieAsset

	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("updated_at DESC").
		Find(&zombies).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "ZombieRepository",
			"op":         "List",
			"account_id": accountID,
		}).WithError(err).Error("Failed to list zombie assets")
		return nil, err
	}

	return zombies, nil
}

// Remove deletes a blacklist entry. Called on explicit operator action or
// after a later successful lookup.
func (r *ZombieRepository) Remove(ctx context.Context, accountID uint, exchange, symbol string) error {
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND exchange = ? AND symbol = ?", accountID, exchange, symbol).
		Delete(&model.ZombieAsset{}).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "ZombieRepository",
			"op":     "Remove",
			"symbol": symbol,
		}).WithError(err).Error("Failed to remove zombie asset")
		return err
	}

	return nil
}
