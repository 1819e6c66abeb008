package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"executioncore/src/database"
	"executioncore/src/model"
)

// PositionRepository persists positions, including those adopted from
// exchange state during reconciliation.
type PositionRepository struct {
	db *gorm.DB
}

func NewPositionRepository() *PositionRepository {
	return &PositionRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *PositionRepository) WithDB(db *gorm.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// Save upserts a position by ID.
func (r *PositionRepository) Save(ctx context.Context, pos *model.Position) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(pos).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":        "PositionRepository",
			"op":          "Save",
			"position_id": pos.ID,
			"symbol":      pos.Symbol,
		}).WithError(err).Error("Failed to save position")
		return err
	}

	return nil
}

// FindOpenBySymbol returns the open position for (account, exchange, symbol),
// or (nil, nil) when none exists. Reconciliation uses this for its
// at-most-once adoption guarantee.
func (r *PositionRepository) FindOpenBySymbol(ctx context.Context, accountID uint, exchange, symbol string) (*model.Position, error) {
	var pos model.Position

	err := r.db.WithContext(ctx).
		Where("account_id = ? AND exchange = ? AND symbol = ? AND status = ?",
			accountID, exchange, symbol, model.PositionStatusOpen).
		First(&pos).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":   "PositionRepository",
			"op":     "FindOpenBySymbol",
			"symbol": symbol,
		}).WithError(err).Error("Failed to fetch position")
		return nil, err
	}

	return &pos, nil
}

// FindOpen lists open positions for one (account, exchange) pair.
func (r *PositionRepository) FindOpen(ctx context.Context, accountID uint, exchange string) ([]model.Position, error) {
	var positions []model.Position

	err := r.db.WithContext(ctx).
		Where("account_id = ? AND exchange = ? AND status = ?",
			accountID, exchange, model.PositionStatusOpen).
		Order("opened_at ASC").
		Find(&positions).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "PositionRepository",
			"op":         "FindOpen",
			"account_id": accountID,
			"exchange":   exchange,
		}).WithError(err).Error("Failed to fetch open positions")
		return nil, err
	}

	return positions, nil
}

// Close marks a position closed.
func (r *PositionRepository) Close(ctx context.Context, id string) error {
	now := time.Now().UTC()

	err := r.db.WithContext(ctx).
		Model(&model.Position{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     model.PositionStatusClosed,
			"closed_at":  now,
			"updated_at": now,
		}).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "PositionRepository",
			"op":   "Close",
			"id":   id,
		}).WithError(err).Error("Failed to close position")
		return err
	}

	return nil
}
