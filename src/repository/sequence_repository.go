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

// SequenceRepository stores the durable checkpoint of each sequence
// generator scope.
type SequenceRepository struct {
	db *gorm.DB
}

func NewSequenceRepository() *SequenceRepository {
	return &SequenceRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *SequenceRepository) WithDB(db *gorm.DB) *SequenceRepository {
	return &SequenceRepository{db: db}
}

// Load returns the checkpointed value for a scope, or 0 when the scope has
// never been checkpointed.
func (r *SequenceRepository) Load(ctx context.Context, scope string) (int64, error) {
	var cp model.SequenceCheckpoint

	err := r.db.WithContext(ctx).Where("scope = ?", scope).First(&cp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":  "SequenceRepository",
			"op":    "Load",
			"scope": scope,
		}).WithError(err).Error("Failed to load sequence checkpoint")
		return 0, err
	}

	return cp.Value, nil
}

// Store upserts the checkpoint for a scope. Callers only ever write
// increasing values per scope (one generator owns each scope).
func (r *SequenceRepository) Store(ctx context.Context, scope string, value int64) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "scope"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&model.SequenceCheckpoint{Scope: scope, Value: value}).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":  "SequenceRepository",
			"op":    "Store",
			"scope": scope,
			"value": value,
		}).WithError(err).Error("Failed to store sequence checkpoint")
		return err
	}

	return nil
}
