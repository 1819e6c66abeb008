package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"executioncore/src/database"
	"executioncore/src/model"
)

// StateRepository persists the trading state transition log and the durable
// kill switch flag. The kill switch row is shared state between the trader
// process and out-of-process tooling.
type StateRepository struct {
	db *gorm.DB
}

func NewStateRepository() *StateRepository {
	return &StateRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *StateRepository) WithDB(db *gorm.DB) *StateRepository {
	return &StateRepository{db: db}
}

// AppendTransition records one state transition with its reason.
func (r *StateRepository) AppendTransition(ctx context.Context, t *model.StateTransition) error {
	err := r.db.WithContext(ctx).Create(t).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "StateRepository",
			"op":   "AppendTransition",
			"from": t.From,
			"to":   t.To,
		}).WithError(err).Error("Failed to append state transition")
		return err
	}

	return nil
}

// LatestTransition returns the most recent transition, or (nil, nil) when
// the log is empty.
func (r *StateRepository) LatestTransition(ctx context.Context) (*model.StateTransition, error) {
	var t model.StateTransition

	err := r.db.WithContext(ctx).Order("id DESC").First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "StateRepository",
			"op":   "LatestTransition",
		}).WithError(err).Error("Failed to fetch latest transition")
		return nil, err
	}

	return &t, nil
}

// KillSwitch returns the current kill switch flag, or (nil, nil) when it has
// never been set.
func (r *StateRepository) KillSwitch(ctx context.Context) (*model.KillSwitchFlag, error) {
	var flag model.KillSwitchFlag

	err := r.db.WithContext(ctx).Order("id ASC").First(&flag).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "StateRepository",
			"op":   "KillSwitch",
		}).WithError(err).Error("Failed to fetch kill switch flag")
		return nil, err
	}

	return &flag, nil
}

// SetKillSwitch flips the durable flag, creating the row on first use.
func (r *StateRepository) SetKillSwitch(ctx context.Context, active bool, reason, actor string) error {
	flag, err := r.KillSwitch(ctx)
	if err != nil {
		return err
	}

	if flag == nil {
		flag = &model.KillSwitchFlag{}
	}

	flag.Active = active
	flag.Reason = reason
	flag.UpdatedBy = actor
	flag.UpdatedAt = time.Now().UTC()

	err = r.db.WithContext(ctx).Save(flag).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "StateRepository",
			"op":     "SetKillSwitch",
			"active": active,
			"actor":  actor,
		}).WithError(err).Error("Failed to set kill switch flag")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"active": active,
		"reason": reason,
		"actor":  actor,
	}).Warn("Kill switch flag updated")

	return nil
}
