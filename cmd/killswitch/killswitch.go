package killswitch

import (
	"context"
	"fmt"

	logger "github.com/sirupsen/logrus"

	"executioncore/src/database"
	"executioncore/src/repository"
)

// KillSwitch flips the durable flag straight in the database. This path has
// to work while the daemon is down or wedged, which is exactly when the
// switch matters; a running daemon picks the flag up on its next state check.
type KillSwitch struct {
	Activate bool
	Reason   string
	Actor    string
}

func (k *KillSwitch) Start() error {
	if k.Reason == "" {
		return fmt.Errorf("a reason is required")
	}

	if err := database.InitMainDB(); err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}

	ctx := context.Background()
	repo := repository.NewStateRepository()

	if err := repo.SetKillSwitch(ctx, k.Activate, k.Reason, k.Actor); err != nil {
		return err
	}

	if k.Activate {
		logger.WithField("reason", k.Reason).Warn("kill switch ACTIVATED")
	} else {
		logger.WithField("reason", k.Reason).Warn("kill switch deactivated; trading stays in EMERGENCY_STOP until restore_safe_mode")
	}

	return nil
}
