package orchestrator

import (
	"context"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"

	"executioncore/src/gateway"
	"executioncore/src/model"
)

// runPair is the long-running cycle for one (account, exchange) pair. On an
// unhandled error it logs, backs off and resumes; it never returns before
// ctx is cancelled.
func (o *Orchestrator) runPair(ctx context.Context, pair Pair) {
	log := logger.WithFields(map[string]interface{}{
		"account":  pair.Account.Name,
		"exchange": pair.Link.Exchange,
	})

	log.Info("pair runner started")

	ticker := time.NewTicker(o.cfg.CycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("pair runner stopped")
			return
		case <-ticker.C:
			if err := o.runCycle(ctx, pair); err != nil {
				log.WithError(err).Error("cycle failed, backing off")

				select {
				case <-ctx.Done():
					log.Info("pair runner stopped during backoff")
					return
				case <-time.After(o.cfg.ErrorBackoff):
				}
			}
		}
	}
}

// runCycle consults the state machine, asks the strategy for intents and
// routes them through the gateway. Panics from the strategy layer are
// contained here so a broken strategy cannot kill the runner.
func (o *Orchestrator) runCycle(ctx context.Context, pair Pair) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panicked: %v", r)
		}
	}()

	current := o.machine.Current(ctx)

	switch current {
	case model.StateEmergencyStop, model.StateOff, model.StateLivePendingConfirmation:
		logger.WithFields(map[string]interface{}{
			"account": pair.Account.Name,
			"state":   current,
		}).Debug("trading disabled, cycle skipped")
		return nil
	case model.StateDryRun, model.StateLiveActive:
		// Decisions run; DRY_RUN stops short of placing orders.
	}

	intents, err := o.strategy.Decide(ctx, pair.Account.ID, pair.Link.Exchange)
	if err != nil {
		return fmt.Errorf("strategy decide failed: %w", err)
	}

	live := current == model.StateLiveActive

	for _, intent := range intents {
		if !live {
			logger.WithFields(map[string]interface{}{
				"account": pair.Account.Name,
				"action":  intent.Action,
				"symbol":  intent.Symbol,
				"side":    intent.Side,
				"qty":     intent.Quantity.String(),
			}).Info("dry run: intent not executed")
			continue
		}

		o.execute(ctx, pair, intent)
	}

	return nil
}

// execute routes one intent. Per-intent failures are logged and do not
// abort the rest of the cycle.
func (o *Orchestrator) execute(ctx context.Context, pair Pair, intent Intent) {
	log := logger.WithFields(map[string]interface{}{
		"account":  pair.Account.Name,
		"exchange": pair.Link.Exchange,
		"symbol":   intent.Symbol,
	})

	switch intent.Action {
	case IntentOpen:
		fill, err := pair.Gateway.SubmitEntry(ctx, gateway.EntryRequest{
			Symbol:        intent.Symbol,
			Side:          intent.Side,
			Quantity:      intent.Quantity,
			ExpectedPrice: intent.ExpectedPrice,
		})
		if err != nil {
			log.WithError(err).Error("entry intent failed")
			return
		}
		log.WithField("position_id", fill.PositionID).Info("entry intent executed")

	case IntentClose:
		fill, err := pair.Gateway.SubmitExit(ctx, gateway.ExitRequest{
			PositionID: intent.PositionID,
			Symbol:     intent.Symbol,
			Side:       intent.Side,
			Quantity:   intent.Quantity,
		})
		if err != nil {
			log.WithError(err).Error("exit intent failed")
			return
		}
		log.WithField("order_id", fill.OrderID).Info("exit intent executed")

	default:
		log.WithField("action", intent.Action).Warn("unknown intent action ignored")
	}
}
