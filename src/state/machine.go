package state

import (
	"context"
	"errors"
	"fmt"
	"sync"

	logger "github.com/sirupsen/logrus"

	"executioncore/src/model"
)

var (
	ErrKillSwitchActive  = errors.New("kill switch is active")
	ErrInvalidTransition = errors.New("invalid trading state transition")
)

// Store is the durable backing of the state machine: the transition log and
// the kill switch flag. Satisfied by repository.StateRepository.
type Store interface {
	AppendTransition(ctx context.Context, t *model.StateTransition) error
	LatestTransition(ctx context.Context) (*model.StateTransition, error)
	KillSwitch(ctx context.Context) (*model.KillSwitchFlag, error)
	SetKillSwitch(ctx context.Context, active bool, reason, actor string) error
}

// Machine holds the single process-wide trading state. The kill switch
// dominates it: while the flag is active, Current reports EMERGENCY_STOP no
// matter what in-process logic thinks, and nothing but RestoreSafeMode (with
// the switch deactivated first) leads back out.
type Machine struct {
	mu      sync.Mutex
	current model.TradingState
	store   Store
}

// NewMachine restores the last logged state from the store. A machine with
// an empty log starts in OFF. A process that went down while LIVE_ACTIVE does
// not come back live: the confirmation belongs to the run that obtained it,
// so the restored state is demoted to LIVE_PENDING_CONFIRMATION and a fresh
// ConfirmLive is required.
func NewMachine(ctx context.Context, store Store) (*Machine, error) {
	m := &Machine{current: model.StateOff, store: store}

	last, err := store.LatestTransition(ctx)
	if err != nil {
		return nil, err
	}
	if last != nil {
		m.current = last.To
	}

	if m.current == model.StateLiveActive {
		logger.Warn("restored state was LIVE_ACTIVE, demoting: restart invalidates the live confirmation")
		if err := m.record(ctx, model.StateLivePendingConfirmation,
			"process restart requires fresh live confirmation", "system"); err != nil {
			return nil, err
		}
	}

	logger.WithField("state", m.current).Info("trading state machine restored")
	return m, nil
}

// Current returns the effective state after consulting the kill switch.
// An active switch forces EMERGENCY_STOP on this check and pins it.
func (m *Machine) Current(ctx context.Context) model.TradingState {
	m.mu.Lock()
	defer m.mu.Unlock()

	flag, err := m.store.KillSwitch(ctx)
	if err != nil {
		// Fail safe: an unreadable switch is treated as thrown.
		logger.WithError(err).Error("failed to read kill switch, assuming active")
		m.forceEmergency(ctx, "kill switch state unreadable")
		return m.current
	}

	if flag != nil && flag.Active && m.current != model.StateEmergencyStop {
		m.forceEmergency(ctx, fmt.Sprintf("kill switch active: %s", flag.Reason))
	}

	return m.current
}

// LiveTradingAllowed reports whether real orders may leave the process.
func (m *Machine) LiveTradingAllowed(ctx context.Context) bool {
	return m.Current(ctx) == model.StateLiveActive
}

// Transition moves the machine along one sanctioned edge. LIVE_ACTIVE is not
// reachable here; use ConfirmLive. EMERGENCY_STOP is not exitable here; use
// RestoreSafeMode.
func (m *Machine) Transition(ctx context.Context, to model.TradingState, reason, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if to == model.StateLiveActive {
		return fmt.Errorf("%w: %s -> %s requires explicit live confirmation", ErrInvalidTransition, m.current, to)
	}

	if m.current == model.StateEmergencyStop && to != model.StateEmergencyStop {
		return fmt.Errorf("%w: %s can only be left through restore_safe_mode", ErrInvalidTransition, m.current)
	}

	if !allowed(m.current, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.current, to)
	}

	return m.record(ctx, to, reason, actor)
}

// ConfirmLive is the sole path into LIVE_ACTIVE. It requires the machine to
// already be in LIVE_PENDING_CONFIRMATION and the kill switch to be off, and
// it writes its own transition log entry.
func (m *Machine) ConfirmLive(ctx context.Context, reason, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != model.StateLivePendingConfirmation {
		return fmt.Errorf("%w: live confirmation only from %s, currently %s",
			ErrInvalidTransition, model.StateLivePendingConfirmation, m.current)
	}

	flag, err := m.store.KillSwitch(ctx)
	if err != nil {
		return err
	}
	if flag != nil && flag.Active {
		return ErrKillSwitchActive
	}

	logger.WithFields(map[string]interface{}{
		"actor":  actor,
		"reason": reason,
	}).Warn("LIVE trading confirmed")

	return m.record(ctx, model.StateLiveActive, reason, actor)
}

// RestoreSafeMode is the sole sanctioned path out of EMERGENCY_STOP. It
// drives EMERGENCY_STOP -> OFF -> DRY_RUN and fails loudly while the kill
// switch is still active.
func (m *Machine) RestoreSafeMode(ctx context.Context, reason, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	flag, err := m.store.KillSwitch(ctx)
	if err != nil {
		return err
	}
	if flag != nil && flag.Active {
		logger.WithField("reason", flag.Reason).Error("restore_safe_mode refused: kill switch still active")
		return ErrKillSwitchActive
	}

	if m.current != model.StateEmergencyStop {
		return fmt.Errorf("%w: restore_safe_mode only from %s, currently %s",
			ErrInvalidTransition, model.StateEmergencyStop, m.current)
	}

	if err := m.record(ctx, model.StateOff, reason, actor); err != nil {
		return err
	}

	return m.record(ctx, model.StateDryRun, reason, actor)
}

// ActivateKillSwitch throws the durable flag and forces EMERGENCY_STOP
// immediately, not just on the next check.
func (m *Machine) ActivateKillSwitch(ctx context.Context, reason, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.SetKillSwitch(ctx, true, reason, actor); err != nil {
		return err
	}

	if m.current != model.StateEmergencyStop {
		m.forceEmergency(ctx, reason)
	}

	return nil
}

// DeactivateKillSwitch clears the flag with a recorded reason. The machine
// stays in EMERGENCY_STOP until restore_safe_mode is called.
func (m *Machine) DeactivateKillSwitch(ctx context.Context, reason, actor string) error {
	return m.store.SetKillSwitch(ctx, false, reason, actor)
}

// forceEmergency transitions into EMERGENCY_STOP unconditionally.
// Caller holds m.mu.
func (m *Machine) forceEmergency(ctx context.Context, reason string) {
	if m.current == model.StateEmergencyStop {
		return
	}

	if err := m.record(ctx, model.StateEmergencyStop, reason, "kill-switch"); err != nil {
		// The in-memory state still flips; only the log entry is lost.
		logger.WithError(err).Error("failed to log emergency stop transition")
		m.current = model.StateEmergencyStop
	}
}

// record writes the transition log entry and applies the new state.
// Caller holds m.mu.
func (m *Machine) record(ctx context.Context, to model.TradingState, reason, actor string) error {
	entry := &model.StateTransition{
		From:   m.current,
		To:     to,
		Reason: reason,
		Actor:  actor,
	}

	if err := m.store.AppendTransition(ctx, entry); err != nil {
		return err
	}

	logger.WithFields(map[string]interface{}{
		"from":   m.current,
		"to":     to,
		"reason": reason,
		"actor":  actor,
	}).Warn("trading state transition")

	m.current = to
	return nil
}

// allowed encodes the sanctioned edges reachable through Transition.
func allowed(from, to model.TradingState) bool {
	if to == model.StateEmergencyStop {
		// The emergency state is reachable from everywhere.
		return true
	}

	switch from {
	case model.StateOff:
		return to == model.StateDryRun
	case model.StateDryRun:
		return to == model.StateOff || to == model.StateLivePendingConfirmation
	case model.StateLivePendingConfirmation:
		return to == model.StateOff || to == model.StateDryRun
	case model.StateLiveActive:
		return to == model.StateOff || to == model.StateDryRun
	default:
		return false
	}
}
