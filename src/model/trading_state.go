package model

import "time"

// TradingState is the single process-wide trading mode.
type TradingState string

const (
	StateOff                     TradingState = "OFF"
	StateDryRun                  TradingState = "DRY_RUN"
	StateLivePendingConfirmation TradingState = "LIVE_PENDING_CONFIRMATION"
	StateLiveActive              TradingState = "LIVE_ACTIVE"
	StateEmergencyStop           TradingState = "EMERGENCY_STOP"
)

// StateTransition is one entry of the trading state transition log. Every
// transition, including kill switch activations, carries an operator-readable
// reason.
type StateTransition struct {
	ID        uint         `gorm:"primaryKey" json:"id"`
	From      TradingState `gorm:"size:30;not null;column:from_state" json:"from"`
	To        TradingState `gorm:"size:30;not null;column:to_state" json:"to"`
	Reason    string       `gorm:"size:255;not null" json:"reason"`
	Actor     string       `gorm:"size:60" json:"actor,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

func (StateTransition) TableName() string {
	return "state_transitions"
}

// KillSwitchFlag is the durable emergency flag. It lives in its own table so
// out-of-process tooling (the killswitch CLI command) can flip it while the
// trader is running, or while it is down.
type KillSwitchFlag struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Active    bool      `gorm:"not null" json:"active"`
	Reason    string    `gorm:"size:255;not null" json:"reason"`
	UpdatedBy string    `gorm:"size:60" json:"updated_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (KillSwitchFlag) TableName() string {
	return "kill_switch_flags"
}
