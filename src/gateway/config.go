package gateway

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// MaxSlippageFraction is the adverse fill tolerance on entries; fills
	// worse than expected by more than this fraction are unwound.
	MaxSlippageFraction string `envconfig:"GATEWAY_MAX_SLIPPAGE_FRACTION" default:"0.005"`
	// BalanceSafetyMargin is the fraction of balance entries may
	// over-commit before being refused.
	BalanceSafetyMargin string `envconfig:"GATEWAY_BALANCE_SAFETY_MARGIN" default:"0.01"`
	// CallTimeout bounds one exchange round-trip, lock wait included.
	CallTimeout time.Duration `envconfig:"GATEWAY_CALL_TIMEOUT" default:"20s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
