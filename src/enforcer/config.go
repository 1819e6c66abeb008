package enforcer

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Interval         time.Duration `envconfig:"ENFORCER_INTERVAL" default:"15s"`
	MaxOpenPositions int           `envconfig:"ENFORCER_MAX_OPEN_POSITIONS" default:"3"`
	StaleOrderMaxAge time.Duration `envconfig:"ENFORCER_STALE_ORDER_MAX_AGE" default:"30m"`
	// FragmentationWarnFraction triggers a fragmentation alert when held
	// capital exceeds this fraction of the account balance.
	FragmentationWarnFraction string `envconfig:"ENFORCER_FRAGMENTATION_WARN_FRACTION" default:"0.30"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
