package orchestrator

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	CycleInterval time.Duration `envconfig:"ORCHESTRATOR_CYCLE_INTERVAL" default:"30s"`
	ErrorBackoff  time.Duration `envconfig:"ORCHESTRATOR_ERROR_BACKOFF" default:"1m"`
	// MinBalance is the minimum available quote balance for a pair to be
	// eligible to run at all.
	MinBalance string `envconfig:"ORCHESTRATOR_MIN_BALANCE" default:"10"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
