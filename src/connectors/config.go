package connectors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	RequestTimeout  time.Duration `envconfig:"CONNECTOR_REQUEST_TIMEOUT" default:"15s"`
	RetryAttempts   int           `envconfig:"CONNECTOR_RETRY_ATTEMPTS" default:"5"`
	RetryBaseDelay  time.Duration `envconfig:"CONNECTOR_RETRY_BASE_DELAY" default:"500ms"`
	RetryMaxBackoff time.Duration `envconfig:"CONNECTOR_RETRY_MAX_BACKOFF" default:"8s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
