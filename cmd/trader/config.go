package trader

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// ServerPort is the listen port of the operator HTTP surface.
	ServerPort string `envconfig:"SERVER_PORT" default:"8080"`
	// PriceStreamURL is the websocket ticker feed. When empty, reconciliation
	// falls back to REST price lookups only.
	PriceStreamURL string `envconfig:"PRICE_STREAM_URL"`
	// PriceStreamPairs are the symbols to subscribe to on the stream.
	PriceStreamPairs []string `envconfig:"PRICE_STREAM_PAIRS"`
	// PriceStreamMaxAge is how long a streamed quote stays usable.
	PriceStreamMaxAge time.Duration `envconfig:"PRICE_STREAM_MAX_AGE" default:"30s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
