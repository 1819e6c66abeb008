package sequence

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// CheckpointEvery is how many issued values may pass between durable
	// checkpoint writes.
	CheckpointEvery int64 `envconfig:"SEQUENCE_CHECKPOINT_EVERY" default:"64"`
	// WarmupWindow is how long after process start the burst limiter stays
	// active. Zero disables it.
	WarmupWindow time.Duration `envconfig:"SEQUENCE_WARMUP_WINDOW" default:"30s"`
	// WarmupMaxPerSecond caps the call rate inside the warm-up window.
	WarmupMaxPerSecond int `envconfig:"SEQUENCE_WARMUP_MAX_PER_SECOND" default:"8"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
