// Package config reads segflow settings from SEGFLOW_* environment variables.
package config

import (
	"github.com/caarlos0/env/v11"
)

// Config holds the dataset, batching and runtime settings. Command line flags
// may override any field after Load.
type Config struct {
	Dataset         string  `env:"SEGFLOW_DATASET"          envDefault:"cityscapes"`
	DatasetPath     string  `env:"SEGFLOW_DATASET_PATH"     envDefault:"datasets/cityscapes"`
	Palette         string  `env:"SEGFLOW_PALETTE"          envDefault:""`
	ValidationSplit float64 `env:"SEGFLOW_VALIDATION_SPLIT" envDefault:"0.1"`
	PrevFrames      int     `env:"SEGFLOW_PREV_FRAMES"      envDefault:"0"`
	Flow            string  `env:"SEGFLOW_FLOW"             envDefault:""`

	Height       int    `env:"SEGFLOW_HEIGHT"        envDefault:"256"`
	Width        int    `env:"SEGFLOW_WIDTH"         envDefault:"512"`
	BatchSize    int    `env:"SEGFLOW_BATCH_SIZE"    envDefault:"4"`
	Workers      int    `env:"SEGFLOW_WORKERS"       envDefault:"1"`
	QueueSize    int    `env:"SEGFLOW_QUEUE_SIZE"    envDefault:"8"`
	DebugSamples int    `env:"SEGFLOW_DEBUG_SAMPLES" envDefault:"0"`
	FlipRandomly bool   `env:"SEGFLOW_FLIP"          envDefault:"true"`
	ChannelOrder string `env:"SEGFLOW_CHANNEL_ORDER" envDefault:"bgr"`
	LabelLayout  string `env:"SEGFLOW_LABEL_LAYOUT"  envDefault:"grid"`
	Seed         int64  `env:"SEGFLOW_SEED"          envDefault:"0"`

	Model   string `env:"SEGFLOW_MODEL"   envDefault:"segnet"`
	Restart bool   `env:"SEGFLOW_RESTART" envDefault:"false"`

	MetricsPort int    `env:"SEGFLOW_METRICS_PORT" envDefault:"0"`
	LogLevel    string `env:"SEGFLOW_LOG_LEVEL"    envDefault:"info"`
	OutDir      string `env:"SEGFLOW_OUT_DIR"      envDefault:"plots"`
}

// Load parses the environment, falling back to the envDefault values.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
