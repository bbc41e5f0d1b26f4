package config

import (
	"fmt"
	"time"
)

// Config represents a sluice.yaml configuration file.
// All values are optional and act as defaults for sluice run flags.
// CLI flags always override config values.
type Config struct {
	URI          string        `yaml:"uri"`
	Workers      int           `yaml:"workers"`
	Combiner     string        `yaml:"combiner"`
	BufferSize   int           `yaml:"buffer_size"`
	PauseTimeout Duration      `yaml:"pause_timeout"`
	Tick         TickConfig    `yaml:"tick"`
	Write        string        `yaml:"write"`
	Output       OutputConfig  `yaml:"output"`
	Adapter      AdapterConfig `yaml:"adapter"`
	Log          LogConfig     `yaml:"log"`
}

// TickConfig holds tick defaults.
type TickConfig struct {
	Interval Duration `yaml:"interval"`
	Count    uint64   `yaml:"count"`
}

// OutputConfig holds results dataset defaults.
type OutputConfig struct {
	Dataset     string `yaml:"dataset"`
	Backend     string `yaml:"backend"` // fs, s3 or none
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
	IncludeData bool   `yaml:"include_data"`
	BatchSize   int    `yaml:"batch_size"`
}

// AdapterConfig holds completion adapter defaults.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// LogConfig holds logging defaults.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if parsed < 0 {
		return fmt.Errorf("duration %q must not be negative", s)
	}
	d.Duration = parsed
	return nil
}
