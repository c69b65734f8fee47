package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ghalamif/SigFlow/internal/adapters/demo"
	"github.com/ghalamif/SigFlow/internal/adapters/observability"
	"github.com/ghalamif/SigFlow/internal/adapters/opcua"
	"github.com/ghalamif/SigFlow/internal/ports"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Device   DeviceConfig    `yaml:"device"`
	Demo     demo.Config     `yaml:"demo"`
	OPCUA    opcua.Config    `yaml:"opcua"`
	Decoders []DecoderConfig `yaml:"decoders"`
	Export   ExportConfig    `yaml:"export"`
	Metrics  MetricsConfig   `yaml:"metrics"`
	Log      LogConfig       `yaml:"log"`
	Capture  CaptureConfig   `yaml:"capture"`
}

type DeviceConfig struct {
	Driver      string `yaml:"driver"`
	File        string `yaml:"file"`
	SampleLimit uint64 `yaml:"sample_limit"`
	Samplerate  uint64 `yaml:"samplerate"`
	Trigger     string `yaml:"trigger"`
}

// DecoderConfig stacks one decoder onto the session. Channels map decoder
// channel IDs to device channel names; unmapped channels are auto-bound.
type DecoderConfig struct {
	ID       string            `yaml:"id"`
	Channels map[string]string `yaml:"channels"`
	Options  map[string]string `yaml:"options"`
}

type ExportConfig struct {
	Policy    ports.Policy    `yaml:"policy"`
	Timescale TimescaleConfig `yaml:"timescale"`
}

// Enabled reports whether annotations are exported to a database.
func (e ExportConfig) Enabled() bool { return e.Timescale.ConnString != "" }

type TimescaleConfig struct {
	ConnString string `yaml:"conn_string"`
	Table      string `yaml:"table"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type CaptureConfig struct {
	Output string `yaml:"output"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default is the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Device.Driver == "" {
		c.Device.Driver = demo.DriverName
	}
	if c.Device.SampleLimit == 0 {
		c.Device.SampleLimit = 1_000_000
	}
	if c.Export.Policy.MaxQueueLen == 0 {
		c.Export.Policy.MaxQueueLen = 100_000
	}
	if c.Export.Policy.MaxBatchSize == 0 {
		c.Export.Policy.MaxBatchSize = 5_000
	}
	if c.Export.Policy.IdleSleep == 0 {
		c.Export.Policy.IdleSleep = 5 * time.Millisecond
	}
	if c.Export.Policy.OnQueueFull == "" {
		c.Export.Policy.OnQueueFull = "block"
	}
	if c.Export.Timescale.Table == "" {
		c.Export.Timescale.Table = "annotations"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	c.Demo.Samplerate = c.Device.Samplerate
	c.Demo.SampleLimit = c.Device.SampleLimit
	if c.Device.Driver == opcua.DriverName {
		c.OPCUA.ApplyDefaults()
	}
}

func (c *Config) validate() error {
	switch c.Device.Driver {
	case demo.DriverName:
	case opcua.DriverName:
		if err := c.OPCUA.Validate(); err != nil {
			return fmt.Errorf("opcua config: %w", err)
		}
	case "file":
		if c.Device.File == "" {
			return fmt.Errorf("device.file is required for the file driver")
		}
	default:
		return fmt.Errorf("device.driver %q is not one of demo, opcua, file", c.Device.Driver)
	}
	for i, d := range c.Decoders {
		if d.ID == "" {
			return fmt.Errorf("decoders[%d].id is required", i)
		}
	}
	switch c.Export.Policy.OnQueueFull {
	case "block", "drop", "reject":
	default:
		return fmt.Errorf("export.policy.on_queue_full %q is not one of block, drop, reject", c.Export.Policy.OnQueueFull)
	}
	if _, err := observability.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}
