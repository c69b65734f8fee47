package sigflow

import (
	"github.com/ghalamif/SigFlow/internal/adapters/demo"
	"github.com/ghalamif/SigFlow/internal/adapters/opcua"
	"github.com/ghalamif/SigFlow/internal/app/config"
	"github.com/ghalamif/SigFlow/internal/ports"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// DeviceConfig selects the driver and acquisition limits.
	DeviceConfig = config.DeviceConfig
	// DemoConfig shapes the pattern generator.
	DemoConfig = demo.Config
	// OPCUAConfig holds connection + node details.
	OPCUAConfig = opcua.Config
	// OPCUANodeConfig describes a monitored node shown as an analog channel.
	OPCUANodeConfig = opcua.NodeConfig
	// DecoderConfig stacks a decoder onto the capture.
	DecoderConfig = config.DecoderConfig
	// ExportConfig controls annotation export.
	ExportConfig = config.ExportConfig
	// Policy controls queue thresholds.
	Policy = ports.Policy
	// TimescaleConfig configures the sink.
	TimescaleConfig = config.TimescaleConfig
	// MetricsConfig configures the metrics HTTP server.
	MetricsConfig = config.MetricsConfig
	// LogConfig sets the log level.
	LogConfig = config.LogConfig
	// CaptureConfig names the capture log written after each capture.
	CaptureConfig = config.CaptureConfig
)

// LoadConfig loads YAML from disk using the internal config reader.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// DefaultConfig returns a demo-device configuration with every default applied.
func DefaultConfig() *Config {
	return config.Default()
}
