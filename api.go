package sigflow

import (
	base "github.com/ghalamif/SigFlow/pkg/sigflow"
)

// Re-exported errors for convenience.
var (
	ErrChannelSinkClosed = base.ErrChannelSinkClosed
)

// Type aliases so consumers can import github.com/ghalamif/SigFlow directly.
type (
	Config              = base.Config
	DeviceConfig        = base.DeviceConfig
	DemoConfig          = base.DemoConfig
	OPCUAConfig         = base.OPCUAConfig
	OPCUANodeConfig     = base.OPCUANodeConfig
	DecoderConfig       = base.DecoderConfig
	ExportConfig        = base.ExportConfig
	Policy              = base.Policy
	TimescaleConfig     = base.TimescaleConfig
	MetricsConfig       = base.MetricsConfig
	LogConfig           = base.LogConfig
	CaptureConfig       = base.CaptureConfig
	Flow                = base.Flow
	FlowOption          = base.FlowOption
	Runtime             = base.Runtime
	RuntimeOption       = base.RuntimeOption
	CaptureSummary      = base.CaptureSummary
	DecoderSummary      = base.DecoderSummary
	Annotation          = base.Annotation
	ExportedAnnotation  = base.ExportedAnnotation
	AnnotationBatchSink = base.AnnotationBatchSink
	AnnotationQueue     = base.AnnotationQueue
	AnnotationSink      = base.AnnotationSink
	Driver              = base.Driver
	Device              = base.Device
	DecodeEngine        = base.DecodeEngine
	DecoderDef          = base.DecoderDef
	Observability       = base.Observability
	Field               = base.Field
	CaptureState        = base.CaptureState
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func DefaultConfig() *Config {
	return base.DefaultConfig()
}

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return base.WithFlowOptions(opts...)
}

// Runtime and options.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

func WithDriver(d Driver) RuntimeOption {
	return base.WithDriver(d)
}

func WithDecodeEngine(e DecodeEngine) RuntimeOption {
	return base.WithDecodeEngine(e)
}

func WithSink(s AnnotationSink) RuntimeOption {
	return base.WithSink(s)
}

func WithAnnotationQueue(q AnnotationQueue) RuntimeOption {
	return base.WithAnnotationQueue(q)
}

func WithObservability(obs Observability) RuntimeOption {
	return base.WithObservability(obs)
}

// Sink adapters.
func NewCallbackSink(name string, fn AnnotationBatchSink) AnnotationSink {
	return base.NewCallbackSink(name, fn)
}

func NewChannelSink(name string, buffer int) (AnnotationSink, <-chan []ExportedAnnotation, func()) {
	return base.NewChannelSink(name, buffer)
}
