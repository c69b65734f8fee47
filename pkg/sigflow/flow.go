package sigflow

import (
	"context"
	"fmt"
)

// Flow is a convenience builder that lets callers say Conf → Decode → Output
// → Run without touching the underlying wiring.
type Flow struct {
	cfg  *Config
	opts []RuntimeOption
}

// FlowOption mutates the Flow after configuration is loaded.
type FlowOption func(*Flow)

// Conf loads YAML from disk, applies FlowOption values, and returns a Flow builder.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return ConfFromConfig(cfg, opts...)
}

// ConfFromConfig bootstraps a Flow from an in-memory Config.
func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	f := &Flow{cfg: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f, nil
}

// Config returns the underlying configuration so callers can tweak it before building a runtime.
func (f *Flow) Config() *Config {
	if f == nil {
		return nil
	}
	return f.cfg
}

// Options appends raw RuntimeOption values to the builder for advanced scenarios.
func (f *Flow) Options(opts ...RuntimeOption) *Flow {
	if f == nil {
		return nil
	}
	f.appendOptions(opts...)
	return f
}

// Decode stacks decoder id onto the capture. channels maps decoder channel
// IDs to signal names; anything left out is auto-bound by name.
func (f *Flow) Decode(id string, channels, options map[string]string) *Flow {
	if f == nil {
		return nil
	}
	f.cfg.Decoders = append(f.cfg.Decoders, DecoderConfig{ID: id, Channels: channels, Options: options})
	return f
}

// Output writes the finished capture to a capture log at path.
func (f *Flow) Output(path string) *Flow {
	if f == nil {
		return nil
	}
	f.cfg.Capture.Output = path
	return f
}

// Sink exports every committed annotation to s.
func (f *Flow) Sink(s AnnotationSink) *Flow {
	if f == nil {
		return nil
	}
	if s != nil {
		f.appendOptions(WithSink(s))
	}
	return f
}

// Callback exports annotations through fn.
func (f *Flow) Callback(name string, fn AnnotationBatchSink) *Flow {
	return f.Sink(NewCallbackSink(name, fn))
}

// Build creates the Runtime.
func (f *Flow) Build() (*Runtime, error) {
	if f == nil {
		return nil, fmt.Errorf("flow is nil")
	}
	return NewRuntime(f.cfg, f.opts...)
}

// Run is a shortcut for Build + runtime.Run.
func (f *Flow) Run(ctx context.Context) (*CaptureSummary, error) {
	rt, err := f.Build()
	if err != nil {
		return nil, err
	}
	return rt.Run(ctx)
}

// WithFlowOptions appends RuntimeOption values during Conf.
func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return func(f *Flow) {
		if f != nil {
			f.appendOptions(opts...)
		}
	}
}

func (f *Flow) appendOptions(opts ...RuntimeOption) {
	for _, opt := range opts {
		if opt != nil {
			f.opts = append(f.opts, opt)
		}
	}
}
