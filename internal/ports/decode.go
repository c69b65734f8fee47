package ports

import "github.com/ghalamif/SigFlow/internal/domain"

// InstanceConfig binds a decoder to channel indices and option values.
type InstanceConfig struct {
	DecoderID  string
	Channels   map[string]int
	Options    map[string]domain.Value
	UnitSize   int
	SampleRate uint64
}

// DecodeEngine constructs decoder instances.
type DecodeEngine interface {
	Decoders() []*domain.DecoderDef
	Lookup(id string) (*domain.DecoderDef, error)
	NewInstance(cfg InstanceConfig, emit func(domain.Annotation)) (DecoderInstance, error)
}

// DecoderInstance consumes unit-size-aligned sample bytes starting at
// startSample and reports annotations through the emit callback.
type DecoderInstance interface {
	Decode(startSample uint64, data []byte) error
	Close() error
}
