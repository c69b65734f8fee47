package decode

import (
	"fmt"
	"sync"

	"github.com/ghalamif/SigFlow/internal/data"
	"github.com/ghalamif/SigFlow/internal/domain"
	"github.com/ghalamif/SigFlow/internal/ports"
)

// Binding is one decoder in a stack together with its channel assignments
// and option values.
type Binding struct {
	def *domain.DecoderDef

	mu       sync.RWMutex
	channels map[string]*data.Signal
	options  map[string]domain.Value
	shown    bool
}

func NewBinding(def *domain.DecoderDef) *Binding {
	return &Binding{
		def:      def,
		channels: make(map[string]*data.Signal),
		options:  make(map[string]domain.Value),
		shown:    true,
	}
}

func (b *Binding) Def() *domain.DecoderDef { return b.def }

// SetChannel assigns sig to decoder channel id. A nil sig clears it.
func (b *Binding) SetChannel(id string, sig *data.Signal) error {
	if !b.hasChannel(id) {
		return fmt.Errorf("decoder %s has no channel %q", b.def.ID, id)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if sig == nil {
		delete(b.channels, id)
		return nil
	}
	b.channels[id] = sig
	return nil
}

// SetChannels replaces all assignments. Unknown channel IDs are dropped.
func (b *Binding) SetChannels(m map[string]*data.Signal) {
	next := make(map[string]*data.Signal, len(m))
	for id, sig := range m {
		if sig != nil && b.hasChannel(id) {
			next[id] = sig
		}
	}
	b.mu.Lock()
	b.channels = next
	b.mu.Unlock()
}

func (b *Binding) Channels() map[string]*data.Signal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]*data.Signal, len(b.channels))
	for k, v := range b.channels {
		out[k] = v
	}
	return out
}

// SetOption stores v for option id. Options the decoder does not declare
// are ignored.
func (b *Binding) SetOption(id string, v domain.Value) {
	if _, ok := b.def.Option(id); !ok {
		return
	}
	b.mu.Lock()
	b.options[id] = v
	b.mu.Unlock()
}

// Option returns the configured value of id, or its default.
func (b *Binding) Option(id string) (domain.Value, bool) {
	b.mu.RLock()
	v, ok := b.options[id]
	b.mu.RUnlock()
	if ok {
		return v, true
	}
	opt, ok := b.def.Option(id)
	if !ok {
		return domain.Value{}, false
	}
	return opt.Default, true
}

func (b *Binding) Options() map[string]domain.Value {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]domain.Value, len(b.options))
	for k, v := range b.options {
		out[k] = v
	}
	return out
}

// HaveRequiredChannels reports whether every required channel is bound.
func (b *Binding) HaveRequiredChannels() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.def.Channels {
		if b.channels[ch.ID] == nil {
			return false
		}
	}
	return true
}

func (b *Binding) Shown() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.shown
}

func (b *Binding) Show(v bool) {
	b.mu.Lock()
	b.shown = v
	b.mu.Unlock()
}

func (b *Binding) hasChannel(id string) bool {
	for _, ch := range b.def.AllChannels() {
		if ch.ID == id {
			return true
		}
	}
	return false
}

// logicData is the container of the first bound logic signal.
func (b *Binding) logicData() *data.Logic {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.def.AllChannels() {
		if sig := b.channels[ch.ID]; sig != nil && sig.LogicData() != nil {
			return sig.LogicData()
		}
	}
	return nil
}

func (b *Binding) instanceConfig(unitSize int, samplerate uint64) ports.InstanceConfig {
	b.mu.RLock()
	defer b.mu.RUnlock()
	cfg := ports.InstanceConfig{
		DecoderID:  b.def.ID,
		Channels:   make(map[string]int, len(b.channels)),
		Options:    make(map[string]domain.Value, len(b.def.Options)),
		UnitSize:   unitSize,
		SampleRate: samplerate,
	}
	for id, sig := range b.channels {
		cfg.Channels[id] = sig.Channel().Index
	}
	for _, opt := range b.def.Options {
		v, ok := b.options[opt.ID]
		if !ok {
			v = opt.Default
		}
		cfg.Options[opt.ID] = v
	}
	return cfg
}
