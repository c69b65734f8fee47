// Package decoders is a small built-in protocol decode engine.
package decoders

import (
	"fmt"
	"sort"

	"github.com/ghalamif/SigFlow/internal/domain"
	"github.com/ghalamif/SigFlow/internal/ports"
)

type factory func(cfg ports.InstanceConfig, emit func(domain.Annotation)) (ports.DecoderInstance, error)

type entry struct {
	def *domain.DecoderDef
	new factory
}

type Engine struct {
	entries map[string]entry
}

// NewEngine returns an engine with the edges, pulse and uart decoders.
func NewEngine() *Engine {
	e := &Engine{entries: make(map[string]entry)}
	e.register(edgesDef, newEdges)
	e.register(pulseDef, newPulse)
	e.register(uartDef, newUART)
	return e
}

func (e *Engine) register(def *domain.DecoderDef, f factory) {
	e.entries[def.ID] = entry{def: def, new: f}
}

// Decoders lists the definitions ordered by ID.
func (e *Engine) Decoders() []*domain.DecoderDef {
	out := make([]*domain.DecoderDef, 0, len(e.entries))
	for _, en := range e.entries {
		out = append(out, en.def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (e *Engine) Lookup(id string) (*domain.DecoderDef, error) {
	en, ok := e.entries[id]
	if !ok {
		return nil, fmt.Errorf("unknown decoder %q", id)
	}
	return en.def, nil
}

func (e *Engine) NewInstance(cfg ports.InstanceConfig, emit func(domain.Annotation)) (ports.DecoderInstance, error) {
	en, ok := e.entries[cfg.DecoderID]
	if !ok {
		return nil, fmt.Errorf("unknown decoder %q", cfg.DecoderID)
	}
	if cfg.UnitSize <= 0 {
		return nil, fmt.Errorf("%s: invalid unit size %d", cfg.DecoderID, cfg.UnitSize)
	}
	for _, ch := range en.def.Channels {
		if _, ok := cfg.Channels[ch.ID]; !ok {
			return nil, fmt.Errorf("%s: channel %q not bound", cfg.DecoderID, ch.ID)
		}
	}
	known := make(map[string]bool, len(en.def.Channels)+len(en.def.OptChannels))
	for _, ch := range en.def.AllChannels() {
		known[ch.ID] = true
	}
	for id, idx := range cfg.Channels {
		if !known[id] {
			return nil, fmt.Errorf("%s: no channel %q", cfg.DecoderID, id)
		}
		if idx < 0 || idx >= cfg.UnitSize*8 {
			return nil, fmt.Errorf("%s: channel %q index %d outside %d-byte samples", cfg.DecoderID, id, idx, cfg.UnitSize)
		}
	}
	if emit == nil {
		emit = func(domain.Annotation) {}
	}
	return en.new(cfg, emit)
}

var _ ports.DecodeEngine = (*Engine)(nil)

// bitReader extracts one channel from packed samples.
type bitReader struct {
	unitSize int
	byteIdx  int
	mask     byte
}

func newBitReader(unitSize, channel int) bitReader {
	return bitReader{unitSize: unitSize, byteIdx: channel / 8, mask: 1 << uint(channel%8)}
}

func (r bitReader) count(data []byte) int { return len(data) / r.unitSize }

func (r bitReader) at(data []byte, i int) bool {
	return data[i*r.unitSize+r.byteIdx]&r.mask != 0
}

func optionUint(cfg ports.InstanceConfig, id string) (uint64, error) {
	v, ok := cfg.Options[id]
	if !ok {
		return 0, fmt.Errorf("%s: option %q missing", cfg.DecoderID, id)
	}
	if n, ok := v.Uint64(); ok {
		return n, nil
	}
	if s, ok := v.Str(); ok {
		parsed, err := domain.ParseValue(domain.ValueUint64, s)
		if err != nil {
			return 0, fmt.Errorf("%s: option %q: %w", cfg.DecoderID, id, err)
		}
		n, _ := parsed.Uint64()
		return n, nil
	}
	return 0, fmt.Errorf("%s: option %q is not a number", cfg.DecoderID, id)
}

func optionString(cfg ports.InstanceConfig, id string) string {
	if v, ok := cfg.Options[id]; ok {
		return v.String()
	}
	return ""
}
