package session

import (
	"fmt"

	"github.com/ghalamif/SigFlow/internal/decode"
	"github.com/ghalamif/SigFlow/internal/domain"
	"github.com/ghalamif/SigFlow/internal/ports"
)

// AddDecoder attaches a pipeline for decoder id, binds it to the current
// signals by name and starts an initial decode.
func (s *Session) AddDecoder(id string) (*decode.Pipeline, error) {
	if s.engine == nil {
		return nil, ErrNoDecodeEngine
	}
	def, err := s.engine.Lookup(id)
	if err != nil {
		return nil, fmt.Errorf("add decoder: %w", err)
	}

	opts := []decode.Option{decode.WithObservability(s.obs)}
	if s.publish != nil {
		opts = append(opts, decode.WithCommitHandler(func(anns []domain.Annotation) {
			captureID := s.CaptureID()
			for _, a := range anns {
				s.publish(captureID, a)
			}
		}))
	}
	p := decode.New(s.engine, def, opts...)
	p.AutoBind(s.Signals())

	s.signalsMu.Lock()
	s.decoders = append(s.decoders, p)
	s.signalsMu.Unlock()

	s.obs.LogInfo("decoder_attached", ports.Field{Key: "decoder", Value: def.ID})
	s.notifySignalsChanged()

	p.BeginDecode()
	return p, nil
}

func (s *Session) DecodePipelines() []*decode.Pipeline {
	s.signalsMu.RLock()
	defer s.signalsMu.RUnlock()
	out := make([]*decode.Pipeline, len(s.decoders))
	copy(out, s.decoders)
	return out
}

// RemoveDecodePipeline detaches and closes p. It reports whether p was
// attached.
func (s *Session) RemoveDecodePipeline(p *decode.Pipeline) bool {
	s.signalsMu.Lock()
	found := false
	for i, d := range s.decoders {
		if d == p {
			s.decoders = append(s.decoders[:i:i], s.decoders[i+1:]...)
			found = true
			break
		}
	}
	s.signalsMu.Unlock()
	if !found {
		return false
	}
	p.Close()
	s.notifySignalsChanged()
	return true
}

func (s *Session) clearDecoders() {
	s.signalsMu.Lock()
	decoders := s.decoders
	s.decoders = nil
	s.signalsMu.Unlock()
	for _, p := range decoders {
		p.Close()
	}
}
