package session

import (
	"fmt"
	"time"

	"github.com/ghalamif/SigFlow/internal/data"
	"github.com/ghalamif/SigFlow/internal/domain"
	"github.com/ghalamif/SigFlow/internal/ports"
)

// dispatcher routes the packets of one acquisition into the session. It runs
// on the capture worker goroutine only.
type dispatcher struct {
	s   *Session
	dev ports.Device

	// seen is set by the first packet, ended by End.
	seen  bool
	ended bool
}

func (d *dispatcher) handle(p domain.Payload) {
	d.seen = true
	p.Accept(d)
}

var _ domain.PacketVisitor = (*dispatcher)(nil)

func (d *dispatcher) VisitHeader(h domain.Header) {
	d.s.readSampleRate(d.dev)
	start := h.StartTime
	if start.IsZero() {
		start = time.Now()
	}
	for _, sd := range d.s.Data() {
		sd.SetStartTime(start)
	}
}

func (d *dispatcher) VisitMeta(m domain.Meta) {
	for key, v := range m.Config {
		switch key {
		case domain.KeySampleRate:
			if hz, ok := v.Uint64(); ok {
				d.s.setSampleRate(hz)
			}
		default:
			// other keys do not affect recorded data
		}
	}
	d.s.notifySignalsChanged()
}

func (d *dispatcher) VisitFrameBegin(domain.FrameBegin) {
	s := d.s
	s.dataMu.Lock()
	open := s.curLogic != nil || len(s.curAnalog) > 0
	s.dataMu.Unlock()
	if open {
		s.notifyFrameBegan()
	}
}

func (d *dispatcher) VisitLogic(l domain.Logic) {
	s := d.s
	count := l.SampleCount()
	if count == 0 {
		return
	}
	limit := s.sampleLimit(d.dev)

	s.dataMu.Lock()
	open := s.curLogic != nil
	s.dataMu.Unlock()
	if !open {
		// first packet after a trigger
		s.setState(Running)
	}

	s.dataMu.Lock()
	if s.logicData == nil {
		s.dataMu.Unlock()
		s.obs.LogError("unexpected_logic_packet", fmt.Errorf("no logic channels enabled, dropped %d samples", count))
		return
	}
	began := false
	if s.curLogic == nil {
		snap, err := data.NewLogicSnapshot(l.UnitSize, limit)
		if err != nil {
			s.dataMu.Unlock()
			s.obs.LogError("logic_snapshot_failed", err)
			return
		}
		s.curLogic = snap
		s.logicData.PushSnapshot(snap)
		began = true
	}
	ok := s.curLogic.AppendPayload(l)
	s.dataMu.Unlock()

	if ok {
		s.obs.IncCounter("sigflow_samples_total", float64(count))
	} else {
		s.obs.IncCounter("sigflow_samples_rejected_total", float64(count))
		s.obs.LogError("logic_append_rejected", fmt.Errorf("block of %d samples does not fit snapshot", count),
			ports.Field{Key: "unit_size", Value: l.UnitSize},
			ports.Field{Key: "capacity", Value: limit},
		)
	}

	if began {
		s.notifyFrameBegan()
	}
	s.notifyDataReceived()
}

func (d *dispatcher) VisitAnalog(a domain.Analog) {
	s := d.s
	if len(a.Channels) == 0 || a.NumSamples <= 0 {
		return
	}
	limit := s.sampleLimit(d.dev)

	analogOf := make(map[*domain.Channel]*data.Analog, len(a.Channels))
	for _, sig := range s.Signals() {
		if sig.Kind() == domain.ChannelAnalog {
			analogOf[sig.Channel()] = sig.AnalogData()
		}
	}

	s.dataMu.Lock()
	beginning := false
	for _, ch := range a.Channels {
		if _, ok := s.curAnalog[ch]; !ok {
			beginning = true
			break
		}
	}
	s.dataMu.Unlock()
	if beginning {
		s.setState(Running)
	}

	stride := len(a.Channels)
	began := false
	rejected := 0
	s.dataMu.Lock()
	for i, ch := range a.Channels {
		snap, ok := s.curAnalog[ch]
		if !ok {
			container := analogOf[ch]
			if container == nil {
				continue
			}
			var err error
			snap, err = data.NewAnalogSnapshot(limit)
			if err != nil {
				s.obs.LogError("analog_snapshot_failed", err)
				continue
			}
			s.curAnalog[ch] = snap
			container.PushSnapshot(snap)
			began = true
		}
		if !snap.AppendInterleaved(a.Data, a.NumSamples, stride, i) {
			rejected++
		}
	}
	s.dataMu.Unlock()

	if rejected > 0 {
		s.obs.IncCounter("sigflow_samples_rejected_total", float64(rejected*a.NumSamples))
		s.obs.LogError("analog_append_rejected", fmt.Errorf("%d channel blocks of %d samples rejected", rejected, a.NumSamples))
	} else {
		s.obs.IncCounter("sigflow_samples_total", float64(a.NumSamples*stride))
	}

	if began {
		s.notifyFrameBegan()
	}
	s.notifyDataReceived()
}

func (d *dispatcher) VisitEnd(domain.End) {
	d.ended = true
	d.s.sealOpenSnapshots(false)
	d.s.notifyFrameEnded()
}
