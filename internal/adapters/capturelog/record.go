package capturelog

import (
	"fmt"
	"time"

	"github.com/ghalamif/SigFlow/internal/domain"
)

type Kind string

const (
	KindDevice     Kind = "device"
	KindHeader     Kind = "header"
	KindMeta       Kind = "meta"
	KindFrameBegin Kind = "frame_begin"
	KindLogic      Kind = "logic"
	KindAnalog     Kind = "analog"
	KindEnd        Kind = "end"
)

// DeviceInfo describes the device a capture was recorded from. It is the
// first record of every log.
type DeviceInfo struct {
	Driver      string        `json:"driver"`
	Description string        `json:"description"`
	Channels    []ChannelInfo `json:"channels"`
	Samplerate  uint64        `json:"samplerate"`
	SampleLimit uint64        `json:"sample_limit"`
}

type ChannelInfo struct {
	Index   int    `json:"index"`
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Enabled bool   `json:"enabled"`
}

type ConfigEntry struct {
	Key   string `json:"key"`
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

// Record is one log entry. Only the fields of its Kind are set.
type Record struct {
	Kind       Kind          `json:"kind"`
	Device     *DeviceInfo   `json:"device,omitempty"`
	StartTime  *time.Time    `json:"start_time,omitempty"`
	Config     []ConfigEntry `json:"config,omitempty"`
	UnitSize   int           `json:"unit_size,omitempty"`
	Data       []byte        `json:"data,omitempty"`
	Channels   []int         `json:"channels,omitempty"`
	NumSamples int           `json:"num_samples,omitempty"`
	Analog     []float32     `json:"analog,omitempty"`
}

// DeviceRecord captures the channel layout and timing of a capture.
func DeviceRecord(driver, description string, channels []*domain.Channel, samplerate, limit uint64) Record {
	info := &DeviceInfo{
		Driver:      driver,
		Description: description,
		Samplerate:  samplerate,
		SampleLimit: limit,
	}
	for _, ch := range channels {
		info.Channels = append(info.Channels, ChannelInfo{
			Index:   ch.Index,
			Name:    ch.Name,
			Kind:    ch.Kind.String(),
			Enabled: ch.Enabled(),
		})
	}
	return Record{Kind: KindDevice, Device: info}
}

// FromPayload encodes a packet payload as a record.
func FromPayload(p domain.Payload) Record {
	e := &recordEncoder{}
	p.Accept(e)
	return e.rec
}

type recordEncoder struct{ rec Record }

func (e *recordEncoder) VisitHeader(h domain.Header) {
	ts := h.StartTime
	e.rec = Record{Kind: KindHeader, StartTime: &ts}
}

func (e *recordEncoder) VisitMeta(m domain.Meta) {
	rec := Record{Kind: KindMeta}
	for k, v := range m.Config {
		rec.Config = append(rec.Config, ConfigEntry{Key: k.String(), Kind: v.Kind().String(), Value: v.String()})
	}
	e.rec = rec
}

func (e *recordEncoder) VisitFrameBegin(domain.FrameBegin) { e.rec = Record{Kind: KindFrameBegin} }

func (e *recordEncoder) VisitLogic(l domain.Logic) {
	e.rec = Record{Kind: KindLogic, UnitSize: l.UnitSize, Data: l.Data}
}

func (e *recordEncoder) VisitAnalog(a domain.Analog) {
	rec := Record{Kind: KindAnalog, NumSamples: a.NumSamples, Analog: a.Data}
	for _, ch := range a.Channels {
		rec.Channels = append(rec.Channels, ch.Index)
	}
	e.rec = rec
}

func (e *recordEncoder) VisitEnd(domain.End) { e.rec = Record{Kind: KindEnd} }

// Payload decodes a packet record. byIndex resolves analog channel indices.
// Unknown meta keys are dropped.
func (r Record) Payload(byIndex map[int]*domain.Channel) (domain.Payload, error) {
	switch r.Kind {
	case KindHeader:
		var ts time.Time
		if r.StartTime != nil {
			ts = *r.StartTime
		}
		return domain.Header{StartTime: ts}, nil
	case KindMeta:
		cfg := make(map[domain.ConfigKey]domain.Value, len(r.Config))
		for _, e := range r.Config {
			key, err := domain.ParseConfigKey(e.Key)
			if err != nil {
				continue
			}
			kind, err := domain.ParseValueKind(e.Kind)
			if err != nil {
				return nil, fmt.Errorf("meta %s: %w", e.Key, err)
			}
			v, err := domain.ParseValue(kind, e.Value)
			if err != nil {
				return nil, fmt.Errorf("meta %s: %w", e.Key, err)
			}
			cfg[key] = v
		}
		return domain.Meta{Config: cfg}, nil
	case KindFrameBegin:
		return domain.FrameBegin{}, nil
	case KindLogic:
		return domain.Logic{UnitSize: r.UnitSize, Data: r.Data}, nil
	case KindAnalog:
		chs := make([]*domain.Channel, 0, len(r.Channels))
		for _, idx := range r.Channels {
			ch, ok := byIndex[idx]
			if !ok {
				return nil, fmt.Errorf("analog record references unknown channel %d", idx)
			}
			chs = append(chs, ch)
		}
		return domain.Analog{Channels: chs, NumSamples: r.NumSamples, Data: r.Analog}, nil
	case KindEnd:
		return domain.End{}, nil
	default:
		return nil, fmt.Errorf("record kind %q is not a packet", r.Kind)
	}
}
