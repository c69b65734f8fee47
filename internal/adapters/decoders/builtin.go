package decoders

import (
	"fmt"
	"time"

	"github.com/ghalamif/SigFlow/internal/domain"
	"github.com/ghalamif/SigFlow/internal/ports"
)

var edgesDef = &domain.DecoderDef{
	ID:          "edges",
	Name:        "Edges",
	Description: "Marks every rising and falling edge.",
	Channels:    []domain.DecoderChannel{{ID: "data", Name: "Data", Desc: "Signal to watch"}},
	Annotations: []string{"rising", "falling"},
}

type edges struct {
	r       bitReader
	emit    func(domain.Annotation)
	prev    bool
	started bool
}

func newEdges(cfg ports.InstanceConfig, emit func(domain.Annotation)) (ports.DecoderInstance, error) {
	return &edges{r: newBitReader(cfg.UnitSize, cfg.Channels["data"]), emit: emit}, nil
}

func (e *edges) Decode(start uint64, data []byte) error {
	for i := 0; i < e.r.count(data); i++ {
		lvl := e.r.at(data, i)
		if e.started && lvl != e.prev {
			a := domain.Annotation{StartSample: start + uint64(i), EndSample: start + uint64(i), Class: 0, Texts: []string{"Rising edge", "R"}}
			if !lvl {
				a.Class = 1
				a.Texts = []string{"Falling edge", "F"}
			}
			e.emit(a)
		}
		e.prev, e.started = lvl, true
	}
	return nil
}

func (e *edges) Close() error { return nil }

var pulseDef = &domain.DecoderDef{
	ID:          "pulse",
	Name:        "Pulse width",
	Description: "Measures complete pulses of the selected polarity.",
	Channels:    []domain.DecoderChannel{{ID: "data", Name: "Data", Desc: "Pulse train"}},
	Options: []domain.DecoderOption{
		{
			ID:      "polarity",
			Desc:    "Pulse level",
			Default: domain.StringValue("high"),
			Values:  []domain.Value{domain.StringValue("high"), domain.StringValue("low")},
		},
	},
	Annotations: []string{"pulse"},
}

type pulse struct {
	r          bitReader
	emit       func(domain.Annotation)
	active     bool
	samplerate uint64

	prev    bool
	started bool
	inPulse bool
	begin   uint64
}

func newPulse(cfg ports.InstanceConfig, emit func(domain.Annotation)) (ports.DecoderInstance, error) {
	var active bool
	switch optionString(cfg, "polarity") {
	case "high", "":
		active = true
	case "low":
		active = false
	default:
		return nil, fmt.Errorf("pulse: polarity must be high or low")
	}
	return &pulse{
		r:          newBitReader(cfg.UnitSize, cfg.Channels["data"]),
		emit:       emit,
		active:     active,
		samplerate: cfg.SampleRate,
	}, nil
}

func (p *pulse) Decode(start uint64, data []byte) error {
	for i := 0; i < p.r.count(data); i++ {
		s := start + uint64(i)
		lvl := p.r.at(data, i)
		if p.started && lvl != p.prev {
			switch {
			case lvl == p.active:
				p.inPulse, p.begin = true, s
			case p.inPulse:
				p.inPulse = false
				p.emit(domain.Annotation{StartSample: p.begin, EndSample: s, Texts: p.texts(s - p.begin)})
			}
		}
		p.prev, p.started = lvl, true
	}
	return nil
}

func (p *pulse) texts(width uint64) []string {
	if p.samplerate == 0 {
		return []string{fmt.Sprintf("%d samples", width)}
	}
	d := time.Duration(width) * time.Second / time.Duration(p.samplerate)
	return []string{d.String(), fmt.Sprintf("%d samples", width)}
}

func (p *pulse) Close() error { return nil }

var uartDef = &domain.DecoderDef{
	ID:          "uart",
	Name:        "UART",
	Description: "Asynchronous serial, 8 data bits, no parity, 1 stop bit.",
	Channels:    []domain.DecoderChannel{{ID: "rx", Name: "RX", Desc: "Receive line"}},
	OptChannels: []domain.DecoderChannel{{ID: "tx", Name: "TX", Desc: "Transmit line"}},
	Options: []domain.DecoderOption{
		{ID: "baudrate", Desc: "Baud rate", Default: domain.Uint64Value(115200)},
	},
	Annotations: []string{"data", "frame-error"},
}

const uartFrameBits = 10

type uartLine struct {
	r      bitReader
	prev   bool
	seen   bool
	inByte bool
	begin  uint64
	bit    int
	value  byte
}

type uart struct {
	emit       func(domain.Annotation)
	bitSamples float64
	rx         *uartLine
	tx         *uartLine
}

func newUART(cfg ports.InstanceConfig, emit func(domain.Annotation)) (ports.DecoderInstance, error) {
	baud, err := optionUint(cfg, "baudrate")
	if err != nil {
		return nil, err
	}
	if baud == 0 {
		return nil, fmt.Errorf("uart: baudrate must be positive")
	}
	if cfg.SampleRate < 2*baud {
		return nil, fmt.Errorf("uart: samplerate %d must be at least twice the baudrate %d", cfg.SampleRate, baud)
	}
	u := &uart{
		emit:       emit,
		bitSamples: float64(cfg.SampleRate) / float64(baud),
		rx:         &uartLine{r: newBitReader(cfg.UnitSize, cfg.Channels["rx"])},
	}
	if idx, ok := cfg.Channels["tx"]; ok {
		u.tx = &uartLine{r: newBitReader(cfg.UnitSize, idx)}
	}
	return u, nil
}

func (u *uart) Decode(start uint64, data []byte) error {
	u.decodeLine(u.rx, "RX", start, data)
	if u.tx != nil {
		u.decodeLine(u.tx, "TX", start, data)
	}
	return nil
}

// decodeLine samples each bit at its centre, counted from the falling edge
// of the start bit.
func (u *uart) decodeLine(l *uartLine, name string, start uint64, data []byte) {
	for i := 0; i < l.r.count(data); i++ {
		s := start + uint64(i)
		lvl := l.r.at(data, i)

		if !l.inByte {
			if l.seen && l.prev && !lvl {
				l.inByte, l.begin, l.bit, l.value = true, s, 0, 0
			}
			l.prev, l.seen = lvl, true
			continue
		}
		l.prev = lvl

		if s != l.begin+uint64((float64(l.bit)+0.5)*u.bitSamples) {
			continue
		}
		switch {
		case l.bit == 0:
			if lvl {
				// glitch, not a start bit
				l.inByte = false
				continue
			}
		case l.bit < uartFrameBits-1:
			if lvl {
				l.value |= 1 << uint(l.bit-1)
			}
		default:
			end := l.begin + uint64(float64(uartFrameBits)*u.bitSamples)
			a := domain.Annotation{
				StartSample: l.begin,
				EndSample:   end,
				Texts:       []string{fmt.Sprintf("%s: %02X", name, l.value), fmt.Sprintf("%02X", l.value)},
			}
			if !lvl {
				a.Class = 1
				a.Texts = []string{fmt.Sprintf("%s: frame error", name), "FE"}
			}
			u.emit(a)
			l.inByte = false
			continue
		}
		l.bit++
	}
}

func (u *uart) Close() error { return nil }
