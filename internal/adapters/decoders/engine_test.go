package decoders

import (
	"strings"
	"testing"

	"github.com/ghalamif/SigFlow/internal/domain"
	"github.com/ghalamif/SigFlow/internal/ports"
)

// uartFrame renders idle, one 8N1 frame of b on bit 0 and idle again, with
// spb samples per bit.
func uartFrame(b byte, spb int, stopBit bool) []byte {
	var bits []bool
	bits = append(bits, false)
	for i := 0; i < 8; i++ {
		bits = append(bits, b&(1<<uint(i)) != 0)
	}
	bits = append(bits, stopBit)

	out := make([]byte, 0, 40+len(bits)*spb)
	for i := 0; i < 20; i++ {
		out = append(out, 1)
	}
	for _, bit := range bits {
		for i := 0; i < spb; i++ {
			if bit {
				out = append(out, 1)
			} else {
				out = append(out, 0)
			}
		}
	}
	for i := 0; i < 20; i++ {
		out = append(out, 1)
	}
	return out
}

func collect(t *testing.T, cfg ports.InstanceConfig, chunks ...[]byte) []domain.Annotation {
	t.Helper()
	var out []domain.Annotation
	inst, err := NewEngine().NewInstance(cfg, func(a domain.Annotation) { out = append(out, a) })
	if err != nil {
		t.Fatalf("new instance: %v", err)
	}
	var pos uint64
	for _, c := range chunks {
		if err := inst.Decode(pos, c); err != nil {
			t.Fatalf("decode: %v", err)
		}
		pos += uint64(len(c))
	}
	_ = inst.Close()
	return out
}

func TestUARTDecodesByteAcrossChunks(t *testing.T) {
	samples := uartFrame(0x55, 10, true)
	cfg := ports.InstanceConfig{
		DecoderID:  "uart",
		Channels:   map[string]int{"rx": 0},
		Options:    map[string]domain.Value{"baudrate": domain.Uint64Value(100)},
		UnitSize:   1,
		SampleRate: 1000,
	}

	anns := collect(t, cfg, samples[:57], samples[57:])
	if len(anns) != 1 {
		t.Fatalf("expected one byte, got %+v", anns)
	}
	a := anns[0]
	if a.StartSample != 20 || a.EndSample != 120 || a.Class != 0 || a.Texts[1] != "55" {
		t.Fatalf("unexpected annotation %+v", a)
	}
}

func TestUARTFrameError(t *testing.T) {
	cfg := ports.InstanceConfig{
		DecoderID:  "uart",
		Channels:   map[string]int{"rx": 0},
		Options:    map[string]domain.Value{"baudrate": domain.StringValue("100")},
		UnitSize:   1,
		SampleRate: 1000,
	}
	anns := collect(t, cfg, uartFrame(0xA3, 10, false))
	if len(anns) != 1 || anns[0].Class != 1 {
		t.Fatalf("expected frame error, got %+v", anns)
	}
}

func TestUARTRejectsLowSamplerate(t *testing.T) {
	_, err := NewEngine().NewInstance(ports.InstanceConfig{
		DecoderID:  "uart",
		Channels:   map[string]int{"rx": 0},
		Options:    map[string]domain.Value{"baudrate": domain.Uint64Value(9600)},
		UnitSize:   1,
		SampleRate: 1000,
	}, nil)
	if err == nil {
		t.Fatalf("expected samplerate error")
	}
}

func TestEdgesAndPulse(t *testing.T) {
	// channel 9 lives in the second byte
	raw := make([]byte, 0, 40)
	levels := []int{0, 0, 1, 1, 1, 0, 0, 1, 0, 0}
	for _, l := range levels {
		raw = append(raw, 0, byte(l<<1))
	}

	edges := collect(t, ports.InstanceConfig{DecoderID: "edges", Channels: map[string]int{"data": 9}, UnitSize: 2}, raw)
	want := []struct {
		s     uint64
		class int
	}{{2, 0}, {5, 1}, {7, 0}, {8, 1}}
	if len(edges) != len(want) {
		t.Fatalf("expected %d edges, got %+v", len(want), edges)
	}
	for i, w := range want {
		if edges[i].StartSample != w.s || edges[i].Class != w.class {
			t.Fatalf("edge %d: got %+v want %+v", i, edges[i], w)
		}
	}

	pulses := collect(t, ports.InstanceConfig{
		DecoderID:  "pulse",
		Channels:   map[string]int{"data": 9},
		Options:    map[string]domain.Value{"polarity": domain.StringValue("high")},
		UnitSize:   2,
		SampleRate: 1000,
	}, raw)
	if len(pulses) != 2 || pulses[0].StartSample != 2 || pulses[0].EndSample != 5 || pulses[1].EndSample != 8 {
		t.Fatalf("unexpected pulses %+v", pulses)
	}
	if pulses[0].Texts[0] != "3ms" {
		t.Fatalf("expected duration text, got %v", pulses[0].Texts)
	}
}

func TestEngineValidatesBindings(t *testing.T) {
	e := NewEngine()
	if ids := e.Decoders(); len(ids) != 3 || ids[0].ID != "edges" || ids[2].ID != "uart" {
		t.Fatalf("unexpected decoder list %v", ids)
	}
	if _, err := e.Lookup("spi"); err == nil {
		t.Fatalf("expected unknown decoder error")
	}
	if _, err := e.NewInstance(ports.InstanceConfig{DecoderID: "edges", UnitSize: 1}, nil); err == nil {
		t.Fatalf("expected unbound channel error")
	}
	if _, err := e.NewInstance(ports.InstanceConfig{DecoderID: "edges", UnitSize: 1, Channels: map[string]int{"data": 8}}, nil); err == nil {
		t.Fatalf("expected channel outside unit error")
	}
	if _, err := e.NewInstance(ports.InstanceConfig{DecoderID: "edges", UnitSize: 1, Channels: map[string]int{"data": 0, "clk": 1}}, nil); err == nil {
		t.Fatalf("expected unknown channel error")
	}
}

func TestUARTRejectsOptionalChannelOutsideUnit(t *testing.T) {
	e := NewEngine()
	cfg := ports.InstanceConfig{
		DecoderID:  "uart",
		Channels:   map[string]int{"rx": 0, "tx": 12},
		Options:    map[string]domain.Value{"baudrate": domain.Uint64Value(9600)},
		UnitSize:   1,
		SampleRate: 96000,
	}
	if _, err := e.NewInstance(cfg, nil); err == nil || !strings.Contains(err.Error(), `"tx"`) {
		t.Fatalf("expected tx range error, got %v", err)
	}

	cfg.Channels["tx"] = 7
	inst, err := e.NewInstance(cfg, nil)
	if err != nil {
		t.Fatalf("tx inside the unit: %v", err)
	}
	if err := inst.Decode(0, []byte{0xff, 0xff, 0x00}); err != nil {
		t.Fatalf("decode: %v", err)
	}
}
