package capturelog

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/ghalamif/SigFlow/internal/domain"
	"github.com/ghalamif/SigFlow/internal/ports"
)

func writeCapture(t *testing.T, path string, payloads ...domain.Payload) {
	t.Helper()
	w, err := Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	chs := []*domain.Channel{
		domain.NewChannel(0, "D0", domain.ChannelLogic, true),
		domain.NewChannel(1, "D1", domain.ChannelLogic, false),
		domain.NewChannel(2, "A0", domain.ChannelAnalog, true),
	}
	if _, err := w.Append(DeviceRecord("demo", "Demo device", chs, 1000, 64)); err != nil {
		t.Fatalf("append device: %v", err)
	}
	for _, p := range payloads {
		if _, err := w.Append(FromPayload(p)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestLoadReplaysRecordedPackets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.sflog")
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	writeCapture(t, path,
		domain.Header{StartTime: start},
		domain.Meta{Config: map[domain.ConfigKey]domain.Value{domain.KeySampleRate: domain.Uint64Value(2000)}},
		domain.FrameBegin{},
		domain.Logic{UnitSize: 1, Data: []byte{0, 1, 1, 0}},
		domain.End{},
	)

	devs, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	dev := devs[0]
	if dev.Driver() != DriverName || len(dev.Channels()) != 3 || dev.Channels()[1].Enabled() {
		t.Fatalf("unexpected device layout %+v", dev.Channels())
	}
	if v, err := dev.ConfigGet(domain.KeyLimitSamples); err != nil || v != domain.Uint64Value(64) {
		t.Fatalf("expected recorded sample limit, got %v %v", v, err)
	}

	var got []domain.Payload
	acq, _ := dev.NewAcquisition(func(_ ports.Device, p domain.Payload) { got = append(got, p) })
	if err := acq.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := acq.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(got) != 5 {
		t.Fatalf("expected 5 packets, got %d", len(got))
	}
	if h := got[0].(domain.Header); !h.StartTime.Equal(start) {
		t.Fatalf("start time not preserved: %v", h.StartTime)
	}
	if m := got[1].(domain.Meta); m.Config[domain.KeySampleRate] != domain.Uint64Value(2000) {
		t.Fatalf("meta not preserved: %+v", m)
	}
	if l := got[3].(domain.Logic); !reflect.DeepEqual(l.Data, []byte{0, 1, 1, 0}) {
		t.Fatalf("logic data not preserved: %v", l.Data)
	}
	if _, ok := got[4].(domain.End); !ok {
		t.Fatalf("expected end packet last")
	}
}

func TestAnalogRecordResolvesChannels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analog.sflog")
	a0 := domain.NewChannel(2, "A0", domain.ChannelAnalog, true)
	writeCapture(t, path, domain.Analog{Channels: []*domain.Channel{a0}, NumSamples: 2, Data: []float32{1.5, -2}})

	devs, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	var got domain.Analog
	acq, _ := devs[0].NewAcquisition(func(_ ports.Device, p domain.Payload) { got = p.(domain.Analog) })
	_ = acq.Run()
	if len(got.Channels) != 1 || got.Channels[0] != devs[0].Channels()[2] {
		t.Fatalf("analog channel not resolved to device channel")
	}
	if !reflect.DeepEqual(got.Data, []float32{1.5, -2}) {
		t.Fatalf("unexpected analog data %v", got.Data)
	}
}

func TestOpenTruncatesPartialRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.sflog")
	writeCapture(t, path, domain.FrameBegin{})

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.Write([]byte{0, 0, 0, 0, 0, 0, 0, 9, 0, 0, 0, 50, '{'}); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	f.Close()

	count := 0
	if err := Iterate(path, func(uint64, Record) error { count++; return nil }); err != nil {
		t.Fatalf("iterate should tolerate a partial tail: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 complete records, got %d", count)
	}

	w, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if st := w.Stats(); st.Records != 2 {
		t.Fatalf("expected 2 records after reopen, got %d", st.Records)
	}
	id, err := w.Append(FromPayload(domain.End{}))
	if err != nil || id != 3 {
		t.Fatalf("expected next id 3, got %d %v", id, err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	var kinds []Kind
	_ = Iterate(path, func(_ uint64, r Record) error { kinds = append(kinds, r.Kind); return nil })
	if !reflect.DeepEqual(kinds, []Kind{KindDevice, KindFrameBegin, KindEnd}) {
		t.Fatalf("unexpected records after reopen %v", kinds)
	}
}

func TestLoadRequiresDeviceRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.sflog")
	w, _ := Create(path)
	_, _ = w.Append(FromPayload(domain.End{}))
	_ = w.Close()

	if _, err := Load(path); !errors.Is(err, ErrNoDeviceRecord) {
		t.Fatalf("expected ErrNoDeviceRecord, got %v", err)
	}
}
