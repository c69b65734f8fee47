package store

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ghalamif/SigFlow/internal/adapters/capturelog"
	"github.com/ghalamif/SigFlow/internal/adapters/virtual"
	"github.com/ghalamif/SigFlow/internal/data"
	"github.com/ghalamif/SigFlow/internal/ports"
)

type stubSource struct {
	dev     ports.Device
	signals []*data.Signal
	data    []data.SignalData
}

func (s stubSource) Device() ports.Device    { return s.dev }
func (s stubSource) Signals() []*data.Signal { return s.signals }
func (s stubSource) Data() []data.SignalData { return s.data }

func logicSource(t *testing.T, samples []byte, unitSize int) stubSource {
	t.Helper()
	chs := virtual.LogicChannels(unitSize * 8)
	logic := data.NewLogic(len(chs))
	logic.SetSamplerate(5000)
	snap, err := data.NewLogicSnapshot(unitSize, uint64(len(samples)/unitSize))
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	snap.Append(samples, uint64(len(samples)/unitSize))
	snap.Seal()
	logic.PushSnapshot(snap)

	src := stubSource{dev: virtual.New("bench", chs), data: []data.SignalData{logic}}
	for _, ch := range chs {
		src.signals = append(src.signals, data.NewLogicSignal(ch, logic))
	}
	return src
}

func TestStoreWritesBlocksAndRoundTrips(t *testing.T) {
	samples := make([]byte, 2*BlockSize+10)
	for i := range samples {
		samples[i] = byte(i * 7)
	}
	path := filepath.Join(t.TempDir(), "out.sflog")
	s := New(path, logicSource(t, samples, 2))
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	s.Wait()
	if err := s.Err(); err != nil {
		t.Fatalf("store: %v", err)
	}
	if stored, total := s.Progress(); stored != uint64(len(samples)/2) || total != 0 {
		t.Fatalf("unexpected progress %d/%d", stored, total)
	}

	var (
		logicRecs int
		got       []byte
		kinds     []capturelog.Kind
	)
	err := capturelog.Iterate(path, func(_ uint64, r capturelog.Record) error {
		kinds = append(kinds, r.Kind)
		if r.Kind == capturelog.KindLogic {
			logicRecs++
			if len(r.Data) > BlockSize {
				t.Fatalf("block of %d bytes exceeds %d", len(r.Data), BlockSize)
			}
			got = append(got, r.Data...)
		}
		if r.Kind == capturelog.KindDevice && r.Device.Samplerate != 5000 {
			t.Fatalf("samplerate not recorded: %+v", r.Device)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if logicRecs != 3 || !bytes.Equal(got, samples) {
		t.Fatalf("expected 3 blocks reproducing the samples, got %d blocks", logicRecs)
	}
	if kinds[len(kinds)-1] != capturelog.KindEnd {
		t.Fatalf("expected end record last, got %v", kinds)
	}

	devs, err := capturelog.Load(path)
	if err != nil || len(devs[0].Channels()) != 16 {
		t.Fatalf("expected loadable capture, got %v", err)
	}
}

func TestStartValidatesSource(t *testing.T) {
	dir := t.TempDir()
	if err := New(filepath.Join(dir, "a"), stubSource{}).Start(); !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}

	src := logicSource(t, []byte{1, 2}, 1)
	src.data = append(src.data, data.NewAnalog())
	if err := New(filepath.Join(dir, "b"), src).Start(); !errors.Is(err, ErrMultipleData) {
		t.Fatalf("expected ErrMultipleData, got %v", err)
	}

	src.data = []data.SignalData{data.NewAnalog()}
	if err := New(filepath.Join(dir, "c"), src).Start(); !errors.Is(err, ErrNotLogic) {
		t.Fatalf("expected ErrNotLogic, got %v", err)
	}

	src.data = []data.SignalData{data.NewLogic(8)}
	s := New(filepath.Join(dir, "d"), src)
	if err := s.Start(); !errors.Is(err, ErrNoSnapshots) || !errors.Is(s.Err(), ErrNoSnapshots) {
		t.Fatalf("expected ErrNoSnapshots, got %v", err)
	}
}

func TestCancelStopsBeforeEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cancel.sflog")
	s := New(path, logicSource(t, make([]byte, 4*BlockSize), 1))
	s.Cancel()
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	s.Wait()
	if err := s.Start(); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}

	sawEnd := false
	_ = capturelog.Iterate(path, func(_ uint64, r capturelog.Record) error {
		sawEnd = sawEnd || r.Kind == capturelog.KindEnd
		return nil
	})
	if sawEnd {
		t.Fatalf("cancelled store must not write an end record")
	}
	if stored, _ := s.Progress(); stored != 0 {
		t.Fatalf("expected nothing stored, got %d", stored)
	}
}

func TestStoreWritesLatestSweep(t *testing.T) {
	src := logicSource(t, bytes.Repeat([]byte{0x01}, 10), 1)
	logic := src.data[0].(*data.Logic)
	second, err := data.NewLogicSnapshot(1, 20)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	second.Append(bytes.Repeat([]byte{0x0f}, 20), 20)
	second.Seal()
	logic.PushSnapshot(second)

	path := filepath.Join(t.TempDir(), "latest.sflog")
	s := New(path, src)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	s.Wait()
	if err := s.Err(); err != nil {
		t.Fatalf("store: %v", err)
	}

	var got []byte
	var limit uint64
	err = capturelog.Iterate(path, func(_ uint64, r capturelog.Record) error {
		switch r.Kind {
		case capturelog.KindLogic:
			got = append(got, r.Data...)
		case capturelog.KindDevice:
			limit = r.Device.SampleLimit
		}
		return nil
	})
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if !bytes.Equal(got, bytes.Repeat([]byte{0x0f}, 20)) || limit != 20 {
		t.Fatalf("expected the second sweep (limit 20), got limit %d data %x", limit, got)
	}
}
