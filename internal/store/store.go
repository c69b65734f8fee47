// Package store writes a captured logic snapshot to a capture log in the
// background.
package store

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ghalamif/SigFlow/internal/adapters/capturelog"
	"github.com/ghalamif/SigFlow/internal/data"
	"github.com/ghalamif/SigFlow/internal/domain"
	"github.com/ghalamif/SigFlow/internal/ports"
)

// BlockSize is the number of bytes copied out of the snapshot per record.
const BlockSize = 1024 * 1024

var (
	ErrNoData        = errors.New("store: no data to save")
	ErrMultipleData  = errors.New("store: only a single data stream can be stored")
	ErrNotLogic      = errors.New("store: only logic data can be stored")
	ErrNoSnapshots   = errors.New("store: no snapshots to save")
	ErrAlreadyActive = errors.New("store: session already started")
)

// Source is the capture to store from.
type Source interface {
	Device() ports.Device
	Signals() []*data.Signal
	Data() []data.SignalData
}

type Option func(*Session)

func WithObservability(obs ports.Observability) Option {
	return func(s *Session) {
		if obs != nil {
			s.obs = obs
		}
	}
}

type Session struct {
	path string
	src  Source
	obs  ports.Observability

	interrupt atomic.Bool
	stored    atomic.Uint64
	total     atomic.Uint64

	mu      sync.Mutex
	err     error
	started bool
	done    chan struct{}
}

func New(path string, src Source, opts ...Option) *Session {
	s := &Session{path: path, src: src, obs: ports.NopObservability{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start validates the capture, writes the device and header records and
// spawns the writer. Validation errors are returned and also kept in Err.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyActive
	}

	snap, logic, err := s.pickSnapshot()
	if err != nil {
		s.err = err
		return err
	}

	w, err := capturelog.Create(s.path)
	if err != nil {
		s.err = fmt.Errorf("create %s: %w", s.path, err)
		return s.err
	}

	var (
		driver, desc string
		channels     []*domain.Channel
	)
	if dev := s.src.Device(); dev != nil {
		driver, desc = dev.Driver(), dev.Description()
	}
	for _, sig := range s.src.Signals() {
		channels = append(channels, sig.Channel())
	}
	header := []capturelog.Record{
		capturelog.DeviceRecord(driver, desc, channels, logic.Samplerate(), snap.Capacity()),
		capturelog.FromPayload(domain.Header{StartTime: logic.StartTime()}),
		capturelog.FromPayload(domain.FrameBegin{}),
	}
	for _, rec := range header {
		if _, err := w.Append(rec); err != nil {
			_ = w.Close()
			s.err = fmt.Errorf("write %s record: %w", rec.Kind, err)
			return s.err
		}
	}

	s.total.Store(snap.SampleCount())
	s.started = true
	s.done = make(chan struct{})
	go s.storeProc(w, snap, s.done)
	return nil
}

func (s *Session) pickSnapshot() (*data.LogicSnapshot, *data.Logic, error) {
	all := s.src.Data()
	if len(all) == 0 || len(s.src.Signals()) == 0 {
		return nil, nil, ErrNoData
	}
	if len(all) > 1 {
		return nil, nil, ErrMultipleData
	}
	logic, ok := all[0].(*data.Logic)
	if !ok {
		return nil, nil, ErrNotLogic
	}
	// the most recent sweep is the one stored
	snap := logic.LatestSnapshot()
	if snap == nil {
		return nil, nil, ErrNoSnapshots
	}
	return snap, logic, nil
}

func (s *Session) storeProc(w *capturelog.Writer, snap *data.LogicSnapshot, done chan struct{}) {
	defer close(done)

	unitSize := snap.UnitSize()
	samplesPerBlock := uint64(BlockSize / unitSize)
	count := snap.SampleCount()
	buf := make([]byte, 0, BlockSize)

	var (
		start uint64
		err   error
	)
	for !s.interrupt.Load() && start < count {
		end := min(start+samplesPerBlock, count)
		buf = snap.GetSamples(buf[:0], start, end)
		if _, err = w.Append(capturelog.FromPayload(domain.Logic{UnitSize: unitSize, Data: buf})); err != nil {
			err = fmt.Errorf("write samples %d-%d: %w", start, end, err)
			break
		}
		start = end
		s.stored.Store(start)
		s.obs.SetGauge("sigflow_store_progress_samples", float64(start))
	}

	if err == nil && !s.interrupt.Load() {
		if _, err = w.Append(capturelog.FromPayload(domain.End{})); err != nil {
			err = fmt.Errorf("write end record: %w", err)
		}
	}
	if cerr := w.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close %s: %w", s.path, cerr)
	}

	if err != nil {
		s.obs.LogError("store_failed", err, ports.Field{Key: "path", Value: s.path})
	} else {
		s.obs.LogInfo("store_finished",
			ports.Field{Key: "path", Value: s.path},
			ports.Field{Key: "samples", Value: start},
			ports.Field{Key: "cancelled", Value: s.interrupt.Load()},
		)
	}
	s.total.Store(0)

	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Wait blocks until the writer finishes.
func (s *Session) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Cancel stops the writer after the current block.
func (s *Session) Cancel() { s.interrupt.Store(true) }

// Progress returns samples stored and samples to store. The total drops to
// zero when the writer finishes.
func (s *Session) Progress() (stored, total uint64) {
	return s.stored.Load(), s.total.Load()
}

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
