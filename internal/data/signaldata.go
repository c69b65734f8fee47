package data

import (
	"sync"
	"time"

	"github.com/ghalamif/SigFlow/internal/domain"
)

// SignalData is the sample history behind one or more signals: the ordered
// snapshots of every sweep plus the timing needed to map time to samples.
type SignalData interface {
	Kind() domain.ChannelKind
	Samplerate() uint64
	SetSamplerate(hz uint64)
	StartTime() time.Time
	SetStartTime(t time.Time)
	MaxSampleCount() uint64
	Clear()
}

type timing struct {
	mu         sync.RWMutex
	samplerate uint64
	startTime  time.Time
}

func (t *timing) Samplerate() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.samplerate
}

func (t *timing) SetSamplerate(hz uint64) {
	t.mu.Lock()
	t.samplerate = hz
	t.mu.Unlock()
}

func (t *timing) StartTime() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.startTime
}

func (t *timing) SetStartTime(ts time.Time) {
	t.mu.Lock()
	t.startTime = ts
	t.mu.Unlock()
}

// Logic holds the logic snapshots shared by every logic channel of a device.
type Logic struct {
	timing
	numChannels int

	snapMu    sync.RWMutex
	snapshots []*LogicSnapshot
}

func NewLogic(numChannels int) *Logic {
	return &Logic{numChannels: numChannels}
}

func (l *Logic) Kind() domain.ChannelKind { return domain.ChannelLogic }

func (l *Logic) NumChannels() int { return l.numChannels }

// PushSnapshot appends s. Snapshots are pushed in chronological order and
// are already allocated, so readers never see a half-built one.
func (l *Logic) PushSnapshot(s *LogicSnapshot) {
	l.snapMu.Lock()
	l.snapshots = append(l.snapshots, s)
	l.snapMu.Unlock()
}

// Snapshots returns the snapshots oldest first. The slice is a copy.
func (l *Logic) Snapshots() []*LogicSnapshot {
	l.snapMu.RLock()
	defer l.snapMu.RUnlock()
	out := make([]*LogicSnapshot, len(l.snapshots))
	copy(out, l.snapshots)
	return out
}

// LatestSnapshot returns the most recent snapshot or nil.
func (l *Logic) LatestSnapshot() *LogicSnapshot {
	l.snapMu.RLock()
	defer l.snapMu.RUnlock()
	if len(l.snapshots) == 0 {
		return nil
	}
	return l.snapshots[len(l.snapshots)-1]
}

func (l *Logic) MaxSampleCount() uint64 {
	var m uint64
	for _, s := range l.Snapshots() {
		if c := s.SampleCount(); c > m {
			m = c
		}
	}
	return m
}

func (l *Logic) Clear() {
	l.snapMu.Lock()
	l.snapshots = nil
	l.snapMu.Unlock()
}

// Analog holds the snapshots of a single analog channel.
type Analog struct {
	timing

	snapMu    sync.RWMutex
	snapshots []*AnalogSnapshot
}

func NewAnalog() *Analog { return &Analog{} }

func (a *Analog) Kind() domain.ChannelKind { return domain.ChannelAnalog }

func (a *Analog) PushSnapshot(s *AnalogSnapshot) {
	a.snapMu.Lock()
	a.snapshots = append(a.snapshots, s)
	a.snapMu.Unlock()
}

func (a *Analog) Snapshots() []*AnalogSnapshot {
	a.snapMu.RLock()
	defer a.snapMu.RUnlock()
	out := make([]*AnalogSnapshot, len(a.snapshots))
	copy(out, a.snapshots)
	return out
}

func (a *Analog) LatestSnapshot() *AnalogSnapshot {
	a.snapMu.RLock()
	defer a.snapMu.RUnlock()
	if len(a.snapshots) == 0 {
		return nil
	}
	return a.snapshots[len(a.snapshots)-1]
}

func (a *Analog) MaxSampleCount() uint64 {
	var m uint64
	for _, s := range a.Snapshots() {
		if c := s.SampleCount(); c > m {
			m = c
		}
	}
	return m
}

func (a *Analog) Clear() {
	a.snapMu.Lock()
	a.snapshots = nil
	a.snapMu.Unlock()
}

var (
	_ SignalData = (*Logic)(nil)
	_ SignalData = (*Analog)(nil)
)
