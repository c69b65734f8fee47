package data

import (
	"fmt"
	"math"
	"sync"
)

const (
	envelopeScalePower  = 4
	envelopeScaleFactor = 1 << envelopeScalePower
	envelopeLevels      = 10
)

// EnvelopeSample is the amplitude range of a block of analog samples.
type EnvelopeSample struct {
	Min float32
	Max float32
}

// AnalogSnapshot is an append-only, capacity-bounded buffer of one analog
// channel's samples with min/max envelopes at 16x steps.
type AnalogSnapshot struct {
	mu sync.RWMutex

	capacity  uint64
	samples   []float32
	envelopes [envelopeLevels][]EnvelopeSample

	sealed    bool
	truncated bool
}

func NewAnalogSnapshot(capacity uint64) (*AnalogSnapshot, error) {
	if capacity == 0 {
		return nil, fmt.Errorf("analog snapshot: capacity must be > 0")
	}
	initial := capacity
	if initial > 1<<18 {
		initial = 1 << 18
	}
	return &AnalogSnapshot{
		capacity: capacity,
		samples:  make([]float32, 0, initial),
	}, nil
}

func (s *AnalogSnapshot) Capacity() uint64 { return s.capacity }

func (s *AnalogSnapshot) SampleCount() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.samples))
}

// AppendInterleaved takes count samples from data starting at offset and
// advancing by stride. Nothing is written when data is too short or the
// capacity would be exceeded.
func (s *AnalogSnapshot) AppendInterleaved(data []float32, count, stride, offset int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sealed {
		panic("analog snapshot: append after seal")
	}
	if count <= 0 {
		return true
	}
	if stride <= 0 || offset < 0 || offset+(count-1)*stride >= len(data) {
		return false
	}
	if uint64(count) > s.capacity-uint64(len(s.samples)) {
		return false
	}

	for i := 0; i < count; i++ {
		s.samples = append(s.samples, data[offset+i*stride])
	}
	s.extendEnvelopes()
	return true
}

func (s *AnalogSnapshot) Seal() {
	s.mu.Lock()
	s.sealed = true
	s.mu.Unlock()
}

func (s *AnalogSnapshot) Sealed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sealed
}

func (s *AnalogSnapshot) MarkTruncated() {
	s.mu.Lock()
	s.sealed = true
	s.truncated = true
	s.mu.Unlock()
}

func (s *AnalogSnapshot) Truncated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.truncated
}

// GetSamples appends samples [start, end) to dst.
func (s *AnalogSnapshot) GetSamples(dst []float32, start, end uint64) []float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n := uint64(len(s.samples)); end > n {
		end = n
	}
	if start >= end {
		return dst
	}
	return append(dst, s.samples[start:end]...)
}

// GetEnvelope returns the exact min/max of every resolution-wide bucket of
// samples [start, end]. end is clamped to the last sample.
func (s *AnalogSnapshot) GetEnvelope(start, end, resolution uint64) []EnvelopeSample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := uint64(len(s.samples))
	if n == 0 {
		return nil
	}
	if end >= n {
		end = n - 1
	}
	if start > end {
		return nil
	}
	if resolution == 0 {
		resolution = 1
	}

	out := make([]EnvelopeSample, 0, (end-start)/resolution+1)
	for lo := start; lo <= end; lo += resolution {
		hi := lo + resolution
		if hi > end+1 {
			hi = end + 1
		}
		out = append(out, s.minMax(lo, hi))
	}
	return out
}

// minMax covers [lo, hi) with the largest aligned envelope blocks available
// and falls back to raw samples at the ragged edges.
func (s *AnalogSnapshot) minMax(lo, hi uint64) EnvelopeSample {
	acc := EnvelopeSample{Min: float32(math.Inf(1)), Max: float32(math.Inf(-1))}
	for i := lo; i < hi; {
		used := false
		for lvl := envelopeLevels - 1; lvl >= 0; lvl-- {
			size := uint64(1) << (uint(lvl+1) * envelopeScalePower)
			blk := i / size
			if i%size != 0 || i+size > hi || blk >= uint64(len(s.envelopes[lvl])) {
				continue
			}
			acc = mergeEnvelope(acc, s.envelopes[lvl][blk])
			i += size
			used = true
			break
		}
		if !used {
			v := s.samples[i]
			acc = mergeEnvelope(acc, EnvelopeSample{Min: v, Max: v})
			i++
		}
	}
	return acc
}

func (s *AnalogSnapshot) extendEnvelopes() {
	e0 := s.envelopes[0]
	prev := uint64(len(e0))
	length := uint64(len(s.samples)) / envelopeScaleFactor
	for blk := prev; blk < length; blk++ {
		block := s.samples[blk*envelopeScaleFactor : (blk+1)*envelopeScaleFactor]
		env := EnvelopeSample{Min: block[0], Max: block[0]}
		for _, v := range block[1:] {
			env = mergeEnvelope(env, EnvelopeSample{Min: v, Max: v})
		}
		e0 = append(e0, env)
	}
	s.envelopes[0] = e0

	for lvl := 1; lvl < envelopeLevels; lvl++ {
		below := s.envelopes[lvl-1]
		cur := s.envelopes[lvl]
		prev := uint64(len(cur))
		length := uint64(len(below)) / envelopeScaleFactor
		if prev == length {
			break
		}
		for blk := prev; blk < length; blk++ {
			part := below[blk*envelopeScaleFactor : (blk+1)*envelopeScaleFactor]
			env := part[0]
			for _, e := range part[1:] {
				env = mergeEnvelope(env, e)
			}
			cur = append(cur, env)
		}
		s.envelopes[lvl] = cur
	}
}

func mergeEnvelope(a, b EnvelopeSample) EnvelopeSample {
	if b.Min < a.Min {
		a.Min = b.Min
	}
	if b.Max > a.Max {
		a.Max = b.Max
	}
	return a
}
