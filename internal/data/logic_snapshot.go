package data

import (
	"fmt"
	"math/bits"
	"sync"

	"github.com/ghalamif/SigFlow/internal/domain"
)

const (
	mipMapScalePower  = 4
	mipMapScaleFactor = 1 << mipMapScalePower
	mipMapLevels      = 10

	maxUnitSize = 8
)

// EdgePair is one point of a reduced logic trace: from Sample onwards the
// channel is at Level.
type EdgePair struct {
	Sample uint64
	Level  bool
}

type mipMapLevel struct {
	length uint64
	data   []byte
}

// LogicSnapshot is an append-only, capacity-bounded buffer of packed logic
// samples for one sweep. Each index level holds, per block of 16 entries of
// the level below, the OR of all bit transitions inside that block, so
// unchanged stretches can be skipped without touching raw samples.
type LogicSnapshot struct {
	mu sync.RWMutex

	unitSize    int
	capacity    uint64
	data        []byte
	sampleCount uint64

	mipMap           [mipMapLevels]mipMapLevel
	lastAppendSample uint64

	sealed    bool
	truncated bool
}

// NewLogicSnapshot allocates an empty snapshot holding at most capacity
// samples of unitSize bytes each.
func NewLogicSnapshot(unitSize int, capacity uint64) (*LogicSnapshot, error) {
	if unitSize <= 0 || unitSize > maxUnitSize {
		return nil, fmt.Errorf("logic snapshot: unit size %d out of range 1..%d", unitSize, maxUnitSize)
	}
	if capacity == 0 {
		return nil, fmt.Errorf("logic snapshot: capacity must be > 0")
	}
	initial := capacity * uint64(unitSize)
	if initial > 1<<20 {
		initial = 1 << 20
	}
	return &LogicSnapshot{
		unitSize: unitSize,
		capacity: capacity,
		data:     make([]byte, 0, initial),
	}, nil
}

func (s *LogicSnapshot) UnitSize() int { return s.unitSize }

func (s *LogicSnapshot) Capacity() uint64 { return s.capacity }

func (s *LogicSnapshot) SampleCount() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sampleCount
}

// AppendPayload appends a logic packet. Packets with a different unit size
// are rejected.
func (s *LogicSnapshot) AppendPayload(l domain.Logic) bool {
	if l.UnitSize != s.unitSize {
		return false
	}
	return s.Append(l.Data, l.SampleCount())
}

// Append copies count packed samples from raw. It returns false, writing
// nothing, when raw is too short or the samples would exceed the capacity.
func (s *LogicSnapshot) Append(raw []byte, count uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sealed {
		panic("logic snapshot: append after seal")
	}
	if count == 0 {
		return true
	}
	n := count * uint64(s.unitSize)
	if uint64(len(raw)) < n {
		return false
	}
	if count > s.capacity-s.sampleCount {
		return false
	}

	s.data = append(s.data, raw[:n]...)
	s.sampleCount += count
	s.extendMipMap()
	return true
}

// Seal marks the end of the sweep. Further appends are contract violations.
func (s *LogicSnapshot) Seal() {
	s.mu.Lock()
	s.sealed = true
	s.mu.Unlock()
}

func (s *LogicSnapshot) Sealed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sealed
}

// MarkTruncated seals the snapshot and records that its sweep never ended
// cleanly.
func (s *LogicSnapshot) MarkTruncated() {
	s.mu.Lock()
	s.sealed = true
	s.truncated = true
	s.mu.Unlock()
}

func (s *LogicSnapshot) Truncated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.truncated
}

// Sample returns the packed sample at index i.
func (s *LogicSnapshot) Sample(i uint64) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i >= s.sampleCount {
		return 0
	}
	return s.sampleAt(i)
}

// GetSamples appends the raw bytes of samples [start, end) to dst.
func (s *LogicSnapshot) GetSamples(dst []byte, start, end uint64) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if end > s.sampleCount {
		end = s.sampleCount
	}
	if start >= end {
		return dst
	}
	u := uint64(s.unitSize)
	return append(dst, s.data[start*u:end*u]...)
}

// GetSubsampledEdges reduces samples [start, end] of one channel to a list of
// level changes no closer together than resolution samples. The first pair
// holds the level at start and the last pair (at end+1) the level at end, so
// a valid range always yields at least two pairs. With resolution <= 1 the
// result is the exact transition list. An empty snapshot yields nil; end is
// clamped to the last sample.
func (s *LogicSnapshot) GetSubsampledEdges(start, end uint64, resolution float64, channel int) []EdgePair {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.sampleCount == 0 || channel < 0 || channel >= s.unitSize*8 {
		return nil
	}
	if end >= s.sampleCount {
		end = s.sampleCount - 1
	}
	if start > end {
		return nil
	}
	if resolution < 1 {
		resolution = 1
	}

	blockLength := uint64(resolution)
	minLevel := (bits.Len64(blockLength)-1)/mipMapScalePower - 1
	if minLevel < 0 {
		minLevel = 0
	}
	if minLevel >= mipMapLevels {
		minLevel = mipMapLevels - 1
	}
	fine := blockLength < mipMapScaleFactor
	mask := uint64(1) << uint(channel)
	level := func(i uint64) bool { return s.sampleAt(i)&mask != 0 }

	lastSample := level(start)
	edges := []EdgePair{{Sample: start, Level: lastSample}}
	index := start + 1

	for index+blockLength <= end {
		lvl := minLevel
		fastForward := s.mipMap[lvl].length > 0

		if fine {
			// Scan single samples up to the next level-0 block boundary.
			final := pow2Ceil(index, mipMapScalePower)
			if final > end {
				final = end
			}
			for ; index < final && index&(mipMapScaleFactor-1) != 0; index++ {
				if level(index) != lastSample {
					fastForward = false
					break
				}
			}
		} else {
			index = pow2Ceil(index, uint(lvl+1)*mipMapScalePower)
			if index >= end {
				break
			}
			if level(index) != lastSample {
				fastForward = false
			}
		}

		if fastForward {
			// Zoom out along block boundaries until a block reports a change.
			for {
				power := uint(lvl+1) * mipMapScalePower
				offset := index >> power
				if offset >= s.mipMap[lvl].length || s.subsampleAt(lvl, offset)&mask != 0 {
					break
				}
				if offset&(mipMapScaleFactor-1) == 0 {
					if lvl+1 >= mipMapLevels || s.mipMap[lvl+1].length == 0 {
						break
					}
					lvl++
				} else {
					index = pow2Ceil(index+1, power)
				}
			}

			// Zoom back in on the changed block down to the minimum level.
			for {
				power := uint(lvl+1) * mipMapScalePower
				offset := index >> power
				if offset >= s.mipMap[lvl].length || s.subsampleAt(lvl, offset)&mask != 0 {
					if lvl == minLevel {
						break
					}
					lvl--
				} else {
					index = pow2Ceil(index+1, power)
				}
			}

			if fine {
				for ; index < end; index++ {
					if level(index) != lastSample {
						break
					}
				}
			}
		}

		final := index + blockLength
		if final > end {
			break
		}
		finalSample := level(final - 1)
		edges = append(edges, EdgePair{Sample: index, Level: finalSample})
		index = final
		lastSample = finalSample
	}

	endSample := level(end)
	if endSample != lastSample {
		edges = append(edges, EdgePair{Sample: end, Level: endSample})
	}
	return append(edges, EdgePair{Sample: end + 1, Level: endSample})
}

// extendMipMap indexes the samples appended since the previous call. Blocks
// that were already indexed are never revisited.
func (s *LogicSnapshot) extendMipMap() {
	u := uint64(s.unitSize)

	m0 := &s.mipMap[0]
	prev := m0.length
	m0.length = s.sampleCount / mipMapScaleFactor
	if prev == m0.length {
		return
	}
	m0.data = append(m0.data, make([]byte, (m0.length-prev)*u)...)
	for blk := prev; blk < m0.length; blk++ {
		var acc uint64
		for i := uint64(0); i < mipMapScaleFactor; i++ {
			sample := s.sampleAt(blk*mipMapScaleFactor + i)
			acc |= s.lastAppendSample ^ sample
			s.lastAppendSample = sample
		}
		pack(m0.data[blk*u:], acc, s.unitSize)
	}

	for lvl := 1; lvl < mipMapLevels; lvl++ {
		m := &s.mipMap[lvl]
		below := &s.mipMap[lvl-1]
		prev := m.length
		m.length = below.length / mipMapScaleFactor
		if prev == m.length {
			break
		}
		m.data = append(m.data, make([]byte, (m.length-prev)*u)...)
		for blk := prev; blk < m.length; blk++ {
			var acc uint64
			for i := uint64(0); i < mipMapScaleFactor; i++ {
				acc |= unpack(below.data[(blk*mipMapScaleFactor+i)*u:], s.unitSize)
			}
			pack(m.data[blk*u:], acc, s.unitSize)
		}
	}
}

func (s *LogicSnapshot) sampleAt(i uint64) uint64 {
	return unpack(s.data[i*uint64(s.unitSize):], s.unitSize)
}

func (s *LogicSnapshot) subsampleAt(lvl int, offset uint64) uint64 {
	return unpack(s.mipMap[lvl].data[offset*uint64(s.unitSize):], s.unitSize)
}

func unpack(b []byte, unitSize int) uint64 {
	var v uint64
	for i := 0; i < unitSize; i++ {
		v |= uint64(b[i]) << (8 * uint(i))
	}
	return v
}

func pack(b []byte, v uint64, unitSize int) {
	for i := 0; i < unitSize; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}

func pow2Ceil(x uint64, power uint) uint64 {
	p := uint64(1) << power
	return (x + p - 1) / p * p
}
