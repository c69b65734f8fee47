package data

import (
	"math/rand"
	"reflect"
	"testing"

	"github.com/ghalamif/SigFlow/internal/domain"
)

// bruteEdges is the exact transition list for [start, end] of one channel.
func bruteEdges(samples []byte, start, end uint64, channel int) []EdgePair {
	lvl := func(i uint64) bool { return samples[i]&(1<<uint(channel)) != 0 }
	out := []EdgePair{{Sample: start, Level: lvl(start)}}
	for i := start + 1; i <= end; i++ {
		if lvl(i) != lvl(i-1) {
			out = append(out, EdgePair{Sample: i, Level: lvl(i)})
		}
	}
	return append(out, EdgePair{Sample: end + 1, Level: lvl(end)})
}

func newFilledSnapshot(t *testing.T, samples []byte, capacity uint64) *LogicSnapshot {
	t.Helper()
	s, err := NewLogicSnapshot(1, capacity)
	if err != nil {
		t.Fatalf("new snapshot: %v", err)
	}
	if !s.Append(samples, uint64(len(samples))) {
		t.Fatalf("append %d samples failed", len(samples))
	}
	return s
}

func TestLogicSnapshotRejectsBadConstruction(t *testing.T) {
	if _, err := NewLogicSnapshot(0, 10); err == nil {
		t.Fatalf("expected error for zero unit size")
	}
	if _, err := NewLogicSnapshot(9, 10); err == nil {
		t.Fatalf("expected error for unit size above 8")
	}
	if _, err := NewLogicSnapshot(1, 0); err == nil {
		t.Fatalf("expected error for zero capacity")
	}
}

func TestLogicSnapshotAppendRespectsCapacity(t *testing.T) {
	s, err := NewLogicSnapshot(2, 10)
	if err != nil {
		t.Fatalf("new snapshot: %v", err)
	}

	if !s.Append(make([]byte, 12), 6) {
		t.Fatalf("expected first append to fit")
	}
	if s.Append(make([]byte, 10), 5) {
		t.Fatalf("append beyond capacity should fail")
	}
	if got := s.SampleCount(); got != 6 {
		t.Fatalf("failed append must not write partially, count=%d", got)
	}
	if !s.Append(make([]byte, 8), 4) {
		t.Fatalf("expected append up to capacity to succeed")
	}
	if got := s.SampleCount(); got != 10 {
		t.Fatalf("expected 10 samples, got %d", got)
	}
	if s.Append([]byte{0, 0}, 1) {
		t.Fatalf("full snapshot must reject appends")
	}
}

func TestLogicSnapshotAppendShortBuffer(t *testing.T) {
	s, _ := NewLogicSnapshot(2, 100)
	if s.Append(make([]byte, 3), 2) {
		t.Fatalf("expected short raw buffer to be rejected")
	}
	if s.AppendPayload(domain.Logic{UnitSize: 1, Data: []byte{1, 2}}) {
		t.Fatalf("expected unit size mismatch to be rejected")
	}
	if s.SampleCount() != 0 {
		t.Fatalf("expected no samples, got %d", s.SampleCount())
	}
}

func TestLogicSnapshotAppendAfterSealPanics(t *testing.T) {
	s, _ := NewLogicSnapshot(1, 10)
	s.Seal()
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on append after seal")
		}
	}()
	s.Append([]byte{1}, 1)
}

func TestGetSubsampledEdgesExactAtResolutionOne(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	samples := make([]byte, 5000)
	var cur byte
	for i := range samples {
		// Long runs with occasional bursts exercise both fast-forward and
		// sample-by-sample scanning.
		if rng.Intn(200) == 0 {
			cur ^= byte(rng.Intn(256))
		}
		if i > 3000 && i < 3100 {
			samples[i] = byte(i)
			continue
		}
		samples[i] = cur
	}
	s := newFilledSnapshot(t, samples, uint64(len(samples)))

	ranges := [][2]uint64{{0, 4999}, {0, 0}, {17, 18}, {255, 4096}, {3000, 3100}, {4990, 4999}}
	for ch := 0; ch < 8; ch++ {
		for _, r := range ranges {
			got := s.GetSubsampledEdges(r[0], r[1], 1, ch)
			want := bruteEdges(samples, r[0], r[1], ch)
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("ch=%d range=%v: got %v want %v", ch, r, got, want)
			}
		}
	}
}

func TestGetSubsampledEdgesBoundaryLevels(t *testing.T) {
	samples := make([]byte, 1000)
	for i := 300; i < 700; i++ {
		samples[i] = 0x01
	}
	s := newFilledSnapshot(t, samples, 1000)

	for _, res := range []float64{1, 3, 16, 64, 300, 5000} {
		for _, r := range [][2]uint64{{0, 999}, {350, 650}, {299, 300}, {10, 10}} {
			edges := s.GetSubsampledEdges(r[0], r[1], res, 0)
			if len(edges) < 2 {
				t.Fatalf("res=%v range=%v: expected at least 2 entries, got %v", res, r, edges)
			}
			if edges[0].Sample != r[0] || edges[0].Level != (samples[r[0]] != 0) {
				t.Fatalf("res=%v range=%v: bad first entry %v", res, r, edges[0])
			}
			last := edges[len(edges)-1]
			if last.Level != (samples[r[1]] != 0) {
				t.Fatalf("res=%v range=%v: last level %v does not match sample at end", res, r, last)
			}
			for i := 1; i < len(edges)-1; i++ {
				if edges[i].Sample <= edges[i-1].Sample {
					t.Fatalf("res=%v: edges out of order %v", res, edges)
				}
			}
		}
	}
}

func TestGetSubsampledEdgesSpacingAtCoarseResolution(t *testing.T) {
	samples := make([]byte, 4096)
	for i := range samples {
		samples[i] = byte(i/3) & 1
	}
	s := newFilledSnapshot(t, samples, 4096)

	const res = 64
	edges := s.GetSubsampledEdges(0, 4095, res, 0)
	// Interior pairs are whole quantisation blocks apart.
	for i := 2; i < len(edges)-1; i++ {
		if edges[i].Sample-edges[i-1].Sample < res {
			t.Fatalf("pairs %v and %v closer than %d", edges[i-1], edges[i], res)
		}
	}
	if len(edges) > 4096/res+3 {
		t.Fatalf("expected reduced output, got %d pairs", len(edges))
	}
}

func TestGetSubsampledEdgesStableAfterAppend(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	all := make([]byte, 3000)
	for i := range all {
		if rng.Intn(40) == 0 {
			all[i] = ^all[max(i-1, 0)]
		} else if i > 0 {
			all[i] = all[i-1]
		}
	}

	s, _ := NewLogicSnapshot(1, 3000)
	if !s.Append(all[:1234], 1234) {
		t.Fatalf("append first part")
	}

	before := map[float64][]EdgePair{}
	for _, res := range []float64{1, 5} {
		before[res] = s.GetSubsampledEdges(100, 1200, res, 3)
	}
	countBefore := s.SampleCount()

	if !s.Append(all[1234:], uint64(len(all)-1234)) {
		t.Fatalf("append second part")
	}
	if s.SampleCount() < countBefore {
		t.Fatalf("sample count decreased")
	}

	for res, want := range before {
		got := s.GetSubsampledEdges(100, 1200, res, 3)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("res=%v: prefix query changed after append\nbefore %v\nafter  %v", res, want, got)
		}
	}
}

func TestGetSubsampledEdgesDuringConcurrentAppend(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	all := make([]byte, 20000)
	for i := 1; i < len(all); i++ {
		all[i] = all[i-1]
		if rng.Intn(25) == 0 {
			all[i] ^= byte(1 << uint(rng.Intn(4)))
		}
	}

	s, _ := NewLogicSnapshot(1, uint64(len(all)))
	done := make(chan struct{})
	go func() {
		defer close(done)
		for pos := 0; pos < len(all); pos += 37 {
			end := min(pos+37, len(all))
			s.Append(all[pos:end], uint64(end-pos))
		}
	}()

	check := func() {
		n := s.SampleCount()
		if n < 2 {
			return
		}
		got := s.GetSubsampledEdges(0, n-1, 1, 2)
		if want := bruteEdges(all, 0, n-1, 2); !reflect.DeepEqual(got, want) {
			t.Fatalf("prefix of %d samples: got %d edges, want %d", n, len(got), len(want))
		}
		for _, e := range s.GetSubsampledEdges(0, n-1, 64, 1) {
			if e.Sample > n {
				t.Fatalf("edge at %d beyond the %d samples read", e.Sample, n)
			}
		}
	}
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		check()
	}
	if s.SampleCount() != uint64(len(all)) {
		t.Fatalf("expected %d samples, got %d", len(all), s.SampleCount())
	}
	check()
}

func TestGetSubsampledEdgesMultiByteUnit(t *testing.T) {
	s, _ := NewLogicSnapshot(2, 100)
	raw := make([]byte, 0, 200)
	for i := 0; i < 100; i++ {
		var hi byte
		if i >= 40 {
			hi = 0x80 // channel 15
		}
		raw = append(raw, 0, hi)
	}
	s.Append(raw, 100)

	got := s.GetSubsampledEdges(0, 99, 1, 15)
	want := []EdgePair{{0, false}, {40, true}, {100, true}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
	if s.GetSubsampledEdges(0, 99, 1, 16) != nil {
		t.Fatalf("expected nil for channel outside unit")
	}
}

func TestGetSubsampledEdgesEmptySnapshot(t *testing.T) {
	s, _ := NewLogicSnapshot(1, 10)
	if edges := s.GetSubsampledEdges(0, 5, 1, 0); edges != nil {
		t.Fatalf("expected nil edges for empty snapshot, got %v", edges)
	}
}

func TestGetSamplesCopiesRange(t *testing.T) {
	samples := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	s := newFilledSnapshot(t, samples, 8)

	got := s.GetSamples(nil, 2, 5)
	if !reflect.DeepEqual(got, []byte{3, 4, 5}) {
		t.Fatalf("unexpected samples %v", got)
	}
	got[0] = 99
	if s.Sample(2) != 3 {
		t.Fatalf("GetSamples must copy, snapshot was modified")
	}
	if got := s.GetSamples(nil, 6, 20); !reflect.DeepEqual(got, []byte{7, 8}) {
		t.Fatalf("expected clamp to sample count, got %v", got)
	}
}
