package data

import (
	"math"
	"testing"
	"time"
)

func TestAnalogSnapshotAppendInterleaved(t *testing.T) {
	s, err := NewAnalogSnapshot(8)
	if err != nil {
		t.Fatalf("new analog snapshot: %v", err)
	}

	// Two channels interleaved; take the second one.
	data := []float32{0, 10, 1, 11, 2, 12}
	if !s.AppendInterleaved(data, 3, 2, 1) {
		t.Fatalf("expected append to succeed")
	}
	got := s.GetSamples(nil, 0, 3)
	if len(got) != 3 || got[0] != 10 || got[2] != 12 {
		t.Fatalf("unexpected samples %v", got)
	}

	if s.AppendInterleaved(make([]float32, 12), 6, 2, 0) {
		t.Fatalf("append beyond capacity should fail")
	}
	if s.SampleCount() != 3 {
		t.Fatalf("failed append must not write, count=%d", s.SampleCount())
	}
	if s.AppendInterleaved(data, 4, 2, 0) {
		t.Fatalf("append reading past the buffer should fail")
	}
}

func TestAnalogSnapshotEnvelopeMatchesLinearScan(t *testing.T) {
	const n = 70000
	s, _ := NewAnalogSnapshot(n)
	data := make([]float32, n)
	for i := range data {
		data[i] = float32(math.Sin(float64(i)/500) * 3)
	}
	data[12345] = 99
	data[54321] = -99
	if !s.AppendInterleaved(data, n, 1, 0) {
		t.Fatalf("append failed")
	}

	for _, tc := range []struct{ start, end, res uint64 }{
		{0, n - 1, 4096},
		{100, 20000, 333},
		{12340, 12350, 1},
		{0, n - 1, n},
	} {
		env := s.GetEnvelope(tc.start, tc.end, tc.res)
		wantBuckets := (tc.end-tc.start)/tc.res + 1
		if uint64(len(env)) != wantBuckets {
			t.Fatalf("%+v: expected %d buckets, got %d", tc, wantBuckets, len(env))
		}
		for b, e := range env {
			lo := tc.start + uint64(b)*tc.res
			hi := min(lo+tc.res, tc.end+1)
			mn, mx := data[lo], data[lo]
			for _, v := range data[lo:hi] {
				mn = min(mn, v)
				mx = max(mx, v)
			}
			if e.Min != mn || e.Max != mx {
				t.Fatalf("%+v bucket %d: got %+v want {%v %v}", tc, b, e, mn, mx)
			}
		}
	}
}

func TestAnalogSnapshotSealPanics(t *testing.T) {
	s, _ := NewAnalogSnapshot(4)
	s.MarkTruncated()
	if !s.Sealed() || !s.Truncated() {
		t.Fatalf("expected truncated snapshot to be sealed")
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on append after seal")
		}
	}()
	s.AppendInterleaved([]float32{1}, 1, 1, 0)
}

func TestLogicDataKeepsSnapshotsInOrder(t *testing.T) {
	l := NewLogic(4)
	first, _ := NewLogicSnapshot(1, 10)
	second, _ := NewLogicSnapshot(1, 10)
	first.Append([]byte{1, 1, 1}, 3)
	second.Append([]byte{1}, 1)

	l.PushSnapshot(first)
	l.PushSnapshot(second)
	l.SetSamplerate(1_000_000)
	l.SetStartTime(time.Unix(10, 0))

	snaps := l.Snapshots()
	if len(snaps) != 2 || snaps[0] != first || snaps[1] != second {
		t.Fatalf("expected chronological order, got %v", snaps)
	}
	if l.LatestSnapshot() != second {
		t.Fatalf("expected latest snapshot to be the second one")
	}
	if l.MaxSampleCount() != 3 {
		t.Fatalf("expected max sample count 3, got %d", l.MaxSampleCount())
	}
	if l.Samplerate() != 1_000_000 || !l.StartTime().Equal(time.Unix(10, 0)) {
		t.Fatalf("timing not stored")
	}

	snaps[0] = nil
	if l.Snapshots()[0] != first {
		t.Fatalf("Snapshots must return a copy")
	}

	l.Clear()
	if len(l.Snapshots()) != 0 || l.LatestSnapshot() != nil {
		t.Fatalf("expected no snapshots after clear")
	}
}
