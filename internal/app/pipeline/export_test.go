package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ghalamif/SigFlow/internal/adapters/queue"
	"github.com/ghalamif/SigFlow/internal/domain"
	"github.com/ghalamif/SigFlow/internal/ports"
)

func TestEnqueueWithPolicyBlock(t *testing.T) {
	q := &mockQueue{}
	q.failures = 1

	pol := ports.Policy{
		OnQueueFull: "block",
		IdleSleep:   time.Millisecond,
	}
	obs := &mockObs{}

	if ok := EnqueueWithPolicy(context.Background(), q, ports.ExportedAnnotation{}, pol, obs); !ok {
		t.Fatalf("expected enqueue to eventually succeed")
	}
	if q.calls != 2 {
		t.Fatalf("expected two enqueue attempts, got %d", q.calls)
	}
}

func TestEnqueueWithPolicyBlockGivesUpOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	q := &mockQueue{failAlways: true}
	pol := ports.Policy{OnQueueFull: "block", IdleSleep: time.Millisecond}

	if ok := EnqueueWithPolicy(ctx, q, ports.ExportedAnnotation{}, pol, &mockObs{}); ok {
		t.Fatalf("expected cancelled enqueue to fail")
	}
}

func TestEnqueueWithPolicyDrop(t *testing.T) {
	for _, policy := range []string{"drop", "reject", "spill"} {
		q := &mockQueue{failAlways: true}
		obs := &mockObs{}

		if ok := EnqueueWithPolicy(context.Background(), q, ports.ExportedAnnotation{}, ports.Policy{OnQueueFull: policy}, obs); ok {
			t.Fatalf("%s: expected enqueue to fail", policy)
		}
		if len(obs.errors) == 0 {
			t.Fatalf("%s: expected an error to be logged", policy)
		}
	}
}

func TestPublisherCountsDrops(t *testing.T) {
	q := queue.NewMemQueue(1)
	obs := &mockObs{}
	publish := NewPublisher(context.Background(), q, ports.Policy{OnQueueFull: "drop", MaxQueueLen: 1}, obs)

	publish("cap-1", domain.Annotation{StartSample: 1})
	publish("cap-1", domain.Annotation{StartSample: 2})
	if q.Len() != 1 || obs.counter("sigflow_queue_dropped_total") != 1 {
		t.Fatalf("expected one queued and one dropped, got len=%d dropped=%v", q.Len(), obs.counter("sigflow_queue_dropped_total"))
	}
}

func TestRunAnnotationExportRetriesFailedBatch(t *testing.T) {
	q := queue.NewMemQueue(100)
	for i := 0; i < 5; i++ {
		q.Enqueue(ports.ExportedAnnotation{CaptureID: "cap", Annotation: domain.Annotation{StartSample: uint64(i)}})
	}
	sink := &mockSink{failures: 2}
	obs := &mockObs{}
	pol := ports.Policy{MaxBatchSize: 2, IdleSleep: time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunAnnotationExport(ctx, q, sink, pol, obs) }()

	deadline := time.After(2 * time.Second)
	for sink.count() < 5 {
		select {
		case <-deadline:
			t.Fatalf("export did not drain the queue, wrote %d", sink.count())
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("export: %v", err)
	}

	got := sink.written()
	for i, a := range got {
		if a.Annotation.StartSample != uint64(i) {
			t.Fatalf("expected FIFO order after retries, got %+v", got)
		}
	}
	if len(obs.errors) != 2 {
		t.Fatalf("expected two logged sink failures, got %d", len(obs.errors))
	}
	if obs.counter("sigflow_annotations_exported_total") != 5 {
		t.Fatalf("expected 5 exported, got %v", obs.counter("sigflow_annotations_exported_total"))
	}
}

func TestRunAnnotationExportReportsFailedFlush(t *testing.T) {
	q := queue.NewMemQueue(10)
	q.Enqueue(ports.ExportedAnnotation{CaptureID: "cap"})
	sink := &mockSink{failures: 1 << 30}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := RunAnnotationExport(ctx, q, sink, ports.Policy{MaxBatchSize: 10, IdleSleep: time.Millisecond}, &mockObs{})
	if err == nil {
		t.Fatalf("expected flush error on shutdown")
	}
}

type mockQueue struct {
	failures   int32
	failAlways bool
	calls      int
}

func (m *mockQueue) Enqueue(ports.ExportedAnnotation) bool {
	m.calls++
	if m.failAlways {
		return false
	}
	if atomic.LoadInt32(&m.failures) > 0 {
		atomic.AddInt32(&m.failures, -1)
		return false
	}
	return true
}

func (m *mockQueue) DequeueBatch(int) []ports.ExportedAnnotation { return nil }
func (m *mockQueue) Len() int                                    { return 0 }

type mockSink struct {
	mu       sync.Mutex
	failures int
	out      []ports.ExportedAnnotation
}

func (m *mockSink) Name() string { return "mock" }

func (m *mockSink) WriteBatch(batch []ports.ExportedAnnotation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return errors.New("connection refused")
	}
	m.out = append(m.out, batch...)
	return nil
}

func (m *mockSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.out)
}

func (m *mockSink) written() []ports.ExportedAnnotation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ports.ExportedAnnotation(nil), m.out...)
}

type mockObs struct {
	ports.NopObservability
	mu       sync.Mutex
	errors   []error
	counters map[string]float64
}

func (m *mockObs) LogError(_ string, err error, _ ...ports.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, err)
}

func (m *mockObs) IncCounter(name string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters == nil {
		m.counters = make(map[string]float64)
	}
	m.counters[name] += v
}

func (m *mockObs) counter(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}
