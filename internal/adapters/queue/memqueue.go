package queue

import (
	"sync"

	"github.com/ghalamif/SigFlow/internal/ports"
)

// MemQueue is a bounded in-memory annotation queue that preserves FIFO
// ordering.
type MemQueue struct {
	mu   sync.Mutex
	data []ports.ExportedAnnotation
	cap  int
}

func NewMemQueue(capacity int) *MemQueue {
	return &MemQueue{
		data: make([]ports.ExportedAnnotation, 0, min(capacity, 4096)),
		cap:  capacity,
	}
}

func (q *MemQueue) Enqueue(a ports.ExportedAnnotation) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) >= q.cap {
		return false
	}
	q.data = append(q.data, a)
	return true
}

func (q *MemQueue) DequeueBatch(max int) []ports.ExportedAnnotation {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) == 0 {
		return nil
	}
	if max <= 0 || max > len(q.data) {
		max = len(q.data)
	}
	out := make([]ports.ExportedAnnotation, max)
	copy(out, q.data[:max])
	q.data = append(q.data[:0], q.data[max:]...)
	return out
}

func (q *MemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}

var _ ports.AnnotationQueue = (*MemQueue)(nil)
