package sigflow

import (
	"errors"
	"fmt"
	"sync"
)

// ErrChannelSinkClosed is returned when a channel sink is written to after being closed.
var ErrChannelSinkClosed = errors.New("sigflow: channel sink closed")

// AnnotationBatchSink is invoked with ordered batches dequeued from the export queue.
type AnnotationBatchSink func([]ExportedAnnotation) error

// NewCallbackSink adapts an AnnotationBatchSink into a full AnnotationSink so
// callers can plug arbitrary functions without defining structs.
func NewCallbackSink(name string, fn AnnotationBatchSink) AnnotationSink {
	if name == "" {
		name = "callback"
	}
	return &callbackSink{name: name, fn: fn}
}

// NewChannelSink exposes batches via a channel; it returns the sink, the read-only channel,
// and a close function that the caller should invoke during shutdown.
func NewChannelSink(name string, buffer int) (AnnotationSink, <-chan []ExportedAnnotation, func()) {
	if name == "" {
		name = "channel"
	}
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan []ExportedAnnotation, buffer)
	s := &channelSink{
		name:   name,
		ch:     ch,
		closed: make(chan struct{}),
	}
	return s, ch, func() { s.close() }
}

type callbackSink struct {
	name string
	fn   AnnotationBatchSink
}

func (s *callbackSink) WriteBatch(batch []ExportedAnnotation) error {
	if s.fn == nil {
		return fmt.Errorf("callback sink %q: nil handler", s.name)
	}
	if len(batch) == 0 {
		return nil
	}
	return s.fn(copyBatch(batch))
}

func (s *callbackSink) Name() string { return s.name }

type channelSink struct {
	name   string
	ch     chan []ExportedAnnotation
	closed chan struct{}
	mu     sync.RWMutex
	once   sync.Once
}

func (s *channelSink) WriteBatch(batch []ExportedAnnotation) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	select {
	case <-s.closed:
		return ErrChannelSinkClosed
	default:
	}

	if len(batch) == 0 {
		return nil
	}

	select {
	case <-s.closed:
		return ErrChannelSinkClosed
	case s.ch <- copyBatch(batch):
		return nil
	}
}

func (s *channelSink) Name() string { return s.name }

// close unblocks pending writers before closing the channel.
func (s *channelSink) close() {
	s.once.Do(func() {
		close(s.closed)
		s.mu.Lock()
		close(s.ch)
		s.mu.Unlock()
	})
}

func copyBatch(batch []ExportedAnnotation) []ExportedAnnotation {
	out := make([]ExportedAnnotation, len(batch))
	for i, a := range batch {
		a.Annotation.Texts = append([]string(nil), a.Annotation.Texts...)
		out[i] = a
	}
	return out
}
