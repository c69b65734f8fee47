package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/ghalamif/SigFlow/internal/domain"
	"github.com/ghalamif/SigFlow/internal/ports"
)

// NewPublisher adapts a queue to the session's annotation publisher hook.
// Annotations refused by the queue policy are counted and dropped.
func NewPublisher(ctx context.Context, q ports.AnnotationQueue, pol ports.Policy, obs ports.Observability) func(captureID string, a domain.Annotation) {
	return func(captureID string, a domain.Annotation) {
		if !EnqueueWithPolicy(ctx, q, ports.ExportedAnnotation{CaptureID: captureID, Annotation: a}, pol, obs) {
			obs.IncCounter("sigflow_queue_dropped_total", 1)
		}
		obs.SetGauge("sigflow_queue_length", float64(q.Len()))
	}
}

// EnqueueWithPolicy offers a to the queue. A full queue blocks, drops or
// rejects according to pol.OnQueueFull. Blocking gives up when ctx ends.
func EnqueueWithPolicy(ctx context.Context, q ports.AnnotationQueue, a ports.ExportedAnnotation, pol ports.Policy, obs ports.Observability) bool {
	sleep := idleSleep(pol)

	for {
		if ok := q.Enqueue(a); ok {
			return true
		}

		switch pol.OnQueueFull {
		case "block":
			select {
			case <-ctx.Done():
				return false
			case <-time.After(sleep):
			}
		case "drop", "reject":
			obs.LogError("queue_full_drop", fmt.Errorf("queue length exceeded capacity %d", pol.MaxQueueLen),
				ports.Field{Key: "capture_id", Value: a.CaptureID})
			return false
		default:
			obs.LogError("queue_policy_invalid", fmt.Errorf("policy=%s", pol.OnQueueFull))
			return false
		}
	}
}

// RunAnnotationExport drains the queue into the sink in batches until ctx
// ends. A failed write keeps the batch and retries it after the idle sleep.
// On shutdown the remaining queue is flushed once and any error returned.
func RunAnnotationExport(ctx context.Context, q ports.AnnotationQueue, sink ports.AnnotationSink, pol ports.Policy, obs ports.Observability) error {
	sleep := idleSleep(pol)
	var pending []ports.ExportedAnnotation

	for {
		if len(pending) == 0 {
			pending = q.DequeueBatch(pol.MaxBatchSize)
			obs.SetGauge("sigflow_queue_length", float64(q.Len()))
		}
		if len(pending) == 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(sleep):
			}
			continue
		}

		if err := writeBatch(sink, pending, obs); err != nil {
			obs.LogError("sink_write_failed", err,
				ports.Field{Key: "sink", Value: sink.Name()},
				ports.Field{Key: "batch", Value: len(pending)})
			select {
			case <-ctx.Done():
				return flush(q, sink, pending, pol, obs)
			case <-time.After(sleep):
			}
			continue
		}
		pending = nil

		select {
		case <-ctx.Done():
			return flush(q, sink, nil, pol, obs)
		default:
		}
	}
}

func flush(q ports.AnnotationQueue, sink ports.AnnotationSink, pending []ports.ExportedAnnotation, pol ports.Policy, obs ports.Observability) error {
	for {
		if len(pending) == 0 {
			pending = q.DequeueBatch(pol.MaxBatchSize)
		}
		if len(pending) == 0 {
			return nil
		}
		if err := writeBatch(sink, pending, obs); err != nil {
			return fmt.Errorf("flush %d annotations to %s: %w", len(pending)+q.Len(), sink.Name(), err)
		}
		pending = nil
	}
}

func writeBatch(sink ports.AnnotationSink, batch []ports.ExportedAnnotation, obs ports.Observability) error {
	start := time.Now()
	if err := sink.WriteBatch(batch); err != nil {
		return err
	}
	obs.ObserveLatency("sigflow_export_sink_latency_seconds", time.Since(start).Seconds())
	obs.IncCounter("sigflow_annotations_exported_total", float64(len(batch)))
	return nil
}

func idleSleep(pol ports.Policy) time.Duration {
	if pol.IdleSleep <= 0 {
		return 5 * time.Millisecond
	}
	return pol.IdleSleep
}
