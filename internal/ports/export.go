package ports

import (
	"time"

	"github.com/ghalamif/SigFlow/internal/domain"
)

type Policy struct {
	MaxQueueLen  int           `yaml:"max_queue_len"`
	MaxBatchSize int           `yaml:"max_batch_size"`
	IdleSleep    time.Duration `yaml:"idle_sleep"`

	OnQueueFull string `yaml:"on_queue_full"` // "block", "drop", "reject"
}

// ExportedAnnotation is an annotation tagged with the capture it came from.
type ExportedAnnotation struct {
	CaptureID  string
	Annotation domain.Annotation
}

type AnnotationQueue interface {
	Enqueue(a ExportedAnnotation) bool
	DequeueBatch(max int) []ExportedAnnotation
	Len() int
}

type AnnotationSink interface {
	WriteBatch(batch []ExportedAnnotation) error
	Name() string
}
