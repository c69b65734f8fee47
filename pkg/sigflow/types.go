package sigflow

import (
	"github.com/ghalamif/SigFlow/internal/domain"
	"github.com/ghalamif/SigFlow/internal/ports"
	"github.com/ghalamif/SigFlow/internal/session"
)

// Annotation is one decoded span of samples.
type Annotation = domain.Annotation

// ExportedAnnotation is an annotation tagged with its capture ID, as it flows
// through the export queue.
type ExportedAnnotation = ports.ExportedAnnotation

// AnnotationQueue is the bounded queue between decoders and the sink.
type AnnotationQueue = ports.AnnotationQueue

// AnnotationSink persists batches of annotations to any downstream system.
type AnnotationSink = ports.AnnotationSink

// Driver discovers devices. Extra drivers can be registered with WithDriver.
type Driver = ports.Driver

// Device is an instrument exposing channels and acquisitions.
type Device = ports.Device

// DecodeEngine constructs protocol decoders.
type DecodeEngine = ports.DecodeEngine

// DecoderDef describes a decoder's channels, options and annotation classes.
type DecoderDef = domain.DecoderDef

// Observability emits metrics and structured logs.
type Observability = ports.Observability

// Field is a structured log field used by Observability implementations.
type Field = ports.Field

// CaptureState is the acquisition state of the session.
type CaptureState = session.State

const (
	Stopped         = session.Stopped
	AwaitingTrigger = session.AwaitingTrigger
	Running         = session.Running
)

// NopObservability discards logs and metrics.
type NopObservability = ports.NopObservability
