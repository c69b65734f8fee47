package domain

import "time"

// Payload is one typed packet delivered by an acquisition. The set of payload
// kinds is closed: Header, Meta, FrameBegin, Logic, Analog and End.
type Payload interface {
	Accept(v PacketVisitor)
	payload()
}

// PacketVisitor handles every payload kind. A new payload kind adds a method
// here, so every dispatcher stops compiling until it handles it.
type PacketVisitor interface {
	VisitHeader(Header)
	VisitMeta(Meta)
	VisitFrameBegin(FrameBegin)
	VisitLogic(Logic)
	VisitAnalog(Analog)
	VisitEnd(End)
}

// Header opens a datafeed.
type Header struct {
	StartTime time.Time
}

// Meta carries configuration changes made by the device mid-acquisition.
type Meta struct {
	Config map[ConfigKey]Value
}

// FrameBegin marks the start of a sweep frame.
type FrameBegin struct{}

// Logic carries packed logic samples, UnitSize bytes per sample.
type Logic struct {
	UnitSize int
	Data     []byte
}

// SampleCount is the number of whole samples in the payload.
func (l Logic) SampleCount() uint64 {
	if l.UnitSize <= 0 {
		return 0
	}
	return uint64(len(l.Data) / l.UnitSize)
}

// Analog carries NumSamples samples for each channel, interleaved in Data.
type Analog struct {
	Channels   []*Channel
	NumSamples int
	Data       []float32
}

// End closes a datafeed.
type End struct{}

func (p Header) Accept(v PacketVisitor)     { v.VisitHeader(p) }
func (p Meta) Accept(v PacketVisitor)       { v.VisitMeta(p) }
func (p FrameBegin) Accept(v PacketVisitor) { v.VisitFrameBegin(p) }
func (p Logic) Accept(v PacketVisitor)      { v.VisitLogic(p) }
func (p Analog) Accept(v PacketVisitor)     { v.VisitAnalog(p) }
func (p End) Accept(v PacketVisitor)        { v.VisitEnd(p) }

func (Header) payload()     {}
func (Meta) payload()       {}
func (FrameBegin) payload() {}
func (Logic) payload()      {}
func (Analog) payload()     {}
func (End) payload()        {}
