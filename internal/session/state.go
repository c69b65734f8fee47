package session

import "errors"

var (
	ErrNoDevice          = errors.New("sigflow: no device selected")
	ErrNoChannelsEnabled = errors.New("sigflow: no channels enabled")
	ErrNoDecodeEngine    = errors.New("sigflow: no decode engine configured")
	ErrEndNotReceived    = errors.New("sigflow: acquisition finished without an END packet")
)

// State is the capture lifecycle: Stopped → AwaitingTrigger → Running →
// Stopped.
type State int

const (
	Stopped State = iota
	AwaitingTrigger
	Running
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case AwaitingTrigger:
		return "awaiting_trigger"
	case Running:
		return "running"
	default:
		return "unknown"
	}
}

// Listener receives session notifications. FrameBegan, DataReceived and
// FrameEnded run on the capture worker goroutine and must not call
// StartCapture, StopCapture or SetDevice.
type Listener interface {
	CaptureStateChanged(State)
	SignalsChanged()
	FrameBegan()
	DataReceived()
	FrameEnded()
}

// ListenerFuncs adapts optional callbacks to Listener.
type ListenerFuncs struct {
	OnCaptureStateChanged func(State)
	OnSignalsChanged      func()
	OnFrameBegan          func()
	OnDataReceived        func()
	OnFrameEnded          func()
}

func (f ListenerFuncs) CaptureStateChanged(s State) {
	if f.OnCaptureStateChanged != nil {
		f.OnCaptureStateChanged(s)
	}
}

func (f ListenerFuncs) SignalsChanged() {
	if f.OnSignalsChanged != nil {
		f.OnSignalsChanged()
	}
}

func (f ListenerFuncs) FrameBegan() {
	if f.OnFrameBegan != nil {
		f.OnFrameBegan()
	}
}

func (f ListenerFuncs) DataReceived() {
	if f.OnDataReceived != nil {
		f.OnDataReceived()
	}
}

func (f ListenerFuncs) FrameEnded() {
	if f.OnFrameEnded != nil {
		f.OnFrameEnded()
	}
}
