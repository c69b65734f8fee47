package session

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/ghalamif/SigFlow/internal/data"
	"github.com/ghalamif/SigFlow/internal/decode"
	"github.com/ghalamif/SigFlow/internal/domain"
	"github.com/ghalamif/SigFlow/internal/ports"
)

const DefaultSampleLimit = 1_000_000

// DeviceSource lists the devices found by the configured drivers.
type DeviceSource interface {
	Devices() []ports.Device
}

type Option func(*Session)

func WithObservability(obs ports.Observability) Option {
	return func(s *Session) {
		if obs != nil {
			s.obs = obs
		}
	}
}

func WithDecodeEngine(engine ports.DecodeEngine) Option {
	return func(s *Session) { s.engine = engine }
}

// WithDefaultSampleLimit sets the snapshot capacity used when the device
// does not report a sample limit.
func WithDefaultSampleLimit(n uint64) Option {
	return func(s *Session) {
		if n > 0 {
			s.defaultLimit = n
		}
	}
}

// WithAnnotationPublisher receives the annotations of every completed
// decode pass, tagged with the capture ID.
func WithAnnotationPublisher(fn func(captureID string, a domain.Annotation)) Option {
	return func(s *Session) { s.publish = fn }
}

// Session owns the active device, the signals built from its channels and
// the capture worker feeding them.
type Session struct {
	devices      DeviceSource
	obs          ports.Observability
	engine       ports.DecodeEngine
	defaultLimit uint64
	publish      func(string, domain.Annotation)

	// lifecycleMu serialises StartCapture, StopCapture and device switches.
	lifecycleMu sync.Mutex
	acq         ports.Acquisition
	workerDone  chan struct{}

	devMu  sync.RWMutex
	device ports.Device

	stateMu sync.Mutex
	state   State

	captureID atomic.Value

	signalsMu sync.RWMutex
	signals   []*data.Signal
	decoders  []*decode.Pipeline

	dataMu    sync.Mutex
	logicData *data.Logic
	curLogic  *data.LogicSnapshot
	curAnalog map[*domain.Channel]*data.AnalogSnapshot

	listenersMu sync.RWMutex
	listeners   []listenerEntry
	nextID      int
}

type listenerEntry struct {
	id int
	l  Listener
}

func New(devices DeviceSource, opts ...Option) *Session {
	s := &Session{
		devices:      devices,
		obs:          ports.NopObservability{},
		defaultLimit: DefaultSampleLimit,
		curAnalog:    make(map[*domain.Channel]*data.AnalogSnapshot),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.captureID.Store("")
	return s
}

func (s *Session) Device() ports.Device {
	s.devMu.RLock()
	defer s.devMu.RUnlock()
	return s.device
}

func (s *Session) CaptureState() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// CaptureID identifies the current or most recent capture.
func (s *Session) CaptureID() string {
	return s.captureID.Load().(string)
}

// Signals returns the current signal list. The slice is a copy; the list
// itself is replaced wholesale on device change.
func (s *Session) Signals() []*data.Signal {
	s.signalsMu.RLock()
	defer s.signalsMu.RUnlock()
	out := make([]*data.Signal, len(s.signals))
	copy(out, s.signals)
	return out
}

// Data returns each distinct SignalData behind the current signals.
func (s *Session) Data() []data.SignalData {
	seen := make(map[data.SignalData]bool)
	var out []data.SignalData
	for _, sig := range s.Signals() {
		d := sig.Data()
		if d == nil || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

// LogicData returns the shared logic container, or nil when the device has
// no enabled logic channels.
func (s *Session) LogicData() *data.Logic {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	return s.logicData
}

// AddListener registers l and returns a function that removes it.
func (s *Session) AddListener(l Listener) func() {
	s.listenersMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners = append(s.listeners, listenerEntry{id: id, l: l})
	s.listenersMu.Unlock()
	return func() {
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()
		for i, e := range s.listeners {
			if e.id == id {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// SetDevice stops any capture, closes the previous device and rebuilds the
// signal list from dev. A nil dev leaves the session without a device.
func (s *Session) SetDevice(dev ports.Device) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.stopLocked()
	s.clearDecoders()

	s.devMu.Lock()
	old := s.device
	s.device = nil
	s.devMu.Unlock()
	if old != nil {
		if err := old.Close(); err != nil {
			s.obs.LogError("device_close_failed", err, ports.Field{Key: "device", Value: old.Description()})
		}
	}

	if dev != nil {
		if err := dev.Open(); err != nil {
			s.updateSignals(nil)
			return fmt.Errorf("open device %q: %w", dev.Description(), err)
		}
	}

	s.devMu.Lock()
	s.device = dev
	s.devMu.Unlock()
	s.updateSignals(dev)

	if dev != nil {
		s.obs.LogInfo("device_selected",
			ports.Field{Key: "driver", Value: dev.Driver()},
			ports.Field{Key: "device", Value: dev.Description()},
		)
	}
	return nil
}

// SetFile loads a persisted capture and makes its first device active.
func (s *Session) SetFile(path string, loader ports.SessionLoader) error {
	if loader == nil {
		return errors.New("sigflow: no session loader")
	}
	devs, err := loader(path)
	if err != nil {
		return fmt.Errorf("load session %q: %w", path, err)
	}
	if len(devs) == 0 {
		return fmt.Errorf("load session %q: %w", path, ErrNoDevice)
	}
	return s.SetDevice(devs[0])
}

// SetDefaultDevice selects the first device found, preferring the demo
// driver.
func (s *Session) SetDefaultDevice() error {
	if s.devices == nil {
		return ErrNoDevice
	}
	devs := s.devices.Devices()
	if len(devs) == 0 {
		return ErrNoDevice
	}
	pick := devs[0]
	for _, d := range devs {
		if d.Driver() == "demo" {
			pick = d
			break
		}
	}
	return s.SetDevice(pick)
}

// StartCapture stops any running capture and starts a new one on the active
// device. Failures before the worker starts are passed to onError and
// returned; failures afterwards only reach onError.
func (s *Session) StartCapture(onError func(error)) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.stopLocked()

	report := func(err error) error {
		s.obs.LogError("capture_start_failed", err)
		if onError != nil {
			onError(err)
		}
		return err
	}

	dev := s.Device()
	if dev == nil {
		return report(ErrNoDevice)
	}
	if !domain.AnyEnabled(dev.Channels()) {
		return report(ErrNoChannelsEnabled)
	}
	s.readSampleRate(dev)

	d := &dispatcher{s: s, dev: dev}
	acq, err := dev.NewAcquisition(func(_ ports.Device, p domain.Payload) {
		s.obs.IncCounter("sigflow_packets_total", 1)
		d.handle(p)
	})
	if err != nil {
		return report(fmt.Errorf("create acquisition: %w", err))
	}
	if err := acq.Start(); err != nil {
		return report(fmt.Errorf("start acquisition: %w", err))
	}

	id := uuid.NewString()
	s.captureID.Store(id)
	s.acq = acq
	done := make(chan struct{})
	s.workerDone = done

	if acq.TriggerEnabled() {
		s.setState(AwaitingTrigger)
	} else {
		s.setState(Running)
	}
	s.obs.LogInfo("capture_started",
		ports.Field{Key: "capture_id", Value: id},
		ports.Field{Key: "device", Value: dev.Description()},
	)

	go s.sampleWorker(acq, d, onError, done)
	return nil
}

// StopCapture requests the acquisition to stop and joins the worker. It is a
// no-op when nothing is running.
func (s *Session) StopCapture() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	s.stopLocked()
}

// Wait blocks until the current capture worker exits on its own.
func (s *Session) Wait() {
	s.lifecycleMu.Lock()
	done := s.workerDone
	s.lifecycleMu.Unlock()
	if done != nil {
		<-done
	}
}

// Close stops the capture, detaches all decoders and closes the device.
func (s *Session) Close() error {
	return s.SetDevice(nil)
}

func (s *Session) stopLocked() {
	if s.acq != nil && s.CaptureState() != Stopped {
		if err := s.acq.Stop(); err != nil {
			s.obs.LogError("acquisition_stop_failed", err)
		}
	}
	if s.workerDone != nil {
		<-s.workerDone
		s.workerDone = nil
	}
	s.acq = nil
}

func (s *Session) sampleWorker(acq ports.Acquisition, d *dispatcher, onError func(error), done chan struct{}) {
	defer close(done)
	report := func(err error) {
		if onError != nil {
			onError(err)
		}
	}

	runErr := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("capture worker panic: %v", r)
			}
		}()
		return acq.Run()
	}()

	s.setState(Stopped)

	if runErr != nil {
		s.obs.LogError("acquisition_failed", runErr, ports.Field{Key: "capture_id", Value: s.CaptureID()})
		report(runErr)
	}

	// d is only used on this goroutine
	truncated := s.sealOpenSnapshots(true)
	if truncated || (d.seen && !d.ended) {
		s.obs.LogCritical("end_not_received", ErrEndNotReceived,
			ports.Field{Key: "capture_id", Value: s.CaptureID()},
			ports.Field{Key: "open_snapshots", Value: truncated},
		)
		s.obs.IncCounter("sigflow_truncated_captures_total", 1)
		if truncated {
			s.notifyFrameEnded()
		}
		report(ErrEndNotReceived)
	}
	s.obs.LogInfo("capture_finished", ports.Field{Key: "capture_id", Value: s.CaptureID()})
}

// sealOpenSnapshots closes the sweep in progress and reports whether one
// was open.
func (s *Session) sealOpenSnapshots(truncated bool) bool {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()

	open := false
	if s.curLogic != nil {
		open = true
		if truncated {
			s.curLogic.MarkTruncated()
		} else {
			s.curLogic.Seal()
		}
		s.curLogic = nil
	}
	for ch, snap := range s.curAnalog {
		open = true
		if truncated {
			snap.MarkTruncated()
		} else {
			snap.Seal()
		}
		delete(s.curAnalog, ch)
	}
	return open
}

func (s *Session) setState(st State) {
	s.stateMu.Lock()
	changed := s.state != st
	s.state = st
	s.stateMu.Unlock()
	if !changed {
		return
	}
	s.obs.SetGauge("sigflow_capture_state", float64(st))
	for _, l := range s.listenerList() {
		l.CaptureStateChanged(st)
	}
}

// updateSignals replaces the signal list and the current data for dev.
func (s *Session) updateSignals(dev ports.Device) {
	var channels []*domain.Channel
	if dev != nil {
		channels = dev.Channels()
	}

	var logic *data.Logic
	if n := domain.CountEnabled(channels, domain.ChannelLogic); n > 0 {
		logic = data.NewLogic(n)
	}

	s.dataMu.Lock()
	s.logicData = logic
	s.curLogic = nil
	s.curAnalog = make(map[*domain.Channel]*data.AnalogSnapshot)
	s.dataMu.Unlock()

	sigs := make([]*data.Signal, 0, len(channels))
	for _, ch := range channels {
		switch ch.Kind {
		case domain.ChannelLogic:
			sigs = append(sigs, data.NewLogicSignal(ch, logic))
		case domain.ChannelAnalog:
			sigs = append(sigs, data.NewAnalogSignal(ch, data.NewAnalog()))
		}
	}

	s.signalsMu.Lock()
	s.signals = sigs
	s.signalsMu.Unlock()

	s.notifySignalsChanged()
}

func (s *Session) readSampleRate(dev ports.Device) {
	v, err := dev.ConfigGet(domain.KeySampleRate)
	if err != nil {
		s.obs.LogError("samplerate_unavailable", err, ports.Field{Key: "device", Value: dev.Description()})
		return
	}
	hz, ok := v.Uint64()
	if !ok {
		return
	}
	s.setSampleRate(hz)
}

func (s *Session) setSampleRate(hz uint64) {
	for _, d := range s.Data() {
		d.SetSamplerate(hz)
	}
}

// sampleLimit is the capacity of a new snapshot.
func (s *Session) sampleLimit(dev ports.Device) uint64 {
	if dev == nil {
		return s.defaultLimit
	}
	v, err := dev.ConfigGet(domain.KeyLimitSamples)
	if err != nil {
		return s.defaultLimit
	}
	if n, ok := v.Uint64(); ok && n > 0 {
		return n
	}
	return s.defaultLimit
}

func (s *Session) listenerList() []Listener {
	s.listenersMu.RLock()
	defer s.listenersMu.RUnlock()
	out := make([]Listener, len(s.listeners))
	for i, e := range s.listeners {
		out[i] = e.l
	}
	return out
}

func (s *Session) notifySignalsChanged() {
	for _, l := range s.listenerList() {
		l.SignalsChanged()
	}
}

func (s *Session) notifyFrameBegan() {
	for _, p := range s.DecodePipelines() {
		p.OnFrameBegan()
	}
	for _, l := range s.listenerList() {
		l.FrameBegan()
	}
}

func (s *Session) notifyDataReceived() {
	for _, p := range s.DecodePipelines() {
		p.OnDataReceived()
	}
	for _, l := range s.listenerList() {
		l.DataReceived()
	}
}

func (s *Session) notifyFrameEnded() {
	for _, p := range s.DecodePipelines() {
		p.OnFrameEnded()
	}
	for _, l := range s.listenerList() {
		l.FrameEnded()
	}
}
