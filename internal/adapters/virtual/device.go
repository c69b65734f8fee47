// Package virtual provides a device whose packets are pushed by the caller.
// It backs tests and embedders that already own an acquisition loop.
package virtual

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ghalamif/SigFlow/internal/domain"
	"github.com/ghalamif/SigFlow/internal/ports"
)

const DriverName = "virtual"

var ErrNotRunning = errors.New("virtual: no acquisition running")

type Option func(*Device)

// WithConfig presets a configuration value.
func WithConfig(key domain.ConfigKey, v domain.Value) Option {
	return func(d *Device) { d.config[key] = v }
}

// WithStartError makes every acquisition fail to start with err.
func WithStartError(err error) Option {
	return func(d *Device) { d.startErr = err }
}

// WithTrigger makes acquisitions report a configured trigger.
func WithTrigger() Option {
	return func(d *Device) { d.trigger = true }
}

// WithAbortWithoutEnd makes Stop end the datafeed without an End packet.
func WithAbortWithoutEnd() Option {
	return func(d *Device) { d.abortNoEnd = true }
}

type Device struct {
	name       string
	channels   []*domain.Channel
	startErr   error
	trigger    bool
	abortNoEnd bool

	mu     sync.Mutex
	config map[domain.ConfigKey]domain.Value
	open   bool
	cur    *acquisition
	ready  chan struct{}
}

func New(name string, channels []*domain.Channel, opts ...Option) *Device {
	d := &Device{
		name:     name,
		channels: channels,
		config:   make(map[domain.ConfigKey]domain.Value),
		ready:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// LogicChannels builds n enabled logic channels named D0..Dn-1.
func LogicChannels(n int) []*domain.Channel {
	out := make([]*domain.Channel, n)
	for i := range out {
		out[i] = domain.NewChannel(i, fmt.Sprintf("D%d", i), domain.ChannelLogic, true)
	}
	return out
}

func (d *Device) Driver() string              { return DriverName }
func (d *Device) Description() string         { return d.name }
func (d *Device) Channels() []*domain.Channel { return d.channels }
func (d *Device) ConfigKeys() []domain.ConfigKey {
	return []domain.ConfigKey{domain.KeySampleRate, domain.KeyLimitSamples}
}

func (d *Device) Open() error {
	d.mu.Lock()
	d.open = true
	d.mu.Unlock()
	return nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	d.open = false
	d.mu.Unlock()
	return nil
}

// IsOpen reports whether the device is open.
func (d *Device) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

func (d *Device) ConfigGet(key domain.ConfigKey) (domain.Value, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.config[key]
	if !ok {
		return domain.Value{}, fmt.Errorf("virtual: %s not set", key)
	}
	return v, nil
}

func (d *Device) ConfigSet(key domain.ConfigKey, v domain.Value) error {
	d.mu.Lock()
	d.config[key] = v
	d.mu.Unlock()
	return nil
}

func (d *Device) ConfigList(key domain.ConfigKey) ([]domain.Value, error) {
	return nil, fmt.Errorf("virtual: %s has no value list", key)
}

func (d *Device) NewAcquisition(h ports.PacketHandler) (ports.Acquisition, error) {
	if h == nil {
		return nil, errors.New("virtual: nil packet handler")
	}
	return &acquisition{
		dev:     d,
		handler: h,
		reqs:    make(chan feedRequest),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Feed delivers payloads to the running acquisition and returns once the
// handler has processed all of them. An End payload finishes the datafeed.
func (d *Device) Feed(ctx context.Context, payloads ...domain.Payload) error {
	var a *acquisition
	select {
	case <-d.readyCh():
		a = d.current()
	case <-ctx.Done():
		return ctx.Err()
	}
	if a == nil {
		return ErrNotRunning
	}

	req := feedRequest{payloads: payloads, done: make(chan struct{})}
	select {
	case a.reqs <- req:
	case <-a.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Device) readyCh() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready
}

func (d *Device) current() *acquisition {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cur
}

func (d *Device) setCurrent(a *acquisition) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cur == nil {
		close(d.ready)
	}
	d.cur = a
}

func (d *Device) clearCurrent(a *acquisition) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cur != a {
		return
	}
	d.cur = nil
	d.ready = make(chan struct{})
}

type feedRequest struct {
	payloads []domain.Payload
	done     chan struct{}
}

type acquisition struct {
	dev     *Device
	handler ports.PacketHandler
	reqs    chan feedRequest
	stop    chan struct{}
	done    chan struct{}

	stopOnce sync.Once
}

func (a *acquisition) Start() error {
	if a.dev.startErr != nil {
		return a.dev.startErr
	}
	a.dev.setCurrent(a)
	return nil
}

func (a *acquisition) Run() error {
	defer func() {
		a.dev.clearCurrent(a)
		close(a.done)
	}()
	for {
		select {
		case <-a.stop:
			if !a.dev.abortNoEnd {
				a.handler(a.dev, domain.End{})
			}
			return nil
		case req := <-a.reqs:
			ended := false
			for _, p := range req.payloads {
				a.handler(a.dev, p)
				if _, ok := p.(domain.End); ok {
					ended = true
				}
			}
			close(req.done)
			if ended {
				return nil
			}
		}
	}
}

func (a *acquisition) Stop() error {
	a.stopOnce.Do(func() { close(a.stop) })
	return nil
}

func (a *acquisition) TriggerEnabled() bool { return a.dev.trigger }
