package capturelog

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ghalamif/SigFlow/internal/domain"
	"github.com/ghalamif/SigFlow/internal/ports"
)

const DriverName = "file"

var ErrNoDeviceRecord = errors.New("capturelog: log does not start with a device record")

// Load reads the log at path and returns a single device that replays it.
// It satisfies ports.SessionLoader.
func Load(path string) ([]ports.Device, error) {
	var (
		dev  *Device
		recs []Record
	)
	err := Iterate(path, func(id uint64, rec Record) error {
		if dev == nil {
			if rec.Kind != KindDevice || rec.Device == nil {
				return ErrNoDeviceRecord
			}
			d, err := newDevice(path, *rec.Device)
			if err != nil {
				return err
			}
			dev = d
			return nil
		}
		if rec.Kind == KindDevice {
			return fmt.Errorf("record %d: unexpected second device record", id)
		}
		recs = append(recs, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if dev == nil {
		return nil, fmt.Errorf("load %s: %w", path, ErrNoDeviceRecord)
	}

	for i, rec := range recs {
		p, err := rec.Payload(dev.byIndex)
		if err != nil {
			return nil, fmt.Errorf("load %s: record %d: %w", path, i+2, err)
		}
		dev.packets = append(dev.packets, p)
	}
	return []ports.Device{dev}, nil
}

// Device replays the packets of a capture log.
type Device struct {
	path     string
	info     DeviceInfo
	channels []*domain.Channel
	byIndex  map[int]*domain.Channel
	packets  []domain.Payload

	mu     sync.Mutex
	config map[domain.ConfigKey]domain.Value
}

func newDevice(path string, info DeviceInfo) (*Device, error) {
	d := &Device{
		path:    path,
		info:    info,
		byIndex: make(map[int]*domain.Channel, len(info.Channels)),
		config:  make(map[domain.ConfigKey]domain.Value),
	}
	for _, ci := range info.Channels {
		kind, err := domain.ParseChannelKind(ci.Kind)
		if err != nil {
			return nil, err
		}
		ch := domain.NewChannel(ci.Index, ci.Name, kind, ci.Enabled)
		d.channels = append(d.channels, ch)
		d.byIndex[ci.Index] = ch
	}
	if info.Samplerate > 0 {
		d.config[domain.KeySampleRate] = domain.Uint64Value(info.Samplerate)
	}
	if info.SampleLimit > 0 {
		d.config[domain.KeyLimitSamples] = domain.Uint64Value(info.SampleLimit)
	}
	return d, nil
}

func (d *Device) Driver() string { return DriverName }

func (d *Device) Description() string {
	if d.info.Description == "" {
		return d.path
	}
	return fmt.Sprintf("%s (%s)", d.info.Description, d.path)
}

func (d *Device) Channels() []*domain.Channel { return d.channels }

// Packets returns the number of recorded packets.
func (d *Device) Packets() int { return len(d.packets) }

func (d *Device) Open() error  { return nil }
func (d *Device) Close() error { return nil }

func (d *Device) ConfigGet(key domain.ConfigKey) (domain.Value, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.config[key]
	if !ok {
		return domain.Value{}, fmt.Errorf("capture log: %s not recorded", key)
	}
	return v, nil
}

func (d *Device) ConfigSet(key domain.ConfigKey, _ domain.Value) error {
	return fmt.Errorf("capture log: %s is read-only", key)
}

func (d *Device) ConfigList(key domain.ConfigKey) ([]domain.Value, error) {
	v, err := d.ConfigGet(key)
	if err != nil {
		return nil, err
	}
	return []domain.Value{v}, nil
}

func (d *Device) ConfigKeys() []domain.ConfigKey {
	return []domain.ConfigKey{domain.KeySampleRate, domain.KeyLimitSamples}
}

func (d *Device) NewAcquisition(h ports.PacketHandler) (ports.Acquisition, error) {
	if h == nil {
		return nil, errors.New("capture log: nil packet handler")
	}
	return &replay{dev: d, handler: h, stop: make(chan struct{})}, nil
}

type replay struct {
	dev      *Device
	handler  ports.PacketHandler
	stop     chan struct{}
	stopOnce sync.Once
}

func (r *replay) Start() error { return nil }

// Run delivers the recorded packets in order. A log without an End record
// replays without one. Stop ends the replay with End.
func (r *replay) Run() error {
	for _, p := range r.dev.packets {
		select {
		case <-r.stop:
			r.handler(r.dev, domain.End{})
			return nil
		default:
		}
		r.handler(r.dev, p)
	}
	return nil
}

func (r *replay) Stop() error {
	r.stopOnce.Do(func() { close(r.stop) })
	return nil
}

func (r *replay) TriggerEnabled() bool { return false }

var _ ports.SessionLoader = Load
