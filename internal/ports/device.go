package ports

import "github.com/ghalamif/SigFlow/internal/domain"

// PacketHandler receives packets on the acquisition's Run goroutine.
type PacketHandler func(dev Device, p domain.Payload)

// Driver discovers devices.
type Driver interface {
	Name() string
	Scan(opts map[domain.ConfigKey]domain.Value) ([]Device, error)
}

// Device is an instrument: a channel list, a key/value configuration surface
// and a factory for acquisitions.
type Device interface {
	Driver() string
	Description() string
	Channels() []*domain.Channel

	Open() error
	Close() error

	ConfigGet(key domain.ConfigKey) (domain.Value, error)
	ConfigSet(key domain.ConfigKey, v domain.Value) error
	ConfigList(key domain.ConfigKey) ([]domain.Value, error)
	ConfigKeys() []domain.ConfigKey

	NewAcquisition(h PacketHandler) (Acquisition, error)
}

// Acquisition is one datafeed run. Run blocks, delivering packets to the
// handler, until the feed ends or Stop is called.
type Acquisition interface {
	Start() error
	Run() error
	Stop() error
	TriggerEnabled() bool
}

// SessionLoader opens a persisted capture and exposes it as devices.
type SessionLoader func(path string) ([]Device, error)
