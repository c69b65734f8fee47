// Package device keeps the list of devices found by the configured drivers.
package device

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ghalamif/SigFlow/internal/domain"
	"github.com/ghalamif/SigFlow/internal/ports"
)

type Manager struct {
	drivers []ports.Driver

	mu      sync.RWMutex
	devices []ports.Device
	owner   map[ports.Device]string
}

func NewManager(drivers ...ports.Driver) *Manager {
	return &Manager{drivers: drivers, owner: make(map[ports.Device]string)}
}

func (m *Manager) Drivers() []ports.Driver { return m.drivers }

// Driver returns the registered driver called name.
func (m *Manager) Driver(name string) (ports.Driver, error) {
	for _, d := range m.drivers {
		if d.Name() == name {
			return d, nil
		}
	}
	return nil, fmt.Errorf("unknown driver %q", name)
}

// Scan runs every driver without options. Driver errors are joined; devices
// from drivers that succeeded are kept.
func (m *Manager) Scan() error {
	var errs []error
	for _, d := range m.drivers {
		if _, err := m.DriverScan(d, nil); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DriverScan replaces the devices of driver with a fresh scan and returns
// them sorted by description.
func (m *Manager) DriverScan(driver ports.Driver, opts map[domain.ConfigKey]domain.Value) ([]ports.Device, error) {
	found, err := driver.Scan(opts)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", driver.Name(), err)
	}
	sortDevices(found)

	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.devices[:0:0]
	for _, d := range m.devices {
		if m.owner[d] == driver.Name() {
			delete(m.owner, d)
			continue
		}
		kept = append(kept, d)
	}
	for _, d := range found {
		m.owner[d] = driver.Name()
	}
	m.devices = append(kept, found...)
	sortDevices(m.devices)

	out := make([]ports.Device, len(found))
	copy(out, found)
	return out, nil
}

// Devices returns every known device sorted by description.
func (m *Manager) Devices() []ports.Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ports.Device, len(m.devices))
	copy(out, m.devices)
	return out
}

func sortDevices(devs []ports.Device) {
	sort.SliceStable(devs, func(i, j int) bool {
		return devs[i].Description() < devs[j].Description()
	})
}
