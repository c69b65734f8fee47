package device

import (
	"errors"
	"testing"

	"github.com/ghalamif/SigFlow/internal/adapters/virtual"
	"github.com/ghalamif/SigFlow/internal/domain"
	"github.com/ghalamif/SigFlow/internal/ports"
)

type stubDriver struct {
	name  string
	names []string
	err   error
	scans int
}

func (d *stubDriver) Name() string { return d.name }

func (d *stubDriver) Scan(map[domain.ConfigKey]domain.Value) ([]ports.Device, error) {
	d.scans++
	if d.err != nil {
		return nil, d.err
	}
	out := make([]ports.Device, 0, len(d.names))
	for _, n := range d.names {
		out = append(out, virtual.New(n, virtual.LogicChannels(1)))
	}
	return out, nil
}

func descriptions(devs []ports.Device) []string {
	out := make([]string, len(devs))
	for i, d := range devs {
		out[i] = d.Description()
	}
	return out
}

func TestScanSortsByDescription(t *testing.T) {
	a := &stubDriver{name: "a", names: []string{"zeta", "alpha"}}
	b := &stubDriver{name: "b", names: []string{"mid"}}
	m := NewManager(a, b)
	if err := m.Scan(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	got := descriptions(m.Devices())
	want := []string{"alpha", "mid", "zeta"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestDriverScanReplacesDriverDevices(t *testing.T) {
	a := &stubDriver{name: "a", names: []string{"one", "two"}}
	b := &stubDriver{name: "b", names: []string{"other"}}
	m := NewManager(a, b)
	_ = m.Scan()

	a.names = []string{"three"}
	found, err := m.DriverScan(a, nil)
	if err != nil {
		t.Fatalf("driver scan: %v", err)
	}
	if len(found) != 1 || found[0].Description() != "three" {
		t.Fatalf("unexpected scan result %v", descriptions(found))
	}
	if got := descriptions(m.Devices()); len(got) != 2 || got[0] != "other" || got[1] != "three" {
		t.Fatalf("expected old devices of a replaced, got %v", got)
	}
}

func TestScanJoinsDriverErrors(t *testing.T) {
	boom := errors.New("usb unavailable")
	m := NewManager(&stubDriver{name: "bad", err: boom}, &stubDriver{name: "ok", names: []string{"dev"}})
	err := m.Scan()
	if !errors.Is(err, boom) {
		t.Fatalf("expected driver error, got %v", err)
	}
	if len(m.Devices()) != 1 {
		t.Fatalf("devices of healthy drivers must be kept")
	}
	if _, err := m.Driver("missing"); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
