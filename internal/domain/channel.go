package domain

import (
	"fmt"
	"sync/atomic"
)

// ChannelKind distinguishes digital channels, packed one bit per channel, from
// analog channels carrying float samples.
type ChannelKind int

const (
	ChannelLogic ChannelKind = iota
	ChannelAnalog
)

func (k ChannelKind) String() string {
	switch k {
	case ChannelLogic:
		return "logic"
	case ChannelAnalog:
		return "analog"
	default:
		return "unknown"
	}
}

// ParseChannelKind inverts ChannelKind.String.
func ParseChannelKind(name string) (ChannelKind, error) {
	switch name {
	case "logic":
		return ChannelLogic, nil
	case "analog":
		return ChannelAnalog, nil
	default:
		return 0, fmt.Errorf("unknown channel kind %q", name)
	}
}

// Channel is a probe exposed by a device. The device owns it; sessions and
// signals only hold references.
type Channel struct {
	Index int         `json:"index"`
	Name  string      `json:"name"`
	Kind  ChannelKind `json:"kind"`

	enabled atomic.Bool
}

func NewChannel(index int, name string, kind ChannelKind, enabled bool) *Channel {
	ch := &Channel{Index: index, Name: name, Kind: kind}
	ch.enabled.Store(enabled)
	return ch
}

func (c *Channel) Enabled() bool { return c.enabled.Load() }

func (c *Channel) SetEnabled(v bool) { c.enabled.Store(v) }

// AnyEnabled reports whether at least one channel in the list is enabled.
func AnyEnabled(channels []*Channel) bool {
	for _, ch := range channels {
		if ch != nil && ch.Enabled() {
			return true
		}
	}
	return false
}

// CountEnabled returns the number of enabled channels of the given kind.
func CountEnabled(channels []*Channel, kind ChannelKind) int {
	n := 0
	for _, ch := range channels {
		if ch != nil && ch.Kind == kind && ch.Enabled() {
			n++
		}
	}
	return n
}
