// Package opcua exposes OPC UA monitored nodes as analog channels. Each data
// change notification becomes a one-sample Analog packet.
package opcua

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ghalamif/SigFlow/internal/domain"
	"github.com/ghalamif/SigFlow/internal/ports"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"
)

const DriverName = "opcua"

// Config captures the runtime details required to open an OPC UA session.
type Config struct {
	Endpoint         string        `yaml:"endpoint"`
	Username         string        `yaml:"username"`
	Password         string        `yaml:"password"`
	SecurityMode     string        `yaml:"security_mode"`
	SecurityPolicy   string        `yaml:"security_policy"`
	ApplicationName  string        `yaml:"application_name"`
	PublishInterval  time.Duration `yaml:"publish_interval"`
	SamplingInterval time.Duration `yaml:"sampling_interval"`
	Nodes            []NodeConfig  `yaml:"nodes"`
}

// NodeConfig defines a monitored node and the channel name it is shown as.
type NodeConfig struct {
	NodeID string `yaml:"node_id"`
	Name   string `yaml:"name"`
}

func (c *Config) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "SigFlow"
	}
	if c.PublishInterval <= 0 {
		c.PublishInterval = 250 * time.Millisecond
	}
	if c.SamplingInterval < 0 {
		c.SamplingInterval = 0
	}
	for i := range c.Nodes {
		if c.Nodes[i].Name == "" {
			c.Nodes[i].Name = c.Nodes[i].NodeID
		}
	}
}

func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if len(c.Nodes) == 0 {
		return errors.New("at least one node must be configured")
	}
	for _, n := range c.Nodes {
		if _, err := ua.ParseNodeID(n.NodeID); err != nil {
			return fmt.Errorf("parse node id %q: %w", n.NodeID, err)
		}
	}
	return nil
}

// Samplerate is the nominal notification rate in Hz.
func (c *Config) Samplerate() uint64 {
	iv := c.SamplingInterval
	if iv <= 0 {
		iv = c.PublishInterval
	}
	if iv <= 0 || iv > time.Second {
		return 1
	}
	return uint64(time.Second / iv)
}

type Driver struct {
	cfg Config
	obs ports.Observability
}

func NewDriver(cfg Config, obs ports.Observability) *Driver {
	if obs == nil {
		obs = ports.NopObservability{}
	}
	cfg.ApplyDefaults()
	return &Driver{cfg: cfg, obs: obs}
}

func (d *Driver) Name() string { return DriverName }

// Scan validates the configuration and returns one device for the endpoint.
// The server is only contacted when an acquisition starts.
func (d *Driver) Scan(opts map[domain.ConfigKey]domain.Value) ([]ports.Device, error) {
	dev, err := NewDevice(d.cfg, d.obs)
	if err != nil {
		return nil, err
	}
	if v, ok := opts[domain.KeyLimitSamples]; ok {
		if err := dev.ConfigSet(domain.KeyLimitSamples, v); err != nil {
			return nil, err
		}
	}
	return []ports.Device{dev}, nil
}

type Device struct {
	cfg      Config
	obs      ports.Observability
	channels []*domain.Channel

	mu    sync.Mutex
	limit uint64
}

func NewDevice(cfg Config, obs ports.Observability) (*Device, error) {
	if obs == nil {
		obs = ports.NopObservability{}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("opcua: %w", err)
	}
	d := &Device{cfg: cfg, obs: obs}
	for i, n := range cfg.Nodes {
		d.channels = append(d.channels, domain.NewChannel(i, n.Name, domain.ChannelAnalog, true))
	}
	return d, nil
}

func (d *Device) Driver() string { return DriverName }

func (d *Device) Description() string {
	return fmt.Sprintf("OPC UA %s (%d nodes)", d.cfg.Endpoint, len(d.cfg.Nodes))
}

func (d *Device) Channels() []*domain.Channel { return d.channels }

func (d *Device) Open() error  { return nil }
func (d *Device) Close() error { return nil }

func (d *Device) ConfigKeys() []domain.ConfigKey {
	return []domain.ConfigKey{domain.KeySampleRate, domain.KeyLimitSamples}
}

func (d *Device) ConfigGet(key domain.ConfigKey) (domain.Value, error) {
	switch key {
	case domain.KeySampleRate:
		return domain.Uint64Value(d.cfg.Samplerate()), nil
	case domain.KeyLimitSamples:
		d.mu.Lock()
		defer d.mu.Unlock()
		return domain.Uint64Value(d.limit), nil
	default:
		return domain.Value{}, fmt.Errorf("opcua: %s not supported", key)
	}
}

func (d *Device) ConfigSet(key domain.ConfigKey, v domain.Value) error {
	if key != domain.KeyLimitSamples {
		return fmt.Errorf("opcua: %s is read-only or not supported", key)
	}
	n, ok := v.Uint64()
	if !ok {
		return fmt.Errorf("opcua: invalid sample limit %v", v)
	}
	d.mu.Lock()
	d.limit = n
	d.mu.Unlock()
	return nil
}

func (d *Device) ConfigList(key domain.ConfigKey) ([]domain.Value, error) {
	return nil, fmt.Errorf("opcua: %s has no value list", key)
}

func (d *Device) NewAcquisition(h ports.PacketHandler) (ports.Acquisition, error) {
	if h == nil {
		return nil, fmt.Errorf("opcua: nil packet handler")
	}
	a := &acquisition{
		dev:       d,
		handler:   h,
		handleMap: make(map[uint32]*domain.Channel, len(d.channels)),
		counts:    make(map[*domain.Channel]uint64, len(d.channels)),
		stop:      make(chan struct{}),
	}
	d.mu.Lock()
	a.limit = d.limit
	d.mu.Unlock()
	for i, ch := range d.channels {
		if ch.Enabled() {
			a.handleMap[uint32(i+1)] = ch
		}
	}
	if len(a.handleMap) == 0 {
		return nil, fmt.Errorf("opcua: no enabled nodes")
	}
	return a, nil
}

type acquisition struct {
	dev       *Device
	handler   ports.PacketHandler
	limit     uint64
	handleMap map[uint32]*domain.Channel
	counts    map[*domain.Channel]uint64

	client   *opcua.Client
	sub      *opcua.Subscription
	notifyCh chan *opcua.PublishNotificationData
	ctx      context.Context
	cancel   context.CancelFunc

	stop     chan struct{}
	stopOnce sync.Once
}

func (a *acquisition) TriggerEnabled() bool { return false }

// Start connects, subscribes and registers one monitored item per enabled
// node.
func (a *acquisition) Start() error {
	cfg := a.dev.cfg
	ctx, cancel := context.WithCancel(context.Background())

	client, err := opcua.NewClient(cfg.Endpoint, clientOptions(cfg)...)
	if err != nil {
		cancel()
		return fmt.Errorf("opcua new client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		cancel()
		return fmt.Errorf("opcua connect: %w", err)
	}

	notifyCh := make(chan *opcua.PublishNotificationData, len(a.handleMap)*4)
	sub, err := client.Subscribe(ctx, &opcua.SubscriptionParameters{Interval: cfg.PublishInterval}, notifyCh)
	if err != nil {
		cancel()
		_ = client.Close(ctx)
		return fmt.Errorf("opcua subscribe: %w", err)
	}

	for handle, ch := range a.handleMap {
		node := cfg.Nodes[handle-1]
		nodeID, _ := ua.ParseNodeID(node.NodeID)
		req := opcua.NewMonitoredItemCreateRequestWithDefaults(nodeID, ua.AttributeIDValue, handle)
		if cfg.SamplingInterval > 0 {
			req.RequestedParameters.SamplingInterval = float64(cfg.SamplingInterval / time.Millisecond)
		}
		res, err := sub.Monitor(ctx, ua.TimestampsToReturnBoth, req)
		switch {
		case err != nil:
		case len(res.Results) == 0:
			err = errors.New("empty result")
		case res.Results[0].StatusCode != ua.StatusOK:
			err = res.Results[0].StatusCode
		}
		if err != nil {
			cancel()
			_ = sub.Cancel(ctx)
			_ = client.Close(ctx)
			return fmt.Errorf("monitor node %q (%s): %w", node.NodeID, ch.Name, err)
		}
	}

	a.client, a.sub, a.notifyCh = client, sub, notifyCh
	a.ctx, a.cancel = ctx, cancel
	return nil
}

// Run forwards notifications until Stop or until every channel reaches the
// sample limit, then ends the feed and closes the connection.
func (a *acquisition) Run() error {
	a.handler(a.dev, domain.Header{StartTime: time.Now()})
	a.handler(a.dev, domain.FrameBegin{})

	err := a.consume()
	a.handler(a.dev, domain.End{})
	return errors.Join(err, a.shutdown())
}

func (a *acquisition) consume() error {
	for {
		select {
		case <-a.stop:
			return nil
		case <-a.ctx.Done():
			return nil
		case notif := <-a.notifyCh:
			if notif == nil {
				continue
			}
			if notif.Error != nil {
				a.dev.obs.LogError("opcua_notification_error", notif.Error,
					ports.Field{Key: "endpoint", Value: a.dev.cfg.Endpoint})
				continue
			}
			if a.processNotification(notif.Value) {
				return nil
			}
		}
	}
}

// processNotification emits one Analog packet per monitored item and
// reports whether the sample limit has been reached on every channel.
func (a *acquisition) processNotification(val interface{}) bool {
	data, ok := val.(*ua.DataChangeNotification)
	if !ok {
		return false
	}
	for _, item := range data.MonitoredItems {
		ch, ok := a.handleMap[item.ClientHandle]
		if !ok || item.Value == nil {
			continue
		}
		if a.limit > 0 && a.counts[ch] >= a.limit {
			continue
		}
		fv, ok := variantToFloat(item.Value.Value)
		if !ok {
			a.dev.obs.LogInfo("opcua_unsupported_value",
				ports.Field{Key: "channel", Value: ch.Name},
				ports.Field{Key: "type", Value: fmt.Sprintf("%T", item.Value.Value)})
			continue
		}
		a.handler(a.dev, domain.Analog{
			Channels:   []*domain.Channel{ch},
			NumSamples: 1,
			Data:       []float32{float32(fv)},
		})
		a.counts[ch]++
	}
	return a.limitReached()
}

func (a *acquisition) limitReached() bool {
	if a.limit == 0 {
		return false
	}
	for _, ch := range a.handleMap {
		if a.counts[ch] < a.limit {
			return false
		}
	}
	return true
}

func (a *acquisition) Stop() error {
	a.stopOnce.Do(func() { close(a.stop) })
	return nil
}

func (a *acquisition) shutdown() error {
	if a.cancel != nil {
		a.cancel()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	if a.sub != nil {
		if e := a.sub.Cancel(ctx); e != nil && !errors.Is(e, context.Canceled) {
			err = errors.Join(err, e)
		}
	}
	if a.client != nil {
		if e := a.client.Close(ctx); e != nil && !errors.Is(e, context.Canceled) {
			err = errors.Join(err, e)
		}
	}
	return err
}

func clientOptions(cfg Config) []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(cfg.SecurityMode)),
		opcua.SecurityPolicy(normalizeSecurityPolicy(cfg.SecurityPolicy)),
		opcua.ApplicationName(cfg.ApplicationName),
		opcua.AutoReconnect(true),
	}
	if cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(cfg.Username, cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}
	return opts
}

func variantToFloat(v *ua.Variant) (float64, bool) {
	if v == nil {
		return 0, false
	}

	switch val := v.Value().(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case int8:
		return float64(val), true
	case uint8:
		return float64(val), true
	case int16:
		return float64(val), true
	case uint16:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt", "sign_and_encrypt", "sign+encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

func normalizeSecurityPolicy(policy string) string {
	if policy == "" {
		return "None"
	}
	return policy
}

var (
	_ ports.Driver = (*Driver)(nil)
	_ ports.Device = (*Device)(nil)
)
