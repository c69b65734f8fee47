// Package demo is a pattern generator driver. It needs no hardware and is
// selected by default when present.
package demo

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/ghalamif/SigFlow/internal/domain"
	"github.com/ghalamif/SigFlow/internal/ports"
)

const DriverName = "demo"

const (
	PatternSigrok      = "sigrok"
	PatternSquare      = "square"
	PatternIncremental = "incremental"
	PatternRandom      = "random"
)

var Patterns = []string{PatternSigrok, PatternSquare, PatternIncremental, PatternRandom}

var samplerates = []uint64{1_000, 10_000, 100_000, 1_000_000, 10_000_000}

type Config struct {
	LogicChannels  int    `yaml:"logic_channels"`
	AnalogChannels int    `yaml:"analog_channels"`
	Pattern        string `yaml:"pattern"`
	ChunkSamples   int    `yaml:"chunk_samples"`
	Samplerate     uint64 `yaml:"-"`
	SampleLimit    uint64 `yaml:"-"`
	// Pace is slept between chunks. Zero generates as fast as possible.
	Pace time.Duration `yaml:"pace"`
	Seed int64         `yaml:"seed"`
}

func (c *Config) applyDefaults() {
	if c.LogicChannels == 0 && c.AnalogChannels == 0 {
		c.LogicChannels = 8
	}
	if c.Pattern == "" {
		c.Pattern = PatternSigrok
	}
	if c.ChunkSamples <= 0 {
		c.ChunkSamples = 4096
	}
	if c.Samplerate == 0 {
		c.Samplerate = 1_000_000
	}
}

func validPattern(p string) bool {
	for _, name := range Patterns {
		if name == p {
			return true
		}
	}
	return false
}

type Driver struct {
	cfg Config
}

func NewDriver(cfg Config) *Driver {
	cfg.applyDefaults()
	return &Driver{cfg: cfg}
}

func (d *Driver) Name() string { return DriverName }

// Scan returns one demo device. Samplerate and sample limit options
// override the driver config.
func (d *Driver) Scan(opts map[domain.ConfigKey]domain.Value) ([]ports.Device, error) {
	cfg := d.cfg
	if !validPattern(cfg.Pattern) {
		return nil, fmt.Errorf("demo: unknown pattern %q", cfg.Pattern)
	}
	if v, ok := opts[domain.KeySampleRate]; ok {
		if hz, ok := v.Uint64(); ok && hz > 0 {
			cfg.Samplerate = hz
		}
	}
	if v, ok := opts[domain.KeyLimitSamples]; ok {
		if n, ok := v.Uint64(); ok {
			cfg.SampleLimit = n
		}
	}
	return []ports.Device{NewDevice(cfg)}, nil
}

// Device generates logic and analog test signals.
type Device struct {
	channels []*domain.Channel
	pace     time.Duration
	chunk    int
	seed     int64

	mu     sync.Mutex
	config map[domain.ConfigKey]domain.Value
}

func NewDevice(cfg Config) *Device {
	cfg.applyDefaults()
	d := &Device{
		pace:  cfg.Pace,
		chunk: cfg.ChunkSamples,
		seed:  cfg.Seed,
		config: map[domain.ConfigKey]domain.Value{
			domain.KeySampleRate:   domain.Uint64Value(cfg.Samplerate),
			domain.KeyLimitSamples: domain.Uint64Value(cfg.SampleLimit),
			domain.KeyPatternMode:  domain.StringValue(cfg.Pattern),
		},
	}
	for i := 0; i < cfg.LogicChannels; i++ {
		d.channels = append(d.channels, domain.NewChannel(i, fmt.Sprintf("D%d", i), domain.ChannelLogic, true))
	}
	for i := 0; i < cfg.AnalogChannels; i++ {
		idx := cfg.LogicChannels + i
		d.channels = append(d.channels, domain.NewChannel(idx, fmt.Sprintf("A%d", i), domain.ChannelAnalog, true))
	}
	return d
}

func (d *Device) Driver() string { return DriverName }

func (d *Device) Description() string {
	return fmt.Sprintf("Demo device with %d channels", len(d.channels))
}

func (d *Device) Channels() []*domain.Channel { return d.channels }

func (d *Device) Open() error  { return nil }
func (d *Device) Close() error { return nil }

func (d *Device) ConfigKeys() []domain.ConfigKey {
	return []domain.ConfigKey{domain.KeySampleRate, domain.KeyLimitSamples, domain.KeyPatternMode}
}

func (d *Device) ConfigGet(key domain.ConfigKey) (domain.Value, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.config[key]
	if !ok {
		return domain.Value{}, fmt.Errorf("demo: %s not supported", key)
	}
	return v, nil
}

func (d *Device) ConfigSet(key domain.ConfigKey, v domain.Value) error {
	switch key {
	case domain.KeySampleRate:
		if hz, ok := v.Uint64(); !ok || hz == 0 {
			return fmt.Errorf("demo: invalid samplerate %v", v)
		}
	case domain.KeyLimitSamples:
		if _, ok := v.Uint64(); !ok {
			return fmt.Errorf("demo: invalid sample limit %v", v)
		}
	case domain.KeyPatternMode:
		if p, ok := v.Str(); !ok || !validPattern(p) {
			return fmt.Errorf("demo: invalid pattern %v", v)
		}
	default:
		return fmt.Errorf("demo: %s not supported", key)
	}
	d.mu.Lock()
	d.config[key] = v
	d.mu.Unlock()
	return nil
}

func (d *Device) ConfigList(key domain.ConfigKey) ([]domain.Value, error) {
	switch key {
	case domain.KeySampleRate:
		out := make([]domain.Value, len(samplerates))
		for i, hz := range samplerates {
			out[i] = domain.Uint64Value(hz)
		}
		return out, nil
	case domain.KeyPatternMode:
		out := make([]domain.Value, len(Patterns))
		for i, p := range Patterns {
			out[i] = domain.StringValue(p)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("demo: %s has no value list", key)
	}
}

func (d *Device) NewAcquisition(h ports.PacketHandler) (ports.Acquisition, error) {
	if h == nil {
		return nil, fmt.Errorf("demo: nil packet handler")
	}
	d.mu.Lock()
	limit, _ := d.config[domain.KeyLimitSamples].Uint64()
	pattern, _ := d.config[domain.KeyPatternMode].Str()
	d.mu.Unlock()

	var logic, analog []*domain.Channel
	for _, ch := range d.channels {
		if !ch.Enabled() {
			continue
		}
		if ch.Kind == domain.ChannelLogic {
			logic = append(logic, ch)
		} else {
			analog = append(analog, ch)
		}
	}
	unitSize := 0
	if len(logic) > 0 {
		maxIndex := 0
		for _, ch := range logic {
			maxIndex = max(maxIndex, ch.Index)
		}
		unitSize = maxIndex/8 + 1
	}

	return &acquisition{
		dev:      d,
		handler:  h,
		limit:    limit,
		gen:      newGenerator(pattern, unitSize, d.seed),
		analog:   analog,
		unitSize: unitSize,
		stop:     make(chan struct{}),
	}, nil
}

type acquisition struct {
	dev      *Device
	handler  ports.PacketHandler
	limit    uint64
	gen      *generator
	analog   []*domain.Channel
	unitSize int

	stop     chan struct{}
	stopOnce sync.Once
}

func (a *acquisition) Start() error { return nil }

func (a *acquisition) TriggerEnabled() bool { return false }

func (a *acquisition) Stop() error {
	a.stopOnce.Do(func() { close(a.stop) })
	return nil
}

// Run emits Header, FrameBegin, data chunks until the sample limit or Stop,
// then End. A zero limit runs until stopped.
func (a *acquisition) Run() error {
	a.handler(a.dev, domain.Header{StartTime: time.Now()})
	a.handler(a.dev, domain.FrameBegin{})

	var sent uint64
	for a.limit == 0 || sent < a.limit {
		select {
		case <-a.stop:
			a.handler(a.dev, domain.End{})
			return nil
		default:
		}

		n := uint64(a.dev.chunk)
		if a.limit > 0 {
			n = min(n, a.limit-sent)
		}
		if a.unitSize > 0 {
			a.handler(a.dev, domain.Logic{UnitSize: a.unitSize, Data: a.gen.logic(sent, int(n))})
		}
		if len(a.analog) > 0 {
			a.handler(a.dev, domain.Analog{
				Channels:   a.analog,
				NumSamples: int(n),
				Data:       analogChunk(a.analog, sent, int(n)),
			})
		}
		sent += n

		if a.dev.pace > 0 {
			select {
			case <-a.stop:
			case <-time.After(a.dev.pace):
			}
		}
	}
	a.handler(a.dev, domain.End{})
	return nil
}

// sigrokPattern is a repeating bitmap, one byte per sample.
var sigrokPattern = []byte{
	0x4c, 0x92, 0x92, 0x92, 0x64, 0x00, 0x00, 0x00,
	0x82, 0xfe, 0xfe, 0x82, 0x00, 0x00, 0x00, 0x00,
	0x7c, 0x82, 0x82, 0x92, 0x74, 0x00, 0x00, 0x00,
	0xfe, 0x12, 0x12, 0x32, 0xcc, 0x00, 0x00, 0x00,
	0x7c, 0x82, 0x82, 0x82, 0x7c, 0x00, 0x00, 0x00,
	0xfe, 0x10, 0x28, 0x44, 0x82, 0x00, 0x00, 0x00,
	0xbe, 0xbe, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

type generator struct {
	pattern  string
	unitSize int
	rng      *rand.Rand
}

func newGenerator(pattern string, unitSize int, seed int64) *generator {
	return &generator{pattern: pattern, unitSize: unitSize, rng: rand.New(rand.NewSource(seed))}
}

// logic returns n packed samples starting at absolute sample offset.
func (g *generator) logic(offset uint64, n int) []byte {
	buf := make([]byte, n*g.unitSize)
	for i := 0; i < n; i++ {
		s := offset + uint64(i)
		unit := buf[i*g.unitSize : (i+1)*g.unitSize]
		for b := range unit {
			switch g.pattern {
			case PatternSigrok:
				unit[b] = sigrokPattern[s%uint64(len(sigrokPattern))]
			case PatternSquare:
				if (s/16)%2 == 1 {
					unit[b] = 0xff
				}
			case PatternIncremental:
				unit[b] = byte(s >> (8 * uint(b)))
			case PatternRandom:
				unit[b] = byte(g.rng.Intn(256))
			}
		}
	}
	return buf
}

// analogChunk interleaves one sine per channel, each with its own period.
func analogChunk(channels []*domain.Channel, offset uint64, n int) []float32 {
	out := make([]float32, 0, n*len(channels))
	for i := 0; i < n; i++ {
		s := float64(offset + uint64(i))
		for c := range channels {
			period := float64(int(64) << uint(c))
			out = append(out, float32(math.Sin(2*math.Pi*s/period)))
		}
	}
	return out
}
