package sigflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ghalamif/SigFlow/internal/adapters/capturelog"
	"github.com/ghalamif/SigFlow/internal/adapters/decoders"
	"github.com/ghalamif/SigFlow/internal/adapters/demo"
	"github.com/ghalamif/SigFlow/internal/adapters/observability"
	"github.com/ghalamif/SigFlow/internal/adapters/opcua"
	"github.com/ghalamif/SigFlow/internal/adapters/queue"
	"github.com/ghalamif/SigFlow/internal/adapters/sink"
	"github.com/ghalamif/SigFlow/internal/app/pipeline"
	"github.com/ghalamif/SigFlow/internal/data"
	"github.com/ghalamif/SigFlow/internal/device"
	"github.com/ghalamif/SigFlow/internal/domain"
	"github.com/ghalamif/SigFlow/internal/ports"
	"github.com/ghalamif/SigFlow/internal/session"
	"github.com/ghalamif/SigFlow/internal/store"
)

// RuntimeOption customizes the dependencies used by Runtime.
type RuntimeOption func(*runtimeOverrides)

type runtimeOverrides struct {
	drivers       []ports.Driver
	engine        ports.DecodeEngine
	sink          ports.AnnotationSink
	queue         ports.AnnotationQueue
	observability ports.Observability
}

// WithDriver registers an extra device driver. It is selected when
// device.driver names it.
func WithDriver(d Driver) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.drivers = append(o.drivers, d)
	}
}

// WithDecodeEngine replaces the built-in decoders.
func WithDecodeEngine(e DecodeEngine) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.engine = e
	}
}

// WithSink injects a custom sink so annotations can be sent to any database
// or API. It enables export even without a Timescale connection string.
func WithSink(s AnnotationSink) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.sink = s
	}
}

// WithAnnotationQueue injects a custom queue implementation.
func WithAnnotationQueue(q AnnotationQueue) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.queue = q
	}
}

// WithObservability plugs in a custom observability backend instead of the
// Prometheus + zap default.
func WithObservability(obs Observability) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.observability = obs
	}
}

// CaptureSummary describes a finished capture.
type CaptureSummary struct {
	CaptureID string
	Device    string
	Samples   uint64
	Truncated bool
	Decoders  []DecoderSummary
	// Output is the capture log written, if any.
	Output string
}

type DecoderSummary struct {
	ID          string
	Annotations int
	Error       string
}

// Runtime wires device → session → decoders → queue → sink and exposes
// lifecycle hooks for embedding SigFlow inside any Go service.
type Runtime struct {
	cfg     *Config
	obs     ports.Observability
	logger  *zap.Logger
	manager *device.Manager
	engine  ports.DecodeEngine
	session *session.Session
	queue   ports.AnnotationQueue
	sink    ports.AnnotationSink
	db      *sql.DB

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	metricsAddr net.Addr
}

// NewRuntime bootstraps the default adapters (demo and OPC UA drivers,
// built-in decoders, in-memory queue, Timescale sink, Prometheus
// observability). RuntimeOption values override any of them.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var overrides runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	r := &Runtime{cfg: cfg}
	r.ctx, r.cancel = context.WithCancel(context.Background())

	r.obs = overrides.observability
	if r.obs == nil {
		logger, err := observability.NewLogger(cfg.Log.Level)
		if err != nil {
			return nil, err
		}
		r.logger = logger
		r.obs = observability.NewPromObs(logger)
	}

	drivers := []ports.Driver{demo.NewDriver(cfg.Demo)}
	if cfg.OPCUA.Endpoint != "" {
		drivers = append(drivers, opcua.NewDriver(cfg.OPCUA, r.obs))
	}
	r.manager = device.NewManager(append(drivers, overrides.drivers...)...)

	r.engine = overrides.engine
	if r.engine == nil {
		r.engine = decoders.NewEngine()
	}

	r.sink = overrides.sink
	if r.sink == nil && cfg.Export.Enabled() {
		db, err := sql.Open("postgres", cfg.Export.Timescale.ConnString)
		if err != nil {
			return nil, err
		}
		r.db = db
		r.sink = sink.NewTimescaleSink(db, cfg.Export.Timescale.Table)
	}

	sessOpts := []session.Option{
		session.WithObservability(r.obs),
		session.WithDecodeEngine(r.engine),
		session.WithDefaultSampleLimit(cfg.Device.SampleLimit),
	}
	if r.sink != nil {
		r.queue = overrides.queue
		if r.queue == nil {
			r.queue = queue.NewMemQueue(cfg.Export.Policy.MaxQueueLen)
		}
		sessOpts = append(sessOpts, session.WithAnnotationPublisher(
			pipeline.NewPublisher(r.ctx, r.queue, cfg.Export.Policy, r.obs)))
	}
	r.session = session.New(r.manager, sessOpts...)

	return r, nil
}

// Session exposes the underlying capture session.
func (r *Runtime) Session() *session.Session { return r.session }

// Decoders lists the decoders the engine offers.
func (r *Runtime) Decoders() []*DecoderDef { return r.engine.Decoders() }

// Devices scans every registered driver and returns what was found. Devices
// from drivers that failed are omitted; the error reports them.
func (r *Runtime) Devices() ([]Device, error) {
	err := r.manager.Scan()
	return r.manager.Devices(), err
}

// SelectDevice activates the configured device and attaches the configured
// decoders to it.
func (r *Runtime) SelectDevice() error {
	dc := r.cfg.Device
	if dc.Driver == capturelog.DriverName {
		if err := r.session.SetFile(dc.File, capturelog.Load); err != nil {
			return err
		}
	} else {
		drv, err := r.manager.Driver(dc.Driver)
		if err != nil {
			return err
		}
		opts := map[domain.ConfigKey]domain.Value{domain.KeyLimitSamples: domain.Uint64Value(dc.SampleLimit)}
		if dc.Samplerate > 0 {
			opts[domain.KeySampleRate] = domain.Uint64Value(dc.Samplerate)
		}
		devs, err := r.manager.DriverScan(drv, opts)
		if err != nil {
			return err
		}
		if len(devs) == 0 {
			return fmt.Errorf("driver %s: %w", dc.Driver, session.ErrNoDevice)
		}
		if err := r.session.SetDevice(devs[0]); err != nil {
			return err
		}
	}

	if dc.Trigger != "" {
		dev := r.session.Device()
		if err := dev.ConfigSet(domain.KeyTriggerType, domain.StringValue(dc.Trigger)); err != nil {
			return fmt.Errorf("set trigger: %w", err)
		}
	}
	return r.attachDecoders()
}

func (r *Runtime) attachDecoders() error {
	signals := r.session.Signals()
	for _, dc := range r.cfg.Decoders {
		p, err := r.session.AddDecoder(dc.ID)
		if err != nil {
			return err
		}
		b := p.Stack()[0]
		for chID, name := range dc.Channels {
			sig := findSignal(signals, name)
			if sig == nil {
				return fmt.Errorf("decoder %s: no signal named %q", dc.ID, name)
			}
			if err := b.SetChannel(chID, sig); err != nil {
				return fmt.Errorf("decoder %s: %w", dc.ID, err)
			}
		}
		for optID, text := range dc.Options {
			v, err := parseOption(b.Def(), optID, text)
			if err != nil {
				return fmt.Errorf("decoder %s: %w", dc.ID, err)
			}
			b.SetOption(optID, v)
		}
		p.BeginDecode()
	}
	return nil
}

func findSignal(signals []*data.Signal, name string) *data.Signal {
	for _, s := range signals {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

// parseOption parses text as the kind of the option's default value.
func parseOption(def *domain.DecoderDef, id, text string) (domain.Value, error) {
	for _, o := range def.Options {
		if o.ID != id {
			continue
		}
		kind := o.Default.Kind()
		if kind == domain.ValueNone {
			kind = domain.ValueString
		}
		return domain.ParseValue(kind, text)
	}
	return domain.Value{}, fmt.Errorf("unknown option %q", id)
}

// Capture runs one acquisition on the configured device until it ends or ctx
// is cancelled, waits for decoding and writes the capture log if configured.
func (r *Runtime) Capture(ctx context.Context) (*CaptureSummary, error) {
	if r.session.Device() == nil {
		if err := r.SelectDevice(); err != nil {
			return nil, err
		}
	}

	var (
		errMu   sync.Mutex
		runErrs []error
	)
	onError := func(err error) {
		errMu.Lock()
		runErrs = append(runErrs, err)
		errMu.Unlock()
	}
	if err := r.session.StartCapture(onError); err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		r.session.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		r.session.StopCapture()
		<-done
	}
	for _, p := range r.session.DecodePipelines() {
		p.Wait()
	}

	summary := r.summarize()
	errMu.Lock()
	err := errors.Join(runErrs...)
	errMu.Unlock()

	if out := r.cfg.Capture.Output; out != "" {
		st := store.New(out, r.session, store.WithObservability(r.obs))
		if serr := st.Start(); serr != nil {
			return summary, errors.Join(err, fmt.Errorf("store capture: %w", serr))
		}
		st.Wait()
		if serr := st.Err(); serr != nil {
			return summary, errors.Join(err, fmt.Errorf("store capture: %w", serr))
		}
		summary.Output = out
	}
	return summary, err
}

func (r *Runtime) summarize() *CaptureSummary {
	s := &CaptureSummary{CaptureID: r.session.CaptureID()}
	if dev := r.session.Device(); dev != nil {
		s.Device = dev.Description()
	}
	for _, d := range r.session.Data() {
		switch d := d.(type) {
		case *data.Logic:
			if snap := d.LatestSnapshot(); snap != nil {
				s.Samples = max(s.Samples, snap.SampleCount())
				s.Truncated = s.Truncated || snap.Truncated()
			}
		case *data.Analog:
			if snap := d.LatestSnapshot(); snap != nil {
				s.Samples = max(s.Samples, snap.SampleCount())
				s.Truncated = s.Truncated || snap.Truncated()
			}
		}
	}
	for _, p := range r.session.DecodePipelines() {
		s.Decoders = append(s.Decoders, DecoderSummary{
			ID:          p.Stack()[0].Def().ID,
			Annotations: len(p.Annotations()),
			Error:       p.ErrorMessage(),
		})
	}
	return s
}

// Run serves metrics and exports annotations while one capture runs. It
// returns once the capture has finished and the export queue is flushed.
func (r *Runtime) Run(ctx context.Context) (*CaptureSummary, error) {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	if r.cfg.Metrics.Addr != "" {
		g.Go(func() error { return r.serveMetrics(gctx) })
	}
	if r.sink != nil {
		g.Go(func() error {
			return pipeline.RunAnnotationExport(gctx, r.queue, r.sink, r.cfg.Export.Policy, r.obs)
		})
	}

	var summary *CaptureSummary
	g.Go(func() error {
		defer stop()
		s, err := r.Capture(gctx)
		summary = s
		return err
	})

	err := g.Wait()
	return summary, errors.Join(err, r.Close())
}

// MetricsAddr is the address the metrics server listens on while Run is
// active.
func (r *Runtime) MetricsAddr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metricsAddr
}

// MetricsHandler serves /metrics and /healthz.
func MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (r *Runtime) serveMetrics(ctx context.Context) error {
	ln, err := net.Listen("tcp", r.cfg.Metrics.Addr)
	if err != nil {
		return fmt.Errorf("metrics listen: %w", err)
	}
	r.mu.Lock()
	r.metricsAddr = ln.Addr()
	r.mu.Unlock()

	srv := &http.Server{Handler: MetricsHandler(), ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Close stops any capture, closes the device and the DB connection.
func (r *Runtime) Close() error {
	var errs []error
	r.cancel()

	if err := r.session.Close(); err != nil {
		errs = append(errs, err)
	}
	if r.db != nil {
		if err := r.db.Close(); err != nil {
			errs = append(errs, err)
		}
		r.db = nil
	}
	if r.logger != nil {
		_ = r.logger.Sync()
	}
	return errors.Join(errs...)
}
