package decode

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ghalamif/SigFlow/internal/data"
	"github.com/ghalamif/SigFlow/internal/domain"
	"github.com/ghalamif/SigFlow/internal/ports"
)

// DecodeChunkLength is the largest sample block handed to decoders at once,
// in bytes.
const DecodeChunkLength = 4096

var ErrRequiredChannels = errors.New("sigflow: one or more required channels have not been specified")

type Option func(*Pipeline)

func WithObservability(obs ports.Observability) Option {
	return func(p *Pipeline) {
		if obs != nil {
			p.obs = obs
		}
	}
}

// WithCommitHandler is called with the annotations of every pass that
// finishes without error.
func WithCommitHandler(fn func([]domain.Annotation)) Option {
	return func(p *Pipeline) { p.onCommit = fn }
}

// Pipeline decodes the latest logic snapshot through a stack of decoders on
// a background goroutine.
type Pipeline struct {
	engine   ports.DecodeEngine
	obs      ports.Observability
	onCommit func([]domain.Annotation)

	stackMu sync.RWMutex
	stack   []*Binding

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	closed bool

	inputMu   sync.Mutex
	inputCond *sync.Cond

	outMu          sync.RWMutex
	current        []domain.Annotation
	committed      []domain.Annotation
	samplesDecoded uint64
	errMsg         string
}

func New(engine ports.DecodeEngine, def *domain.DecoderDef, opts ...Option) *Pipeline {
	p := &Pipeline{
		engine: engine,
		obs:    ports.NopObservability{},
		stack:  []*Binding{NewBinding(def)},
	}
	p.inputCond = sync.NewCond(&p.inputMu)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Stack returns the bindings, bottom decoder first.
func (p *Pipeline) Stack() []*Binding {
	p.stackMu.RLock()
	defer p.stackMu.RUnlock()
	out := make([]*Binding, len(p.stack))
	copy(out, p.stack)
	return out
}

// Push stacks a decoder on top and returns its binding.
func (p *Pipeline) Push(def *domain.DecoderDef) *Binding {
	b := NewBinding(def)
	p.stackMu.Lock()
	p.stack = append(p.stack, b)
	p.stackMu.Unlock()
	return b
}

// Remove drops the binding at index i. The bottom decoder cannot be removed.
func (p *Pipeline) Remove(i int) error {
	p.stackMu.Lock()
	defer p.stackMu.Unlock()
	if i <= 0 || i >= len(p.stack) {
		return fmt.Errorf("decoder stack index %d out of range", i)
	}
	p.stack = append(p.stack[:i:i], p.stack[i+1:]...)
	return nil
}

// HaveRequiredChannels reports whether every binding in the stack has its
// required channels.
func (p *Pipeline) HaveRequiredChannels() bool {
	for _, b := range p.Stack() {
		if !b.HaveRequiredChannels() {
			return false
		}
	}
	return true
}

// AutoBind assigns logic signals to the bottom decoder's channels where the
// names overlap, ignoring case. The first matching signal wins.
func (p *Pipeline) AutoBind(signals []*data.Signal) {
	b := p.Stack()[0]
	for _, dch := range b.def.AllChannels() {
		chName := strings.ToLower(dch.Name)
		chID := strings.ToLower(dch.ID)
		for _, sig := range signals {
			if sig.Kind() != domain.ChannelLogic || sig.Name() == "" {
				continue
			}
			name := strings.ToLower(sig.Name())
			if namesOverlap(chName, name) || namesOverlap(chID, name) {
				_ = b.SetChannel(dch.ID, sig)
				break
			}
		}
	}
}

func namesOverlap(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// SetOption updates an option of the bottom decoder and re-decodes.
func (p *Pipeline) SetOption(id string, v domain.Value) {
	p.Stack()[0].SetOption(id, v)
	p.BeginDecode()
}

// BeginDecode cancels any running pass and starts a new one over the latest
// snapshot.
func (p *Pipeline) BeginDecode() {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	p.stopLocked()
	if p.closed {
		return
	}

	stack := p.Stack()
	for _, b := range stack {
		if !b.HaveRequiredChannels() {
			err := fmt.Errorf("%s: %w", b.def.ID, ErrRequiredChannels)
			p.setError(err)
			p.obs.LogError("decode_not_started", err)
			return
		}
	}
	p.setError(nil)

	var logic *data.Logic
	for _, b := range stack {
		if logic = b.logicData(); logic != nil {
			break
		}
	}
	if logic == nil {
		return
	}
	snap := logic.LatestSnapshot()
	if snap == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	go p.decodeProc(ctx, stack, snap, logic.Samplerate(), done)
}

// Close cancels decoding. The pipeline keeps its last annotations.
func (p *Pipeline) Close() {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	p.stopLocked()
	p.closed = true
}

// OnFrameBegan restarts decoding on the new snapshot.
func (p *Pipeline) OnFrameBegan() { p.BeginDecode() }

func (p *Pipeline) OnDataReceived() { p.wake() }

func (p *Pipeline) OnFrameEnded() { p.wake() }

func (p *Pipeline) wake() {
	p.inputMu.Lock()
	p.inputCond.Broadcast()
	p.inputMu.Unlock()
}

// Wait blocks until the running pass, if any, finishes.
func (p *Pipeline) Wait() {
	p.runMu.Lock()
	done := p.done
	p.runMu.Unlock()
	if done != nil {
		<-done
	}
}

func (p *Pipeline) stopLocked() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.wake()
	<-p.done
	p.cancel = nil
}

// Annotations returns the annotations of the current pass, or of the last
// completed pass while none is running.
func (p *Pipeline) Annotations() []domain.Annotation {
	p.outMu.RLock()
	defer p.outMu.RUnlock()
	out := make([]domain.Annotation, len(p.current))
	copy(out, p.current)
	return out
}

// AnnotationSubset returns annotations overlapping [start, end), ordered by
// start sample.
func (p *Pipeline) AnnotationSubset(start, end uint64) []domain.Annotation {
	var out []domain.Annotation
	for _, a := range p.Annotations() {
		if a.EndSample >= start && a.StartSample < end {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartSample < out[j].StartSample })
	return out
}

func (p *Pipeline) SamplesDecoded() uint64 {
	p.outMu.RLock()
	defer p.outMu.RUnlock()
	return p.samplesDecoded
}

// ErrorMessage is the error of the last pass, or empty.
func (p *Pipeline) ErrorMessage() string {
	p.outMu.RLock()
	defer p.outMu.RUnlock()
	return p.errMsg
}

func (p *Pipeline) setError(err error) {
	p.outMu.Lock()
	defer p.outMu.Unlock()
	if err == nil {
		p.errMsg = ""
		return
	}
	p.errMsg = err.Error()
}

func (p *Pipeline) decodeProc(ctx context.Context, stack []*Binding, snap *data.LogicSnapshot, samplerate uint64, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			p.abort(fmt.Errorf("decoder panic: %v", r))
		}
	}()
	began := time.Now()

	p.outMu.Lock()
	p.current = nil
	p.samplesDecoded = 0
	p.outMu.Unlock()

	unitSize := snap.UnitSize()
	instances := make([]ports.DecoderInstance, 0, len(stack))
	defer func() {
		for _, inst := range instances {
			if err := inst.Close(); err != nil {
				p.obs.LogError("decoder_close_failed", err)
			}
		}
	}()
	for _, b := range stack {
		inst, err := p.engine.NewInstance(b.instanceConfig(unitSize, samplerate), p.emitter(b.def))
		if err != nil {
			p.abort(fmt.Errorf("create decoder %s: %w", b.def.ID, err))
			return
		}
		instances = append(instances, inst)
	}

	chunkSamples := uint64(DecodeChunkLength / unitSize)
	buf := make([]byte, 0, DecodeChunkLength)
	var pos uint64
	for {
		count, ok := p.waitForData(ctx, snap, pos)
		if !ok {
			p.abort(nil)
			return
		}
		if pos >= count {
			break
		}
		end := min(pos+chunkSamples, count)
		buf = snap.GetSamples(buf[:0], pos, end)
		for i, inst := range instances {
			if err := inst.Decode(pos, buf); err != nil {
				p.abort(fmt.Errorf("decoder %s: %w", stack[i].def.ID, err))
				return
			}
		}
		pos = end

		p.outMu.Lock()
		p.samplesDecoded = pos
		p.outMu.Unlock()
	}

	p.outMu.Lock()
	p.committed = p.current
	committed := make([]domain.Annotation, len(p.current))
	copy(committed, p.current)
	p.outMu.Unlock()

	p.obs.ObserveLatency("sigflow_decode_pass_seconds", time.Since(began).Seconds())
	p.obs.IncCounter("sigflow_annotations_total", float64(len(committed)))
	if p.onCommit != nil && len(committed) > 0 {
		p.onCommit(committed)
	}
}

// waitForData blocks until the snapshot holds more than pos samples or is
// sealed. It returns false on cancellation.
func (p *Pipeline) waitForData(ctx context.Context, snap *data.LogicSnapshot, pos uint64) (uint64, bool) {
	p.inputMu.Lock()
	defer p.inputMu.Unlock()
	for {
		if ctx.Err() != nil {
			return 0, false
		}
		count := snap.SampleCount()
		if count > pos || snap.Sealed() {
			return count, true
		}
		p.inputCond.Wait()
	}
}

// abort discards the running pass and restores the last completed one. A
// nil err means the pass was cancelled.
func (p *Pipeline) abort(err error) {
	p.outMu.Lock()
	p.current = p.committed
	if err != nil {
		p.errMsg = err.Error()
	}
	p.outMu.Unlock()
	if err != nil {
		p.obs.LogError("decode_failed", err)
		p.obs.IncCounter("sigflow_decode_errors_total", 1)
	}
}

func (p *Pipeline) emitter(def *domain.DecoderDef) func(domain.Annotation) {
	return func(a domain.Annotation) {
		if a.DecoderID == "" {
			a.DecoderID = def.ID
		}
		if a.ClassName == "" && a.Class >= 0 && a.Class < len(def.Annotations) {
			a.ClassName = def.Annotations[a.Class]
		}
		p.outMu.Lock()
		p.current = append(p.current, a)
		p.outMu.Unlock()
	}
}
