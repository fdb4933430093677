package dfair

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultReadTimeout = 3 * time.Second
	defaultOpDelay     = 100 * time.Millisecond
)

// State is the exchange state of the engine.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateReading
	StateAwaiting
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateReading:
		return "reading"
	case StateAwaiting:
		return "awaiting"
	case StateTimedOut:
		return "timed_out"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for c := StateIdle; c <= StateTimedOut; c++ {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("dfair: unknown state %q", b)
}

// Options configures an Engine.
type Options struct {
	// IP of the device; the engine connects to IP:Port unless Dialer is set.
	IP   string
	Port int

	// DelaySeconds is the requested time between passes. The effective delay
	// is never shorter than the schedule step.
	DelaySeconds int
	Debug        bool

	// OnBatch receives the full snapshot after every pass.
	OnBatch func([]Reading)
	// OnReading receives each parameter right after a read was attempted,
	// whether it succeeded, timed out or failed to decode. Parameters the
	// schedule skips on a pass are not reported.
	OnReading func(Reading)
	// OnWriteError receives failures of queued writes. When nil they are logged.
	OnWriteError func(error)

	Dialer  Dialer
	Catalog *Catalog
	Logger  *zerolog.Logger

	ReadTimeout time.Duration // per request, default 3s
	OpDelay     time.Duration // between requests, default 100ms
}

// Status is a point-in-time view of the engine's bookkeeping.
type Status struct {
	State         State     `json:"state"`
	Active        string    `json:"active,omitempty"`
	CurrentStep   int       `json:"currentStep"`
	Cycle         int       `json:"cycle"`
	Step          int       `json:"step"`
	DelaySeconds  int       `json:"delaySeconds"`
	Passes        uint64    `json:"passes"`
	Timeouts      uint64    `json:"timeouts"`
	WriteFailures uint64    `json:"writeFailures"`
	PendingWrites int       `json:"pendingWrites"`
	LastPass      time.Time `json:"lastPass"`
	LastPassMs    int64     `json:"lastPassMs"`
	LastError     string    `json:"lastError,omitempty"`
}

// Engine polls a Danfoss Air unit over a single, strictly sequential
// request/response exchange and queues writes for the next pass.
type Engine struct {
	cat         *Catalog
	dialer      Dialer
	sched       Schedule
	delay       int
	readTimeout time.Duration
	opDelay     time.Duration
	debug       bool
	log         zerolog.Logger

	onBatch      func([]Reading)
	onReading    func(Reading)
	onWriteError func(error)

	writes writeQueue

	// passMu serialises passes so only one request is ever in flight.
	passMu sync.Mutex

	mu            sync.Mutex
	state         State
	active        string
	currentStep   int
	passes        uint64
	timeouts      uint64
	writeFailures uint64
	lastPass      time.Time
	lastPassDur   time.Duration
	lastErr       error

	runMu   sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// New builds an engine. The schedule is computed once from the catalog.
func New(opts Options) (*Engine, error) {
	if opts.Dialer == nil && opts.IP == "" {
		return nil, errors.New("dfair: ip required")
	}
	if opts.DelaySeconds <= 0 {
		return nil, fmt.Errorf("%w: delay %d", ErrInvalidScheduleInput, opts.DelaySeconds)
	}

	base := zerolog.Nop()
	if opts.Logger != nil {
		base = *opts.Logger
	}
	lg := base.With().Str("component", "engine").Logger()
	switch {
	case opts.Debug && opts.Logger != nil:
		lg = lg.Level(zerolog.DebugLevel)
	case !opts.Debug && lg.GetLevel() < zerolog.InfoLevel:
		lg = lg.Level(zerolog.InfoLevel)
	}

	cat := opts.Catalog
	if cat == nil {
		cat = DefaultCatalog()
	}
	sched, err := ComputeSchedule(cat.Intervals(opts.DelaySeconds), opts.DelaySeconds)
	if err != nil {
		return nil, err
	}

	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	if opts.OpDelay < 0 {
		opts.OpDelay = 0
	} else if opts.OpDelay == 0 {
		opts.OpDelay = defaultOpDelay
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = TCPDialer{
			Address: net.JoinHostPort(opts.IP, strconv.Itoa(opts.Port)),
			Timeout: opts.ReadTimeout,
		}
	}

	if opts.DelaySeconds < 3 {
		lg.Warn().Int("delay_seconds", opts.DelaySeconds).
			Msg("polling faster than every 3s is pointless for a ventilation unit; 30s is plenty")
	}

	e := &Engine{
		cat:          cat,
		dialer:       dialer,
		sched:        sched,
		delay:        sched.Delay(opts.DelaySeconds),
		readTimeout:  opts.ReadTimeout,
		opDelay:      opts.OpDelay,
		debug:        opts.Debug,
		log:          lg,
		onBatch:      opts.OnBatch,
		onReading:    opts.OnReading,
		onWriteError: opts.OnWriteError,
	}
	lg.Info().
		Str("ip", opts.IP).
		Int("cycle", sched.Cycle).
		Int("step", sched.Step).
		Int("delay", e.delay).
		Msg("engine initialized")
	return e, nil
}

// Schedule returns the computed cycle and step.
func (e *Engine) Schedule() Schedule { return e.sched }

// Delay returns the effective time between passes.
func (e *Engine) Delay() time.Duration { return time.Duration(e.delay) * time.Second }

// Catalog returns the engine's parameter catalog.
func (e *Engine) Catalog() *Catalog { return e.cat }

// Parameter returns a copy of the parameter with the given id.
func (e *Engine) Parameter(id string) (Param, error) { return e.cat.Get(id) }

// IsWritable reports whether the parameter accepts writes.
func (e *Engine) IsWritable(id string) bool { return e.cat.IsWritable(id) }

// Parameters returns copies of all parameters in read order.
func (e *Engine) Parameters() []Param { return e.cat.All() }

// Snapshot returns the flattened readings of all parameters.
func (e *Engine) Snapshot() []Reading { return e.cat.Readings() }

// Status returns the engine's current bookkeeping.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := Status{
		State:         e.state,
		Active:        e.active,
		CurrentStep:   e.currentStep,
		Cycle:         e.sched.Cycle,
		Step:          e.sched.Step,
		DelaySeconds:  e.delay,
		Passes:        e.passes,
		Timeouts:      e.timeouts,
		WriteFailures: e.writeFailures,
		PendingWrites: e.writes.len(),
		LastPass:      e.lastPass,
		LastPassMs:    e.lastPassDur.Milliseconds(),
	}
	if e.lastErr != nil {
		st.LastError = e.lastErr.Error()
	}
	return st
}

// Start runs the poll loop on its own goroutine until Stop is called.
func (e *Engine) Start() {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.cancel, e.stopped = cancel, done
	go func() {
		defer close(done)
		e.Run(ctx)
	}()
}

// Stop cancels the poll loop, tears down the active connection and waits for
// the loop to exit. No callbacks fire after Stop returns.
func (e *Engine) Stop() {
	e.runMu.Lock()
	cancel, done := e.cancel, e.stopped
	e.cancel, e.stopped = nil, nil
	e.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Run polls until ctx is cancelled: pass, wait the effective delay, repeat.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info().Dur("delay", e.Delay()).Msg("polling started")
	for {
		if err := e.PollOnce(ctx); err != nil && ctx.Err() == nil {
			e.log.Warn().Err(err).Msg("pass ended early")
		}
		if err := sleepCtx(ctx, e.Delay()); err != nil {
			e.log.Info().Msg("polling stopped")
			return nil
		}
	}
}

// PollOnce runs one complete pass: connect, flush queued writes, read every
// due parameter, disconnect. Afterwards the cycle position advances and the
// batch callback fires. A transport failure ends the pass early and is
// returned; the values read so far are kept.
func (e *Engine) PollOnce(ctx context.Context) error {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	begin := time.Now()
	err := e.pass(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	took := time.Since(begin)
	e.log.Debug().Dur("took", took).Msg("refresh done")

	if e.debug {
		e.dumpParams()
	}

	e.mu.Lock()
	e.currentStep += e.delay
	if e.currentStep >= e.sched.Cycle {
		e.currentStep = 0
	}
	e.passes++
	e.lastPass = time.Now()
	e.lastPassDur = took
	e.lastErr = err
	e.mu.Unlock()

	if e.onBatch != nil {
		e.onBatch(e.cat.Readings())
	}
	return err
}

func (e *Engine) pass(ctx context.Context) error {
	e.mu.Lock()
	step := e.currentStep
	e.mu.Unlock()

	e.setState(StateConnecting)
	conn, err := e.dialer.Dial(ctx)
	if err != nil {
		e.setState(StateTimedOut)
		if !errors.Is(err, ErrTransport) {
			err = fmt.Errorf("%w: %v", ErrTransport, err)
		}
		e.dropWrites(err)
		e.setState(StateIdle)
		return err
	}
	sess := newSession(conn)
	defer func() {
		sess.close()
		e.setState(StateIdle)
	}()

	if err := e.flushWrites(ctx, sess); err != nil {
		return err
	}

	for i := 0; i < e.cat.Len(); i++ {
		p := e.cat.at(i)
		if !due(p, step) {
			e.log.Debug().Str("param", p.ID).Int("step", step).Msg("skipped")
			continue
		}

		e.setState(StateReading)
		err := e.read(ctx, sess, i, p)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, ErrTransport):
			e.setState(StateTimedOut)
			e.log.Warn().Err(err).Str("param", p.ID).Msg("connection failed, tearing down")
			return err
		case errors.Is(err, ErrReadTimeout):
			e.setState(StateTimedOut)
			e.mu.Lock()
			e.timeouts++
			e.mu.Unlock()
			e.log.Warn().Str("param", p.ID).Dur("timeout", e.readTimeout).Msg("read timed out")
		default:
			e.log.Error().Err(err).Str("param", p.ID).Msg("read failed")
		}

		if e.onReading != nil {
			e.onReading(e.cat.at(i).reading())
		}
		e.setState(StateIdle)
		if err := sleepCtx(ctx, e.opDelay); err != nil {
			return err
		}
	}
	return nil
}

// due decides whether p is read at the given cycle position.
func due(p Param, step int) bool {
	if p.Static() && !p.Value.IsUnread() {
		return false
	}
	if step != 0 && p.Interval > 0 && step%p.Interval != 0 {
		return false
	}
	return true
}

// read issues one read request and waits for its response.
func (e *Engine) read(ctx context.Context, sess *session, i int, p Param) error {
	if n := sess.discard(); n > 0 {
		e.log.Debug().Int("bytes", n).Msg("discarded unsolicited data")
	}

	e.setActive(p.ID)
	defer e.setActive("")

	e.log.Debug().Str("param", p.ID).Uint16("address", p.Address).Msg("read")
	if err := sess.write(EncodeRead(p)); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrTransport, p.ID, err)
	}

	need := p.Datatype.Size()
	if need == 0 {
		need = 1
	}
	timer := time.NewTimer(e.readTimeout)
	defer timer.Stop()

	var buf []byte
	for {
		select {
		case chunk := <-sess.data:
			buf = append(buf, chunk...)
			if len(buf) < need {
				continue
			}
			v, err := DecodeResponse(p, buf)
			if err != nil {
				return err
			}
			e.cat.set(i, v, time.Now())
			e.log.Debug().Str("param", p.ID).Stringer("value", v).Msg("processed")
			return nil
		case err := <-sess.errc:
			return fmt.Errorf("%w: %v", ErrTransport, err)
		case <-timer.C:
			return fmt.Errorf("%w: %s after %v", ErrReadTimeout, p.ID, e.readTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *Engine) dumpParams() {
	for _, p := range e.cat.All() {
		e.log.Debug().Str("param", p.Name).Stringer("value", p.Value).Msg("snapshot")
	}
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) setActive(id string) {
	e.mu.Lock()
	e.active = id
	if id != "" {
		e.state = StateAwaiting
	}
	e.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
