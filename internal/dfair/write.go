package dfair

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type pendingWrite struct {
	id    string
	frame []byte
}

// writeQueue holds encoded writes until the next pass. It is always emptied
// in full, whether the writes succeed or not.
type writeQueue struct {
	mu    sync.Mutex
	items []pendingWrite
}

func (q *writeQueue) push(w pendingWrite) {
	q.mu.Lock()
	q.items = append(q.items, w)
	q.mu.Unlock()
}

func (q *writeQueue) drain() []pendingWrite {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

func (q *writeQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// WriteParameterValue validates and encodes v for the parameter id, applies
// it to the cached value right away and queues the frame for the next pass.
// Transmission failures are reported through OnWriteError, not here.
func (e *Engine) WriteParameterValue(id string, v Value) error {
	i, ok := e.cat.indexOf(id)
	if !ok {
		return fmt.Errorf("%w: %q", ErrParameterNotFound, id)
	}
	p := e.cat.at(i)
	if !p.Writable {
		return fmt.Errorf("%w: %q", ErrParameterNotWritable, id)
	}
	frame, err := EncodeWrite(p, v)
	if err != nil {
		return err
	}

	if p.Datatype == DatatypeBool {
		v = Bool(v.Bool())
	}
	e.cat.set(i, v, time.Now())
	e.writes.push(pendingWrite{id: id, frame: frame})
	e.log.Debug().Str("param", id).Stringer("value", v).Msg("write queued")
	return nil
}

// ActivateBoost switches boost mode on.
func (e *Engine) ActivateBoost() error { return e.WriteParameterValue("boost", Bool(true)) }

// DeactivateBoost switches boost mode off.
func (e *Engine) DeactivateBoost() error { return e.WriteParameterValue("boost", Bool(false)) }

// SetBypass opens or closes the bypass damper.
func (e *Engine) SetBypass(on bool) error { return e.WriteParameterValue("bypass", Bool(on)) }

// SetAutomaticBypass enables or disables automatic bypass.
func (e *Engine) SetAutomaticBypass(on bool) error {
	return e.WriteParameterValue("automatic_bypass", Bool(on))
}

// SetMode sets the operation mode: 0 demand, 1 program, 2 manual.
func (e *Engine) SetMode(mode int) error {
	if mode < 0 || mode > 2 {
		return fmt.Errorf("%w: operation mode %d not in 0..2", ErrOutOfRange, mode)
	}
	return e.WriteParameterValue("operation_mode", Number(float64(mode)))
}

// SetFanStep sets the manual fan step, 1 to 10.
func (e *Engine) SetFanStep(step int) error {
	if step < 1 || step > 10 {
		return fmt.Errorf("%w: fan step %d not in 1..10", ErrOutOfRange, step)
	}
	return e.WriteParameterValue("fan_step", Number(float64(step)))
}

// flushWrites transmits every queued write in FIFO order before any reads.
func (e *Engine) flushWrites(ctx context.Context, sess *session) error {
	pending := e.writes.drain()
	if len(pending) == 0 {
		return nil
	}
	e.log.Debug().Int("count", len(pending)).Msg("flushing writes")
	for _, w := range pending {
		if err := sess.write(w.frame); err != nil {
			e.reportWriteError(fmt.Errorf("%w: %s: %v", ErrWriteFailure, w.id, err))
		} else {
			e.log.Debug().Str("param", w.id).Msg("write sent")
		}
		if err := sleepCtx(ctx, e.opDelay); err != nil {
			return err
		}
	}
	return nil
}

// dropWrites reports every queued write as failed when no connection could
// be made for the pass.
func (e *Engine) dropWrites(cause error) {
	for _, w := range e.writes.drain() {
		e.reportWriteError(fmt.Errorf("%w: %s: %v", ErrWriteFailure, w.id, cause))
	}
}

func (e *Engine) reportWriteError(err error) {
	e.mu.Lock()
	e.writeFailures++
	e.mu.Unlock()
	if e.onWriteError != nil {
		e.onWriteError(err)
		return
	}
	e.log.Error().Err(err).Msg("write failed")
}
