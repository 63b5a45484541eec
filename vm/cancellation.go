package vm

import (
	"context"
)

// ---------------------------------------------------------------------------
// Halt polling: cooperative cancellation of running scripts
// ---------------------------------------------------------------------------

// HaltFunc is polled on backward branches. Returning Undefined lets the
// script continue; any other value aborts it with that value as payload.
type HaltFunc func() Value

// SetHaltHandler installs fn, polled once every frequency backward branches.
// A frequency below one falls back to Config.HaltFrequency. A nil fn
// disables polling.
func (e *Engine) SetHaltHandler(fn HaltFunc, frequency int) {
	if frequency < 1 {
		frequency = e.config.HaltFrequency
	}
	if frequency < 1 {
		frequency = 1
	}
	e.halt = fn
	e.haltFrequency = frequency
	e.haltCounter = frequency
}

// pollHalt counts one backward branch and consults the halt handler when the
// counter runs out. The result is Undefined or an abort marker.
func (e *Engine) pollHalt() Value {
	if e.halt == nil {
		return Undefined
	}
	e.haltCounter--
	if e.haltCounter > 0 {
		return Undefined
	}
	r := e.halt()
	if r.IsUndefined() {
		e.haltCounter = e.haltFrequency
		return Undefined
	}
	// Keep polling on every branch until the handler relents.
	e.haltCounter = 1
	if r.IsException() {
		return AsAbort(r)
	}
	log.Infof("script halted: %s", ErrorMessage(r))
	return e.heap.NewException(r, true)
}

// ContextHalt returns a halt handler that aborts once ctx is done. The abort
// payload is the context's error message.
func (e *Engine) ContextHalt(ctx context.Context) HaltFunc {
	return func() Value {
		select {
		case <-ctx.Done():
			return e.heap.NewString(ctx.Err().Error())
		default:
			return Undefined
		}
	}
}
