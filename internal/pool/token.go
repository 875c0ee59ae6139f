package pool

import (
	"sync/atomic"

	"github.com/tinydl/engine/internal/dispatch"
	"github.com/tinydl/engine/internal/logging"
)

// CompletionHook is notified exactly once per dispatched operator, with the
// error captured from either a callable-returned error or a recovered
// panic. It is invoked outside of any pool or queue lock.
type CompletionHook func(op *dispatch.Opr, err error)

// token is the dispatch.CompletionToken handed to a callable's Invoke. It
// guards against a callable firing completion more than once: a double
// fire is logged rather than panicked, since by the time an async callable
// fires a second time the worker that dispatched it has long since moved
// on to other work, and panicking from an arbitrary unrelated goroutine
// would take down the whole process for no corresponding benefit.
type token struct {
	op     *dispatch.Opr
	onFire CompletionHook
	log    *logging.Logger
	fired  atomic.Bool
}

func newToken(op *dispatch.Opr, onFire CompletionHook, log *logging.Logger) *token {
	return &token{op: op, onFire: onFire, log: log}
}

// Fire implements dispatch.CompletionToken.
func (t *token) Fire(err error) {
	if !t.fired.CompareAndSwap(false, true) {
		if t.log != nil {
			t.log.WithOperator(t.op.ID, t.op.Property.String()).
				Error("completion fired more than once, ignoring duplicate", "err", err)
		}
		return
	}
	t.onFire(t.op, err)
}
