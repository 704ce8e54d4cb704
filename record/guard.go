package record

import (
	"sync/atomic"

	"github.com/onnwee/voicecord/capture"
)

// Guard watches the byte total reported by the capture pipeline and fires
// once when the session's entitled duration is exhausted. Byte accounting
// keeps the limit exact regardless of scheduler latency: the trigger is the
// amount of audio actually written, not wall-clock time.
type Guard struct {
	limitBytes int64
	fired      atomic.Bool
	disarmed   atomic.Bool
	onExpire   func()
}

// NewGuard builds a guard for maxSeconds of audio. onExpire runs on its own
// goroutine so the capture loop is never blocked behind the registry lock.
func NewGuard(maxSeconds int, onExpire func()) *Guard {
	return &Guard{
		limitBytes: int64(maxSeconds) * capture.BytesPerSecond,
		onExpire:   onExpire,
	}
}

// Observe is the capture onWrite callback. Fires at most once over the
// guard's lifetime; a disarmed guard never fires.
func (g *Guard) Observe(totalBytes int64) {
	if g.disarmed.Load() || totalBytes < g.limitBytes {
		return
	}
	if g.fired.CompareAndSwap(false, true) {
		go g.onExpire()
	}
}

// Disarm permanently silences the guard. Called on every terminal
// transition so a finish racing the limit cannot fire a second one.
func (g *Guard) Disarm() { g.disarmed.Store(true) }

// Fired reports whether the limit triggered.
func (g *Guard) Fired() bool { return g.fired.Load() }
