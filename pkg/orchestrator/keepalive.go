package orchestrator

import (
	"sync"
	"time"
)

// KeepAliveScheduler fires a proactive agent turn after a configurable
// silence window in which neither the user nor the agent has produced
// activity. It is a re-armed single-shot timer: every activity event resets
// the window, and the timer only ever fires while the session is idle.
type KeepAliveScheduler struct {
	mu       sync.Mutex
	window   time.Duration
	timer    *time.Timer
	fire     func()
	isIdle   func() bool // reports Playback.IsPlaying()==false && no turn in flight
	stopped  bool
}

// NewKeepAliveScheduler constructs a scheduler that calls fire after window
// has elapsed since the last Arm, but only once isIdle() returns true — it
// never preempts an in-flight turn or active playback. If isIdle() is false
// when the timer pops, the scheduler simply does not fire and waits for the
// next Arm to re-establish the window — callers are expected to Arm again on
// the next activity event (including the eventual close of whatever turn is
// in flight).
func NewKeepAliveScheduler(window time.Duration, isIdle func() bool, fire func()) *KeepAliveScheduler {
	return &KeepAliveScheduler{
		window: window,
		isIdle: isIdle,
		fire:   fire,
	}
}

// Arm (re)starts the single-shot timer. Call on every activity event: user
// blob received, user text submitted, agent turn closed.
func (k *KeepAliveScheduler) Arm() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.stopped {
		return
	}
	if k.timer != nil {
		k.timer.Stop()
	}
	k.timer = time.AfterFunc(k.window, k.onFire)
}

func (k *KeepAliveScheduler) onFire() {
	k.mu.Lock()
	stopped := k.stopped
	k.mu.Unlock()
	if stopped {
		return
	}
	if k.isIdle == nil || !k.isIdle() {
		// Another turn or playback is active; do not preempt. The scheduler
		// re-arms only once the caller observes the next activity event
		// (ordinarily the eventual close of that turn).
		return
	}
	if k.fire != nil {
		k.fire()
	}
}

// Stop cancels the outstanding timer and prevents future Arm calls from
// scheduling a new one. Used on session teardown.
func (k *KeepAliveScheduler) Stop() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.stopped = true
	if k.timer != nil {
		k.timer.Stop()
	}
}
