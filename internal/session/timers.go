package session

import "time"

// Timer is a cancellable scheduled callback.
type Timer interface {
	Stop() bool
}

// Scheduler schedules callbacks. The hub supplies one that hands fired
// callbacks back to its event loop; tests supply virtual time.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// RealScheduler runs callbacks on the runtime timer goroutine.
type RealScheduler struct{}

// AfterFunc wraps time.AfterFunc.
func (RealScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type timerEntry struct {
	timer Timer
	gen   uint64
}

// timerRegistry holds at most one live timer per key.
// Each armed timer carries a generation so a callback that was already in
// flight when its timer got replaced or cancelled can recognize itself as stale.
// Not safe for concurrent use; the session manager guards it.
type timerRegistry struct {
	entries map[string]timerEntry
	gen     uint64
}

func newTimerRegistry() *timerRegistry {
	return &timerRegistry{entries: make(map[string]timerEntry)}
}

// next reserves the generation for a timer about to be armed.
func (r *timerRegistry) next() uint64 {
	r.gen++
	return r.gen
}

// Replace installs t under key, stopping whatever was there before.
func (r *timerRegistry) Replace(key string, gen uint64, t Timer) {
	if prev, ok := r.entries[key]; ok {
		prev.timer.Stop()
	}
	r.entries[key] = timerEntry{timer: t, gen: gen}
}

// Cancel stops and forgets the timer under key, if any.
func (r *timerRegistry) Cancel(key string) {
	if prev, ok := r.entries[key]; ok {
		prev.timer.Stop()
		delete(r.entries, key)
	}
}

// Claim reports whether gen is still the live timer under key and, if so,
// forgets it so it cannot be claimed twice.
func (r *timerRegistry) Claim(key string, gen uint64) bool {
	e, ok := r.entries[key]
	if !ok || e.gen != gen {
		return false
	}
	delete(r.entries, key)
	return true
}

// Has reports whether a timer is armed under key.
func (r *timerRegistry) Has(key string) bool {
	_, ok := r.entries[key]
	return ok
}

// Len returns the number of armed timers.
func (r *timerRegistry) Len() int {
	return len(r.entries)
}
