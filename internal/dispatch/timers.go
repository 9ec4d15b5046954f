package dispatch

import (
	"sync"
	"time"
)

// timerSet holds keyed one-shot timers. Arming a key replaces any timer
// already armed under it.
type timerSet struct {
	mu        sync.Mutex
	timers    map[string]*time.Timer
	deadlines map[string]time.Time
}

func newTimerSet() *timerSet {
	return &timerSet{
		timers:    make(map[string]*time.Timer),
		deadlines: make(map[string]time.Time),
	}
}

func (t *timerSet) Arm(key string, d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.timers[key]; ok {
		old.Stop()
	}
	t.timers[key] = time.AfterFunc(d, fn)
	t.deadlines[key] = time.Now().Add(d)
}

func (t *timerSet) Cancel(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.timers[key]; ok {
		old.Stop()
		delete(t.timers, key)
		delete(t.deadlines, key)
	}
}

// Remaining reports the time until the keyed timer fires. A fired timer that
// has not been cancelled reports a zero or negative remaining.
func (t *timerSet) Remaining(key string) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	deadline, ok := t.deadlines[key]
	if !ok {
		return 0, false
	}
	return time.Until(deadline), true
}

func (t *timerSet) StopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, timer := range t.timers {
		timer.Stop()
		delete(t.timers, key)
		delete(t.deadlines, key)
	}
}
