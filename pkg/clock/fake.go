package clock

import (
	"sync"
	"time"
)

// Fake is a Clock that never blocks: Sleep moves Now forward and
// records the duration.
type Fake struct {
	// OnSleep, if set, is called with each duration slept, after the
	// clock has moved.
	OnSleep func(time.Duration)

	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Sleep(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.slept = append(f.slept, d)
	onSleep := f.OnSleep
	f.mu.Unlock()
	if onSleep != nil {
		onSleep(d)
	}
}

// Slept returns every duration slept so far, in order.
func (f *Fake) Slept() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.slept...)
}
