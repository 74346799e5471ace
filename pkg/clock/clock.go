// Package clock holds the two things the orchestration needs from
// time: reading it, and blocking on it. Every wait in a run (drain,
// health settle, reboot, poll interval) goes through a Clock so that
// it can be replaced in tests.
package clock

import (
	"io"
	"time"

	"github.com/cheggaaa/pb/v3"
)

type Clock interface {
	Now() time.Time
	// Sleep blocks for d. There is no way to interrupt it.
	Sleep(d time.Duration)
}

// Real is the wall clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) Sleep(d time.Duration) { time.Sleep(d) }

// Progress is the wall clock, but draws a countdown bar on Out for
// any sleep of at least MinBar.
type Progress struct {
	Out    io.Writer
	MinBar time.Duration
}

const progressTemplate = `Waiting {{counters . }} {{bar . }} {{etime . "%s"}}`

func (p Progress) Now() time.Time { return time.Now() }

func (p Progress) Sleep(d time.Duration) {
	if d < p.MinBar || d < time.Second {
		time.Sleep(d)
		return
	}
	seconds := int(d / time.Second)
	bar := pb.New(seconds)
	bar.SetTemplateString(progressTemplate)
	bar.SetWriter(p.Out)
	bar.Start()
	for i := 0; i < seconds; i++ {
		time.Sleep(time.Second)
		bar.Increment()
	}
	bar.Finish()
	time.Sleep(d % time.Second)
}
