package playback

import "time"

// Scheduler arms one-shot timers. AfterFunc returns a stop function with
// time.Timer.Stop semantics.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

type systemScheduler struct{}

func (systemScheduler) Now() time.Time { return time.Now() }

func (systemScheduler) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// SystemScheduler uses the wall clock
func SystemScheduler() Scheduler {
	return systemScheduler{}
}
