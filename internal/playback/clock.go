package playback

import "time"

// Timer is a cancellable deferred call
type Timer interface {
	Stop() bool
}

// Clock schedules deferred work. Tests substitute a manual clock.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

// SystemClock returns a Clock backed by the time package
func SystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
