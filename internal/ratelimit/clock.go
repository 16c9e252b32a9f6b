package ratelimit

import "time"

// Timer is a cancellable one-shot callback handle.
type Timer interface {
	Stop() bool
}

// Clock supplies the current time and schedules eviction callbacks.
// Swapped out in tests to drive eviction deterministically.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// systemClock uses time.Now which carries a monotonic reading, so interval
// math is unaffected by wall clock adjustments.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
