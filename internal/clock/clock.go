// Package clock позволяет подменять источник времени в сервисе и тестах.
package clock

import "time"

// Clock возвращает текущее время.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// NewSystem возвращает часы на основе time.Now в UTC.
func NewSystem() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// Fixed всегда возвращает заданный момент времени, пока его не сдвинут через Advance.
type Fixed struct {
	now time.Time
}

// NewFixed создаёт часы, остановленные на указанном моменте.
func NewFixed(t time.Time) *Fixed {
	return &Fixed{now: t.UTC()}
}

// Now возвращает текущее значение часов.
func (f *Fixed) Now() time.Time {
	return f.now
}

// Advance сдвигает часы вперёд на d.
func (f *Fixed) Advance(d time.Duration) {
	f.now = f.now.Add(d)
}
