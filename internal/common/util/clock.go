package util

import "time"

// Clock abstracts wall clock access. Snapshot timestamps, retention cutoffs
// and alert lifecycle times all go through it so tests can pin time.
type Clock interface {
	Now() time.Time
}

type DefaultClock struct{}

func (c *DefaultClock) Now() time.Time { return time.Now() }

// DummyClock reports a fixed time. Tests advance it by assigning T.
type DummyClock struct {
	T time.Time
}

func (c *DummyClock) Now() time.Time {
	return c.T
}
