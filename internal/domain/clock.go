package domain

import "time"

// Clock supplies the logical "now" used for trading-deadline and resolution
// checks. Injected so tests and replicas can control time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
