package bitemporal

import "time"

// Clock supplies the current time for transaction-time stamping. Injecting
// it as an explicit collaborator (rather than reading time.Now() inline
// inside the consistency checker and index) keeps transaction times
// deterministic in tests.
type Clock interface {
	Now() time.Time
}

// DefaultClock implements Clock with time.Now().
type DefaultClock struct{}

// Now returns time.Now().
func (DefaultClock) Now() time.Time {
	return time.Now()
}

// zeroTime returns the zero-value time.Time, used where an error needs a
// timestamp argument but none is applicable.
func zeroTime() time.Time {
	return time.Time{}
}

// unixTime converts a persisted Unix-seconds timestamp back to a time.Time,
// as used by the compiled key conditions in compiler.go.
func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
