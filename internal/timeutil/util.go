// Package timeutil provides utilities for working with time in a consistent
// manner. Federation statements carry Unix timestamps in seconds, so all
// helpers work on UTC and plain integer seconds.
package timeutil

import "time"

func TimestampNow() int {
	return Timestamp(Now())
}

func Timestamp(t time.Time) int {
	return int(t.Unix())
}

func Now() time.Time {
	return time.Now().UTC()
}
