package timeutil

import (
	"math"
	"time"
)

// StampToTime converts a message stamp in float64 seconds since the Unix
// epoch to a time.Time. A zero stamp maps to the zero time.
func StampToTime(stamp float64) time.Time {
	if stamp == 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(stamp)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9)))
}

// TimeToStamp converts t to float64 seconds since the Unix epoch. The zero
// time maps to a zero stamp.
func TimeToStamp(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}

// StampDuration converts a difference between two stamps into a Duration.
func StampDuration(from, to float64) time.Duration {
	return time.Duration((to - from) * float64(time.Second))
}
