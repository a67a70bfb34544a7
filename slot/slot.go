package slot

import "time"

// Clock is the wall clock slot windows are measured against.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

var _ Clock = SystemClock{}

func (SystemClock) Now() time.Time { return time.Now() }

// Unix returns the clock reading in unix seconds.
func Unix(c Clock) int64 {
	return c.Now().Unix()
}
