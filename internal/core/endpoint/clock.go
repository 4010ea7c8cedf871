package endpoint

import "time"

// Clock tells the tick loop the time. Tests drive endpoints with a manual
// clock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock reads the wall clock.
var SystemClock Clock = systemClock{}
