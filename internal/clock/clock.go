package clock

import "time"

// Clock abstracts the wall clock so deadline math can be tested
// deterministically. All attempt timing goes through this interface;
// client-supplied timestamps are never trusted.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// System returns the real wall clock.
func System() Clock { return systemClock{} }
