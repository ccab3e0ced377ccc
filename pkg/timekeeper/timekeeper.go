package timekeeper

import (
	"time"
)

// Elapsing measures wall time between checkpoints. Each call to Report
// returns the duration since the previous Report (or since creation) and
// moves the checkpoint forward, so consecutive reports sum to the total
// elapsed time without double counting.
type Elapsing struct {
	checkpoint time.Time
}

func NewElapsing() *Elapsing {
	return &Elapsing{
		// In Go, Now keeps track both of wallclock and monotonic clock
		// therefore we can use it to check delta as well
		checkpoint: time.Now(),
	}
}

func (e *Elapsing) Reset() {
	e.checkpoint = time.Now()
}

func (e *Elapsing) Report() time.Duration {
	now := time.Now()
	total := now.Sub(e.checkpoint)
	e.checkpoint = now

	return total
}
