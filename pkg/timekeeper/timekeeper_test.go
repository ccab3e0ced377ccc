package timekeeper

import (
	"testing"
	"time"
)

func TestElapsingReportAdvancesCheckpoint(t *testing.T) {
	elapse := NewElapsing()

	time.Sleep(20 * time.Millisecond)
	first := elapse.Report()
	if first < 20*time.Millisecond {
		t.Errorf("expect at least 20ms elapsed, got %v", first)
	}

	// the checkpoint moved, a back-to-back report is near zero
	second := elapse.Report()
	if second > 10*time.Millisecond {
		t.Errorf("expect near zero after checkpoint, got %v", second)
	}
}

func TestElapsingReset(t *testing.T) {
	elapse := NewElapsing()

	time.Sleep(20 * time.Millisecond)
	elapse.Reset()

	got := elapse.Report()
	if got > 10*time.Millisecond {
		t.Errorf("expect reset to discard elapsed time, got %v", got)
	}
}
