package raid

import (
	"testing"
	"time"
)

func fixedDetector() (*Detector, *time.Time) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	d := NewDetector()
	d.now = func() time.Time { return now }
	return d, &now
}

func TestCheck_BelowThreshold(t *testing.T) {
	d, now := fixedDetector()

	for i := 0; i < 9; i++ {
		*now = now.Add(time.Second)
		if d.Check("guild-1", 10) {
			t.Fatalf("join %d tripped the threshold early", i+1)
		}
	}
}

func TestCheck_TenthJoinTrips(t *testing.T) {
	d, now := fixedDetector()

	for i := 0; i < 9; i++ {
		*now = now.Add(time.Second)
		d.Check("guild-1", 10)
	}
	*now = now.Add(time.Second)
	if !d.Check("guild-1", 10) {
		t.Fatal("10th join within the window should trip")
	}
}

func TestCheck_WindowAgesOut(t *testing.T) {
	d, now := fixedDetector()

	for i := 0; i < 10; i++ {
		d.Check("guild-1", 10)
	}

	// 61 seconds later the first burst has aged out; the new join is
	// judged against a trimmed window.
	*now = now.Add(61 * time.Second)
	if d.Check("guild-1", 10) {
		t.Fatal("join after the window expired should not trip")
	}
	if got := d.WindowSize("guild-1"); got != 1 {
		t.Fatalf("window size %d, want 1", got)
	}
}

func TestCheck_GuildsIndependent(t *testing.T) {
	d, _ := fixedDetector()

	for i := 0; i < 9; i++ {
		d.Check("guild-1", 10)
	}
	if d.Check("guild-2", 10) {
		t.Fatal("joins in guild-1 must not count toward guild-2")
	}
	if got := d.WindowSize("guild-2"); got != 1 {
		t.Fatalf("guild-2 window size %d, want 1", got)
	}
}

func TestWindowSize_DoesNotRecord(t *testing.T) {
	d, _ := fixedDetector()

	d.Check("guild-1", 10)
	d.WindowSize("guild-1")
	d.WindowSize("guild-1")
	if got := d.WindowSize("guild-1"); got != 1 {
		t.Fatalf("window size %d, want 1 (size checks must not record joins)", got)
	}
}
