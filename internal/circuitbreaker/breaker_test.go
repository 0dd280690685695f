package circuitbreaker

import (
	"sync"
	"testing"
	"time"
)

func TestBreaker_AllowWhenClosed(t *testing.T) {
	b := New(3, 100*time.Millisecond)
	if !b.Allow("oracle") {
		t.Fatal("expected closed circuit to allow")
	}
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b := New(3, 100*time.Millisecond)

	b.RecordFailure("oracle")
	b.RecordFailure("oracle")
	if !b.Allow("oracle") {
		t.Fatal("should still allow before threshold")
	}

	b.RecordFailure("oracle")
	if b.Allow("oracle") {
		t.Fatal("should be open after 3 failures")
	}
	if b.State("oracle") != StateOpen {
		t.Fatalf("expected StateOpen, got %v", b.State("oracle"))
	}
}

func TestBreaker_OpenToHalfOpenAfterDuration(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	b.RecordFailure("oracle")
	b.RecordFailure("oracle")
	if b.Allow("oracle") {
		t.Fatal("should be open")
	}

	time.Sleep(60 * time.Millisecond)

	// Should transition to half-open and allow one probe.
	if !b.Allow("oracle") {
		t.Fatal("should allow probe in half-open")
	}
	if b.State("oracle") != StateHalfOpen {
		t.Fatalf("expected StateHalfOpen, got %v", b.State("oracle"))
	}

	// Second request while half-open should be rejected.
	if b.Allow("oracle") {
		t.Fatal("should reject second request in half-open")
	}
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	b.RecordFailure("oracle")
	b.RecordFailure("oracle")
	time.Sleep(60 * time.Millisecond)
	b.Allow("oracle") // Transitions to half-open

	b.RecordSuccess("oracle")
	if b.State("oracle") != StateClosed {
		t.Fatalf("expected StateClosed after success, got %v", b.State("oracle"))
	}
	if !b.Allow("oracle") {
		t.Fatal("should allow after recovery")
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	b.RecordFailure("oracle")
	b.RecordFailure("oracle")
	time.Sleep(60 * time.Millisecond)
	b.Allow("oracle") // half-open

	b.RecordFailure("oracle")
	if b.State("oracle") != StateOpen {
		t.Fatalf("expected StateOpen after failed probe, got %v", b.State("oracle"))
	}
}

func TestBreaker_KeysIndependent(t *testing.T) {
	b := New(2, time.Minute)

	b.RecordFailure("oracle")
	b.RecordFailure("oracle")
	if b.Allow("oracle") {
		t.Fatal("oracle key should be open")
	}
	if !b.Allow("other") {
		t.Fatal("other key should be unaffected")
	}
}

func TestBreaker_ConcurrentAccess(t *testing.T) {
	b := New(10, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if n%2 == 0 {
				b.RecordFailure("oracle")
			} else {
				b.Allow("oracle")
			}
		}(i)
	}
	wg.Wait()
}
