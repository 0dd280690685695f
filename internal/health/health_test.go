package health

import (
	"context"
	"testing"
)

func TestRegistry_AllHealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("sessions", StaticCheck(true, ""))
	r.Register("oracle", StaticCheck(true, "circuit closed"))

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("expected aggregate healthy")
	}
	if len(statuses) != 2 {
		t.Fatalf("got %d statuses, want 2", len(statuses))
	}
	if statuses[0].Name != "sessions" || statuses[1].Name != "oracle" {
		t.Fatalf("names not preserved: %+v", statuses)
	}
}

func TestRegistry_OneUnhealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("sessions", StaticCheck(true, ""))
	r.Register("oracle", func(ctx context.Context) Status {
		return Status{Healthy: false, Detail: "circuit open"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("expected aggregate unhealthy")
	}
	if statuses[1].Detail != "circuit open" {
		t.Fatalf("detail not preserved: %+v", statuses[1])
	}
}

func TestRegistry_Empty(t *testing.T) {
	r := NewRegistry()
	healthy, statuses := r.CheckAll(context.Background())
	if !healthy || len(statuses) != 0 {
		t.Fatal("empty registry should be healthy with no statuses")
	}
}
