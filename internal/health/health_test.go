package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRegistryEmpty(t *testing.T) {
	healthy, statuses := NewRegistry(time.Second).CheckAll(context.Background())
	if !healthy {
		t.Fatal("empty registry should be healthy")
	}
	if len(statuses) != 0 {
		t.Fatalf("expected 0 statuses, got %d", len(statuses))
	}
}

func TestRegistryOrderAndFailure(t *testing.T) {
	r := NewRegistry(time.Second)
	r.Register("chain:ethereum", func(context.Context) error { return nil })
	r.Register("database", func(context.Context) error { return errors.New("connection refused") })
	r.Register("redis", func(context.Context) error { return nil })

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("expected unhealthy when one check fails")
	}
	if len(statuses) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(statuses))
	}
	for i, want := range []string{"chain:ethereum", "database", "redis"} {
		if statuses[i].Name != want {
			t.Errorf("status %d = %s, want %s", i, statuses[i].Name, want)
		}
	}
	if statuses[1].Healthy || statuses[1].Detail != "connection refused" {
		t.Errorf("database status = %+v", statuses[1])
	}
	if !statuses[0].Healthy || statuses[0].Detail != "" {
		t.Errorf("chain status = %+v", statuses[0])
	}
}

func TestRegistryTimeout(t *testing.T) {
	r := NewRegistry(20 * time.Millisecond)
	r.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	start := time.Now()
	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("expected timeout to fail the check")
	}
	if statuses[0].Detail != context.DeadlineExceeded.Error() {
		t.Errorf("detail = %q", statuses[0].Detail)
	}
	if time.Since(start) > time.Second {
		t.Error("check was not bounded by the registry timeout")
	}
}

func TestRegistryRunsConcurrently(t *testing.T) {
	r := NewRegistry(time.Second)
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	for _, name := range []string{"a", "b"} {
		r.Register(name, func(ctx context.Context) error {
			started <- struct{}{}
			<-release
			return nil
		})
	}

	done := make(chan bool)
	go func() {
		healthy, _ := r.CheckAll(context.Background())
		done <- healthy
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("checks did not start concurrently")
		}
	}
	close(release)
	if !<-done {
		t.Error("expected healthy")
	}
}
