package service_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"ownide/internal/sandbox/service"
	appErr "ownide/pkg/errors"
	"ownide/pkg/utils/contextkey"
)

func TestDispatcherRunsJobs(t *testing.T) {
	d := service.NewDispatcher(context.Background(), service.DispatcherConfig{Workers: 2, QueueSize: 4})

	got := make(chan string, 1)
	err := d.Enqueue(service.Job{TaskID: "t1", Run: func(ctx context.Context) {
		id, _ := ctx.Value(contextkey.TaskID).(string)
		got <- id
	}})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case id := <-got:
		if id != "t1" {
			t.Fatalf("job ran with task id %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("job did not run")
	}
	if err := d.Shutdown(t.Context()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestDispatcherQueueFull(t *testing.T) {
	d := service.NewDispatcher(context.Background(), service.DispatcherConfig{Workers: 1, QueueSize: 1})
	release := make(chan struct{})
	started := make(chan struct{})

	block := service.Job{TaskID: "busy", Run: func(ctx context.Context) {
		close(started)
		<-release
	}}
	if err := d.Enqueue(block); err != nil {
		t.Fatalf("enqueue busy: %v", err)
	}
	<-started
	if err := d.Enqueue(service.Job{TaskID: "queued", Run: func(ctx context.Context) {}}); err != nil {
		t.Fatalf("enqueue queued: %v", err)
	}
	err := d.Enqueue(service.Job{TaskID: "overflow", Run: func(ctx context.Context) {}})
	if !appErr.Is(err, appErr.SandboxQueueFull) {
		t.Fatalf("expected SandboxQueueFull, got %v", err)
	}
	close(release)
	if err := d.Shutdown(t.Context()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestDispatcherShutdownDrains(t *testing.T) {
	d := service.NewDispatcher(context.Background(), service.DispatcherConfig{Workers: 1, QueueSize: 8})
	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		if err := d.Enqueue(service.Job{Run: func(ctx context.Context) {
			time.Sleep(5 * time.Millisecond)
			ran.Add(1)
		}}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	if err := d.Shutdown(t.Context()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if ran.Load() != 5 {
		t.Fatalf("expected queued jobs to finish, ran %d", ran.Load())
	}
	err := d.Enqueue(service.Job{Run: func(ctx context.Context) {}})
	if !appErr.Is(err, appErr.ServiceUnavailable) {
		t.Fatalf("expected ServiceUnavailable after shutdown, got %v", err)
	}
}

func TestDispatcherShutdownTimeout(t *testing.T) {
	d := service.NewDispatcher(context.Background(), service.DispatcherConfig{Workers: 1, QueueSize: 1})
	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	_ = d.Enqueue(service.Job{Run: func(ctx context.Context) {
		close(started)
		<-release
	}})
	<-started

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	if err := d.Shutdown(ctx); err == nil {
		t.Fatalf("expected shutdown to give up on a stuck job")
	}
}

func TestDispatcherRecoversPanics(t *testing.T) {
	d := service.NewDispatcher(context.Background(), service.DispatcherConfig{Workers: 1, QueueSize: 2})
	done := make(chan struct{})
	_ = d.Enqueue(service.Job{Run: func(ctx context.Context) { panic("boom") }})
	_ = d.Enqueue(service.Job{Run: func(ctx context.Context) { close(done) }})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not survive a panicking job")
	}
	_ = d.Shutdown(t.Context())
}
