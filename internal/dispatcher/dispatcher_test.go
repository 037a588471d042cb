package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MinWorkers = 2
	cfg.MaxWorkers = 4
	cfg.MaxQueuedRequests = 10
	cfg.QueueTimeout = time.Second
	return cfg
}

func TestSubmitRunsTaskAndDeliversResult(t *testing.T) {
	d := New(testConfig(), nil, nil)
	d.Start()
	defer d.Stop()

	done := make(chan Result, 1)
	task := &Task{
		Ctx:  context.Background(),
		Run:  func(ctx context.Context) (any, error) { return "hello", nil },
		Done: done,
	}
	if err := d.Submit(task); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case res := <-done:
		if res.Err != nil || res.Value != "hello" {
			t.Errorf("unexpected result: %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for task result")
	}
}

func TestSubmitPropagatesRunError(t *testing.T) {
	d := New(testConfig(), nil, nil)
	d.Start()
	defer d.Stop()

	wantErr := errors.New("boom")
	done := make(chan Result, 1)
	task := &Task{
		Ctx:  context.Background(),
		Run:  func(ctx context.Context) (any, error) { return nil, wantErr },
		Done: done,
	}
	if err := d.Submit(task); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	res := <-done
	if res.Err != wantErr {
		t.Errorf("expected %v, got %v", wantErr, res.Err)
	}
}

func TestSubmitAfterStopFails(t *testing.T) {
	d := New(testConfig(), nil, nil)
	d.Start()
	d.Stop()

	err := d.Submit(&Task{Ctx: context.Background(), Run: func(ctx context.Context) (any, error) { return nil, nil }, Done: make(chan Result, 1)})
	if err != ErrShuttingDown {
		t.Errorf("expected ErrShuttingDown, got %v", err)
	}
}

func TestHighPriorityTaskRunsEvenUnderLoad(t *testing.T) {
	cfg := testConfig()
	cfg.MinWorkers = 1
	d := New(cfg, nil, nil)
	d.Start()
	defer d.Stop()

	done := make(chan Result, 1)
	task := &Task{Ctx: context.Background(), Priority: 2, Run: func(ctx context.Context) (any, error) { return 42, nil }, Done: done}
	if err := d.Submit(task); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	select {
	case res := <-done:
		if res.Value != 42 {
			t.Errorf("unexpected value: %v", res.Value)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for high-priority task")
	}
}

func TestPrincipalLimiterAcquireRelease(t *testing.T) {
	pl := NewPrincipalLimiter(2)
	if !pl.Acquire("user-1") || !pl.Acquire("user-1") {
		t.Fatal("expected the first two acquires to succeed")
	}
	if pl.Acquire("user-1") {
		t.Error("expected a third acquire to be rejected at the limit")
	}
	pl.Release("user-1")
	if !pl.Acquire("user-1") {
		t.Error("expected an acquire to succeed again after a release")
	}
}

func TestPrincipalLimiterDefaultsWhenNonPositive(t *testing.T) {
	pl := NewPrincipalLimiter(0)
	if pl.DefaultLimit != 8 {
		t.Errorf("expected default limit of 8, got %d", pl.DefaultLimit)
	}
}

func TestRunRejectsTaskOverPrincipalLimit(t *testing.T) {
	pl := NewPrincipalLimiter(1)
	pl.Acquire("user-1") // occupy the only slot directly

	d := New(testConfig(), pl, nil)
	d.Start()
	defer d.Stop()

	done := make(chan Result, 1)
	task := &Task{
		Ctx:          context.Background(),
		PrincipalKey: "user-1",
		Run:          func(ctx context.Context) (any, error) { return "should not run", nil },
		Done:         done,
	}
	if err := d.Submit(task); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	select {
	case res := <-done:
		if res.Err != ErrPrincipalLimited {
			t.Errorf("expected ErrPrincipalLimited, got %v", res.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestStatsReportsWorkerCount(t *testing.T) {
	cfg := testConfig()
	d := New(cfg, nil, nil)
	d.Start()
	defer d.Stop()

	workers, _ := d.Stats()
	if workers != cfg.MinWorkers {
		t.Errorf("expected %d workers after Start, got %d", cfg.MinWorkers, workers)
	}
}
