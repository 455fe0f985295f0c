package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestAdd_Fires(t *testing.T) {
	sched := New(nil)
	fired := make(chan struct{}, 4)

	if err := sched.Add("sweep", "@every 1s", func(ctx context.Context) {
		fired <- struct{}{}
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Start(ctx) }()

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not fire")
	}
	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("Start = %v, want context.Canceled", err)
	}
}

func TestAdd_InvalidSchedule(t *testing.T) {
	sched := New(nil)
	if err := sched.Add("sweep", "invalid-cron", func(context.Context) {}); err == nil {
		t.Error("expected error for invalid schedule")
	}
	if sched.JobCount() != 0 {
		t.Errorf("JobCount = %d", sched.JobCount())
	}
}

func TestAdd_ReplacesByName(t *testing.T) {
	sched := New(nil)
	sched.Add("sweep", "@every 1h", func(context.Context) {})
	sched.Add("sweep", "@every 5m", func(context.Context) {})
	if sched.JobCount() != 1 {
		t.Errorf("JobCount = %d, want 1", sched.JobCount())
	}
	if n := len(sched.cron.Entries()); n != 1 {
		t.Errorf("cron entries = %d, want 1", n)
	}
}

func TestRemoveAndJobs(t *testing.T) {
	sched := New(nil)
	sched.Add("sweep", "@every 1h", func(context.Context) {})
	sched.Add("kb-check", "0 6 * * *", func(context.Context) {})

	if diff := cmp.Diff([]string{"kb-check", "sweep"}, sched.Jobs()); diff != "" {
		t.Errorf("Jobs (-want +got):\n%s", diff)
	}
	if !sched.Remove("sweep") || sched.Remove("sweep") {
		t.Error("Remove should report existence once")
	}
	if diff := cmp.Diff([]string{"kb-check"}, sched.Jobs()); diff != "" {
		t.Errorf("Jobs after remove (-want +got):\n%s", diff)
	}
}
