package dialogue

import (
	"context"
	"time"
)

// Timer is a pending AfterFunc call.
type Timer interface {
	Stop() bool
}

// Clock abstracts time so sessions can be driven deterministically.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
	AfterFunc(d time.Duration, f func()) Timer
}

// RealClock is the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Delays are the pauses between conversation steps.
type Delays struct {
	Thinking      time.Duration
	Notice        time.Duration
	Welcome       time.Duration
	AfterSolved   time.Duration
	AfterSummary  time.Duration
	AfterFailure  time.Duration
	AdminFallback time.Duration
}

// DefaultDelays returns the pacing of the web assistant.
func DefaultDelays() Delays {
	return Delays{
		Thinking:      500 * time.Millisecond,
		Notice:        800 * time.Millisecond,
		Welcome:       500 * time.Millisecond,
		AfterSolved:   2 * time.Second,
		AfterSummary:  5 * time.Second,
		AfterFailure:  3 * time.Second,
		AdminFallback: 2 * time.Second,
	}
}

func (d Delays) wait(w Wait) time.Duration {
	switch w {
	case WaitWelcome:
		return d.Welcome
	case WaitAfterSolved:
		return d.AfterSolved
	case WaitAfterSummary:
		return d.AfterSummary
	case WaitAfterFailure:
		return d.AfterFailure
	case WaitAdminFallback:
		return d.AdminFallback
	}
	return 0
}

func (d Delays) pace(p Pace) time.Duration {
	switch p {
	case PaceThinking:
		return d.Thinking
	case PaceNotice:
		return d.Notice
	}
	return 0
}
