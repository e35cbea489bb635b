package ratelimit

import (
	"context"
	"testing"
	"time"

	"pgregory.net/rapid"
)

// newTestLimiter pins time and disables the probabilistic sweep so tests
// control both explicitly.
func newTestLimiter(start time.Time) (*WindowLimiter, *time.Time) {
	current := start
	l := NewWindowLimiter()
	l.now = func() time.Time { return current }
	l.rand = func() float64 { return 1 }
	return l, &current
}

func TestAllowCountsAttemptsWithinWindow(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))

	for i := 0; i < 5; i++ {
		allowed, err := l.Allow(ctx, "login:1.2.3.4", 5, time.Minute)
		if err != nil {
			t.Fatalf("Allow failed: %v", err)
		}
		if !allowed {
			t.Fatalf("attempt %d rejected below the limit", i+1)
		}
	}

	allowed, err := l.Allow(ctx, "login:1.2.3.4", 5, time.Minute)
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if allowed {
		t.Error("sixth attempt allowed over a limit of five")
	}

	remaining, err := l.Remaining(ctx, "login:1.2.3.4", 5)
	if err != nil {
		t.Fatalf("Remaining failed: %v", err)
	}
	if remaining != 0 {
		t.Errorf("expected 0 remaining, got %d", remaining)
	}
}

func TestWindowBoundaryStartsFreshWindow(t *testing.T) {
	ctx := context.Background()
	l, current := newTestLimiter(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))

	for i := 0; i < 3; i++ {
		l.Allow(ctx, "k", 3, time.Minute)
	}
	if allowed, _ := l.Allow(ctx, "k", 3, time.Minute); allowed {
		t.Fatal("attempt over the limit allowed")
	}

	// Exactly at the boundary the window restarts and the attempt counts
	// as the first of the new window.
	*current = current.Add(time.Minute)
	allowed, err := l.Allow(ctx, "k", 3, time.Minute)
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if !allowed {
		t.Error("first attempt of a fresh window rejected")
	}

	remaining, _ := l.Remaining(ctx, "k", 3)
	if remaining != 2 {
		t.Errorf("expected 2 remaining in fresh window, got %d", remaining)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))

	for i := 0; i < 3; i++ {
		l.Allow(ctx, "login:1.1.1.1", 3, time.Minute)
	}
	if allowed, _ := l.Allow(ctx, "login:1.1.1.1", 3, time.Minute); allowed {
		t.Fatal("exhausted key still allowed")
	}

	if allowed, _ := l.Allow(ctx, "login:2.2.2.2", 3, time.Minute); !allowed {
		t.Error("fresh key rejected because another key is exhausted")
	}
}

func TestResetForgivesAttempts(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))

	for i := 0; i < 3; i++ {
		l.Allow(ctx, "k", 3, time.Minute)
	}
	if err := l.Reset(ctx, "k"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	remaining, _ := l.Remaining(ctx, "k", 3)
	if remaining != 3 {
		t.Errorf("expected full budget after reset, got %d", remaining)
	}
	if allowed, _ := l.Allow(ctx, "k", 3, time.Minute); !allowed {
		t.Error("attempt after reset rejected")
	}
}

func TestSweepDropsElapsedWindows(t *testing.T) {
	ctx := context.Background()
	l, current := newTestLimiter(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))

	l.Allow(ctx, "old", 5, time.Minute)
	if l.Len() != 1 {
		t.Fatalf("expected 1 tracked key, got %d", l.Len())
	}

	// Force the sweep on the next Allow.
	*current = current.Add(2 * time.Minute)
	l.rand = func() float64 { return 0 }
	l.Allow(ctx, "new", 5, time.Minute)

	if l.Len() != 1 {
		t.Errorf("expected elapsed window swept, tracking %d keys", l.Len())
	}
}

func TestAllowNeverExceedsMax(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		l, _ := newTestLimiter(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))

		max := rapid.IntRange(1, 10).Draw(t, "max")
		attempts := rapid.IntRange(1, 30).Draw(t, "attempts")

		allowedCount := 0
		for i := 0; i < attempts; i++ {
			allowed, err := l.Allow(ctx, "k", max, time.Minute)
			if err != nil {
				t.Fatalf("Allow failed: %v", err)
			}
			if allowed {
				allowedCount++
			}
		}

		want := attempts
		if want > max {
			want = max
		}
		if allowedCount != want {
			t.Errorf("allowed %d of %d attempts with max %d", allowedCount, attempts, max)
		}
	})
}
