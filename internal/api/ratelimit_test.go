package api

import (
	"fmt"
	"testing"
	"time"
)

func newTestLimiter(maxRequests int, window time.Duration) (*RateLimiter, func(time.Duration)) {
	l := NewRateLimiter(maxRequests, window)
	current := time.Unix(1700000000, 0)
	l.now = func() time.Time { return current }
	return l, func(d time.Duration) { current = current.Add(d) }
}

func TestRateLimiter(t *testing.T) {
	l, advance := newTestLimiter(5, 10*time.Second)

	t.Run("CountsDownRemaining", func(t *testing.T) {
		for i, want := range []int{4, 3, 2, 1, 0} {
			allowed, info := l.IsAllowed("1.2.3.4")
			if !allowed {
				t.Fatalf("request %d unexpectedly denied", i+1)
			}
			if info.Remaining != want {
				t.Errorf("request %d: got remaining %d, want %d", i+1, info.Remaining, want)
			}
		}
	})

	t.Run("DeniesAtLimit", func(t *testing.T) {
		allowed, info := l.IsAllowed("1.2.3.4")
		if allowed {
			t.Fatal("expected denial at the limit")
		}
		if info.Remaining != 0 {
			t.Errorf("got remaining %d, want 0", info.Remaining)
		}
		if info.ResetIn < 1 {
			t.Errorf("got reset_in %d, want >= 1", info.ResetIn)
		}
	})

	t.Run("OtherKeysUnaffected", func(t *testing.T) {
		allowed, _ := l.IsAllowed("5.6.7.8")
		if !allowed {
			t.Error("a different key should not share the window")
		}
	})

	t.Run("WindowSlides", func(t *testing.T) {
		advance(11 * time.Second)
		allowed, info := l.IsAllowed("1.2.3.4")
		if !allowed {
			t.Fatal("expected admission once the window passed")
		}
		if info.Remaining != 4 {
			t.Errorf("got remaining %d, want 4", info.Remaining)
		}
	})
}

func TestRateLimiterPartialExpiry(t *testing.T) {
	l, advance := newTestLimiter(2, 10*time.Second)

	l.IsAllowed("k")
	advance(6 * time.Second)
	l.IsAllowed("k")

	// First timestamp still in window: denied, resets when it leaves.
	allowed, info := l.IsAllowed("k")
	if allowed {
		t.Fatal("expected denial with both slots used")
	}
	if info.ResetIn != 4 {
		t.Errorf("got reset_in %d, want 4", info.ResetIn)
	}

	advance(5 * time.Second)
	allowed, _ = l.IsAllowed("k")
	if !allowed {
		t.Error("expected admission after the oldest timestamp expired")
	}
}

func TestRateLimiterReset(t *testing.T) {
	l, _ := newTestLimiter(1, 10*time.Second)

	l.IsAllowed("a")
	l.IsAllowed("b")

	t.Run("SingleKey", func(t *testing.T) {
		l.Reset("a")
		allowed, _ := l.IsAllowed("a")
		if !allowed {
			t.Error("expected admission after reset")
		}
		allowed, _ = l.IsAllowed("b")
		if allowed {
			t.Error("reset of one key must not clear another")
		}
	})

	t.Run("All", func(t *testing.T) {
		l.ResetAll()
		if got := l.State().TrackedKeys; got != 0 {
			t.Errorf("got %d tracked keys, want 0", got)
		}
		allowed, _ := l.IsAllowed("b")
		if !allowed {
			t.Error("expected admission after full reset")
		}
	})
}

func TestRateLimiterState(t *testing.T) {
	l, _ := newTestLimiter(30, time.Minute)
	for i := 0; i < 10; i++ {
		l.IsAllowed(fmt.Sprintf("10.0.0.%d", i))
	}

	state := l.State()
	if state.MaxRequests != 30 {
		t.Errorf("got max %d, want 30", state.MaxRequests)
	}
	if state.WindowSeconds != 60 {
		t.Errorf("got window %d, want 60", state.WindowSeconds)
	}
	if state.TrackedKeys != 10 {
		t.Errorf("got %d tracked keys, want 10", state.TrackedKeys)
	}
}
