package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errDown = Unavailable(errors.New("oracle down"), 503)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(threshold int, cooldown time.Duration) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewBreaker(BreakerConfig{Name: "test", FailureThreshold: threshold, Cooldown: cooldown})
	b.now = clock.Now
	return b, clock
}

func fail(context.Context) (float64, error) { return 0, errDown }
func succeed(context.Context) (float64, error) { return 0.7, nil }

func TestBreaker_ClosedPassesThrough(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	v, err := Call(context.Background(), b, succeed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 0.7 {
		t.Errorf("expected 0.7, got %v", v)
	}
	if b.State() != Closed {
		t.Errorf("expected closed, got %s", b.State())
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		_, _ = Call(context.Background(), b, fail)
	}
	if b.State() != Open {
		t.Fatalf("expected open, got %s", b.State())
	}

	called := false
	_, err := Call(context.Background(), b, func(context.Context) (float64, error) {
		called = true
		return 0, nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Errorf("expected ErrOpen, got %v", err)
	}
	if called {
		t.Error("fn must not run while open")
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	_, _ = Call(context.Background(), b, fail)
	_, _ = Call(context.Background(), b, fail)
	_, _ = Call(context.Background(), b, succeed)
	_, _ = Call(context.Background(), b, fail)
	_, _ = Call(context.Background(), b, fail)

	if b.State() != Closed {
		t.Errorf("expected closed after interleaved success, got %s", b.State())
	}
}

func TestBreaker_IgnoresNonUnavailableErrors(t *testing.T) {
	b, _ := newTestBreaker(2, time.Minute)

	for i := 0; i < 5; i++ {
		_, err := Call(context.Background(), b, func(context.Context) (float64, error) {
			return 0, errors.New("malformed response")
		})
		if err == nil {
			t.Fatal("expected the fn error to be returned")
		}
	}
	if b.State() != Closed {
		t.Errorf("expected closed, got %s", b.State())
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b, clock := newTestBreaker(1, 10*time.Second)

	_, _ = Call(context.Background(), b, fail)
	if b.State() != Open {
		t.Fatalf("expected open, got %s", b.State())
	}

	clock.Advance(10 * time.Second)
	if b.State() != HalfOpen {
		t.Fatalf("expected half-open after cool-down, got %s", b.State())
	}

	if _, err := Call(context.Background(), b, succeed); err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if b.State() != Closed {
		t.Errorf("expected closed after successful trial call, got %s", b.State())
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b, clock := newTestBreaker(1, 10*time.Second)

	_, _ = Call(context.Background(), b, fail)
	clock.Advance(11 * time.Second)
	_, _ = Call(context.Background(), b, fail)

	if b.State() != Open {
		t.Errorf("expected open after failed trial call, got %s", b.State())
	}
	clock.Advance(5 * time.Second)
	if _, err := Call(context.Background(), b, succeed); !errors.Is(err, ErrOpen) {
		t.Errorf("expected ErrOpen during new cool-down, got %v", err)
	}
}

func TestBreaker_SingleProbeAtATime(t *testing.T) {
	b, clock := newTestBreaker(1, time.Second)

	_, _ = Call(context.Background(), b, fail)
	clock.Advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = Call(context.Background(), b, func(context.Context) (float64, error) {
			close(started)
			<-release
			return 0.5, nil
		})
	}()
	<-started

	if _, err := Call(context.Background(), b, succeed); !errors.Is(err, ErrOpen) {
		t.Errorf("expected second caller to be rejected during trial call, got %v", err)
	}
	close(release)
}

func TestBreaker_Defaults(t *testing.T) {
	b := NewBreaker(BreakerConfig{})
	if b.cfg.FailureThreshold != 5 {
		t.Errorf("expected default threshold 5, got %d", b.cfg.FailureThreshold)
	}
	if b.cfg.Cooldown != 30*time.Second {
		t.Errorf("expected default cool-down 30s, got %s", b.cfg.Cooldown)
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{Closed: "closed", Open: "open", HalfOpen: "half-open", State(9): "unknown"}
	for s, want := range cases {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", s, s.String(), want)
		}
	}
}
