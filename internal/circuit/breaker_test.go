package circuit

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

// fakeClock lets tests move time without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(config Config) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	b := New("test", config)
	b.now = clock.Now
	b.reset()
	return b, clock
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half_open"},
		{State(999), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	b := New("store", Config{})

	if b.Name() != "store" {
		t.Errorf("Name() = %q, want store", b.Name())
	}
	if b.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", b.State())
	}
	if b.config.FailureThreshold != 5 {
		t.Errorf("default FailureThreshold = %d, want 5", b.config.FailureThreshold)
	}
	if b.config.OpenTimeout != 30*time.Second {
		t.Errorf("default OpenTimeout = %v, want 30s", b.config.OpenTimeout)
	}
	if b.config.HalfOpenRequests != 1 {
		t.Errorf("default HalfOpenRequests = %d, want 1", b.config.HalfOpenRequests)
	}
	if !b.config.IsFailure(errBoom) || b.config.IsFailure(nil) {
		t.Error("default IsFailure should treat only non-nil errors as failures")
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(Config{FailureThreshold: 3})

	for i := 0; i < 2; i++ {
		if err := b.Do(func() error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("Do() = %v, want errBoom", err)
		}
	}
	// A success resets the consecutive failure count.
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("Do() = %v", err)
	}
	for i := 0; i < 2; i++ {
		_ = b.Do(func() error { return errBoom })
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}

	_ = b.Do(func() error { return errBoom })
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	called := false
	err := b.Do(func() error { called = true; return nil })
	if !errors.Is(err, ErrOpen) {
		t.Errorf("Do() while open = %v, want ErrOpen", err)
	}
	if called {
		t.Error("function must not run while open")
	}
}

func TestBreaker_IsFailure(t *testing.T) {
	t.Parallel()

	expected := errors.New("expected condition")
	b, _ := newTestBreaker(Config{
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return err != nil && !errors.Is(err, expected) },
	})

	for i := 0; i < 10; i++ {
		_ = b.Do(func() error { return expected })
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
	if got := b.Counts().TotalSuccesses; got != 10 {
		t.Errorf("TotalSuccesses = %d, want 10", got)
	}
}

func TestBreaker_HalfOpen(t *testing.T) {
	t.Parallel()

	var transitions []string
	b, clock := newTestBreaker(Config{
		FailureThreshold: 1,
		OpenTimeout:      10 * time.Second,
		OnStateChange: func(_ string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	_ = b.Do(func() error { return errBoom })
	clock.Advance(11 * time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half_open", b.State())
	}

	// One trial call at a time.
	done, err := b.Allow()
	if err != nil {
		t.Fatalf("Allow() = %v", err)
	}
	if _, err := b.Allow(); !errors.Is(err, ErrTooManyRequests) {
		t.Errorf("second Allow() = %v, want ErrTooManyRequests", err)
	}

	// A failed trial call reopens.
	done(errBoom)
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	clock.Advance(11 * time.Second)
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("trial Do() = %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}

	want := []string{"closed->open", "open->half_open", "half_open->open", "open->half_open", "half_open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %q, want %q", i, transitions[i], want[i])
		}
	}
}

func TestBreaker_StaleGenerationIgnored(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(Config{FailureThreshold: 1})

	slow, err := b.Allow()
	if err != nil {
		t.Fatal(err)
	}
	_ = b.Do(func() error { return errBoom })
	b.reset()

	// The slow call was admitted before the reset and must not trip the new generation.
	slow(errBoom)
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
	if got := b.Counts().TotalFailures; got != 0 {
		t.Errorf("TotalFailures = %d, want 0", got)
	}
}

func TestBreaker_IntervalClearsCounts(t *testing.T) {
	t.Parallel()

	b, clock := newTestBreaker(Config{FailureThreshold: 3, Interval: time.Minute})

	_ = b.Do(func() error { return errBoom })
	_ = b.Do(func() error { return errBoom })
	clock.Advance(2 * time.Minute)
	_ = b.Do(func() error { return errBoom })

	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
	if got := b.Counts().ConsecutiveFailures; got != 1 {
		t.Errorf("ConsecutiveFailures = %d, want 1", got)
	}
}

func TestBreaker_DoReportsPanic(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(Config{FailureThreshold: 1})

	func() {
		defer func() { _ = recover() }()
		_ = b.Do(func() error { panic("backend exploded") })
	}()

	if b.State() != StateOpen {
		t.Errorf("state = %v, want open after panic", b.State())
	}
}

func TestBreaker_Concurrent(t *testing.T) {
	t.Parallel()

	b := New("concurrent", Config{FailureThreshold: 1000})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = b.Do(func() error {
					if (i+j)%2 == 0 {
						return errBoom
					}
					return nil
				})
			}
		}(i)
	}
	wg.Wait()

	counts := b.Counts()
	if counts.Requests != 1000 {
		t.Errorf("Requests = %d, want 1000", counts.Requests)
	}
	if counts.TotalFailures+counts.TotalSuccesses != 1000 {
		t.Errorf("results = %d, want 1000", counts.TotalFailures+counts.TotalSuccesses)
	}
}
