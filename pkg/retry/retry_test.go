package retry

import (
	"context"
	stderr "errors"
	"fmt"
	"testing"
	"time"

	"github.com/objectfs/pagecache/pkg/errors"
)

func fastConfig() Config {
	config := DefaultConfig()
	config.MaxAttempts = 3
	config.InitialDelay = time.Millisecond
	config.Jitter = false
	return config
}

func TestRetryer_Success(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := New(fastConfig()).Do(context.Background(), func(context.Context) error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetryer_RetriesRejections(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := New(fastConfig()).Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.NewError(errors.ErrCodeWorkerBusy, "rejected: pool saturated")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryer_DomainErrorsAreFinal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
	}{
		{"not found", errors.PageNotFound("f:0")},
		{"exhausted", errors.ResourceExhausted("f:0", fmt.Errorf("no space"))},
		{"timeout", errors.NewError(errors.ErrCodeOperationTimeout, "operation timed out")},
		{"plain", fmt.Errorf("plain")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := New(fastConfig()).Do(context.Background(), func(context.Context) error {
				attempts++
				return tt.err
			})
			if err != tt.err {
				t.Errorf("Expected the original error, got %v", err)
			}
			if attempts != 1 {
				t.Errorf("Expected 1 attempt (no retry), got %d", attempts)
			}
		})
	}
}

func TestRetryer_MaxAttemptsExceeded(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := New(fastConfig()).Do(context.Background(), func(context.Context) error {
		attempts++
		return errors.NewError(errors.ErrCodeServiceUnavailable, "service unavailable")
	})

	if !stderr.Is(err, errors.ErrUnavailable) {
		t.Errorf("Expected last error to be returned, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryer_ContextCancellation(t *testing.T) {
	t.Parallel()

	config := fastConfig()
	config.MaxAttempts = 10
	config.InitialDelay = time.Hour
	config.MaxDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- New(config).Do(ctx, func(context.Context) error {
			attempts++
			return errors.NewError(errors.ErrCodeWorkerBusy, "rejected")
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !stderr.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
		if !stderr.Is(err, errors.ErrRejected) {
			t.Errorf("Expected the last failure to be wrapped, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancellation")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetryer_CanceledBeforeStart(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := New(fastConfig()).Do(ctx, func(context.Context) error {
		called = true
		return nil
	})
	if !stderr.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if called {
		t.Error("fn should not run on a canceled context")
	}
}

func TestRetryer_OnRetry(t *testing.T) {
	t.Parallel()

	var delays []time.Duration
	retryer := New(fastConfig()).WithOnRetry(func(attempt int, err error, delay time.Duration) {
		delays = append(delays, delay)
	})

	_ = retryer.Do(context.Background(), func(context.Context) error {
		return errors.NewError(errors.ErrCodeWorkerBusy, "rejected")
	})

	want := []time.Duration{time.Millisecond, 2 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("Expected %d callbacks, got %d", len(want), len(delays))
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestRetryer_DelayCap(t *testing.T) {
	t.Parallel()

	r := New(Config{InitialDelay: 10 * time.Millisecond, MaxDelay: 25 * time.Millisecond, Multiplier: 2})
	for attempt, want := range map[int]time.Duration{
		1: 10 * time.Millisecond,
		2: 20 * time.Millisecond,
		3: 25 * time.Millisecond,
		8: 25 * time.Millisecond,
	} {
		if got := r.delay(attempt); got != want {
			t.Errorf("delay(%d) = %v, want %v", attempt, got, want)
		}
	}
}

func TestRetryer_WithMaxAttempts(t *testing.T) {
	t.Parallel()

	attempts := 0
	_ = New(fastConfig()).WithMaxAttempts(1).Do(context.Background(), func(context.Context) error {
		attempts++
		return errors.NewError(errors.ErrCodeWorkerBusy, "rejected")
	})
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}
