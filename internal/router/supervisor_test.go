package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"bridgex/internal/domain"
)

func testSupervisor() *Supervisor {
	return NewSupervisor(SupervisorOptions{
		MaxAttempts:   3,
		BaseBackoff:   time.Millisecond,
		CallTimeout:   time.Second,
		RatePerMinute: 100000,
		Logger:        testLogger(),
	})
}

func TestSupervisor_RetriesTransientFailures(t *testing.T) {
	s := testSupervisor()
	calls := 0
	attempts, err := s.Do(context.Background(), domain.PlatformDiscord, "send", func(context.Context) error {
		calls++
		if calls < 3 {
			return domain.Retryable(errors.New("503"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 || calls != 3 {
		t.Fatalf("want 3 attempts, got attempts=%d calls=%d", attempts, calls)
	}
}

func TestSupervisor_TerminalFailuresAreNotRetried(t *testing.T) {
	s := testSupervisor()
	calls := 0
	attempts, err := s.Do(context.Background(), domain.PlatformTelegram, "send", func(context.Context) error {
		calls++
		return domain.Terminal(errors.New("forbidden"))
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 || calls != 1 {
		t.Fatalf("terminal failure must not retry, got attempts=%d calls=%d", attempts, calls)
	}
}

func TestSupervisor_UnclassifiedFailuresAreTerminal(t *testing.T) {
	s := testSupervisor()
	calls := 0
	_, err := s.Do(context.Background(), domain.PlatformIRC, "send", func(context.Context) error {
		calls++
		return errors.New("something unexpected")
	})
	if err == nil || calls != 1 {
		t.Fatalf("unclassified error must fail fast, calls=%d err=%v", calls, err)
	}
}

func TestSupervisor_AttemptCap(t *testing.T) {
	s := testSupervisor()
	calls := 0
	wantErr := domain.Retryable(errors.New("still down"))
	attempts, err := s.Do(context.Background(), domain.PlatformDiscord, "send", func(context.Context) error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("want last error back, got %v", err)
	}
	if attempts != 3 || calls != 3 {
		t.Fatalf("want exactly 3 attempts, got attempts=%d calls=%d", attempts, calls)
	}
}

func TestSupervisor_PerCallTimeoutIsRetryable(t *testing.T) {
	s := NewSupervisor(SupervisorOptions{
		MaxAttempts:   2,
		BaseBackoff:   time.Millisecond,
		CallTimeout:   10 * time.Millisecond,
		RatePerMinute: 100000,
		Logger:        testLogger(),
	})
	calls := 0
	attempts, err := s.Do(context.Background(), domain.PlatformDiscord, "send", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("timeout must be retried and then succeed, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("want 2 attempts, got %d", attempts)
	}
}

func TestSupervisor_ParentCancelStopsRetrying(t *testing.T) {
	s := testSupervisor()
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := s.Do(ctx, domain.PlatformDiscord, "send", func(context.Context) error {
		calls++
		cancel()
		return domain.Retryable(errors.New("flaky"))
	})
	if !errors.Is(err, context.Canceled) && calls != 1 {
		t.Fatalf("cancelled parent must stop the loop, calls=%d err=%v", calls, err)
	}
	if calls != 1 {
		t.Fatalf("no further attempts after cancel, got %d", calls)
	}
}

func TestRateLimiter_BurstThenThrottle(t *testing.T) {
	rl := NewRateLimiter(2, 60000) // 1000/s refill keeps the test fast
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 2; i++ {
		if err := rl.Wait(ctx); err != nil {
			t.Fatalf("burst wait %d: %v", i, err)
		}
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("burst tokens must be granted without waiting")
	}

	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("post-burst wait: %v", err)
	}
}

func TestRateLimiter_WaitHonorsContext(t *testing.T) {
	rl := NewRateLimiter(1, 1) // one token a minute
	ctx := context.Background()
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("first token: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}
}
