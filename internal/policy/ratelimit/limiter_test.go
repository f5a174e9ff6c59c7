package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiterWaitPacesSameHost(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 10, Burst: 1})
	ctx := context.Background()

	if err := l.Wait(ctx, "https://test.com/a"); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := l.Wait(ctx, "https://test.com/b"); err != nil {
		t.Fatal(err)
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}
}

func TestLimiterDifferentHosts(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 1, Burst: 1})
	ctx := context.Background()

	if err := l.Wait(ctx, "https://a.com/1"); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := l.Wait(ctx, "https://b.com/1"); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Errorf("host b blocked by host a")
	}
}

func TestLimiterDisabledNeverWaits(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	if l.Enabled() {
		t.Fatal("expected zero rps to disable the limiter")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for range 5 {
		if err := l.Wait(ctx, "https://a.com"); err != nil {
			t.Fatalf("disabled limiter returned %v", err)
		}
	}
}

func TestLimiterHonorsCancellation(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.01, Burst: 1})
	if err := l.Wait(context.Background(), "https://slow.com"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, "https://slow.com"); err == nil {
		t.Fatal("expected cancellation error")
	}
}
