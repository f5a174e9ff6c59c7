package system

import (
	"context"
	"errors"
	"testing"
	"time"
)

// TestClockNowUTC ensures the clock returns UTC timestamps.
func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

func TestSleepWaitsForDuration(t *testing.T) {
	t.Parallel()

	start := time.Now()
	if err := New().Sleep(context.Background(), 20*time.Millisecond); err != nil {
		t.Fatalf("Sleep() error = %v", err)
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Fatal("Sleep returned early")
	}
}

func TestSleepStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := New().Sleep(ctx, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
