package clock

import (
	"testing"
	"time"
)

func TestDayUsesLocation(t *testing.T) {
	moscow := time.FixedZone("MSK", 3*60*60)
	instant := time.Date(2025, 2, 13, 22, 30, 0, 0, time.UTC)

	if got := Day(instant, time.UTC); got != "2025-02-13" {
		t.Fatalf("unexpected UTC day: %s", got)
	}
	if got := Day(instant, moscow); got != "2025-02-14" {
		t.Fatalf("unexpected MSK day: %s", got)
	}
	if got := Day(instant, nil); got != "2025-02-13" {
		t.Fatalf("nil location should fall back to UTC, got %s", got)
	}
}

func TestFakeAdvance(t *testing.T) {
	start := time.Date(2025, 2, 14, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)
	f.Advance(90 * time.Second)
	if got := f.Now(); !got.Equal(start.Add(90 * time.Second)) {
		t.Fatalf("unexpected time after advance: %v", got)
	}
	f.Set(start)
	if !f.Now().Equal(start) {
		t.Fatalf("Set did not reset the clock")
	}
}
