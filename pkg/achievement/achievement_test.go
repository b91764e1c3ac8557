package achievement

import (
	"context"
	"sync"
	"testing"

	"github.com/smith3v/valentine-bot/pkg/db"
	"github.com/smith3v/valentine-bot/pkg/internal/testutil"
)

func TestGrantIsIdempotent(t *testing.T) {
	gdb := testutil.SetupTestDB(t)
	s := NewStore(gdb, nil)
	ctx := context.Background()

	first, err := s.Grant(ctx, 1, Poet)
	if err != nil {
		t.Fatalf("Grant returned error: %v", err)
	}
	second, err := s.Grant(ctx, 1, Poet)
	if err != nil {
		t.Fatalf("second Grant returned error: %v", err)
	}
	if !first || second {
		t.Fatalf("expected only the first grant to be new, got %v and %v", first, second)
	}

	badges, err := s.List(ctx, 1)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(badges) != 1 || badges[0].Badge != string(Poet) {
		t.Fatalf("unexpected badges: %+v", badges)
	}
}

func TestGrantConcurrentReportsOneWinner(t *testing.T) {
	gdb := testutil.SetupTestDB(t)
	s := NewStore(gdb, nil)
	ctx := context.Background()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		news int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			isNew, err := s.Grant(ctx, 2, Revealer)
			if err != nil {
				t.Errorf("Grant returned error: %v", err)
				return
			}
			if isNew {
				mu.Lock()
				news++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if news != 1 {
		t.Fatalf("expected exactly one new grant, got %d", news)
	}
}

func TestEvaluateSentThresholds(t *testing.T) {
	gdb := testutil.SetupTestDB(t)
	s := NewStore(gdb, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := gdb.Create(&db.Valentine{SenderID: 3, Message: "hi"}).Error; err != nil {
			t.Fatalf("failed to seed valentine: %v", err)
		}
	}

	granted, err := s.Evaluate(ctx, 3, EventSent)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if len(granted) != 2 || granted[0] != FirstValentine || granted[1] != SerialRomantic {
		t.Fatalf("unexpected badges: %v", granted)
	}

	again, err := s.Evaluate(ctx, 3, EventSent)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected no new badges on re-evaluation, got %v", again)
	}
}

func TestEvaluateDirectAndNotify(t *testing.T) {
	gdb := testutil.SetupTestDB(t)
	s := NewStore(gdb, nil)
	ctx := context.Background()

	granted, err := s.Evaluate(ctx, 4, EventRoulette)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if len(granted) != 1 || granted[0] != RoulettePlayer {
		t.Fatalf("unexpected badges: %v", granted)
	}

	m := testutil.NewFakeMessenger()
	Notify(ctx, m, 4, granted)
	sent := m.SentTo(4)
	if len(sent) != 1 || sent[0].Text != "New badge unlocked: Roulette player" {
		t.Fatalf("unexpected notifications: %+v", sent)
	}

	received, err := s.Evaluate(ctx, 4, EventReceived)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if len(received) != 0 {
		t.Fatalf("expected no popular badge without valentines, got %v", received)
	}
}
