package valentine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smith3v/valentine-bot/pkg/clock"
	"github.com/smith3v/valentine-bot/pkg/db"
	"github.com/smith3v/valentine-bot/pkg/internal/testutil"
)

func newTestStore(t *testing.T) (*Store, *clock.Fake) {
	t.Helper()
	gdb := testutil.SetupTestDB(t)
	fake := clock.NewFake(time.Date(2025, 2, 14, 10, 0, 0, 0, time.UTC))
	return NewStore(gdb, 2, fake.Now), fake
}

func ptr[T any](v T) *T {
	return &v
}

func TestMarkRevealedIsOneWay(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	v, err := s.Create(ctx, CreateParams{SenderID: 1, ReceiverID: ptr(int64(2)), Message: "hi"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	first, err := s.MarkRevealed(ctx, v.ID)
	if err != nil || !first {
		t.Fatalf("expected first reveal to apply, got %v, %v", first, err)
	}
	second, err := s.MarkRevealed(ctx, v.ID)
	if err != nil || second {
		t.Fatalf("expected second reveal to be a no-op, got %v, %v", second, err)
	}
	if _, err := s.MarkRevealed(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown id, got %v", err)
	}
}

func TestMarkDeliveredOnce(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	v, err := s.Create(ctx, CreateParams{SenderID: 1, ReceiverID: ptr(int64(2)), Message: "hi"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if ok, err := s.MarkDelivered(ctx, v.ID); err != nil || !ok {
		t.Fatalf("expected first delivery flip, got %v, %v", ok, err)
	}
	if ok, err := s.MarkDelivered(ctx, v.ID); err != nil || ok {
		t.Fatalf("expected second flip to be a no-op, got %v, %v", ok, err)
	}
	got, err := s.Get(ctx, v.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if !got.IsDelivered || got.DeliveredAt == nil {
		t.Fatalf("expected delivered valentine, got %+v", got)
	}
}

func TestAttachGiftOnlyOnce(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	v, err := s.Create(ctx, CreateParams{SenderID: 1, ReceiverID: ptr(int64(2)), Message: "hi"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if ok, err := s.AttachGift(ctx, v.ID, "🌹"); err != nil || !ok {
		t.Fatalf("expected gift to attach, got %v, %v", ok, err)
	}
	if ok, err := s.AttachGift(ctx, v.ID, "🧸"); err != nil || ok {
		t.Fatalf("expected second gift to be rejected, got %v, %v", ok, err)
	}
	got, _ := s.Get(ctx, v.ID)
	if got.GiftEmoji != "🌹" {
		t.Fatalf("expected rose to stay attached, got %q", got.GiftEmoji)
	}
}

func TestClaim(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()

	open, err := s.Create(ctx, CreateParams{SenderID: 1, ReceiverUsername: "juliet", Message: "hi"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	later := fake.Now().Add(time.Hour)
	scheduled, err := s.Create(ctx, CreateParams{SenderID: 1, ReceiverUsername: "juliet", Message: "soon", ScheduledFor: &later})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	t.Run("unknown id", func(t *testing.T) {
		if _, _, err := s.Claim(ctx, 999, 2); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
	t.Run("sender cannot claim", func(t *testing.T) {
		if _, _, err := s.Claim(ctx, open.ID, 1); !errors.Is(err, ErrSelfAddressed) {
			t.Fatalf("expected ErrSelfAddressed, got %v", err)
		}
	})
	t.Run("first claimer receives it", func(t *testing.T) {
		v, delivered, err := s.Claim(ctx, open.ID, 2)
		if err != nil {
			t.Fatalf("Claim returned error: %v", err)
		}
		if !delivered || !v.IsDelivered || v.ReceiverID == nil || *v.ReceiverID != 2 {
			t.Fatalf("unexpected claim result: %+v delivered=%v", v, delivered)
		}
	})
	t.Run("repeat claim is a no-op", func(t *testing.T) {
		_, delivered, err := s.Claim(ctx, open.ID, 2)
		if err != nil || delivered {
			t.Fatalf("expected no-op, got %v, %v", delivered, err)
		}
	})
	t.Run("other user is rejected", func(t *testing.T) {
		if _, _, err := s.Claim(ctx, open.ID, 3); !errors.Is(err, ErrNotReceiver) {
			t.Fatalf("expected ErrNotReceiver, got %v", err)
		}
	})
	t.Run("scheduled valentine is only bound", func(t *testing.T) {
		v, delivered, err := s.Claim(ctx, scheduled.ID, 2)
		if err != nil {
			t.Fatalf("Claim returned error: %v", err)
		}
		if delivered || v.IsDelivered {
			t.Fatalf("scheduled valentine must wait for the scheduler: %+v", v)
		}
		if v.ReceiverID == nil || *v.ReceiverID != 2 {
			t.Fatalf("expected receiver to be bound, got %+v", v.ReceiverID)
		}
	})
}

func TestBindPendingAndInbox(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.Create(ctx, CreateParams{SenderID: 1, ReceiverUsername: "juliet", Message: "hi"}); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
	}
	if _, err := s.Create(ctx, CreateParams{SenderID: 1, ReceiverUsername: "nurse", Message: "hi"}); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	pending, err := s.BindPending(ctx, 2, "juliet")
	if err != nil {
		t.Fatalf("BindPending returned error: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending valentines, got %d", len(pending))
	}
	for _, v := range pending {
		if _, err := s.MarkDelivered(ctx, v.ID); err != nil {
			t.Fatalf("MarkDelivered returned error: %v", err)
		}
	}

	page0, err := s.ListInbox(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListInbox returned error: %v", err)
	}
	page1, err := s.ListInbox(ctx, 2, 1)
	if err != nil {
		t.Fatalf("ListInbox returned error: %v", err)
	}
	if len(page0) != 2 || len(page1) != 1 {
		t.Fatalf("expected pages of 2 and 1, got %d and %d", len(page0), len(page1))
	}
	if page0[0].ID < page0[1].ID {
		t.Fatalf("expected newest first, got %d then %d", page0[0].ID, page0[1].ID)
	}

	sent, err := s.ListSent(ctx, 1, 0)
	if err != nil {
		t.Fatalf("ListSent returned error: %v", err)
	}
	if len(sent) != 2 {
		t.Fatalf("expected a full page of sent valentines, got %d", len(sent))
	}
}

func TestReactOnlyByReceiver(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	v, err := s.Create(ctx, CreateParams{SenderID: 1, ReceiverID: ptr(int64(2)), Message: "hi"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if err := s.React(ctx, v.ID, 2, "😍"); err != nil {
		t.Fatalf("React returned error: %v", err)
	}
	if err := s.React(ctx, v.ID, 3, "😡"); !errors.Is(err, ErrNotReceiver) {
		t.Fatalf("expected ErrNotReceiver, got %v", err)
	}
	if err := s.React(ctx, 999, 2, "😍"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	got, _ := s.Get(ctx, v.ID)
	if got.Reaction != "😍" {
		t.Fatalf("unexpected reaction %q", got.Reaction)
	}
}

func TestLeaderboards(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.db.Create(&db.User{UserID: 2, Username: "juliet", UsernameLower: "juliet"}).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	for _, receiver := range []int64{2, 2, 2, 3} {
		if _, err := s.Create(ctx, CreateParams{SenderID: 1, ReceiverID: ptr(receiver), Message: "hi"}); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
	}

	top, err := s.TopReceivers(ctx, 5)
	if err != nil {
		t.Fatalf("TopReceivers returned error: %v", err)
	}
	if len(top) != 2 || top[0].UserID != 2 || top[0].Total != 3 || top[0].Username != "juliet" {
		t.Fatalf("unexpected receivers leaderboard: %+v", top)
	}

	senders, err := s.TopSenders(ctx, 5)
	if err != nil {
		t.Fatalf("TopSenders returned error: %v", err)
	}
	if len(senders) != 1 || senders[0].UserID != 1 || senders[0].Total != 4 {
		t.Fatalf("unexpected senders leaderboard: %+v", senders)
	}
}
