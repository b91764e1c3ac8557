package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/smith3v/valentine-bot/pkg/config"
	"github.com/smith3v/valentine-bot/pkg/db"
	"github.com/smith3v/valentine-bot/pkg/internal/testutil"
	"github.com/smith3v/valentine-bot/pkg/valentine"
	"gorm.io/gorm"
)

var baseTime = time.Date(2025, 2, 14, 9, 0, 0, 0, time.UTC)

func newTestWorker(t *testing.T) (*Worker, *gorm.DB, *testutil.FakeMessenger) {
	t.Helper()
	gdb := testutil.SetupTestDB(t)
	m := testutil.NewFakeMessenger()
	cfg := config.Default().Scheduler
	w := NewWorker(gdb, valentine.NewDeliverer(m), m, cfg, func() time.Time { return baseTime })
	return w, gdb, m
}

func insertScheduled(t *testing.T, gdb *gorm.DB, v db.Valentine) db.Valentine {
	t.Helper()
	if v.SenderID == 0 {
		v.SenderID = 1
	}
	if v.Message == "" {
		v.Message = "see you tonight"
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = baseTime.Add(-time.Hour)
	}
	if err := gdb.Create(&v).Error; err != nil {
		t.Fatalf("failed to insert valentine: %v", err)
	}
	return v
}

func reload(t *testing.T, gdb *gorm.DB, id uint) db.Valentine {
	t.Helper()
	var v db.Valentine
	if err := gdb.First(&v, id).Error; err != nil {
		t.Fatalf("failed to reload valentine %d: %v", id, err)
	}
	return v
}

func ptr[T any](v T) *T {
	return &v
}

func TestTickDeliversDueValentineOnce(t *testing.T) {
	w, gdb, m := newTestWorker(t)
	insertScheduled(t, gdb, db.Valentine{
		ID:           42,
		ReceiverID:   ptr(int64(2)),
		ScheduledFor: ptr(baseTime.Add(-time.Second)),
	})

	report, err := w.Tick(context.Background(), baseTime)
	if err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}
	if report.Due != 1 || report.Delivered != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	v := reload(t, gdb, 42)
	if !v.IsScheduledSent || !v.IsDelivered || v.ClaimedUntil != nil || v.DeliveredAt == nil {
		t.Fatalf("unexpected flags after delivery: %+v", v)
	}
	if got := m.SentTo(2); len(got) != 1 {
		t.Fatalf("expected one delivery to receiver, got %d", len(got))
	}
	if got := m.SentTo(1); len(got) != 1 || got[0].Text != senderNotice {
		t.Fatalf("expected sender notice, got %+v", got)
	}

	report, err = w.Tick(context.Background(), baseTime.Add(30*time.Second))
	if err != nil {
		t.Fatalf("second Tick returned error: %v", err)
	}
	if report != (Report{}) {
		t.Fatalf("expected second tick to be a no-op, got %+v", report)
	}
	if m.Count() != 2 {
		t.Fatalf("expected no further messages, got %d", m.Count())
	}
}

func TestTickSkipsFutureAndUnboundRows(t *testing.T) {
	w, gdb, m := newTestWorker(t)
	insertScheduled(t, gdb, db.Valentine{ReceiverID: ptr(int64(2)), ScheduledFor: ptr(baseTime.Add(time.Hour))})
	insertScheduled(t, gdb, db.Valentine{ReceiverUsername: "juliet", ScheduledFor: ptr(baseTime.Add(-time.Hour))})

	report, err := w.Tick(context.Background(), baseTime)
	if err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}
	if report.Due != 0 || m.Count() != 0 {
		t.Fatalf("expected nothing due, got %+v and %d messages", report, m.Count())
	}
}

func TestOverlappingTicksDeliverOnce(t *testing.T) {
	w, gdb, m := newTestWorker(t)
	for i := 0; i < 5; i++ {
		insertScheduled(t, gdb, db.Valentine{
			ReceiverID:   ptr(int64(100 + i)),
			ScheduledFor: ptr(baseTime.Add(-time.Minute)),
		})
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered int
	)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report, err := w.Tick(context.Background(), baseTime)
			if err != nil {
				t.Errorf("Tick returned error: %v", err)
				return
			}
			mu.Lock()
			delivered += report.Delivered
			mu.Unlock()
		}()
	}
	wg.Wait()

	if delivered != 5 {
		t.Fatalf("expected 5 deliveries across ticks, got %d", delivered)
	}
	for i := 0; i < 5; i++ {
		if got := m.SentTo(int64(100 + i)); len(got) != 1 {
			t.Fatalf("receiver %d got %d messages", 100+i, len(got))
		}
	}
}

func TestFailedDeliveryIsRetried(t *testing.T) {
	w, gdb, m := newTestWorker(t)
	v := insertScheduled(t, gdb, db.Valentine{ReceiverID: ptr(int64(2)), ScheduledFor: ptr(baseTime.Add(-time.Second))})
	m.SetFail(2, true)

	report, err := w.Tick(context.Background(), baseTime)
	if err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}
	if report.Failed != 1 || report.Delivered != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	stored := reload(t, gdb, v.ID)
	if stored.IsDelivered || stored.IsScheduledSent || stored.ClaimedUntil != nil {
		t.Fatalf("failed row must stay eligible: %+v", stored)
	}

	m.SetFail(2, false)
	report, err = w.Tick(context.Background(), baseTime.Add(30*time.Second))
	if err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}
	if report.Delivered != 1 {
		t.Fatalf("expected retry to deliver, got %+v", report)
	}
}

func TestLeasedRowsWaitForLeaseExpiry(t *testing.T) {
	w, gdb, _ := newTestWorker(t)
	v := insertScheduled(t, gdb, db.Valentine{
		ReceiverID:   ptr(int64(2)),
		ScheduledFor: ptr(baseTime.Add(-time.Minute)),
		ClaimedUntil: ptr(baseTime.Add(time.Minute)),
	})

	report, err := w.Tick(context.Background(), baseTime)
	if err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}
	if report.Due != 0 {
		t.Fatalf("row with a live lease must not be due, got %+v", report)
	}

	report, err = w.Tick(context.Background(), baseTime.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}
	if report.Delivered != 1 || !reload(t, gdb, v.ID).IsScheduledSent {
		t.Fatalf("expired lease should be reclaimed, got %+v", report)
	}
}

func TestRunTicksUntilCancelled(t *testing.T) {
	fake := newTestTicker(1)
	stubTickerFactory(t, fake)
	w, gdb, m := newTestWorker(t)
	insertScheduled(t, gdb, db.Valentine{ReceiverID: ptr(int64(2)), ScheduledFor: ptr(baseTime.Add(-time.Second))})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	fake.ch <- baseTime
	deadline := time.After(2 * time.Second)
	for len(m.SentTo(2)) == 0 {
		select {
		case <-deadline:
			t.Fatalf("expected the worker to deliver on tick")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("worker did not stop after cancel")
	}
	if !fake.stopInvoked() {
		t.Fatalf("expected ticker to be stopped")
	}
	if fake.duration != config.Default().Scheduler.Interval() {
		t.Fatalf("unexpected ticker interval %v", fake.duration)
	}
}

func stubTickerFactory(t *testing.T, fake *testTicker) {
	t.Helper()
	prev := tickerFactory
	tickerFactory = fake.factory()
	t.Cleanup(func() {
		tickerFactory = prev
	})
}

type testTicker struct {
	mu         sync.Mutex
	ch         chan time.Time
	duration   time.Duration
	stopCalled bool
}

func newTestTicker(buffer int) *testTicker {
	return &testTicker{
		ch: make(chan time.Time, buffer),
	}
}

func (tt *testTicker) factory() func(time.Duration) tickerHandle {
	return func(d time.Duration) tickerHandle {
		tt.duration = d
		return tickerHandle{
			C: tt.ch,
			stop: func() {
				tt.mu.Lock()
				tt.stopCalled = true
				tt.mu.Unlock()
			},
		}
	}
}

func (tt *testTicker) stopInvoked() bool {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	return tt.stopCalled
}
