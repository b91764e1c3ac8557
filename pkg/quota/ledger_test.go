package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smith3v/valentine-bot/pkg/clock"
	"github.com/smith3v/valentine-bot/pkg/config"
	"github.com/smith3v/valentine-bot/pkg/db"
	"github.com/smith3v/valentine-bot/pkg/internal/testutil"
	"github.com/smith3v/valentine-bot/pkg/subscription"
	"gorm.io/gorm"
)

type ledgerFixture struct {
	gdb    *gorm.DB
	clock  *clock.Fake
	subs   *subscription.Manager
	ledger *Ledger
}

func newLedgerFixture(t *testing.T) ledgerFixture {
	t.Helper()
	gdb := testutil.SetupTestDB(t)
	fake := clock.NewFake(time.Date(2025, 2, 14, 10, 0, 0, 0, time.UTC))
	subs := subscription.NewManager(gdb, fake.Now)
	ledger := NewLedger(gdb, subs, config.Default().Limits, time.UTC, fake.Now)
	return ledgerFixture{gdb: gdb, clock: fake, subs: subs, ledger: ledger}
}

func (f ledgerFixture) user(t *testing.T, userID int64) db.User {
	t.Helper()
	var user db.User
	if err := f.gdb.Where("user_id = ?", userID).First(&user).Error; err != nil {
		t.Fatalf("failed to load user %d: %v", userID, err)
	}
	return user
}

func TestCanSendFreeExhaustedScenario(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	if err := f.gdb.Create(&db.User{UserID: 1, FreeSendsToday: 3, LastSendDate: "2025-02-14"}).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}

	ok, err := f.ledger.CanSendFree(ctx, 1)
	if err != nil {
		t.Fatalf("CanSendFree returned error: %v", err)
	}
	if ok {
		t.Fatalf("expected CanSendFree to be false at the daily limit")
	}
	if _, err := f.ledger.ConsumeSendSlot(ctx, 1); !errors.Is(err, ErrSendQuotaExhausted) {
		t.Fatalf("expected ErrSendQuotaExhausted, got %v", err)
	}

	if err := f.gdb.Model(&db.User{}).Where("user_id = ?", 1).Updates(map[string]any{
		"roulette_uses_today": 1,
		"last_roulette_date":  "2025-02-14",
	}).Error; err != nil {
		t.Fatalf("failed to spend roulette use: %v", err)
	}
	if ok, _ := f.ledger.CanRouletteFree(ctx, 1); ok {
		t.Fatalf("expected roulette to be exhausted")
	}
	if _, err := f.ledger.ActivateWeeklyOverride(ctx, 1, 7); err != nil {
		t.Fatalf("ActivateWeeklyOverride returned error: %v", err)
	}
	ok, err = f.ledger.CanRouletteFree(ctx, 1)
	if err != nil {
		t.Fatalf("CanRouletteFree returned error: %v", err)
	}
	if !ok {
		t.Fatalf("expected override to allow roulette")
	}
}

func TestCanSendFreeForUnknownUser(t *testing.T) {
	f := newLedgerFixture(t)
	ok, err := f.ledger.CanSendFree(context.Background(), 404)
	if err != nil {
		t.Fatalf("CanSendFree returned error: %v", err)
	}
	if !ok {
		t.Fatalf("expected a new user to have free sends")
	}
}

func TestConsumeSendSlotRollsOverAndUsesBonus(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	if err := f.gdb.Create(&db.User{UserID: 2, FreeSendsToday: 3, LastSendDate: "2025-02-13", BonusCredits: 1}).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}

	want := []Slot{SlotDated, SlotBonus, SlotDated, SlotDated}
	for i, expected := range want {
		slot, err := f.ledger.ConsumeSendSlot(ctx, 2)
		if err != nil {
			t.Fatalf("consume %d returned error: %v", i, err)
		}
		if slot != expected {
			t.Fatalf("consume %d: expected %q, got %q", i, expected, slot)
		}
	}
	if _, err := f.ledger.ConsumeSendSlot(ctx, 2); !errors.Is(err, ErrSendQuotaExhausted) {
		t.Fatalf("expected exhaustion after limit, got %v", err)
	}

	user := f.user(t, 2)
	if user.FreeSendsToday != 3 || user.BonusCredits != 0 || user.LastSendDate != "2025-02-14" {
		t.Fatalf("unexpected ledger state: %+v", user)
	}

	f.clock.Advance(24 * time.Hour)
	if slot, err := f.ledger.ConsumeSendSlot(ctx, 2); err != nil || slot != SlotDated {
		t.Fatalf("expected next day to reset, got %q, %v", slot, err)
	}
}

func TestConsumeSendSlotConcurrentNeverExceedsLimit(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	const workers = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.ConsumeSendSlot(ctx, 3)
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrSendQuotaExhausted) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if accepted != 3 {
		t.Fatalf("expected exactly 3 accepted sends, got %d", accepted)
	}
	if user := f.user(t, 3); user.FreeSendsToday != 3 {
		t.Fatalf("expected counter 3, got %d", user.FreeSendsToday)
	}
}

func TestPlanLimitsApply(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	if _, err := f.subs.Activate(ctx, 4, subscription.PlanRomantic, 30, "c-romantic"); err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}
	for i := 0; i < 10; i++ {
		if _, err := f.ledger.ConsumeSendSlot(ctx, 4); err != nil {
			t.Fatalf("romantic send %d returned error: %v", i, err)
		}
	}
	if _, err := f.ledger.ConsumeSendSlot(ctx, 4); !errors.Is(err, ErrSendQuotaExhausted) {
		t.Fatalf("expected romantic limit of 10, got %v", err)
	}

	if _, err := f.subs.Activate(ctx, 4, subscription.PlanLovebomb, 30, "c-lovebomb"); err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}
	if err := f.ledger.GrantBonusCredits(ctx, 4, 2); err != nil {
		t.Fatalf("GrantBonusCredits returned error: %v", err)
	}
	slot, err := f.ledger.ConsumeSendSlot(ctx, 4)
	if err != nil || slot != SlotUnlimited {
		t.Fatalf("expected unlimited slot, got %q, %v", slot, err)
	}
	if user := f.user(t, 4); user.BonusCredits != 2 {
		t.Fatalf("unlimited plan must not burn bonus credits, got %d", user.BonusCredits)
	}
	if ok, _ := f.ledger.CanRouletteFree(ctx, 4); !ok {
		t.Fatalf("expected subscribers to roulette freely")
	}
}

func TestConsumeRouletteSlot(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	if err := f.ledger.ConsumeRouletteSlot(ctx, 5); err != nil {
		t.Fatalf("first roulette returned error: %v", err)
	}
	if err := f.ledger.ConsumeRouletteSlot(ctx, 5); !errors.Is(err, ErrRouletteQuotaExhausted) {
		t.Fatalf("expected ErrRouletteQuotaExhausted, got %v", err)
	}
	f.clock.Advance(24 * time.Hour)
	if err := f.ledger.ConsumeRouletteSlot(ctx, 5); err != nil {
		t.Fatalf("expected roulette to reset next day, got %v", err)
	}
}

func TestActivateWeeklyOverrideExtends(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	first, err := f.ledger.ActivateWeeklyOverride(ctx, 6, 7)
	if err != nil {
		t.Fatalf("ActivateWeeklyOverride returned error: %v", err)
	}
	second, err := f.ledger.ActivateWeeklyOverride(ctx, 6, 7)
	if err != nil {
		t.Fatalf("ActivateWeeklyOverride returned error: %v", err)
	}
	if !second.Equal(first.AddDate(0, 0, 7)) {
		t.Fatalf("expected override to stack, got %v then %v", first, second)
	}
	if _, err := f.ledger.ActivateWeeklyOverride(ctx, 6, 0); err == nil {
		t.Fatalf("expected error for zero days")
	}
}

func TestAdvanceChainGrantsBonusOnce(t *testing.T) {
	f := newLedgerFixture(t)

	var grants int
	for i := 0; i < 5; i++ {
		granted, err := f.ledger.AdvanceChainTx(f.gdb, 7)
		if err != nil {
			t.Fatalf("AdvanceChainTx returned error: %v", err)
		}
		if granted {
			grants++
			if i != 2 {
				t.Fatalf("expected bonus on the third send, got it on send %d", i+1)
			}
		}
	}
	if grants != 1 {
		t.Fatalf("expected one chain bonus, got %d", grants)
	}
	user := f.user(t, 7)
	if user.ChainCount != 5 || user.BonusCredits != 1 {
		t.Fatalf("unexpected chain state: %+v", user)
	}
}
