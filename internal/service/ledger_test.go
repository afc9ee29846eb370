package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Staritsin/photo-live/internal/config"
	"github.com/Staritsin/photo-live/internal/models"
)

func testConfig() config.Config {
	return config.Config{
		PriceRUB:       100,
		Packs:          []int{5, 15, 30, 50},
		BonusPer10:     2,
		BonusPerFriend: 1,
		TrialEnabled:   true,
		TrialCount:     3,
	}
}

func TestCalcGenerations(t *testing.T) {
	ledger := NewLedgerService(testConfig(), testLogger(), newMemStore(), nil)

	tests := []struct {
		base int
		want int
	}{
		{0, 0},
		{5, 5},
		{9, 9},
		{10, 12},
		{15, 17},
		{19, 21},
		{30, 36},
		{50, 60},
	}
	for _, tt := range tests {
		if got := ledger.CalcGenerations(tt.base); got != tt.want {
			t.Errorf("CalcGenerations(%d) = %d, want %d", tt.base, got, tt.want)
		}
	}
}

func TestGrantTrial(t *testing.T) {
	ctx := context.Background()

	t.Run("grants once", func(t *testing.T) {
		store := newMemStore()
		ledger := NewLedgerService(testConfig(), testLogger(), store, nil)
		user := store.seedUser(100, 0)

		granted, err := ledger.GrantTrial(ctx, user.ID)
		if err != nil {
			t.Fatalf("GrantTrial: %v", err)
		}
		if !granted {
			t.Fatal("first GrantTrial should grant")
		}
		if got := store.userByID(user.ID).Balance; got != 3 {
			t.Fatalf("balance = %d, want 3", got)
		}

		granted, err = ledger.GrantTrial(ctx, user.ID)
		if err != nil {
			t.Fatalf("second GrantTrial: %v", err)
		}
		if granted {
			t.Fatal("second GrantTrial must be a no-op")
		}
		if got := store.userByID(user.ID).Balance; got != 3 {
			t.Fatalf("balance after repeat = %d, want 3", got)
		}
		entries := store.entriesFor(user.ID)
		if len(entries) != 1 || entries[0].Reason != models.ReasonFreeTrial {
			t.Fatalf("want exactly one free_trial entry, got %+v", entries)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		store := newMemStore()
		cfg := testConfig()
		cfg.TrialEnabled = false
		ledger := NewLedgerService(cfg, testLogger(), store, nil)
		user := store.seedUser(100, 0)

		granted, err := ledger.GrantTrial(ctx, user.ID)
		if err != nil {
			t.Fatalf("GrantTrial: %v", err)
		}
		if granted {
			t.Fatal("disabled trial must not grant")
		}
	})

	t.Run("consumed trial never regrants", func(t *testing.T) {
		store := newMemStore()
		ledger := NewLedgerService(testConfig(), testLogger(), store, nil)
		user := store.seedUser(100, 1)

		// Spending the last generation marks the trial consumed.
		if _, err := ledger.Consume(ctx, user.ID); err != nil {
			t.Fatalf("Consume: %v", err)
		}
		if !store.userByID(user.ID).FreeTrialUsed {
			t.Fatal("free trial flag should be set on last consumption")
		}

		granted, err := ledger.GrantTrial(ctx, user.ID)
		if err != nil {
			t.Fatalf("GrantTrial: %v", err)
		}
		if granted {
			t.Fatal("consumed trial must not be granted again")
		}
	})

	t.Run("unknown account", func(t *testing.T) {
		ledger := NewLedgerService(testConfig(), testLogger(), newMemStore(), nil)
		if _, err := ledger.GrantTrial(ctx, 42); !errors.Is(err, ErrAccountNotFound) {
			t.Fatalf("err = %v, want ErrAccountNotFound", err)
		}
	})
}

func TestConsume(t *testing.T) {
	ctx := context.Background()

	t.Run("decrements and logs", func(t *testing.T) {
		store := newMemStore()
		sink := &recordSink{}
		ledger := NewLedgerService(testConfig(), testLogger(), store, sink)
		user := store.seedUser(100, 2)

		remaining, err := ledger.Consume(ctx, user.ID)
		if err != nil {
			t.Fatalf("Consume: %v", err)
		}
		if remaining != 1 {
			t.Fatalf("remaining = %d, want 1", remaining)
		}
		got := store.userByID(user.ID)
		if got.TotalGenerations != 1 {
			t.Fatalf("total generations = %d, want 1", got.TotalGenerations)
		}
		if got.FreeTrialUsed {
			t.Fatal("free trial flag must not be set while balance stays positive")
		}
		entries := store.entriesFor(user.ID)
		if len(entries) != 1 {
			t.Fatalf("want 1 entry, got %d", len(entries))
		}
		e := entries[0]
		if e.Reason != models.ReasonConsume || e.OldBalance != 2 || e.Delta != -1 || e.NewBalance != 1 {
			t.Fatalf("unexpected entry %+v", e)
		}
		if len(sink.changeReasons()) != 1 {
			t.Fatalf("audit sink should see 1 change, got %d", len(sink.changeReasons()))
		}
	})

	t.Run("zero balance", func(t *testing.T) {
		store := newMemStore()
		ledger := NewLedgerService(testConfig(), testLogger(), store, nil)
		user := store.seedUser(100, 0)

		if _, err := ledger.Consume(ctx, user.ID); !errors.Is(err, ErrInsufficientBalance) {
			t.Fatalf("err = %v, want ErrInsufficientBalance", err)
		}
		if len(store.entriesFor(user.ID)) != 0 {
			t.Fatal("failed consume must not log anything")
		}
	})

	t.Run("never goes negative under concurrency", func(t *testing.T) {
		store := newMemStore()
		ledger := NewLedgerService(testConfig(), testLogger(), store, nil)
		user := store.seedUser(100, 5)

		const workers = 20
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := ledger.Consume(ctx, user.ID)
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		ok, insufficient := 0, 0
		for err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrInsufficientBalance):
				insufficient++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if ok != 5 || insufficient != 15 {
			t.Fatalf("ok = %d, insufficient = %d; want 5 and 15", ok, insufficient)
		}
		if got := store.userByID(user.ID).Balance; got != 0 {
			t.Fatalf("final balance = %d, want 0", got)
		}
		if got := len(store.entriesFor(user.ID)); got != 5 {
			t.Fatalf("entries = %d, want 5", got)
		}
	})
}

func TestCompensate(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	ledger := NewLedgerService(testConfig(), testLogger(), store, nil)
	user := store.seedUser(100, 2)

	newBalance, err := ledger.Compensate(ctx, user.ID, 5)
	if err != nil {
		t.Fatalf("Compensate: %v", err)
	}
	if newBalance != 7 {
		t.Fatalf("balance = %d, want 7", newBalance)
	}

	// A negative adjustment may not push the balance below zero.
	if _, err := ledger.Compensate(ctx, user.ID, -10); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	if got := store.userByID(user.ID).Balance; got != 7 {
		t.Fatalf("balance after failed adjustment = %d, want 7", got)
	}

	entries := store.entriesFor(user.ID)
	if len(entries) != 1 || entries[0].Reason != models.ReasonCompensate {
		t.Fatalf("want one compensate entry, got %+v", entries)
	}
}

func TestReset(t *testing.T) {
	ctx := context.Background()

	t.Run("balance only", func(t *testing.T) {
		store := newMemStore()
		ledger := NewLedgerService(testConfig(), testLogger(), store, nil)
		inviter := store.seedUser(100, 0)
		user := store.seedUser(200, 8)
		store.seedReferral(inviter.ID, user.ID, false)

		if err := ledger.ResetBalance(ctx, user.ID); err != nil {
			t.Fatalf("ResetBalance: %v", err)
		}
		if got := store.userByID(user.ID).Balance; got != 0 {
			t.Fatalf("balance = %d, want 0", got)
		}
		entries := store.entriesFor(user.ID)
		if len(entries) != 1 || entries[0].Reason != models.ReasonReset || entries[0].Delta != -8 {
			t.Fatalf("want one reset entry with delta -8, got %+v", entries)
		}
		if ref, _ := store.FindByInvited(ctx, user.ID); ref == nil {
			t.Fatal("ResetBalance must keep referral edges")
		}
	})

	t.Run("reset all drops referrals", func(t *testing.T) {
		store := newMemStore()
		ledger := NewLedgerService(testConfig(), testLogger(), store, nil)
		inviter := store.seedUser(100, 0)
		user := store.seedUser(200, 8)
		store.seedReferral(inviter.ID, user.ID, true)

		if err := ledger.ResetAll(ctx, user.ID); err != nil {
			t.Fatalf("ResetAll: %v", err)
		}
		if ref, _ := store.FindByInvited(ctx, user.ID); ref != nil {
			t.Fatal("ResetAll must drop referral edges")
		}
	})

	t.Run("zero balance logs nothing", func(t *testing.T) {
		store := newMemStore()
		ledger := NewLedgerService(testConfig(), testLogger(), store, nil)
		user := store.seedUser(100, 0)

		if err := ledger.ResetBalance(ctx, user.ID); err != nil {
			t.Fatalf("ResetBalance: %v", err)
		}
		if got := len(store.entriesFor(user.ID)); got != 0 {
			t.Fatalf("entries = %d, want 0", got)
		}
	})
}

// TestAuditChain verifies the append-only log stays consistent across a mixed
// sequence: every entry's delta matches its balances and consecutive entries
// chain old -> new.
func TestAuditChain(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	ledger := NewLedgerService(testConfig(), testLogger(), store, nil)
	user := store.seedUser(100, 0)

	if _, err := ledger.GrantTrial(ctx, user.ID); err != nil {
		t.Fatalf("GrantTrial: %v", err)
	}
	if _, err := ledger.Consume(ctx, user.ID); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if _, err := ledger.Compensate(ctx, user.ID, 4); err != nil {
		t.Fatalf("Compensate: %v", err)
	}
	if err := ledger.ResetBalance(ctx, user.ID); err != nil {
		t.Fatalf("ResetBalance: %v", err)
	}

	entries := store.entriesFor(user.ID)
	if len(entries) != 4 {
		t.Fatalf("entries = %d, want 4", len(entries))
	}
	prev := 0
	for i, e := range entries {
		if e.OldBalance != prev {
			t.Errorf("entry %d: old balance %d does not chain from %d", i, e.OldBalance, prev)
		}
		if e.NewBalance != e.OldBalance+e.Delta {
			t.Errorf("entry %d: %d + %d != %d", i, e.OldBalance, e.Delta, e.NewBalance)
		}
		prev = e.NewBalance
	}
	wantReasons := []models.BalanceReason{
		models.ReasonFreeTrial, models.ReasonConsume, models.ReasonCompensate, models.ReasonReset,
	}
	for i, want := range wantReasons {
		if entries[i].Reason != want {
			t.Errorf("entry %d reason = %s, want %s", i, entries[i].Reason, want)
		}
	}
}
