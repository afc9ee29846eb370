package service

import (
	"context"
	"errors"
	"testing"
)

func TestUserEnsure(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := NewUserService(testLogger(), store, nil)

	user, created, err := svc.Ensure(ctx, 100, "alice", "Alice A")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if !created {
		t.Fatal("first Ensure must create the account")
	}
	if user.Balance != 0 {
		t.Fatalf("new account balance = %d, want 0", user.Balance)
	}

	same, created, err := svc.Ensure(ctx, 100, "alice", "Alice A")
	if err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if created {
		t.Fatal("second Ensure must not create")
	}
	if same.ID != user.ID {
		t.Fatalf("id changed: %d != %d", same.ID, user.ID)
	}

	// A changed profile is refreshed in place.
	renamed, created, err := svc.Ensure(ctx, 100, "alice2", "Alice B")
	if err != nil {
		t.Fatalf("third Ensure: %v", err)
	}
	if created {
		t.Fatal("profile refresh must not create")
	}
	if renamed.Username != "alice2" || renamed.FullName != "Alice B" {
		t.Fatalf("profile not refreshed: %+v", renamed)
	}
	stored, _ := store.FindByID(ctx, user.ID)
	if stored.Username != "alice2" {
		t.Fatalf("stored username = %q, want alice2", stored.Username)
	}
}

func TestUserLookup(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := NewUserService(testLogger(), store, nil)
	seeded := store.seedUser(100, 5)

	user, err := svc.ByTelegramID(ctx, 100)
	if err != nil {
		t.Fatalf("ByTelegramID: %v", err)
	}
	if user.ID != seeded.ID {
		t.Fatalf("id = %d, want %d", user.ID, seeded.ID)
	}

	if _, err := svc.ByTelegramID(ctx, 999); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("err = %v, want ErrAccountNotFound", err)
	}
	if _, err := svc.ByID(ctx, 999); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("err = %v, want ErrAccountNotFound", err)
	}
}
