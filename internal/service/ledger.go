package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Staritsin/photo-live/internal/config"
	"github.com/Staritsin/photo-live/internal/models"
)

// LedgerService is the sole authority for mutating an account's generation
// balance. Every mutation locks the user row, writes the new balance and the
// matching balance_log entry in one transaction, and emits the change to the
// audit sink after commit.
type LedgerService struct {
	cfg   config.Config
	log   *slog.Logger
	store Store
	audit AuditSink
}

// Purchase describes the credit effect of one confirmed payment.
type Purchase struct {
	Base       int
	Bonus      int
	Total      int
	NewBalance int
}

func NewLedgerService(cfg config.Config, log *slog.Logger, store Store, audit AuditSink) *LedgerService {
	if audit == nil {
		audit = NopSink{}
	}
	return &LedgerService{cfg: cfg, log: log, store: store, audit: audit}
}

// CalcGenerations applies the volume bonus: every full 10 purchased
// generations add BonusPer10 extra ones.
func (s *LedgerService) CalcGenerations(base int) int {
	return base + (base/10)*s.cfg.BonusPer10
}

// GrantTrial credits the one-time free trial. It is a no-op returning false
// when the trial is disabled, already consumed, or already granted (detected
// via the free_trial audit entry).
func (s *LedgerService) GrantTrial(ctx context.Context, userID int64) (bool, error) {
	if !s.cfg.TrialEnabled || s.cfg.TrialCount <= 0 {
		return false, nil
	}

	granted := false
	var logged models.BalanceEntry
	err := s.store.InTx(ctx, func(tx Tx) error {
		user, err := tx.UserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if user.FreeTrialUsed {
			return nil
		}
		already, err := tx.HasBalanceEntry(ctx, userID, models.ReasonFreeTrial)
		if err != nil {
			return err
		}
		if already {
			return nil
		}

		old := user.Balance
		user.Balance += s.cfg.TrialCount
		if err := tx.SaveBilling(ctx, user); err != nil {
			return err
		}
		logged = models.BalanceEntry{
			UserID:     userID,
			OldBalance: old,
			Delta:      s.cfg.TrialCount,
			NewBalance: user.Balance,
			Reason:     models.ReasonFreeTrial,
		}
		if err := tx.AppendBalanceEntry(ctx, &logged); err != nil {
			return err
		}
		granted = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("grant trial: %w", err)
	}
	if granted {
		s.audit.BalanceChange(logged)
	}
	return granted, nil
}

// AddPurchaseTx credits a confirmed payment inside the caller's transaction.
// base = amount / price, bonus per full 10. The caller (reconciliation) owns
// the at-most-once guarantee via its payment status gate.
func (s *LedgerService) AddPurchaseTx(ctx context.Context, tx Tx, userID int64, amountRUB int) (Purchase, error) {
	user, err := tx.UserForUpdate(ctx, userID)
	if err != nil {
		return Purchase{}, err
	}

	base := amountRUB / s.cfg.PriceRUB
	total := s.CalcGenerations(base)
	p := Purchase{Base: base, Bonus: total - base, Total: total}

	old := user.Balance
	now := time.Now().UTC()
	user.Balance += total
	user.TotalSpent += amountRUB
	user.TotalGenerations += total
	user.LastPaymentAt = &now
	if err := tx.SaveBilling(ctx, user); err != nil {
		return Purchase{}, err
	}

	entry := models.BalanceEntry{
		UserID:     userID,
		OldBalance: old,
		Delta:      total,
		NewBalance: user.Balance,
		Reason:     models.ReasonPurchase,
	}
	if err := tx.AppendBalanceEntry(ctx, &entry); err != nil {
		return Purchase{}, err
	}
	s.audit.BalanceChange(entry)

	p.NewBalance = user.Balance
	return p, nil
}

// AwardReferralBonusTx pays the inviter for the invited account's first
// confirmed payment, inside the caller's transaction. The bonus_awarded flag
// flips exactly once; a second call is a no-op returning false.
func (s *LedgerService) AwardReferralBonusTx(ctx context.Context, tx Tx, ref *models.Referral) (bool, error) {
	if ref == nil || ref.BonusAwarded {
		return false, nil
	}
	flipped, err := tx.MarkReferralAwarded(ctx, ref.ID)
	if err != nil {
		return false, err
	}
	if !flipped {
		return false, nil
	}
	ref.BonusAwarded = true

	inviter, err := tx.UserForUpdate(ctx, ref.InviterID)
	if err != nil {
		return false, err
	}
	old := inviter.Balance
	inviter.Balance += s.cfg.BonusPerFriend
	if err := tx.SaveBilling(ctx, inviter); err != nil {
		return false, err
	}
	entry := models.BalanceEntry{
		UserID:     inviter.ID,
		OldBalance: old,
		Delta:      s.cfg.BonusPerFriend,
		NewBalance: inviter.Balance,
		Reason:     models.ReasonReferralBonus,
	}
	if err := tx.AppendBalanceEntry(ctx, &entry); err != nil {
		return false, err
	}
	s.audit.BalanceChange(entry)
	return true, nil
}

// Consume spends one generation. It must be called only after the provider
// reported success (charge-on-success). The first-ever consumption of the
// trial credit marks free_trial_used.
func (s *LedgerService) Consume(ctx context.Context, userID int64) (int, error) {
	var (
		newBalance int
		logged     models.BalanceEntry
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		user, err := tx.UserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if user.Balance <= 0 {
			return ErrInsufficientBalance
		}

		old := user.Balance
		user.Balance--
		user.TotalGenerations++
		if old == 1 && !user.FreeTrialUsed {
			user.FreeTrialUsed = true
		}
		if err := tx.SaveBilling(ctx, user); err != nil {
			return err
		}
		logged = models.BalanceEntry{
			UserID:     userID,
			OldBalance: old,
			Delta:      -1,
			NewBalance: user.Balance,
			Reason:     models.ReasonConsume,
		}
		if err := tx.AppendBalanceEntry(ctx, &logged); err != nil {
			return err
		}
		newBalance = user.Balance
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientBalance) || errors.Is(err, ErrAccountNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("consume generation: %w", err)
	}
	s.audit.BalanceChange(logged)
	return newBalance, nil
}

// Compensate is the manual support path: it adds (or removes) generations
// directly, bypassing the payment state machine.
func (s *LedgerService) Compensate(ctx context.Context, userID int64, delta int) (int, error) {
	var (
		newBalance int
		logged     models.BalanceEntry
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		user, err := tx.UserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if user.Balance+delta < 0 {
			return ErrInsufficientBalance
		}
		old := user.Balance
		user.Balance += delta
		if err := tx.SaveBilling(ctx, user); err != nil {
			return err
		}
		logged = models.BalanceEntry{
			UserID:     userID,
			OldBalance: old,
			Delta:      delta,
			NewBalance: user.Balance,
			Reason:     models.ReasonCompensate,
		}
		if err := tx.AppendBalanceEntry(ctx, &logged); err != nil {
			return err
		}
		newBalance = user.Balance
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientBalance) || errors.Is(err, ErrAccountNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("compensate: %w", err)
	}
	s.audit.BalanceChange(logged)
	return newBalance, nil
}

// ResetBalance zeroes the account's balance.
func (s *LedgerService) ResetBalance(ctx context.Context, userID int64) error {
	return s.reset(ctx, userID, false)
}

// ResetAll zeroes the balance and deletes every referral edge touching the
// account.
func (s *LedgerService) ResetAll(ctx context.Context, userID int64) error {
	return s.reset(ctx, userID, true)
}

func (s *LedgerService) reset(ctx context.Context, userID int64, dropReferrals bool) error {
	var logged *models.BalanceEntry
	err := s.store.InTx(ctx, func(tx Tx) error {
		user, err := tx.UserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if user.Balance != 0 {
			old := user.Balance
			user.Balance = 0
			if err := tx.SaveBilling(ctx, user); err != nil {
				return err
			}
			entry := models.BalanceEntry{
				UserID:     userID,
				OldBalance: old,
				Delta:      -old,
				NewBalance: 0,
				Reason:     models.ReasonReset,
			}
			if err := tx.AppendBalanceEntry(ctx, &entry); err != nil {
				return err
			}
			logged = &entry
		}
		if dropReferrals {
			if err := tx.DeleteReferralsFor(ctx, userID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return err
		}
		return fmt.Errorf("reset balance: %w", err)
	}
	if logged != nil {
		s.audit.BalanceChange(*logged)
	}
	return nil
}
