package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Staritsin/photo-live/internal/models"
	"github.com/Staritsin/photo-live/internal/service"
)

// Store is the MySQL unit of work. InTx runs fn inside one transaction;
// row locks taken through the Tx serialize concurrent mutations on the same
// account or payment.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) InTx(ctx context.Context, fn func(tx service.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&storeTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type storeTx struct {
	tx *sql.Tx
}

func (t *storeTx) UserForUpdate(ctx context.Context, userID int64) (*models.User, error) {
	const query = `
SELECT id, telegram_id, COALESCE(username, ''), COALESCE(full_name, ''), balance, total_spent, total_generations, free_trial_used, last_payment_at, created_at, updated_at
FROM users WHERE id = ? FOR UPDATE`
	row := t.tx.QueryRowContext(ctx, query, userID)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, service.ErrAccountNotFound
		}
		return nil, fmt.Errorf("lock user: %w", err)
	}
	return user, nil
}

func (t *storeTx) SaveBilling(ctx context.Context, user *models.User) error {
	const query = `
UPDATE users
SET balance = ?, total_spent = ?, total_generations = ?, free_trial_used = ?, last_payment_at = ?, updated_at = NOW()
WHERE id = ?`
	trialUsed := 0
	if user.FreeTrialUsed {
		trialUsed = 1
	}
	if _, err := t.tx.ExecContext(ctx, query, user.Balance, user.TotalSpent, user.TotalGenerations, trialUsed, user.LastPaymentAt, user.ID); err != nil {
		return fmt.Errorf("save billing: %w", err)
	}
	return nil
}

func (t *storeTx) AppendBalanceEntry(ctx context.Context, entry *models.BalanceEntry) error {
	const query = `
INSERT INTO balance_log (user_id, old_balance, delta, new_balance, reason)
VALUES (?, ?, ?, ?, ?)`
	res, err := t.tx.ExecContext(ctx, query, entry.UserID, entry.OldBalance, entry.Delta, entry.NewBalance, entry.Reason)
	if err != nil {
		return fmt.Errorf("append balance entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("balance entry id: %w", err)
	}
	entry.ID = id
	return nil
}

func (t *storeTx) HasBalanceEntry(ctx context.Context, userID int64, reason models.BalanceReason) (bool, error) {
	const query = `SELECT 1 FROM balance_log WHERE user_id = ? AND reason = ? LIMIT 1`
	var dummy int
	if err := t.tx.QueryRowContext(ctx, query, userID, reason).Scan(&dummy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check balance entry: %w", err)
	}
	return true, nil
}

func (t *storeTx) PaymentForUpdate(ctx context.Context, providerPaymentID string) (*models.Payment, error) {
	const query = `
SELECT id, user_id, provider, provider_payment_id, COALESCE(order_id, ''), amount, status, COALESCE(payment_url, ''), COALESCE(raw_payload, ''), created_at, updated_at
FROM payments WHERE provider_payment_id = ? FOR UPDATE`
	row := t.tx.QueryRowContext(ctx, query, providerPaymentID)
	payment, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, service.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("lock payment: %w", err)
	}
	return payment, nil
}

func (t *storeTx) SetPaymentStatus(ctx context.Context, paymentID int64, status models.PaymentStatus) error {
	const query = `UPDATE payments SET status = ?, updated_at = NOW() WHERE id = ?`
	if _, err := t.tx.ExecContext(ctx, query, status, paymentID); err != nil {
		return fmt.Errorf("set payment status: %w", err)
	}
	return nil
}

func (t *storeTx) UnawardedReferralByInvited(ctx context.Context, invitedUserID int64) (*models.Referral, error) {
	const query = `
SELECT id, inviter_id, invited_id, bonus_awarded, created_at
FROM referrals WHERE invited_id = ? AND bonus_awarded = 0 FOR UPDATE`
	row := t.tx.QueryRowContext(ctx, query, invitedUserID)
	ref, err := scanReferral(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lock referral: %w", err)
	}
	return ref, nil
}

func (t *storeTx) MarkReferralAwarded(ctx context.Context, referralID int64) (bool, error) {
	const query = `UPDATE referrals SET bonus_awarded = 1 WHERE id = ? AND bonus_awarded = 0`
	res, err := t.tx.ExecContext(ctx, query, referralID)
	if err != nil {
		return false, fmt.Errorf("mark referral awarded: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("referral rows affected: %w", err)
	}
	return affected > 0, nil
}

func (t *storeTx) DeleteReferralsFor(ctx context.Context, userID int64) error {
	const query = `DELETE FROM referrals WHERE inviter_id = ? OR invited_id = ?`
	if _, err := t.tx.ExecContext(ctx, query, userID, userID); err != nil {
		return fmt.Errorf("delete referrals: %w", err)
	}
	return nil
}
