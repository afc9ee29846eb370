package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/Staritsin/photo-live/internal/models"
	"github.com/Staritsin/photo-live/internal/service"
)

type ReferralRepository struct {
	db *sql.DB
}

func NewReferralRepository(db *sql.DB) *ReferralRepository {
	return &ReferralRepository{db: db}
}

func scanReferral(row rowScanner) (*models.Referral, error) {
	var ref models.Referral
	var awarded int
	if err := row.Scan(&ref.ID, &ref.InviterID, &ref.InvitedID, &awarded, &ref.CreatedAt); err != nil {
		return nil, err
	}
	ref.BonusAwarded = awarded != 0
	return &ref, nil
}

// Create inserts the edge. The unique key on invited_id enforces "first
// inviter wins": a duplicate comes back as service.ErrDuplicateReferral.
func (r *ReferralRepository) Create(ctx context.Context, inviterID, invitedID int64) error {
	const query = `INSERT INTO referrals (inviter_id, invited_id, bonus_awarded) VALUES (?, ?, 0)`
	if _, err := r.db.ExecContext(ctx, query, inviterID, invitedID); err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return service.ErrDuplicateReferral
		}
		return fmt.Errorf("insert referral: %w", err)
	}
	return nil
}

func (r *ReferralRepository) FindByInvited(ctx context.Context, invitedID int64) (*models.Referral, error) {
	const query = `
SELECT id, inviter_id, invited_id, bonus_awarded, created_at
FROM referrals WHERE invited_id = ?`
	ref, err := scanReferral(r.db.QueryRowContext(ctx, query, invitedID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan referral: %w", err)
	}
	return ref, nil
}

func (r *ReferralRepository) Stats(ctx context.Context, inviterID int64) (int, int, error) {
	const query = `
SELECT COUNT(*), COALESCE(SUM(bonus_awarded), 0)
FROM referrals WHERE inviter_id = ?`
	var total, paid int
	if err := r.db.QueryRowContext(ctx, query, inviterID).Scan(&total, &paid); err != nil {
		return 0, 0, fmt.Errorf("referral stats: %w", err)
	}
	return total, paid, nil
}
