package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Staritsin/photo-live/internal/config"
	"github.com/Staritsin/photo-live/internal/models"
)

// ReferralService manages the inviter->invited graph. The bonus itself is
// paid by the reconciliation path on the invited account's first confirmed
// payment, not here.
type ReferralService struct {
	cfg       config.Config
	log       *slog.Logger
	referrals ReferralStore
	audit     AuditSink
}

// ReferralStats is derived display data for one inviter.
type ReferralStats struct {
	InvitedTotal int
	InvitedPaid  int
	BonusTotal   int
}

func NewReferralService(cfg config.Config, log *slog.Logger, referrals ReferralStore, audit AuditSink) *ReferralService {
	if audit == nil {
		audit = NopSink{}
	}
	return &ReferralService{cfg: cfg, log: log, referrals: referrals, audit: audit}
}

// Register creates the edge for a newly onboarded account carrying a
// referral parameter. Self-referrals and repeated registrations are
// idempotent no-ops: the first inviter wins, permanently.
func (s *ReferralService) Register(ctx context.Context, inviterID, invitedID int64) error {
	if inviterID == invitedID || inviterID == 0 {
		return nil
	}
	err := s.referrals.Create(ctx, inviterID, invitedID)
	if err != nil {
		if errors.Is(err, ErrDuplicateReferral) {
			return nil
		}
		return fmt.Errorf("register referral: %w", err)
	}
	s.audit.UserEvent(invitedID, "referral_registered", map[string]any{"inviter": inviterID})
	return nil
}

// Inviter returns the edge pointing at the invited account, or nil.
func (s *ReferralService) Inviter(ctx context.Context, invitedID int64) (*models.Referral, error) {
	return s.referrals.FindByInvited(ctx, invitedID)
}

// Stats recomputes the inviter's referral counters. BonusTotal always equals
// InvitedPaid * BonusPerFriend; it is never cached.
func (s *ReferralService) Stats(ctx context.Context, inviterID int64) (ReferralStats, error) {
	total, paid, err := s.referrals.Stats(ctx, inviterID)
	if err != nil {
		return ReferralStats{}, fmt.Errorf("referral stats: %w", err)
	}
	return ReferralStats{
		InvitedTotal: total,
		InvitedPaid:  paid,
		BonusTotal:   paid * s.cfg.BonusPerFriend,
	}, nil
}
