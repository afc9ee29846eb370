package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Staritsin/photo-live/internal/config"
	"github.com/Staritsin/photo-live/internal/gateway"
	"github.com/Staritsin/photo-live/internal/models"
)

// PaymentService initiates top-ups and reconciles their provider status. It
// is the only component that crosses the gateway trust boundary, so it owns
// all payment idempotency logic: the transition into "apply credit" happens
// under a check-and-set on the payment row inside one transaction.
type PaymentService struct {
	cfg       config.Config
	log       *slog.Logger
	store     Store
	payments  PaymentStore
	referrals ReferralStore
	ledger    *LedgerService
	gateway   gateway.Gateway
	audit     AuditSink
}

// ReconcileOutcome reports what a single Reconcile call did.
type ReconcileOutcome struct {
	Status models.PaymentStatus
	// Credited is true only for the call that first observed the terminal
	// success state and applied the purchase.
	Credited bool
	Purchase Purchase
	// BonusInviter is the inviter credited by the cascading referral
	// bonus, 0 when none.
	BonusInviter int64
	UserID       int64
	AmountRUB    int
}

func NewPaymentService(cfg config.Config, log *slog.Logger, store Store, payments PaymentStore, referrals ReferralStore, ledger *LedgerService, gw gateway.Gateway, audit AuditSink) *PaymentService {
	if audit == nil {
		audit = NopSink{}
	}
	return &PaymentService{
		cfg:       cfg,
		log:       log,
		store:     store,
		payments:  payments,
		referrals: referrals,
		ledger:    ledger,
		gateway:   gw,
		audit:     audit,
	}
}

// InitiateTopup creates the payment at the gateway and records the attempt
// as PENDING before the user has paid anything.
func (s *PaymentService) InitiateTopup(ctx context.Context, user *models.User, amountRUB int) (*models.Payment, error) {
	orderID := fmt.Sprintf("%d_%s", user.TelegramID, uuid.NewString()[:8])
	created, err := s.gateway.CreatePayment(ctx, amountRUB, "Пополнение генераций", user.TelegramID, orderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	payment := &models.Payment{
		UserID:            user.ID,
		Provider:          s.gateway.Name(),
		ProviderPaymentID: created.ProviderPaymentID,
		OrderID:           orderID,
		Amount:            amountRUB,
		Status:            models.PaymentStatusPending,
		PaymentURL:        created.PaymentURL,
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}

	s.audit.UserEvent(user.ID, "payment_attempt", map[string]any{
		"amount":   amountRUB,
		"order_id": orderID,
		"provider": payment.Provider,
	})
	return payment, nil
}

// Reconcile fetches the payment's authoritative status and applies its
// one-time side effects. Both the user's "check payment" button and the
// gateway webhooks funnel through here; the call is safe to repeat and to
// race with itself.
func (s *PaymentService) Reconcile(ctx context.Context, providerPaymentID string) (ReconcileOutcome, error) {
	payment, err := s.payments.FindByProviderID(ctx, providerPaymentID)
	if err != nil {
		return ReconcileOutcome{}, fmt.Errorf("find payment: %w", err)
	}
	if payment == nil {
		return ReconcileOutcome{}, ErrPaymentNotFound
	}

	outcome := ReconcileOutcome{UserID: payment.UserID, AmountRUB: payment.Amount}

	status, err := s.gateway.PaymentStatus(ctx, providerPaymentID)
	if err != nil {
		return outcome, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	outcome.Status = status

	s.audit.PaymentResult(payment.UserID, providerPaymentID, status, payment.Amount)

	switch {
	case status.TerminalSuccess():
		if err := s.applyTerminalSuccess(ctx, providerPaymentID, status, &outcome); err != nil {
			return outcome, err
		}
		return outcome, nil

	case status == models.PaymentStatusRejected:
		err := s.store.InTx(ctx, func(tx Tx) error {
			p, err := tx.PaymentForUpdate(ctx, providerPaymentID)
			if err != nil {
				return err
			}
			// A rejection never overwrites an already credited payment.
			if p.Status.TerminalSuccess() || p.Status == models.PaymentStatusRejected {
				outcome.Status = p.Status
				return nil
			}
			return tx.SetPaymentStatus(ctx, p.ID, models.PaymentStatusRejected)
		})
		if err != nil {
			return outcome, fmt.Errorf("mark rejected: %w", err)
		}
		return outcome, nil

	default:
		// Still pending: report without mutating stored status.
		return outcome, nil
	}
}

// applyTerminalSuccess performs the idempotency-gated credit: read the
// payment status under lock, compare, persist the new status, credit the
// purchase and cascade the referral bonus — all in one transaction. A second
// caller blocks on the row lock and then sees the terminal status.
func (s *PaymentService) applyTerminalSuccess(ctx context.Context, providerPaymentID string, status models.PaymentStatus, outcome *ReconcileOutcome) error {
	var summaryFor int64
	err := s.store.InTx(ctx, func(tx Tx) error {
		p, err := tx.PaymentForUpdate(ctx, providerPaymentID)
		if err != nil {
			return err
		}
		if p.Status.TerminalSuccess() {
			outcome.Status = p.Status
			return nil // already credited, skip all effects
		}

		if err := tx.SetPaymentStatus(ctx, p.ID, status); err != nil {
			return err
		}

		purchase, err := s.ledger.AddPurchaseTx(ctx, tx, p.UserID, p.Amount)
		if err != nil {
			return err
		}
		outcome.Credited = true
		outcome.Purchase = purchase

		ref, err := tx.UnawardedReferralByInvited(ctx, p.UserID)
		if err != nil {
			return err
		}
		if ref != nil {
			awarded, err := s.ledger.AwardReferralBonusTx(ctx, tx, ref)
			if err != nil {
				return err
			}
			if awarded {
				outcome.BonusInviter = ref.InviterID
				summaryFor = ref.InviterID
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) || errors.Is(err, ErrAccountNotFound) {
			return err
		}
		return fmt.Errorf("apply payment: %w", err)
	}

	if summaryFor != 0 {
		s.emitReferralSummary(ctx, summaryFor)
	}
	return nil
}

// emitReferralSummary recomputes the inviter's referral totals for the
// analytics sink. The bonus total is always derived, never stored.
func (s *PaymentService) emitReferralSummary(ctx context.Context, inviterID int64) {
	total, paid, err := s.referrals.Stats(ctx, inviterID)
	if err != nil {
		s.log.Error("referral stats for summary", "user", inviterID, "err", err)
		return
	}
	s.audit.ReferralSummary(inviterID, total, paid, paid*s.cfg.BonusPerFriend)
}
