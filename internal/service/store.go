package service

import (
	"context"

	"github.com/Staritsin/photo-live/internal/models"
)

// Tx is the unit of work every balance-affecting operation runs inside.
// The *ForUpdate accessors take a row-level exclusive lock, so two
// concurrent mutations on the same account or payment serialize instead of
// interleaving. Implemented over MySQL in internal/repository and in-memory
// in tests.
type Tx interface {
	// UserForUpdate locks and returns the account row. Returns
	// ErrAccountNotFound when no row exists.
	UserForUpdate(ctx context.Context, userID int64) (*models.User, error)

	// SaveBilling writes back the billing columns of a previously locked
	// account row.
	SaveBilling(ctx context.Context, user *models.User) error

	// AppendBalanceEntry appends one audit record. Entries are never
	// mutated or deleted.
	AppendBalanceEntry(ctx context.Context, entry *models.BalanceEntry) error

	// HasBalanceEntry reports whether the account already has an entry
	// with the given reason.
	HasBalanceEntry(ctx context.Context, userID int64, reason models.BalanceReason) (bool, error)

	// PaymentForUpdate locks and returns the payment row by its provider
	// id. Returns ErrPaymentNotFound when no row exists.
	PaymentForUpdate(ctx context.Context, providerPaymentID string) (*models.Payment, error)

	// SetPaymentStatus persists a status transition for a locked payment.
	SetPaymentStatus(ctx context.Context, paymentID int64, status models.PaymentStatus) error

	// UnawardedReferralByInvited locks and returns the un-awarded edge
	// whose invited side is the given account, or nil.
	UnawardedReferralByInvited(ctx context.Context, invitedUserID int64) (*models.Referral, error)

	// MarkReferralAwarded flips bonus_awarded and reports whether this
	// call performed the flip (false when it was already set).
	MarkReferralAwarded(ctx context.Context, referralID int64) (bool, error)

	// DeleteReferralsFor removes every edge touching the account.
	DeleteReferralsFor(ctx context.Context, userID int64) error
}

// Store runs a function inside one transaction; the function either fully
// applies or fully aborts.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// UserStore is the non-transactional account repository surface.
type UserStore interface {
	FindByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)
	FindByID(ctx context.Context, userID int64) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	UpdateProfile(ctx context.Context, userID int64, username, fullName string) error
	ListTelegramIDs(ctx context.Context) ([]int64, error)
}

// PaymentStore records payment attempts before the user has paid.
type PaymentStore interface {
	Create(ctx context.Context, payment *models.Payment) error
	FindByProviderID(ctx context.Context, providerPaymentID string) (*models.Payment, error)
	LastForUser(ctx context.Context, userID int64) (*models.Payment, error)
}

// ReferralStore maintains inviter->invited edges.
type ReferralStore interface {
	// Create inserts the edge; returns ErrDuplicateReferral when the
	// invited account already has one.
	Create(ctx context.Context, inviterID, invitedID int64) error
	FindByInvited(ctx context.Context, invitedID int64) (*models.Referral, error)
	// Stats counts edges where the account is the inviter, and the subset
	// with the bonus already awarded.
	Stats(ctx context.Context, inviterID int64) (total, paid int, err error)
}

// AuditSink receives fire-and-forget analytics events. Implementations must
// never block and their failures never propagate into ledger results.
type AuditSink interface {
	BalanceChange(entry models.BalanceEntry)
	PaymentResult(userID int64, providerPaymentID string, status models.PaymentStatus, amountRUB int)
	UserEvent(userID int64, event string, meta map[string]any)
	ReferralSummary(inviterID int64, invitedTotal, invitedPaid, bonusTotal int)
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) BalanceChange(models.BalanceEntry)                      {}
func (NopSink) PaymentResult(int64, string, models.PaymentStatus, int) {}
func (NopSink) UserEvent(int64, string, map[string]any)                {}
func (NopSink) ReferralSummary(int64, int, int, int)                   {}
