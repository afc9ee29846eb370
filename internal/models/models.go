package models

import "time"

// PaymentStatus is the canonical payment state shared by both gateway
// adapters. Provider-specific statuses are mapped into this set before they
// reach the reconciliation service.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "PENDING"
	PaymentStatusInProgress PaymentStatus = "IN_PROGRESS"
	PaymentStatusConfirmed  PaymentStatus = "CONFIRMED"
	PaymentStatusAuthorized PaymentStatus = "AUTHORIZED"
	PaymentStatusRejected   PaymentStatus = "REJECTED"
)

// TerminalSuccess reports whether the status is a terminal paid state.
// A payment in such a state must never transition again.
func (s PaymentStatus) TerminalSuccess() bool {
	return s == PaymentStatusConfirmed || s == PaymentStatusAuthorized
}

// BalanceReason tags a balance_log entry with the event that produced it.
type BalanceReason string

const (
	ReasonPurchase      BalanceReason = "purchase"
	ReasonReferralBonus BalanceReason = "referral_bonus"
	ReasonConsume       BalanceReason = "consume_generation"
	ReasonCompensate    BalanceReason = "compensate"
	ReasonReset         BalanceReason = "reset"
	ReasonFreeTrial     BalanceReason = "free_trial"
)

type User struct {
	ID               int64
	TelegramID       int64
	Username         string
	FullName         string
	Balance          int
	TotalSpent       int
	TotalGenerations int
	FreeTrialUsed    bool
	LastPaymentAt    *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Referral links an inviter to the one account they invited. invited_id is
// unique: the first inviter wins, permanently.
type Referral struct {
	ID           int64
	InviterID    int64
	InvitedID    int64
	BonusAwarded bool
	CreatedAt    time.Time
}

type Payment struct {
	ID                int64
	UserID            int64
	Provider          string
	ProviderPaymentID string
	OrderID           string
	Amount            int // rubles
	Status            PaymentStatus
	PaymentURL        string
	RawPayload        string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// BalanceEntry is one append-only audit record per balance mutation.
type BalanceEntry struct {
	ID         int64
	UserID     int64
	OldBalance int
	Delta      int
	NewBalance int
	Reason     BalanceReason
	CreatedAt  time.Time
}
