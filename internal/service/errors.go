package service

import "errors"

var (
	// ErrAccountNotFound means the referenced account has no record.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInsufficientBalance is returned by Consume when the balance is zero.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrPaymentNotFound means reconciliation referenced an unknown payment id.
	// This legitimately happens when the initiating request never completed.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrProviderUnavailable wraps transient gateway failures. Callers retry;
	// it is never interpreted as a rejection.
	ErrProviderUnavailable = errors.New("payment provider unavailable")

	// ErrDuplicateReferral marks an attempted second edge for an already
	// invited account. Callers treat it as an idempotent no-op.
	ErrDuplicateReferral = errors.New("referral already registered")
)
