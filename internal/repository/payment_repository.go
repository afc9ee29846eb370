package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Staritsin/photo-live/internal/models"
)

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `id, user_id, provider, provider_payment_id, COALESCE(order_id, ''), amount, status, COALESCE(payment_url, ''), COALESCE(raw_payload, ''), created_at, updated_at`

func scanPayment(row rowScanner) (*models.Payment, error) {
	var p models.Payment
	if err := row.Scan(&p.ID, &p.UserID, &p.Provider, &p.ProviderPaymentID, &p.OrderID, &p.Amount, &p.Status, &p.PaymentURL, &p.RawPayload, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	const query = `
INSERT INTO payments (user_id, provider, provider_payment_id, order_id, amount, status, payment_url, raw_payload)
VALUES (?, ?, ?, NULLIF(?, ''), ?, ?, NULLIF(?, ''), NULLIF(?, ''))`
	res, err := r.db.ExecContext(ctx, query, payment.UserID, payment.Provider, payment.ProviderPaymentID, payment.OrderID, payment.Amount, payment.Status, payment.PaymentURL, payment.RawPayload)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("payment last insert id: %w", err)
	}
	payment.ID = id
	return nil
}

func (r *PaymentRepository) FindByProviderID(ctx context.Context, providerPaymentID string) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE provider_payment_id = ? LIMIT 1`
	payment, err := scanPayment(r.db.QueryRowContext(ctx, query, providerPaymentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	return payment, nil
}

func (r *PaymentRepository) LastForUser(ctx context.Context, userID int64) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`
	payment, err := scanPayment(r.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	return payment, nil
}
