package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Staritsin/photo-live/internal/config"
	"github.com/Staritsin/photo-live/internal/models"
)

const yooKassaBaseURL = "https://api.yookassa.ru/v3"

// YooKassa talks to the YooKassa REST v3 API with basic auth and an
// idempotence key per create call.
type YooKassa struct {
	shopID    string
	secretKey string
	returnURL string
	baseURL   string
	client    *http.Client
	log       *slog.Logger
}

func NewYooKassa(cfg config.Config, log *slog.Logger) *YooKassa {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &YooKassa{
		shopID:    cfg.YooKassaShopID,
		secretKey: cfg.YooKassaSecretKey,
		returnURL: cfg.YooKassaReturnURL,
		baseURL:   yooKassaBaseURL,
		client:    &http.Client{Timeout: timeout},
		log:       log,
	}
}

func (y *YooKassa) Name() string { return "yookassa" }

type yooPayment struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Confirmation struct {
		Type string `json:"type"`
		URL  string `json:"confirmation_url"`
	} `json:"confirmation"`
	Amount struct {
		Value    string `json:"value"`
		Currency string `json:"currency"`
	} `json:"amount"`
}

func (y *YooKassa) CreatePayment(ctx context.Context, amountRUB int, description string, telegramID int64, orderID string) (CreatedPayment, error) {
	payload := map[string]any{
		"amount": map[string]string{
			"value":    fmt.Sprintf("%d.00", amountRUB),
			"currency": "RUB",
		},
		"capture":     true,
		"description": description,
		"confirmation": map[string]string{
			"type":       "redirect",
			"return_url": y.returnURL,
		},
		"metadata": map[string]string{
			"user_id":  strconv.FormatInt(telegramID, 10),
			"order_id": orderID,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return CreatedPayment{}, fmt.Errorf("marshal yookassa request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, y.baseURL+"/payments", bytes.NewReader(body))
	if err != nil {
		return CreatedPayment{}, fmt.Errorf("build yookassa request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotence-Key", uuid.NewString())
	req.SetBasicAuth(y.shopID, y.secretKey)

	var parsed yooPayment
	if err := y.do(req, &parsed); err != nil {
		return CreatedPayment{}, err
	}
	if parsed.ID == "" || parsed.Confirmation.URL == "" {
		return CreatedPayment{}, fmt.Errorf("yookassa create: missing id or confirmation url")
	}
	return CreatedPayment{
		ProviderPaymentID: parsed.ID,
		PaymentURL:        parsed.Confirmation.URL,
	}, nil
}

func (y *YooKassa) PaymentStatus(ctx context.Context, providerPaymentID string) (models.PaymentStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.baseURL+"/payments/"+providerPaymentID, nil)
	if err != nil {
		return "", fmt.Errorf("build yookassa request: %w", err)
	}
	req.SetBasicAuth(y.shopID, y.secretKey)

	var parsed yooPayment
	if err := y.do(req, &parsed); err != nil {
		return "", err
	}
	return mapYooKassaStatus(parsed.Status), nil
}

func (y *YooKassa) do(req *http.Request, out any) error {
	resp, err := y.client.Do(req)
	if err != nil {
		return fmt.Errorf("yookassa request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("yookassa http status: %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode yookassa response: %w", err)
	}
	return nil
}

// mapYooKassaStatus: pending and waiting_for_capture stay in progress,
// succeeded confirms, canceled rejects.
func mapYooKassaStatus(status string) models.PaymentStatus {
	switch status {
	case "succeeded":
		return models.PaymentStatusConfirmed
	case "canceled":
		return models.PaymentStatusRejected
	default:
		return models.PaymentStatusInProgress
	}
}
