package gateway

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/Staritsin/photo-live/internal/config"
	"github.com/Staritsin/photo-live/internal/models"
)

// Tinkoff talks to the Tinkoff Kassa v2 API (Init / GetState). Requests are
// signed with the SHA-256 token: concatenate the values of all scalar
// parameters plus the terminal password, sorted by key.
type Tinkoff struct {
	terminalKey string
	secretKey   string
	baseURL     string
	successURL  string
	failURL     string
	client      *http.Client
	log         *slog.Logger
}

func NewTinkoff(cfg config.Config, log *slog.Logger) *Tinkoff {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Tinkoff{
		terminalKey: cfg.TinkoffTerminalKey,
		secretKey:   cfg.TinkoffSecretKey,
		baseURL:     cfg.TinkoffBaseURL(),
		successURL:  cfg.ReturnURL + "?start=success",
		failURL:     cfg.ReturnURL + "?start=fail",
		client:      &http.Client{Timeout: timeout},
		log:         log,
	}
}

func (t *Tinkoff) Name() string { return "tinkoff" }

func (t *Tinkoff) CreatePayment(ctx context.Context, amountRUB int, description string, telegramID int64, orderID string) (CreatedPayment, error) {
	params := map[string]string{
		"TerminalKey": t.terminalKey,
		"Amount":      fmt.Sprintf("%d", amountRUB*100), // rubles to kopecks
		"OrderId":     orderID,
		"Description": description,
		"SuccessURL":  t.successURL,
		"FailURL":     t.failURL,
	}
	params["Token"] = buildToken(params, t.secretKey)

	var resp struct {
		Success    bool        `json:"Success"`
		ErrorCode  string      `json:"ErrorCode"`
		Message    string      `json:"Message"`
		PaymentID  json.Number `json:"PaymentId"`
		PaymentURL string      `json:"PaymentURL"`
	}
	if err := t.post(ctx, "/Init", params, &resp); err != nil {
		return CreatedPayment{}, err
	}
	if !resp.Success {
		return CreatedPayment{}, fmt.Errorf("tinkoff init failed: code=%s message=%s", resp.ErrorCode, resp.Message)
	}
	if resp.PaymentID.String() == "" || resp.PaymentURL == "" {
		return CreatedPayment{}, fmt.Errorf("tinkoff init: missing payment id or url")
	}
	return CreatedPayment{
		ProviderPaymentID: resp.PaymentID.String(),
		PaymentURL:        resp.PaymentURL,
	}, nil
}

func (t *Tinkoff) PaymentStatus(ctx context.Context, providerPaymentID string) (models.PaymentStatus, error) {
	params := map[string]string{
		"TerminalKey": t.terminalKey,
		"PaymentId":   providerPaymentID,
	}
	params["Token"] = buildToken(params, t.secretKey)

	var resp struct {
		Success   bool   `json:"Success"`
		ErrorCode string `json:"ErrorCode"`
		Message   string `json:"Message"`
		Status    string `json:"Status"`
	}
	if err := t.post(ctx, "/GetState", params, &resp); err != nil {
		return "", err
	}
	if !resp.Success {
		return "", fmt.Errorf("tinkoff getstate failed: code=%s message=%s", resp.ErrorCode, resp.Message)
	}
	return mapTinkoffStatus(resp.Status), nil
}

func (t *Tinkoff) post(ctx context.Context, path string, params map[string]string, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal tinkoff request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build tinkoff request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("tinkoff request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("tinkoff http status: %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode tinkoff response: %w", err)
	}
	return nil
}

// buildToken implements the Tinkoff signing scheme: drop empty values and
// the Token itself, add the password, sort by key, concatenate the values
// and hash with SHA-256.
func buildToken(params map[string]string, password string) string {
	data := make(map[string]string, len(params)+1)
	for k, v := range params {
		if v == "" || k == "Token" {
			continue
		}
		data[k] = v
	}
	data["Password"] = password

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		buf.WriteString(data[k])
	}
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}

// mapTinkoffStatus folds the provider vocabulary into the canonical set.
// Anything unknown stays in progress: only an explicit rejection counts as
// REJECTED.
func mapTinkoffStatus(status string) models.PaymentStatus {
	switch status {
	case "CONFIRMED":
		return models.PaymentStatusConfirmed
	case "AUTHORIZED":
		return models.PaymentStatusAuthorized
	case "REJECTED", "CANCELED", "REVERSED", "REFUNDED", "DEADLINE_EXPIRED", "AUTH_FAIL":
		return models.PaymentStatusRejected
	case "NEW":
		return models.PaymentStatusPending
	default:
		return models.PaymentStatusInProgress
	}
}
