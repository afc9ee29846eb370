package sheets

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/Staritsin/photo-live/internal/config"
	"github.com/Staritsin/photo-live/internal/models"
)

const (
	sheetsScope   = "https://www.googleapis.com/auth/spreadsheets"
	sheetsAPIBase = "https://sheets.googleapis.com/v4/spreadsheets"
	queueSize     = 256
)

// Sink mirrors ledger events into a Google spreadsheet for the operators.
// Events are queued and flushed from a background goroutine; a full queue
// drops the event. Nothing here may ever block or fail a money operation.
type Sink struct {
	spreadsheetID string
	log           *slog.Logger
	httpClient    *http.Client

	email      string
	privateKey *rsa.PrivateKey
	tokenURI   string

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time

	queue chan row
	done  chan struct{}
}

type row struct {
	sheet  string
	values []any
}

type serviceAccount struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`
}

func NewSink(cfg config.Config, log *slog.Logger) (*Sink, error) {
	raw, err := os.ReadFile(cfg.SheetsCredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read service account file: %w", err)
	}
	var sa serviceAccount
	if err := json.Unmarshal(raw, &sa); err != nil {
		return nil, fmt.Errorf("parse service account file: %w", err)
	}
	if sa.ClientEmail == "" || sa.PrivateKey == "" {
		return nil, fmt.Errorf("service account file missing client_email or private_key")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(sa.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	if sa.TokenURI == "" {
		sa.TokenURI = "https://oauth2.googleapis.com/token"
	}

	s := &Sink{
		spreadsheetID: cfg.SheetsSpreadsheetID,
		log:           log,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		email:         sa.ClientEmail,
		privateKey:    key,
		tokenURI:      sa.TokenURI,
		queue:         make(chan row, queueSize),
		done:          make(chan struct{}),
	}
	go s.drain()
	return s, nil
}

// Close stops accepting events and waits for the queue to flush.
func (s *Sink) Close() {
	close(s.queue)
	<-s.done
}

func (s *Sink) BalanceChange(entry models.BalanceEntry) {
	s.enqueue("balance_log", []any{
		time.Now().UTC().Format(time.RFC3339),
		entry.UserID,
		entry.OldBalance,
		entry.Delta,
		entry.NewBalance,
		string(entry.Reason),
	})
}

func (s *Sink) PaymentResult(userID int64, providerPaymentID string, status models.PaymentStatus, amountRUB int) {
	s.enqueue("payments", []any{
		time.Now().UTC().Format(time.RFC3339),
		userID,
		providerPaymentID,
		string(status),
		amountRUB,
	})
}

func (s *Sink) UserEvent(userID int64, event string, meta map[string]any) {
	metaJSON := ""
	if len(meta) > 0 {
		if b, err := json.Marshal(meta); err == nil {
			metaJSON = string(b)
		}
	}
	s.enqueue("events", []any{
		time.Now().UTC().Format(time.RFC3339),
		userID,
		event,
		metaJSON,
	})
}

func (s *Sink) ReferralSummary(inviterID int64, invitedTotal, invitedPaid, bonusTotal int) {
	s.enqueue("referrals", []any{
		time.Now().UTC().Format(time.RFC3339),
		inviterID,
		invitedTotal,
		invitedPaid,
		bonusTotal,
	})
}

func (s *Sink) enqueue(sheet string, values []any) {
	select {
	case s.queue <- row{sheet: sheet, values: values}:
	default:
		s.log.Warn("sheets queue full, dropping event", "sheet", sheet)
	}
}

func (s *Sink) drain() {
	defer close(s.done)
	for r := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := s.appendRow(ctx, r); err != nil {
			s.log.Error("sheets append failed", "sheet", r.sheet, "error", err)
		}
		cancel()
	}
}

func (s *Sink) appendRow(ctx context.Context, r row) error {
	token, err := s.token(ctx)
	if err != nil {
		return fmt.Errorf("get access token: %w", err)
	}

	body, err := json.Marshal(map[string]any{
		"values": [][]any{r.values},
	})
	if err != nil {
		return fmt.Errorf("marshal values: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/values/%s:append?valueInputOption=USER_ENTERED",
		sheetsAPIBase, s.spreadsheetID, url.PathEscape(r.sheet+"!A1"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post append: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sheets api: status=%d body=%s", resp.StatusCode, raw)
	}
	return nil
}

// token returns a cached OAuth access token, refreshing it via the signed
// JWT grant when less than a minute of validity remains.
func (s *Sink) token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.accessToken != "" && time.Until(s.tokenExpiry) > time.Minute {
		return s.accessToken, nil
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   s.email,
		"scope": sheetsScope,
		"aud":   s.tokenURI,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign assertion: %w", err)
	}

	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:jwt-bearer")
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURI, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("post token endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("token endpoint: status=%d body=%s", resp.StatusCode, raw)
	}

	var payload struct {
		AccessToken string          `json:"access_token"`
		ExpiresIn   json.RawMessage `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned empty access_token")
	}

	expiresIn := 3600
	if n, err := strconv.Atoi(string(bytes.Trim(payload.ExpiresIn, `"`))); err == nil && n > 0 {
		expiresIn = n
	}
	s.accessToken = payload.AccessToken
	s.tokenExpiry = now.Add(time.Duration(expiresIn) * time.Second)
	return s.accessToken, nil
}
