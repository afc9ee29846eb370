package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Staritsin/photo-live/internal/service"
)

type Server struct {
	addr     string
	username string
	password string
	log      *slog.Logger
	users    *service.UserService
	ledger   *service.LedgerService
	payments *service.PaymentService
	bot      *tgbotapi.BotAPI
	router   *chi.Mux
}

func NewServer(addr, username, password string, log *slog.Logger, users *service.UserService, ledger *service.LedgerService, payments *service.PaymentService, bot *tgbotapi.BotAPI) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:     addr,
		username: username,
		password: password,
		log:      log,
		users:    users,
		ledger:   ledger,
		payments: payments,
		bot:      bot,
		router:   r,
	}
	r.Post("/webhook/yookassa", s.handleYooKassaWebhook)
	r.Post("/webhook/tinkoff", s.handleTinkoffWebhook)
	r.Group(func(protected chi.Router) {
		protected.Use(s.basicAuthMiddleware())
		protected.Post("/broadcast", s.handleBroadcast)
		protected.Route("/users/{telegramID}", func(r chi.Router) {
			r.Get("/", s.handleGetUser)
			r.Post("/compensate", s.handleCompensate)
			r.Post("/reset", s.handleReset)
		})
		protected.Post("/payments/{providerPaymentID}/reconcile", s.handleReconcile)
	})
	return s
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("admin shutdown error", "err", err)
		}
	}()

	s.log.Info("admin panel listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin listen: %w", err)
	}
	return nil
}

// handleYooKassaWebhook is the public endpoint for YooKassa payment
// notifications. Only the payment id is taken from the body; the actual
// status is re-read from the provider inside Reconcile, so a forged
// notification cannot credit anything.
func (s *Server) handleYooKassaWebhook(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Event  string `json:"event"`
		Object struct {
			ID string `json:"id"`
		} `json:"object"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if payload.Object.ID == "" {
		http.Error(w, "object.id required", http.StatusBadRequest)
		return
	}

	if _, err := s.payments.Reconcile(r.Context(), payload.Object.ID); err != nil && !errors.Is(err, service.ErrPaymentNotFound) {
		s.log.Error("yookassa webhook reconcile", "payment", payload.Object.ID, "err", err)
		http.Error(w, "reconcile failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleTinkoffWebhook handles Tinkoff payment notifications. Tinkoff
// retries until it receives the literal body "OK".
func (s *Server) handleTinkoffWebhook(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		PaymentID json.Number `json:"PaymentId"`
		Status    string      `json:"Status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	paymentID := payload.PaymentID.String()
	if paymentID == "" {
		http.Error(w, "PaymentId required", http.StatusBadRequest)
		return
	}

	if _, err := s.payments.Reconcile(r.Context(), paymentID); err != nil && !errors.Is(err, service.ErrPaymentNotFound) {
		s.log.Error("tinkoff webhook reconcile", "payment", paymentID, "err", err)
		http.Error(w, "reconcile failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	providerPaymentID := strings.TrimSpace(chi.URLParam(r, "providerPaymentID"))
	outcome, err := s.payments.Reconcile(r.Context(), providerPaymentID)
	switch {
	case errors.Is(err, service.ErrPaymentNotFound):
		http.Error(w, "payment not found", http.StatusNotFound)
		return
	case errors.Is(err, service.ErrProviderUnavailable):
		http.Error(w, "provider unavailable", http.StatusBadGateway)
		return
	case err != nil:
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":        outcome.Status,
		"credited":      outcome.Credited,
		"user_id":       outcome.UserID,
		"amount_rub":    outcome.AmountRUB,
		"bonus_inviter": outcome.BonusInviter,
	})
}

type broadcastRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	ids, err := s.users.ListTelegramIDs(ctx)
	if err != nil {
		s.log.Error("list telegram ids", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	count := 0
	for _, id := range ids {
		msg := tgbotapi.NewMessage(id, req.Message)
		if _, err := s.bot.Send(msg); err != nil {
			s.log.Error("send broadcast", "user", id, "err", err)
			continue
		}
		count++
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"sent":  count,
		"total": len(ids),
	})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, ok := s.targetUser(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, user)
}

type compensateRequest struct {
	Amount int `json:"amount"`
}

func (s *Server) handleCompensate(w http.ResponseWriter, r *http.Request) {
	user, ok := s.targetUser(w, r)
	if !ok {
		return
	}
	var req compensateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	newBalance, err := s.ledger.Compensate(r.Context(), user.ID, req.Amount)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"balance": newBalance,
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	user, ok := s.targetUser(w, r)
	if !ok {
		return
	}
	dropReferrals := r.URL.Query().Get("drop_referrals") == "true"

	var err error
	if dropReferrals {
		err = s.ledger.ResetAll(r.Context(), user.ID)
	} else {
		err = s.ledger.ResetBalance(r.Context(), user.ID)
	}
	if err != nil {
		s.internalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) targetUser(w http.ResponseWriter, r *http.Request) (user *userView, ok bool) {
	telegramID, err := strconv.ParseInt(strings.TrimSpace(chi.URLParam(r, "telegramID")), 10, 64)
	if err != nil {
		http.Error(w, "invalid telegram id", http.StatusBadRequest)
		return nil, false
	}
	u, err := s.users.ByTelegramID(r.Context(), telegramID)
	if err != nil {
		if errors.Is(err, service.ErrAccountNotFound) {
			http.Error(w, "user not found", http.StatusNotFound)
			return nil, false
		}
		s.internalError(w, err)
		return nil, false
	}
	return &userView{
		ID:               u.ID,
		TelegramID:       u.TelegramID,
		Username:         u.Username,
		Balance:          u.Balance,
		TotalSpent:       u.TotalSpent,
		TotalGenerations: u.TotalGenerations,
		FreeTrialUsed:    u.FreeTrialUsed,
	}, true
}

type userView struct {
	ID               int64  `json:"id"`
	TelegramID       int64  `json:"telegram_id"`
	Username         string `json:"username"`
	Balance          int    `json:"balance"`
	TotalSpent       int    `json:"total_spent"`
	TotalGenerations int    `json:"total_generations"`
	FreeTrialUsed    bool   `json:"free_trial_used"`
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != s.username || pass != s.password {
				w.Header().Set("WWW-Authenticate", `Basic realm="photo-live"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("admin handler error", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}
