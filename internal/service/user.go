package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Staritsin/photo-live/internal/models"
)

// UserService owns account lifecycle: idempotent upsert on first interaction,
// profile refresh on later ones.
type UserService struct {
	log   *slog.Logger
	users UserStore
	audit AuditSink
}

func NewUserService(log *slog.Logger, users UserStore, audit AuditSink) *UserService {
	if audit == nil {
		audit = NopSink{}
	}
	return &UserService{log: log, users: users, audit: audit}
}

// Ensure returns the account for the Telegram user, creating it on first
// contact. The second return value reports whether it was created now.
func (s *UserService) Ensure(ctx context.Context, telegramID int64, username, fullName string) (*models.User, bool, error) {
	user, err := s.users.FindByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, false, fmt.Errorf("ensure user: %w", err)
	}
	if user != nil {
		if user.Username != username || user.FullName != fullName {
			if err := s.users.UpdateProfile(ctx, user.ID, username, fullName); err != nil {
				s.log.Error("update profile", "user", user.ID, "err", err)
			}
			user.Username = username
			user.FullName = fullName
		}
		return user, false, nil
	}

	created, err := s.users.Create(ctx, &models.User{
		TelegramID: telegramID,
		Username:   username,
		FullName:   fullName,
	})
	if err != nil {
		return nil, false, fmt.Errorf("create user: %w", err)
	}
	s.audit.UserEvent(created.ID, "user_created", map[string]any{"telegram_id": telegramID})
	return created, true, nil
}

// ByTelegramID looks an account up without creating it.
func (s *UserService) ByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	user, err := s.users.FindByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return nil, ErrAccountNotFound
	}
	return user, nil
}

// ByID looks an account up by its internal id.
func (s *UserService) ByID(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return nil, ErrAccountNotFound
	}
	return user, nil
}

// ListTelegramIDs returns every known chat id, for admin broadcasts.
func (s *UserService) ListTelegramIDs(ctx context.Context) ([]int64, error) {
	ids, err := s.users.ListTelegramIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list telegram ids: %w", err)
	}
	return ids, nil
}
