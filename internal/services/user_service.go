package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"fintrack/internal/auth"
	"fintrack/internal/core"
	"fintrack/internal/ledger"
)

const minPasswordLength = 8

// ProfilePatch carries the fields a user may change; nil leaves a field as is.
type ProfilePatch struct {
	Email    *string
	FullName *string
}

type UserService struct {
	store ledger.Store
	now   func() time.Time
	newID func() string
}

func NewUserService(store ledger.Store) *UserService {
	return &UserService{store: store, now: time.Now, newID: uuid.NewString}
}

// Register creates the account with a zero balance.
func (s *UserService) Register(ctx context.Context, email, password, fullName string) (core.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return core.User{}, err
	}
	if len(password) < minPasswordLength {
		return core.User{}, core.Invalid("password must be at least %d characters", minPasswordLength)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return core.User{}, fmt.Errorf("register: %w", err)
	}

	now := s.now()
	u := core.User{
		ID:           s.newID(),
		Email:        email,
		PasswordHash: hash,
		FullName:     strings.TrimSpace(fullName),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = s.store.WithinTx(ctx, func(tx ledger.Tx) error {
		return tx.InsertUser(ctx, u)
	})
	if err != nil {
		if errors.Is(err, core.ErrConflict) {
			return core.User{}, fmt.Errorf("email already registered: %w", core.ErrConflict)
		}
		return core.User{}, fmt.Errorf("register: %w", err)
	}

	slog.InfoContext(ctx, "User registered", "user_id", u.ID)
	return u, nil
}

// Authenticate returns ErrUnauthorized for unknown emails and wrong passwords alike.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (core.User, error) {
	u, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return core.User{}, fmt.Errorf("invalid credentials: %w", core.ErrUnauthorized)
		}
		return core.User{}, fmt.Errorf("authenticate: %w", err)
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		return core.User{}, fmt.Errorf("invalid credentials: %w", core.ErrUnauthorized)
	}
	return u, nil
}

func (s *UserService) GetProfile(ctx context.Context, userID string) (core.User, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return core.User{}, fmt.Errorf("get profile: %w", err)
	}
	return u, nil
}

// UpdateProfile changes email and full name. A taken email yields ErrConflict.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, p ProfilePatch) (core.User, error) {
	var updated core.User
	err := s.store.WithinTx(ctx, func(tx ledger.Tx) error {
		u, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if p.Email != nil {
			email, err := normalizeEmail(*p.Email)
			if err != nil {
				return err
			}
			u.Email = email
		}
		if p.FullName != nil {
			u.FullName = strings.TrimSpace(*p.FullName)
		}
		u.UpdatedAt = s.now()
		if err := tx.UpdateUser(ctx, u); err != nil {
			return err
		}
		updated = u
		return nil
	})
	if err != nil {
		if errors.Is(err, core.ErrConflict) {
			return core.User{}, fmt.Errorf("email already registered: %w", core.ErrConflict)
		}
		return core.User{}, fmt.Errorf("update profile: %w", err)
	}

	slog.InfoContext(ctx, "User profile updated", "user_id", userID)
	return updated, nil
}

// DeleteUser removes the account together with its transactions, tags,
// geopoints, budgets and periodic transactions.
func (s *UserService) DeleteUser(ctx context.Context, userID string) error {
	err := s.store.WithinTx(ctx, func(tx ledger.Tx) error {
		return tx.DeleteUser(ctx, userID)
	})
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}

	slog.InfoContext(ctx, "User deleted", "user_id", userID)
	return nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return "", core.Invalid("invalid email address")
	}
	return email, nil
}
