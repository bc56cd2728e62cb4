package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/natours/apiserver/internal/password"
	"github.com/natours/apiserver/internal/resettoken"
	"github.com/natours/apiserver/internal/store"
)

// passwordChangeGuard backdates PasswordChangedAt so a session issued in the
// same second as the change is never rejected.
const passwordChangeGuard = time.Second

// Notifier delivers a message out of band.
type Notifier interface {
	Send(ctx context.Context, destination, subject, body string) error
}

// PasswordManager drives forgot, reset and change password flows.
type PasswordManager struct {
	repo     AccountRepository
	hasher   *password.Hasher
	resets   *resettoken.Generator
	notifier Notifier
	sessions *SessionIssuer
	now      func() time.Time
	logger   *slog.Logger
}

func NewPasswordManager(
	repo AccountRepository,
	hasher *password.Hasher,
	resets *resettoken.Generator,
	notifier Notifier,
	sessions *SessionIssuer,
	now func() time.Time,
	logger *slog.Logger,
) *PasswordManager {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PasswordManager{
		repo:     repo,
		hasher:   hasher,
		resets:   resets,
		notifier: notifier,
		sessions: sessions,
		now:      now,
		logger:   logger,
	}
}

// ForgotPassword stores a reset token hash on the account and mails the
// plaintext as resetURLBase/<token>. If delivery fails the stored hash is
// cleared again before ErrDeliveryFailed is returned.
func (m *PasswordManager) ForgotPassword(ctx context.Context, email, resetURLBase string) error {
	email = store.NormalizeEmail(email)
	if email == "" {
		return invalid("please provide your email")
	}

	account, err := m.repo.FindByEmail(ctx, email, false)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrAccountNotFound
		}
		return err
	}

	tok, err := m.resets.Generate()
	if err != nil {
		return fmt.Errorf("generate reset token: %w", err)
	}
	saved, err := m.repo.SetPasswordReset(ctx, account.ID, tok.Hash, tok.ExpiresAt)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("store reset token: %w", err)
	}

	resetURL := strings.TrimRight(resetURLBase, "/") + "/" + tok.Plaintext
	body := fmt.Sprintf("Forgot your password? Submit a PATCH request with your new password and "+
		"passwordConfirm to: %s.\nIf you didn't forget your password, please ignore this email!", resetURL)

	subject := fmt.Sprintf("Your password reset token (valid for %d minutes)", int(m.resets.TTL().Minutes()))
	if err := m.notifier.Send(ctx, saved.Email, subject, body); err != nil {
		m.logger.ErrorContext(ctx, "send reset mail", slog.String("account_id", saved.ID), slog.Any("error", err))

		if rbErr := m.repo.ClearPasswordReset(context.WithoutCancel(ctx), saved.ID, tok.Hash); rbErr != nil {
			m.logger.ErrorContext(ctx, "roll back reset token", slog.String("account_id", saved.ID), slog.Any("error", rbErr))
			return wrapError(ErrDeliveryFailed, ErrDeliveryFailed.Error(), errors.Join(err, rbErr))
		}
		return wrapError(ErrDeliveryFailed, ErrDeliveryFailed.Error(), err)
	}

	m.logger.InfoContext(ctx, "reset token sent", slog.String("account_id", saved.ID))
	return nil
}

// ResetPassword consumes a reset token, sets the new password and issues a
// fresh session.
func (m *PasswordManager) ResetPassword(ctx context.Context, plaintext, newPassword, newPasswordConfirm string) (Session, error) {
	plaintext = strings.TrimSpace(plaintext)
	if plaintext == "" {
		return Session{}, ErrTokenInvalidOrExpired
	}

	account, err := m.repo.FindByResetHash(ctx, resettoken.Hash(plaintext))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, ErrTokenInvalidOrExpired
		}
		return Session{}, err
	}

	now := m.now()
	if account.PasswordResetExpires == nil || !account.PasswordResetExpires.After(now) {
		if err := m.repo.ClearPasswordReset(ctx, account.ID, account.PasswordResetToken); err != nil {
			m.logger.WarnContext(ctx, "clear expired reset token", slog.String("account_id", account.ID), slog.Any("error", err))
		}
		return Session{}, ErrTokenInvalidOrExpired
	}

	if err := checkNewPassword(newPassword, newPasswordConfirm); err != nil {
		return Session{}, err
	}
	hashed, err := m.hasher.Hash(newPassword)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}

	saved, err := m.repo.ConsumePasswordReset(ctx, account.PasswordResetToken, hashed, now.Add(-passwordChangeGuard), now)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, ErrTokenInvalidOrExpired
		}
		return Session{}, storeError(err)
	}
	m.logger.InfoContext(ctx, "password reset", slog.String("account_id", saved.ID))

	return m.sessions.IssueFor(saved)
}

// ChangePassword replaces the password of an authenticated account after
// checking the current one, then issues a fresh session. Sessions issued
// before the change stop working.
func (m *PasswordManager) ChangePassword(ctx context.Context, identity Identity, currentPassword, newPassword, newPasswordConfirm string) (Session, error) {
	account, err := m.repo.FindByID(ctx, identity.AccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, newError(ErrUnauthenticated, "the user belonging to this token no longer exists")
		}
		return Session{}, err
	}

	if currentPassword == "" || !m.hasher.Verify(currentPassword, account.PasswordHash) {
		return Session{}, newError(ErrInvalidCredentials, "your current password is wrong")
	}
	if err := checkNewPassword(newPassword, newPasswordConfirm); err != nil {
		return Session{}, err
	}
	hashed, err := m.hasher.Hash(newPassword)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}

	saved, err := m.repo.SetPassword(ctx, account.ID, account.PasswordHash, hashed, m.now().Add(-passwordChangeGuard))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrConflict):
			return Session{}, newError(ErrInvalidCredentials, "your current password is wrong")
		case errors.Is(err, store.ErrNotFound):
			return Session{}, newError(ErrUnauthenticated, "the user belonging to this token no longer exists")
		}
		return Session{}, storeError(err)
	}
	m.logger.InfoContext(ctx, "password changed", slog.String("account_id", saved.ID))

	return m.sessions.IssueFor(saved)
}
