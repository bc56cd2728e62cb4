package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/natours/apiserver/internal/store"
	"github.com/natours/apiserver/types"
)

// AccountRepository defines persistence operations for accounts.
//
// Callers hash passwords before Create, SetPassword and ConsumePasswordReset.
// Every write touches only the fields it names, in one atomic step, so
// concurrent operations on the same account never undo each other.
// Implementations never return inactive accounts from FindByID,
// FindByResetHash or List.
type AccountRepository interface {
	FindByID(ctx context.Context, id string) (types.Account, error)
	FindByEmail(ctx context.Context, email string, includeInactive bool) (types.Account, error)
	FindByResetHash(ctx context.Context, hash string) (types.Account, error)
	List(ctx context.Context, offset, limit int) ([]types.Account, int, error)
	Create(ctx context.Context, account types.Account) (types.Account, error)
	SetPasswordReset(ctx context.Context, id, hash string, expires time.Time) (types.Account, error)
	ClearPasswordReset(ctx context.Context, id, hash string) error
	SetPassword(ctx context.Context, id, currentHash, newHash string, changedAt time.Time) (types.Account, error)
	ConsumePasswordReset(ctx context.Context, resetHash, newHash string, changedAt, now time.Time) (types.Account, error)
	UpdateProfile(ctx context.Context, id string, changes store.ProfileChanges) (types.Account, string, error)
	Deactivate(ctx context.Context, id string) error
}

// PhotoStore receives uploaded profile images.
type PhotoStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
}

// PhotoUpload is an image submitted with a profile update.
type PhotoUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// ProfileUpdate lists the self-service fields; nil means unchanged.
type ProfileUpdate struct {
	Name  *string
	Email *string
	Photo *PhotoUpload
}

// AccountService encapsulates self-service and admin account use-cases.
type AccountService struct {
	repo   AccountRepository
	photos PhotoStore
	now    func() time.Time
	logger *slog.Logger
}

// NewAccountService constructs an AccountService. photos may be nil, which
// disables photo uploads.
func NewAccountService(repo AccountRepository, photos PhotoStore, logger *slog.Logger) *AccountService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountService{repo: repo, photos: photos, now: time.Now, logger: logger}
}

// WithClock makes the service name uploads using now.
func (s *AccountService) WithClock(now func() time.Time) *AccountService {
	s.now = now
	return s
}

func (s *AccountService) Get(ctx context.Context, id string) (types.AccountView, error) {
	account, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.AccountView{}, newError(ErrUnauthenticated, "the user belonging to this token no longer exists")
		}
		return types.AccountView{}, err
	}
	return account.View(), nil
}

func (s *AccountService) List(ctx context.Context, offset, limit int) ([]types.AccountView, int, error) {
	accounts, total, err := s.repo.List(ctx, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	views := make([]types.AccountView, 0, len(accounts))
	for _, account := range accounts {
		views = append(views, account.View())
	}
	return views, total, nil
}

// UpdateProfile changes name, email or photo. It never touches credentials.
func (s *AccountService) UpdateProfile(ctx context.Context, id string, update ProfileUpdate) (types.AccountView, error) {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.AccountView{}, newError(ErrUnauthenticated, "the user belonging to this token no longer exists")
		}
		return types.AccountView{}, err
	}

	changes := store.ProfileChanges{Name: update.Name, Email: update.Email}
	if update.Photo != nil {
		key, err := s.storePhoto(ctx, id, *update.Photo)
		if err != nil {
			return types.AccountView{}, err
		}
		changes.Photo = &key
	}

	saved, previousPhoto, err := s.repo.UpdateProfile(ctx, id, changes)
	if err != nil {
		if changes.Photo != nil {
			s.removePhoto(ctx, *changes.Photo)
		}
		if errors.Is(err, store.ErrNotFound) {
			return types.AccountView{}, newError(ErrUnauthenticated, "the user belonging to this token no longer exists")
		}
		return types.AccountView{}, storeError(err)
	}
	if saved.Photo != previousPhoto {
		s.removePhoto(ctx, previousPhoto)
	}
	return saved.View(), nil
}

// Deactivate soft-deletes the account. Its email stays reserved.
func (s *AccountService) Deactivate(ctx context.Context, id string) error {
	if err := s.repo.Deactivate(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return newError(ErrUnauthenticated, "the user belonging to this token no longer exists")
		}
		return err
	}
	s.logger.InfoContext(ctx, "account deactivated", slog.String("account_id", id))
	return nil
}

func (s *AccountService) storePhoto(ctx context.Context, accountID string, photo PhotoUpload) (string, error) {
	if s.photos == nil {
		return "", invalid("photo uploads are not enabled")
	}
	if !strings.HasPrefix(photo.ContentType, "image/") {
		return "", invalid("not an image, please upload only images")
	}
	ext := strings.ToLower(path.Ext(photo.Filename))
	if ext == "" {
		ext = "." + strings.TrimPrefix(photo.ContentType, "image/")
	}
	key := fmt.Sprintf("users/user-%s-%d%s", accountID, s.now().Unix(), ext)
	if err := s.photos.Put(ctx, key, photo.Body, photo.Size, photo.ContentType); err != nil {
		return "", fmt.Errorf("store photo: %w", err)
	}
	return key, nil
}

// removePhoto drops an uploaded photo that no account points at any more.
func (s *AccountService) removePhoto(ctx context.Context, key string) {
	if s.photos == nil || key == "" || key == types.DefaultPhoto {
		return
	}
	if err := s.photos.Delete(ctx, key); err != nil {
		s.logger.WarnContext(ctx, "remove photo", slog.String("key", key), slog.Any("error", err))
	}
}
