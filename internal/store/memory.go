package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/natours/apiserver/types"
)

// MemoryAccountRepository keeps accounts in process memory. It honours the
// same contract as AccountRepository and serves DB_DRIVER=memory and tests.
type MemoryAccountRepository struct {
	mu       sync.RWMutex
	accounts map[string]types.Account
	now      func() time.Time
}

func NewMemoryAccountRepository() *MemoryAccountRepository {
	return &MemoryAccountRepository{
		accounts: make(map[string]types.Account),
		now:      time.Now,
	}
}

// WithClock makes the repository stamp records using now.
func (r *MemoryAccountRepository) WithClock(now func() time.Time) *MemoryAccountRepository {
	r.now = now
	return r
}

func (r *MemoryAccountRepository) FindByID(ctx context.Context, id string) (types.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.accounts[id]
	if !ok || !account.Active {
		return types.Account{}, ErrNotFound
	}
	return cloneAccount(account), nil
}

func (r *MemoryAccountRepository) FindByEmail(ctx context.Context, email string, includeInactive bool) (types.Account, error) {
	email = NormalizeEmail(email)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, account := range r.accounts {
		if account.Email == email && (account.Active || includeInactive) {
			return cloneAccount(account), nil
		}
	}
	return types.Account{}, ErrNotFound
}

func (r *MemoryAccountRepository) FindByResetHash(ctx context.Context, hash string) (types.Account, error) {
	if hash == "" {
		return types.Account{}, ErrNotFound
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, account := range r.accounts {
		if account.Active && account.PasswordResetToken == hash {
			return cloneAccount(account), nil
		}
	}
	return types.Account{}, ErrNotFound
}

func (r *MemoryAccountRepository) List(ctx context.Context, offset, limit int) ([]types.Account, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	r.mu.RLock()
	active := make([]types.Account, 0, len(r.accounts))
	for _, account := range r.accounts {
		if account.Active {
			active = append(active, cloneAccount(account))
		}
	}
	r.mu.RUnlock()

	sort.Slice(active, func(i, j int) bool {
		if active[i].CreatedAt.Equal(active[j].CreatedAt) {
			return active[i].ID < active[j].ID
		}
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})

	total := len(active)
	if offset >= total {
		return []types.Account{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return active[offset:end], total, nil
}

func (r *MemoryAccountRepository) Create(ctx context.Context, account types.Account) (types.Account, error) {
	normalizeAccount(&account)
	account.ID = uuid.NewString()
	account.Active = true
	if err := ValidateAccount(account); err != nil {
		return types.Account{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.emailTaken(account.Email, "") {
		return types.Account{}, ErrDuplicateKey
	}
	now := r.now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now
	r.accounts[account.ID] = cloneAccount(account)
	return account, nil
}

func (r *MemoryAccountRepository) SetPasswordReset(ctx context.Context, id, hash string, expires time.Time) (types.Account, error) {
	if hash == "" {
		return types.Account{}, fmt.Errorf("%w: reset token and expiry must be set together", ErrInvalidRecord)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[id]
	if !ok || !account.Active {
		return types.Account{}, ErrNotFound
	}
	for otherID, other := range r.accounts {
		if otherID != id && other.PasswordResetToken == hash {
			return types.Account{}, ErrDuplicateKey
		}
	}
	account.PasswordResetToken = hash
	account.PasswordResetExpires = &expires
	return r.save(account), nil
}

func (r *MemoryAccountRepository) ClearPasswordReset(ctx context.Context, id, hash string) error {
	if hash == "" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[id]
	if !ok || account.PasswordResetToken != hash {
		return nil
	}
	account.ClearPasswordReset()
	r.save(account)
	return nil
}

func (r *MemoryAccountRepository) SetPassword(ctx context.Context, id, currentHash, newHash string, changedAt time.Time) (types.Account, error) {
	if newHash == "" {
		return types.Account{}, fmt.Errorf("%w: passwordhash is required", ErrInvalidRecord)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[id]
	if !ok || !account.Active {
		return types.Account{}, ErrNotFound
	}
	if account.PasswordHash != currentHash {
		return types.Account{}, ErrConflict
	}
	account.PasswordHash = newHash
	account.PasswordChangedAt = &changedAt
	account.ClearPasswordReset()
	return r.save(account), nil
}

func (r *MemoryAccountRepository) ConsumePasswordReset(ctx context.Context, resetHash, newHash string, changedAt, now time.Time) (types.Account, error) {
	if resetHash == "" {
		return types.Account{}, ErrNotFound
	}
	if newHash == "" {
		return types.Account{}, fmt.Errorf("%w: passwordhash is required", ErrInvalidRecord)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, account := range r.accounts {
		if !account.Active || account.PasswordResetToken != resetHash {
			continue
		}
		if account.PasswordResetExpires == nil || !account.PasswordResetExpires.After(now) {
			return types.Account{}, ErrNotFound
		}
		account.PasswordHash = newHash
		account.PasswordChangedAt = &changedAt
		account.ClearPasswordReset()
		return r.save(account), nil
	}
	return types.Account{}, ErrNotFound
}

func (r *MemoryAccountRepository) UpdateProfile(ctx context.Context, id string, changes ProfileChanges) (types.Account, string, error) {
	if err := prepareProfile(&changes); err != nil {
		return types.Account{}, "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[id]
	if !ok || !account.Active {
		return types.Account{}, "", ErrNotFound
	}
	previousPhoto := account.Photo
	if changes.Name != nil {
		account.Name = *changes.Name
	}
	if changes.Email != nil {
		if r.emailTaken(*changes.Email, id) {
			return types.Account{}, "", ErrDuplicateKey
		}
		account.Email = *changes.Email
	}
	if changes.Photo != nil {
		account.Photo = *changes.Photo
	}
	return r.save(account), previousPhoto, nil
}

func (r *MemoryAccountRepository) Deactivate(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[id]
	if !ok || !account.Active {
		return ErrNotFound
	}
	account.Active = false
	r.save(account)
	return nil
}

// save stamps and stores account and returns a copy. It must be called with
// r.mu held.
func (r *MemoryAccountRepository) save(account types.Account) types.Account {
	account.UpdatedAt = r.now().UTC()
	r.accounts[account.ID] = cloneAccount(account)
	return cloneAccount(account)
}

// emailTaken must be called with r.mu held.
func (r *MemoryAccountRepository) emailTaken(email, exceptID string) bool {
	for id, account := range r.accounts {
		if id != exceptID && account.Email == email {
			return true
		}
	}
	return false
}

func cloneAccount(account types.Account) types.Account {
	if account.PasswordChangedAt != nil {
		changed := *account.PasswordChangedAt
		account.PasswordChangedAt = &changed
	}
	if account.PasswordResetExpires != nil {
		expires := *account.PasswordResetExpires
		account.PasswordResetExpires = &expires
	}
	return account
}
