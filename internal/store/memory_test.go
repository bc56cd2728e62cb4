package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/natours/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAccount(email string) types.Account {
	return types.Account{
		Name:         "Jane",
		Email:        email,
		PasswordHash: "$2a$04$hash",
	}
}

func ptr(s string) *string { return &s }

func TestMemoryCreateAppliesDefaults(t *testing.T) {
	repo := NewMemoryAccountRepository()
	ctx := context.Background()

	created, err := repo.Create(ctx, newAccount("  Jane@X.com "))
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "jane@x.com", created.Email)
	assert.Equal(t, types.DefaultRole, created.Role)
	assert.Equal(t, types.DefaultPhoto, created.Photo)
	assert.True(t, created.Active)
	assert.Nil(t, created.PasswordChangedAt)

	found, err := repo.FindByEmail(ctx, "JANE@x.com", false)
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
}

func TestMemoryCreateValidates(t *testing.T) {
	repo := NewMemoryAccountRepository()
	ctx := context.Background()

	bad := newAccount("not-an-email")
	_, err := repo.Create(ctx, bad)
	assert.ErrorIs(t, err, ErrInvalidRecord)

	noHash := newAccount("a@x.com")
	noHash.PasswordHash = ""
	_, err = repo.Create(ctx, noHash)
	assert.ErrorIs(t, err, ErrInvalidRecord)

	badRole := newAccount("b@x.com")
	badRole.Role = "root"
	_, err = repo.Create(ctx, badRole)
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestMemoryEmailUniqueAcrossInactive(t *testing.T) {
	repo := NewMemoryAccountRepository()
	ctx := context.Background()

	created, err := repo.Create(ctx, newAccount("jane@x.com"))
	require.NoError(t, err)
	require.NoError(t, repo.Deactivate(ctx, created.ID))
	assert.ErrorIs(t, repo.Deactivate(ctx, created.ID), ErrNotFound)

	_, err = repo.Create(ctx, newAccount("JANE@x.com"))
	assert.ErrorIs(t, err, ErrDuplicateKey)

	_, err = repo.FindByEmail(ctx, "jane@x.com", false)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.FindByID(ctx, created.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	inactive, err := repo.FindByEmail(ctx, "jane@x.com", true)
	require.NoError(t, err)
	assert.False(t, inactive.Active)
}

func TestMemoryUpdateProfile(t *testing.T) {
	repo := NewMemoryAccountRepository()
	ctx := context.Background()

	_, err := repo.Create(ctx, newAccount("a@x.com"))
	require.NoError(t, err)
	b, err := repo.Create(ctx, newAccount("b@x.com"))
	require.NoError(t, err)

	name, email, photo := "  Bea ", "B.New@X.com", "users/b.png"
	updated, previous, err := repo.UpdateProfile(ctx, b.ID, ProfileChanges{Name: &name, Email: &email, Photo: &photo})
	require.NoError(t, err)
	assert.Equal(t, "Bea", updated.Name)
	assert.Equal(t, "b.new@x.com", updated.Email)
	assert.Equal(t, "users/b.png", updated.Photo)
	assert.Equal(t, types.DefaultPhoto, previous)
	assert.Equal(t, b.PasswordHash, updated.PasswordHash)

	taken := "A@x.com"
	_, _, err = repo.UpdateProfile(ctx, b.ID, ProfileChanges{Email: &taken})
	assert.ErrorIs(t, err, ErrDuplicateKey)

	for _, bad := range []ProfileChanges{
		{Name: ptr("")},
		{Name: ptr(strings.Repeat("x", 101))},
		{Email: ptr("not-an-email")},
	} {
		_, _, err = repo.UpdateProfile(ctx, b.ID, bad)
		assert.ErrorIs(t, err, ErrInvalidRecord)
	}

	_, _, err = repo.UpdateProfile(ctx, "missing", ProfileChanges{Name: &name})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryPasswordReset(t *testing.T) {
	repo := NewMemoryAccountRepository()
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	created, err := repo.Create(ctx, newAccount("jane@x.com"))
	require.NoError(t, err)

	_, err = repo.SetPasswordReset(ctx, created.ID, "", now)
	assert.ErrorIs(t, err, ErrInvalidRecord)

	stored, err := repo.SetPasswordReset(ctx, created.ID, "abc", now.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "abc", stored.PasswordResetToken)

	found, err := repo.FindByResetHash(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	_, err = repo.FindByResetHash(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, repo.ClearPasswordReset(ctx, created.ID, "other"))
	_, err = repo.FindByResetHash(ctx, "abc")
	require.NoError(t, err, "a different token leaves the stored one alone")

	_, err = repo.ConsumePasswordReset(ctx, "abc", "$2a$04$new", now, now.Add(10*time.Minute))
	assert.ErrorIs(t, err, ErrNotFound, "expired tokens cannot be consumed")

	consumed, err := repo.ConsumePasswordReset(ctx, "abc", "$2a$04$new", now, now)
	require.NoError(t, err)
	assert.Equal(t, "$2a$04$new", consumed.PasswordHash)
	assert.Empty(t, consumed.PasswordResetToken)
	assert.Nil(t, consumed.PasswordResetExpires)
	require.NotNil(t, consumed.PasswordChangedAt)

	_, err = repo.ConsumePasswordReset(ctx, "abc", "$2a$04$again", now, now)
	assert.ErrorIs(t, err, ErrNotFound, "tokens are single use")

	_, err = repo.SetPasswordReset(ctx, created.ID, "def", now.Add(time.Minute))
	require.NoError(t, err)
	require.NoError(t, repo.ClearPasswordReset(ctx, created.ID, "def"))
	_, err = repo.FindByResetHash(ctx, "def")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemorySetPasswordComparesHash(t *testing.T) {
	repo := NewMemoryAccountRepository()
	ctx := context.Background()
	changed := time.Unix(1_700_000_000, 0)

	created, err := repo.Create(ctx, newAccount("jane@x.com"))
	require.NoError(t, err)
	_, err = repo.SetPasswordReset(ctx, created.ID, "abc", changed.Add(time.Minute))
	require.NoError(t, err)

	updated, err := repo.SetPassword(ctx, created.ID, created.PasswordHash, "$2a$04$new", changed)
	require.NoError(t, err)
	assert.Equal(t, "$2a$04$new", updated.PasswordHash)
	assert.Empty(t, updated.PasswordResetToken, "a password change drops outstanding reset tokens")

	_, err = repo.SetPassword(ctx, created.ID, created.PasswordHash, "$2a$04$stale", changed)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = repo.SetPassword(ctx, "missing", "x", "$2a$04$new", changed)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.SetPassword(ctx, created.ID, "$2a$04$new", "", changed)
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestMemoryReturnsCopies(t *testing.T) {
	repo := NewMemoryAccountRepository()
	ctx := context.Background()

	created, err := repo.Create(ctx, newAccount("jane@x.com"))
	require.NoError(t, err)
	updated, err := repo.SetPassword(ctx, created.ID, created.PasswordHash, created.PasswordHash, time.Unix(1_700_000_000, 0))
	require.NoError(t, err)

	*updated.PasswordChangedAt = updated.PasswordChangedAt.Add(time.Hour)

	found, err := repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, found.PasswordChangedAt)
	assert.Equal(t, int64(1_700_000_000), found.PasswordChangedAt.Unix())
}

func TestMemoryList(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	tick := 0
	repo := NewMemoryAccountRepository().WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})
	ctx := context.Background()

	for _, email := range []string{"a@x.com", "b@x.com", "c@x.com"} {
		_, err := repo.Create(ctx, newAccount(email))
		require.NoError(t, err)
	}

	page, total, err := repo.List(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 1)
	assert.Equal(t, "b@x.com", page[0].Email)

	page, _, err = repo.List(ctx, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, page)
}
