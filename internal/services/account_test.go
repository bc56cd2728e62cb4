package services_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/natours/apiserver/internal/services"
	"github.com/natours/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestUpdateProfile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	signup := env.signup(t, "Jane", "jane@x.com", "password1")

	view, err := env.accounts.UpdateProfile(ctx, signup.Account.ID, services.ProfileUpdate{
		Name:  ptr("Jane Doe"),
		Email: ptr("Jane.Doe@X.com"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", view.Name)
	assert.Equal(t, "jane.doe@x.com", view.Email)
	assert.Equal(t, types.DefaultPhoto, view.Photo)

	_, err = env.sessions.Login(ctx, "jane.doe@x.com", "password1")
	assert.NoError(t, err, "profile updates keep the password")
}

func TestUpdateProfileRejectsInvalidFields(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signup(t, "Other", "other@x.com", "password1")
	signup := env.signup(t, "Jane", "jane@x.com", "password1")

	_, err := env.accounts.UpdateProfile(ctx, signup.Account.ID, services.ProfileUpdate{Email: ptr("not-an-email")})
	assert.ErrorIs(t, err, services.ErrValidation)

	_, err = env.accounts.UpdateProfile(ctx, signup.Account.ID, services.ProfileUpdate{Email: ptr("other@x.com")})
	assert.ErrorIs(t, err, services.ErrDuplicateKey)

	view, err := env.accounts.Get(ctx, signup.Account.ID)
	require.NoError(t, err)
	assert.Equal(t, "jane@x.com", view.Email)
}

func TestUpdateProfilePhoto(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	signup := env.signup(t, "Jane", "jane@x.com", "password1")

	view, err := env.accounts.UpdateProfile(ctx, signup.Account.ID, services.ProfileUpdate{
		Photo: &services.PhotoUpload{
			Filename:    "me.JPG",
			ContentType: "image/jpeg",
			Size:        4,
			Body:        strings.NewReader("jpeg"),
		},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(view.Photo, "users/user-"+signup.Account.ID+"-"))
	assert.True(t, strings.HasSuffix(view.Photo, ".jpg"))
	assert.Equal(t, []byte("jpeg"), env.photos.objects[view.Photo])

	env.clock.Advance(time.Second)
	first := view.Photo
	view, err = env.accounts.UpdateProfile(ctx, signup.Account.ID, services.ProfileUpdate{
		Photo: &services.PhotoUpload{Filename: "me.png", ContentType: "image/png", Size: 3, Body: strings.NewReader("png")},
	})
	require.NoError(t, err)
	assert.True(t, env.photos.has(view.Photo))
	assert.False(t, env.photos.has(first), "replaced photo is removed")

	_, err = env.accounts.UpdateProfile(ctx, signup.Account.ID, services.ProfileUpdate{
		Photo: &services.PhotoUpload{Filename: "notes.txt", ContentType: "text/plain", Body: strings.NewReader("x")},
	})
	assert.ErrorIs(t, err, services.ErrValidation)

	env.photos.err = errors.New("bucket unavailable")
	_, err = env.accounts.UpdateProfile(ctx, signup.Account.ID, services.ProfileUpdate{
		Photo: &services.PhotoUpload{Filename: "me.png", ContentType: "image/png", Body: strings.NewReader("png")},
	})
	require.Error(t, err)
	assert.False(t, errors.Is(err, services.ErrValidation))
}

func TestUpdateProfilePhotoDisabled(t *testing.T) {
	env := newTestEnv(t)
	signup := env.signup(t, "Jane", "jane@x.com", "password1")

	accounts := services.NewAccountService(env.repo, nil, nil)
	_, err := accounts.UpdateProfile(context.Background(), signup.Account.ID, services.ProfileUpdate{
		Photo: &services.PhotoUpload{Filename: "me.png", ContentType: "image/png", Body: strings.NewReader("png")},
	})
	assert.ErrorIs(t, err, services.ErrValidation)
}

func TestDeactivate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	signup := env.signup(t, "Jane", "jane@x.com", "password1")

	require.NoError(t, env.accounts.Deactivate(ctx, signup.Account.ID))

	_, err := env.accounts.Get(ctx, signup.Account.ID)
	assert.ErrorIs(t, err, services.ErrUnauthenticated)

	err = env.accounts.Deactivate(ctx, signup.Account.ID)
	assert.ErrorIs(t, err, services.ErrUnauthenticated)

	_, err = env.sessions.Signup(ctx, services.SignupInput{
		Name: "Jane", Email: "jane@x.com", Password: "password1", PasswordConfirm: "password1",
	}, nil)
	assert.ErrorIs(t, err, services.ErrDuplicateKey, "a deactivated account keeps its email")
}

func TestListAccounts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.signup(t, "A", "a@x.com", "password1")
	second := env.signup(t, "B", "b@x.com", "password1")
	third := env.signup(t, "C", "c@x.com", "password1")
	require.NoError(t, env.accounts.Deactivate(ctx, third.Account.ID))

	views, total, err := env.accounts.List(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, views, 2)

	ids := []string{views[0].ID, views[1].ID}
	assert.ElementsMatch(t, []string{first.Account.ID, second.Account.ID}, ids)

	views, total, err = env.accounts.List(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, views, 1)
}
