package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/natours/apiserver/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDisabled(t *testing.T) {
	s, err := New(context.Background(), config.StorageConfig{})
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	_, err := New(context.Background(), config.StorageConfig{Backend: "ftp"})
	assert.Error(t, err)

	_, err = New(context.Background(), config.StorageConfig{Backend: "minio"})
	assert.Error(t, err, "minio needs credentials")
}

func TestPutAndDelete(t *testing.T) {
	backend := NewMemoryBackend("photos")
	s := NewStorage(backend)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "users/a.jpg", strings.NewReader("jpeg"), 4, "image/jpeg"))
	data, contentType, ok := backend.Object("users/a.jpg")
	require.True(t, ok)
	assert.Equal(t, "jpeg", string(data))
	assert.Equal(t, "image/jpeg", contentType)

	require.NoError(t, s.Delete(ctx, "users/a.jpg"))
	_, _, ok = backend.Object("users/a.jpg")
	assert.False(t, ok)
	assert.ErrorIs(t, s.Delete(ctx, "users/a.jpg"), ErrObjectNotFound)
}

func TestPutLimits(t *testing.T) {
	backend := NewMemoryBackend("photos")
	s := NewStorage(backend)
	ctx := context.Background()

	err := s.Put(ctx, "users/big.jpg", strings.NewReader("x"), MaxObjectBytes+1, "image/jpeg")
	assert.ErrorIs(t, err, ErrTooLarge)

	big := strings.Repeat("x", MaxObjectBytes+10)
	err = s.Put(ctx, "users/unsized.jpg", strings.NewReader(big), -1, "image/jpeg")
	assert.ErrorIs(t, err, ErrTooLarge)
	_, _, ok := backend.Object("users/unsized.jpg")
	assert.False(t, ok)

	exact := strings.Repeat("x", MaxObjectBytes)
	require.NoError(t, s.Put(ctx, "users/exact.jpg", strings.NewReader(exact), -1, "image/jpeg"))
	data, _, ok := backend.Object("users/exact.jpg")
	require.True(t, ok)
	assert.Len(t, data, MaxObjectBytes)

	assert.Error(t, s.Put(ctx, " ", strings.NewReader("x"), 1, "image/jpeg"))
}
