package db

import (
	"net/url"
	"testing"

	"github.com/natours/apiserver/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host:     "db.internal",
		Port:     5433,
		User:     "natours",
		Password: "p@ss word",
		DBName:   "natours_db",
	}

	parsed, err := url.Parse(DSN(cfg))
	require.NoError(t, err)
	assert.Equal(t, "postgres", parsed.Scheme)
	assert.Equal(t, "db.internal:5433", parsed.Host)
	assert.Equal(t, "/natours_db", parsed.Path)
	pass, _ := parsed.User.Password()
	assert.Equal(t, "p@ss word", pass)
	assert.Equal(t, "disable", parsed.Query().Get("sslmode"))

	cfg.UseSSL = true
	parsed, err = url.Parse(DSN(cfg))
	require.NoError(t, err)
	assert.Equal(t, "require", parsed.Query().Get("sslmode"))
}

func TestEmbeddedMigrations(t *testing.T) {
	entries, err := migrations.ReadDir("migrations")
	require.NoError(t, err)

	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	assert.Contains(t, names, "000001_create_accounts.up.sql")
	assert.Contains(t, names, "000001_create_accounts.down.sql")

	up, err := migrations.ReadFile("migrations/000001_create_accounts.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(up), "CREATE TABLE")
}
