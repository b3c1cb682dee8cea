package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Port)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 5*time.Minute, cfg.SessionIdleTimeout)
	assert.True(t, cfg.AutoMigrate)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
}

func TestDSN(t *testing.T) {
	cfg := &Config{DBHost: "db", DBUser: "smile", DBPassword: "pw", DBName: "smile", DBPort: "5432", DBSSLMode: "disable"}
	assert.Equal(t, "host=db user=smile password=pw dbname=smile port=5432 sslmode=disable TimeZone=UTC", cfg.DSN())

	cfg.DatabaseURL = "postgres://u:p@h/db"
	assert.Equal(t, "postgres://u:p@h/db", cfg.DSN())
}
