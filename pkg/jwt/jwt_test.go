package jwt

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	m := NewManager("secret", "smile-api", time.Hour)
	userID := uuid.New()

	token, err := m.GenerateToken(userID, "ana@smile.local", "Ana", "v1")
	require.NoError(t, err)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "v1", claims.TokenVersion)
	assert.Equal(t, "smile-api", claims.Issuer)
}

func TestValidateRejectsForeignSecret(t *testing.T) {
	token, err := NewManager("one", "smile-api", time.Hour).GenerateToken(uuid.New(), "a@b.c", "A", "v1")
	require.NoError(t, err)

	_, err = NewManager("two", "smile-api", time.Hour).ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsExpired(t *testing.T) {
	m := NewManager("secret", "smile-api", time.Minute)
	issued := time.Now().Add(-time.Hour)
	m.now = func() time.Time { return issued }
	token, err := m.GenerateToken(uuid.New(), "a@b.c", "A", "v1")
	require.NoError(t, err)

	m.now = time.Now
	_, err = m.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateMissing(t *testing.T) {
	_, err := NewManager("secret", "smile-api", time.Hour).ValidateToken("")
	assert.ErrorIs(t, err, ErrMissingToken)
}
