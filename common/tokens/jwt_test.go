package tokens

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigner_RoundTrip(t *testing.T) {
	s := NewSigner("secret", "bugtracker")

	token, err := s.Generate("u1", "ada", []string{RoleDeveloper}, time.Minute)
	require.NoError(t, err)

	claims, err := s.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "ada", claims.Username)
	assert.Equal(t, RoleDeveloper, claims.PrimaryRole())
	assert.True(t, claims.HasAnyRole(RoleAdmin, RoleDeveloper))
	assert.False(t, claims.HasAnyRole(RoleAdmin))
}

func TestSigner_Rejects(t *testing.T) {
	s := NewSigner("secret", "bugtracker")

	expired := NewSigner("secret", "bugtracker")
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, err := expired.Generate("u1", "ada", nil, time.Minute)
	require.NoError(t, err)

	other, err := NewSigner("other", "bugtracker").Generate("u1", "ada", nil, time.Minute)
	require.NoError(t, err)

	wrongIssuer, err := NewSigner("secret", "elsewhere").Generate("u1", "ada", nil, time.Minute)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: "u1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]string{
		"expired":      old,
		"wrong secret": other,
		"wrong issuer": wrongIssuer,
		"alg none":     none,
		"garbage":      "not-a-token",
	}
	for name, tok := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := s.Validate(tok)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestSigner_MissingSecret(t *testing.T) {
	s := NewSigner("", "")
	_, err := s.Generate("u1", "ada", nil, time.Minute)
	assert.ErrorIs(t, err, ErrMissingKey)
	_, err = s.Validate("x")
	assert.ErrorIs(t, err, ErrMissingKey)
}
