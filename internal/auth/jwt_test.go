package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJWTGenerateValidate(t *testing.T) {
	manager := NewJWTManager("secret", time.Hour, "entrant")

	token, err := manager.Generate("user-1", "organizer")
	require.NoError(t, err)

	claims, err := manager.Validate(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, "organizer", claims.Role)
	require.Equal(t, "entrant", claims.Issuer)
}

func TestJWTGenerateRequiresSubjectAndRole(t *testing.T) {
	manager := NewJWTManager("secret", time.Hour, "entrant")

	_, err := manager.Generate("", "organizer")
	require.ErrorIs(t, err, ErrInvalidToken)
	_, err = manager.Generate("user-1", "")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTValidateRejections(t *testing.T) {
	manager := NewJWTManager("secret", time.Hour, "entrant")

	_, err := manager.Validate("")
	require.ErrorIs(t, err, ErrMissingToken)

	// Wrong signing secret.
	forged, err := NewJWTManager("other-secret", time.Hour, "entrant").Generate("user-1", "admin")
	require.NoError(t, err)
	_, err = manager.Validate(forged)
	require.ErrorIs(t, err, ErrInvalidToken)

	// Right secret, wrong issuer.
	foreign, err := NewJWTManager("secret", time.Hour, "someone-else").Generate("user-1", "admin")
	require.NoError(t, err)
	_, err = manager.Validate(foreign)
	require.ErrorIs(t, err, ErrInvalidToken)

	// Expired.
	stale, err := NewJWTManager("secret", -time.Minute, "entrant").Generate("user-1", "admin")
	require.NoError(t, err)
	_, err = manager.Validate(stale)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenFromHeader(t *testing.T) {
	_, err := TokenFromHeader("nope")
	require.ErrorIs(t, err, ErrMissingToken)

	_, err = TokenFromHeader("Basic dXNlcg==")
	require.ErrorIs(t, err, ErrMissingToken)

	token, err := TokenFromHeader("Bearer abc.def.ghi")
	require.NoError(t, err)
	require.Equal(t, "abc.def.ghi", token)
}
