package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func sign(t *testing.T, subject string, expires time.Time) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Email: "parent@example.com",
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})
	ss, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return ss
}

func TestParse(t *testing.T) {
	t.Parallel()

	expires := time.Now().Add(time.Hour).Truncate(time.Second)
	s, err := Parse(sign(t, "user-1", expires), "profile-1")
	require.NoError(t, err)
	require.Equal(t, "user-1", s.UserID)
	require.Equal(t, "profile-1", s.ProfileID)
	require.True(t, expires.Equal(s.ExpiresAt))
	require.NoError(t, s.Check())

	_, err = Parse("not-a-token", "profile-1")
	require.Error(t, err)
}

func TestParseEmptyToken(t *testing.T) {
	t.Parallel()

	s, err := Parse("", "profile-1")
	require.NoError(t, err)
	require.ErrorIs(t, s.Check(), ErrMissingToken)
}

func TestVerify(t *testing.T) {
	t.Parallel()

	token := sign(t, "user-1", time.Now().Add(time.Hour))

	s, err := Verify(token, secret)
	require.NoError(t, err)
	require.Equal(t, "user-1", s.UserID)

	_, err = Verify(token, "other-secret")
	require.Error(t, err)

	_, err = Verify(sign(t, "user-1", time.Now().Add(-time.Minute)), secret)
	require.ErrorIs(t, err, ErrExpired)
}

func TestNew(t *testing.T) {
	t.Parallel()

	token := sign(t, "user-1", time.Now().Add(time.Hour))

	s, err := New(Authorization(token), "profile-1", "")
	require.NoError(t, err)
	require.Equal(t, token, s.AccessToken)
	require.Equal(t, "user-1", s.UserID)
	require.Equal(t, "profile-1", s.ProfileID)

	s, err = New(token, "profile-1", secret)
	require.NoError(t, err)
	require.Equal(t, "user-1", s.UserID)
	require.Equal(t, "profile-1", s.ProfileID)
	require.NoError(t, s.Check())

	_, err = New(token, "profile-1", "other-secret")
	require.Error(t, err)

	// without a secret the signature is not checked
	s, err = New(token, "profile-1", "")
	require.NoError(t, err)
	require.Equal(t, "user-1", s.UserID)

	_, err = New(sign(t, "user-1", time.Now().Add(-time.Minute)), "profile-1", secret)
	require.ErrorIs(t, err, ErrExpired)

	s, err = New("", "profile-1", secret)
	require.NoError(t, err)
	require.ErrorIs(t, s.Check(), ErrMissingToken)
}

func TestCheckAt(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 11, 13, 10, 0, 0, 0, time.UTC)

	var nilSession *Session
	require.ErrorIs(t, nilSession.CheckAt(now), ErrMissingToken)
	require.ErrorIs(t, (&Session{AccessToken: "t"}).CheckAt(now), ErrMissingProfile)
	require.ErrorIs(t, (&Session{AccessToken: "t", ProfileID: "p", ExpiresAt: now}).CheckAt(now), ErrExpired)
	require.NoError(t, (&Session{AccessToken: "t", ProfileID: "p", ExpiresAt: now.Add(time.Second)}).CheckAt(now))
	require.NoError(t, (&Session{AccessToken: "t", ProfileID: "p"}).CheckAt(now))
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	require.Equal(t, "abc", BearerToken(Authorization("abc")))
	require.Equal(t, "abc", BearerToken("bearer abc"))
	require.Equal(t, "", BearerToken("Basic abc"))
	require.Equal(t, "", BearerToken(""))
}
