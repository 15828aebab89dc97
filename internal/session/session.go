// Package session holds the signed-in identity every chat operation needs: the access
// token sent as a bearer credential and the active profile id.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken   = errors.New("session: missing access token")
	ErrMissingProfile = errors.New("session: missing profile id")
	ErrExpired        = errors.New("session: access token expired")
)

// Claims are the access token claims the client reads.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type Session struct {
	AccessToken string
	UserID      string
	ProfileID   string
	ExpiresAt   time.Time
}

// New builds the session for a configured token, which may also be given in its
// Authorization header form. With a secret the signature is verified; without one the
// claims are read as Parse does.
func New(token, profileID, secret string) (*Session, error) {
	if t := BearerToken(token); t != "" {
		token = t
	}
	if secret == "" || token == "" {
		return Parse(token, profileID)
	}

	s, err := Verify(token, secret)
	if err != nil {
		return nil, err
	}
	s.ProfileID = profileID
	return s, nil
}

// Parse reads the claims of token without checking its signature. The backend is the
// one that verifies it; the client only needs the subject and expiry.
func Parse(token, profileID string) (*Session, error) {
	s := &Session{AccessToken: token, ProfileID: profileID}
	if token == "" {
		return s, nil
	}

	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("session: parse token: %w", err)
	}
	s.fill(claims)
	return s, nil
}

// Verify parses token and checks its HS256 signature and expiry against secret.
func Verify(token, secret string) (*Session, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("session: verify token: %w", err)
	}
	if !parsed.Valid {
		return nil, errors.New("session: invalid token")
	}

	s := &Session{AccessToken: token}
	s.fill(claims)
	return s, nil
}

func (s *Session) fill(c *Claims) {
	s.UserID = c.Subject
	if c.ExpiresAt != nil {
		s.ExpiresAt = c.ExpiresAt.Time
	}
}

// Check reports whether the session can authorize chat calls right now.
func (s *Session) Check() error {
	return s.CheckAt(time.Now())
}

func (s *Session) CheckAt(now time.Time) error {
	switch {
	case s == nil || s.AccessToken == "":
		return ErrMissingToken
	case s.ProfileID == "":
		return ErrMissingProfile
	case !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt):
		return ErrExpired
	}
	return nil
}

// Authorization renders the bearer header value for token.
func Authorization(token string) string {
	return "Bearer " + token
}

// BearerToken extracts the token from an Authorization header value, "" when the
// header is not a bearer credential.
func BearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
