// Package links issues short-lived signed download links for archives so
// a run id alone is not enough to fetch someone else's files.
package links

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultTTL = 60 * time.Minute
	issuer     = "scriptgen"
)

var (
	ErrInvalidLink = errors.New("invalid download link")
	ErrLinkExpired = errors.New("download link expired")
)

type Claims struct {
	RunID string `json:"run_id"`
	jwt.RegisteredClaims
}

// Signer signs and verifies archive download tokens.
type Signer struct {
	secret  []byte
	ttl     time.Duration
	baseURL string
	now     func() time.Time
}

// NewSigner creates a signer; baseURL prefixes generated links and may be
// empty for relative links.
func NewSigner(secret string, ttl time.Duration, baseURL string) *Signer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Signer{secret: []byte(secret), ttl: ttl, baseURL: baseURL, now: time.Now}
}

// Sign returns a token for runID and its expiry.
func (s *Signer) Sign(runID string) (string, time.Time, error) {
	now := s.now()
	expires := now.Add(s.ttl)
	claims := &Claims{
		RunID: runID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   runID,
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign link: %w", err)
	}
	return token, expires, nil
}

// URL builds the archive download link for runID. Signing failures fall
// back to the unsigned path, which Verify will reject.
func (s *Signer) URL(runID string) string {
	path := s.baseURL + "/api/v1/download/file/" + url.PathEscape(runID)
	token, _, err := s.Sign(runID)
	if err != nil {
		return path
	}
	return path + "?token=" + url.QueryEscape(token)
}

// Verify checks that token is valid, unexpired and issued for runID.
func (s *Signer) Verify(token, runID string) error {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidLink
		}
		return s.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrLinkExpired
		}
		return ErrInvalidLink
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.RunID != runID {
		return ErrInvalidLink
	}
	return nil
}
