package links

import (
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestSigner_RoundTrip(t *testing.T) {
	s := NewSigner("test-secret", time.Hour, "")
	token, expires, err := s.Sign("run-1")
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if time.Until(expires) <= 0 {
		t.Errorf("expiry should be in the future, got %v", expires)
	}
	if err := s.Verify(token, "run-1"); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
}

func TestSigner_Verify(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewSigner("test-secret", 10*time.Minute, "")
	s.now = func() time.Time { return now }

	token, _, err := s.Sign("run-1")
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	other := NewSigner("other-secret", 10*time.Minute, "")
	other.now = s.now
	forged, _, _ := other.Sign("run-1")

	tests := []struct {
		name    string
		token   string
		runID   string
		advance time.Duration
		want    error
	}{
		{"valid", token, "run-1", 0, nil},
		{"different run", token, "run-2", 0, ErrInvalidLink},
		{"expired", token, "run-1", 11 * time.Minute, ErrLinkExpired},
		{"wrong secret", forged, "run-1", 0, ErrInvalidLink},
		{"garbage", "not-a-token", "run-1", 0, ErrInvalidLink},
		{"empty", "", "run-1", 0, ErrInvalidLink},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s.now = func() time.Time { return now.Add(tt.advance) }
			err := s.Verify(tt.token, tt.runID)
			if !errors.Is(err, tt.want) {
				t.Errorf("Verify() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSigner_URL(t *testing.T) {
	s := NewSigner("test-secret", time.Hour, "https://api.example.com")
	link := s.URL("run-42")

	if !strings.HasPrefix(link, "https://api.example.com/api/v1/download/file/run-42?token=") {
		t.Fatalf("URL() = %s", link)
	}
	parsed, err := url.Parse(link)
	if err != nil {
		t.Fatalf("url.Parse() error = %v", err)
	}
	if err := s.Verify(parsed.Query().Get("token"), "run-42"); err != nil {
		t.Errorf("token from URL should verify: %v", err)
	}
}
