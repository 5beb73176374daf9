package validators

import (
	"testing"

	apperrors "github.com/scriptgen/backend/internal/errors"
)

func TestRegistry_Validate(t *testing.T) {
	r := DefaultRegistry()

	tests := []struct {
		name           string
		url            string
		wantValid      bool
		wantSourceType SourceType
	}{
		{
			name:           "YouTube URL",
			url:            "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
			wantValid:      true,
			wantSourceType: SourceYouTube,
		},
		{
			name:           "Vimeo URL",
			url:            "https://vimeo.com/76979871",
			wantValid:      true,
			wantSourceType: SourceVimeo,
		},
		{
			name:           "YouTube playlist",
			url:            "https://www.youtube.com/playlist?list=PLtest",
			wantValid:      false,
			wantSourceType: SourceYouTube,
		},
		{
			name:           "unsupported URL",
			url:            "https://spotify.com/track/123",
			wantValid:      false,
			wantSourceType: SourceUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := r.Validate(tt.url)

			if result.Valid != tt.wantValid {
				t.Errorf("Validate(%q).Valid = %v, want %v", tt.url, result.Valid, tt.wantValid)
			}
			if result.SourceType != tt.wantSourceType {
				t.Errorf("Validate(%q).SourceType = %q, want %q", tt.url, result.SourceType, tt.wantSourceType)
			}
		})
	}
}

func TestRegistry_GetSupportedSources(t *testing.T) {
	r := DefaultRegistry()
	sources := r.GetSupportedSources()

	if len(sources) != 2 {
		t.Errorf("GetSupportedSources() returned %d sources, want 2", len(sources))
	}

	hasYouTube := false
	hasVimeo := false
	for _, s := range sources {
		if s == SourceYouTube {
			hasYouTube = true
		}
		if s == SourceVimeo {
			hasVimeo = true
		}
	}

	if !hasYouTube {
		t.Error("GetSupportedSources() missing YouTube")
	}
	if !hasVimeo {
		t.Error("GetSupportedSources() missing Vimeo")
	}
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	sources := r.GetSupportedSources()

	if len(sources) != 0 {
		t.Errorf("NewRegistry() should have 0 sources, got %d", len(sources))
	}
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	r.Register(NewYouTubeValidator())

	sources := r.GetSupportedSources()
	if len(sources) != 1 {
		t.Errorf("After Register(), should have 1 source, got %d", len(sources))
	}
	if sources[0] != SourceYouTube {
		t.Errorf("Registered source should be YouTube, got %q", sources[0])
	}
}

func TestRegistry_Check(t *testing.T) {
	r := DefaultRegistry()

	tests := []struct {
		name     string
		url      string
		wantCode string
	}{
		{"valid", "https://youtu.be/dQw4w9WgXcQ", ""},
		{"malformed id", "https://youtu.be/nope", apperrors.CodeValidationError},
		{"unknown host", "https://spotify.com/track/123", apperrors.CodeUnsupportedSource},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.Check(tt.url)
			if tt.wantCode == "" {
				if err != nil || !res.Valid {
					t.Fatalf("Check(%q) = %+v, %v", tt.url, res, err)
				}
				return
			}
			if !apperrors.HasCode(err, tt.wantCode) {
				t.Errorf("Check(%q) error = %v, want code %s", tt.url, err, tt.wantCode)
			}
			if !apperrors.IsClientError(err) {
				t.Errorf("Check(%q) should be a client error", tt.url)
			}
		})
	}
}
