package ytdlp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kkdai/youtube/v2"

	"github.com/scriptgen/backend/internal/command"
)

type fakeRunner struct {
	calls [][]string
	run   func(args []string) (command.Result, error)
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (command.Result, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	return f.run(args)
}

func argValue(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func TestSelectFormat(t *testing.T) {
	tests := map[string]string{
		"best":  "bv*+ba/b",
		"":      "bv*+ba/b",
		"720p":  "bv*[height<=720]+ba/b[height<=720]",
		"480P":  "bv*[height<=480]+ba/b[height<=480]",
		"1440p": "b[ext=mp4]/b",
	}
	for in, want := range tests {
		if got := selectFormat(in); got != want {
			t.Errorf("selectFormat(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		stderr string
		want   error
	}{
		{"ERROR: [youtube] abc: Private video. Sign in", ErrVideoPrivate},
		{"ERROR: [youtube] abc: Video unavailable", ErrVideoUnavailable},
		{"ERROR: Sign in to confirm your age", ErrAgeRestricted},
		{"ERROR: Unsupported URL: https://example.com", ErrURLNotSupported},
		{"ERROR: Unable to download webpage: connection reset", ErrNetworkError},
		{"something odd", ErrDownloadFailed},
	}
	for _, tt := range tests {
		err := categorizeError("https://youtu.be/abc", errors.New("exit status 1"), tt.stderr)
		if !errors.Is(err, tt.want) {
			t.Errorf("categorizeError(%q) = %v, want %v", tt.stderr, err, tt.want)
		}
	}
}

func TestExtractMetadata(t *testing.T) {
	runner := &fakeRunner{run: func(args []string) (command.Result, error) {
		return command.Result{Stdout: `{"id":"abc","title":"A Talk","duration":125.6,"uploader":"Someone","thumbnails":[{"url":"t1"},{"url":"t2"}],"view_count":42}`}, nil
	}}
	svc := NewWithRunner(nil, runner)

	m, err := svc.ExtractMetadata(context.Background(), "https://www.youtube.com/watch?v=abc")
	if err != nil {
		t.Fatalf("ExtractMetadata() error = %v", err)
	}
	if m.Title != "A Talk" || m.DurationSeconds() != 126 || m.Channel != "Someone" || m.Thumbnail != "t2" {
		t.Errorf("unexpected metadata %+v", m)
	}
	if args := runner.calls[0]; args[0] != "yt-dlp" || args[1] != "--dump-json" {
		t.Errorf("unexpected invocation %v", args)
	}
}

func TestExtractMetadata_InvalidURL(t *testing.T) {
	svc := NewWithRunner(nil, &fakeRunner{run: func([]string) (command.Result, error) {
		t.Fatal("runner must not be called for invalid URLs")
		return command.Result{}, nil
	}})
	_, err := svc.ExtractMetadata(context.Background(), "ftp://example.com/x")
	if !errors.Is(err, ErrInvalidURL) {
		t.Errorf("error = %v, want ErrInvalidURL", err)
	}
}

func TestAcquireAudio_FallbackExtension(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{run: func(args []string) (command.Result, error) {
		out := argValue(args, "--output")
		path := strings.Replace(out, "%(ext)s", "m4a", 1)
		return command.Result{}, os.WriteFile(path, []byte("audio"), 0o644)
	}}
	svc := NewWithRunner(nil, runner)

	path, err := svc.AcquireAudio(context.Background(), "https://youtu.be/abc", dir, "run-1")
	if err != nil {
		t.Fatalf("AcquireAudio() error = %v", err)
	}
	if path != filepath.Join(dir, "run-1.m4a") {
		t.Errorf("path = %q", path)
	}
}

func TestAcquireAudio_PrintedPath(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{run: func(args []string) (command.Result, error) {
		path := filepath.Join(dir, "run-2.mp3")
		if err := os.WriteFile(path, []byte("audio"), 0o644); err != nil {
			return command.Result{}, err
		}
		return command.Result{Stdout: "[download] 100%\n" + path + "\n"}, nil
	}}
	svc := NewWithRunner(nil, runner)

	path, err := svc.AcquireAudio(context.Background(), "https://youtu.be/abc", dir, "run-2")
	if err != nil {
		t.Fatalf("AcquireAudio() error = %v", err)
	}
	if filepath.Base(path) != "run-2.mp3" {
		t.Errorf("path = %q", path)
	}
}

func TestAcquireVideo_NoOutput(t *testing.T) {
	runner := &fakeRunner{run: func(args []string) (command.Result, error) {
		if got := argValue(args, "-f"); got != "bv*[height<=720]+ba/b[height<=720]" {
			t.Errorf("format selector = %q", got)
		}
		return command.Result{}, nil
	}}
	svc := NewWithRunner(nil, runner)

	_, err := svc.AcquireVideo(context.Background(), "https://youtu.be/abc", "720p", t.TempDir(), "01_x")
	if !errors.Is(err, ErrDownloadFailed) {
		t.Errorf("error = %v, want ErrDownloadFailed", err)
	}
}

func TestAcquireVideo_ToolFailure(t *testing.T) {
	runner := &fakeRunner{run: func([]string) (command.Result, error) {
		return command.Result{Stderr: "ERROR: Video unavailable", ExitCode: 1}, errors.New("exit status 1")
	}}
	svc := NewWithRunner(nil, runner)

	_, err := svc.AcquireVideo(context.Background(), "https://youtu.be/abc", "best", t.TempDir(), "01_x")
	var dlErr *DownloadError
	if !errors.As(err, &dlErr) || !errors.Is(err, ErrVideoUnavailable) {
		t.Fatalf("error = %v, want DownloadError wrapping ErrVideoUnavailable", err)
	}
	if dlErr.Transient() {
		t.Error("unavailable video should not be transient")
	}
}

type stubVideoClient struct {
	video *youtube.Video
	err   error
}

func (s stubVideoClient) GetVideoContext(context.Context, string) (*youtube.Video, error) {
	return s.video, s.err
}

type stubSource struct{ called bool }

func (s *stubSource) ExtractMetadata(context.Context, string) (*Metadata, error) {
	s.called = true
	return &Metadata{ID: "fallback"}, nil
}

func TestNativeProbe(t *testing.T) {
	fallback := &stubSource{}
	p := NewNativeProbe(fallback)
	p.client = stubVideoClient{video: &youtube.Video{ID: "abc", Title: "Native", Author: "Chan"}}

	m, err := p.ExtractMetadata(context.Background(), "https://youtu.be/abc")
	if err != nil || m.Title != "Native" || m.Channel != "Chan" {
		t.Fatalf("ExtractMetadata() = %+v, %v", m, err)
	}
	if fallback.called {
		t.Error("fallback should not be used on native success")
	}

	p.client = stubVideoClient{err: errors.New("blocked")}
	m, _ = p.ExtractMetadata(context.Background(), "https://youtu.be/abc")
	if m.ID != "fallback" {
		t.Errorf("expected fallback metadata, got %+v", m)
	}

	fallback.called = false
	p.ExtractMetadata(context.Background(), "https://vimeo.com/1")
	if !fallback.called {
		t.Error("non-YouTube URLs should go to the fallback")
	}
}
