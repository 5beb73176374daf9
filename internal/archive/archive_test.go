package archive

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
)

func TestSanitizeTitle(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Café   del Mar", "Cafe_del_Mar"},
		{"  What/is: this?  ", "Whatis_this"},
		{"Ünïcödé — dash", "Unicode_dash"},
		{"", "video"},
		{"???", "video"},
		{"...hidden", "hidden"},
		{strings.Repeat("ab", 60), strings.Repeat("ab", 40)},
	}
	for _, tt := range tests {
		if got := SanitizeTitle(tt.in); got != tt.want {
			t.Errorf("SanitizeTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestItemFilename_IdenticalTitlesDifferByIndex(t *testing.T) {
	a := ItemFilename(1, "Same Title", "abc123", "mp4")
	b := ItemFilename(2, "Same Title", "abc123", ".mp4")

	if a == b {
		t.Fatalf("names collide: %s", a)
	}
	if a[2:] != b[2:] {
		t.Errorf("names should differ only in the index prefix: %s vs %s", a, b)
	}
	if a != "01_Same_Title_abc123.mp4" {
		t.Errorf("ItemFilename() = %q", a)
	}
}

func TestManifest_Render(t *testing.T) {
	m := NewManifest("deadbeef", "720p", []string{"u1", "u2", "u3"}, time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC))
	m.Succeed(0, "First", "01_First_a.mp4", "/tmp/a", 2048)
	m.Fail(1, errors.New("video unavailable"))
	m.Succeed(2, "Third", "03_Third_c.mp4", "/tmp/c", 1)

	if m.Done() != 3 || len(m.Successes()) != 2 || len(m.Failures()) != 1 {
		t.Fatalf("unexpected counts: done=%d", m.Done())
	}

	out := m.Render()
	for _, want := range []string{
		"Videos: 3 requested, 2 downloaded, 1 failed",
		"01_First_a.mp4 (2.0 kB)",
		"- u2\n  Error: video unavailable",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("manifest missing %q:\n%s", want, out)
		}
	}
}

func TestWriter_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "payload.mp4")
	os.WriteFile(src, []byte("video-bytes"), 0o644)

	w, err := Create(filepath.Join(dir, "out", "videos_x.zip"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := w.AddFile(src, "01_a_b.mp4"); err != nil {
		t.Fatalf("AddFile() error = %v", err)
	}
	if err := w.AddBytes(ManifestName, []byte("manifest")); err != nil {
		t.Fatalf("AddBytes() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	r, err := zip.OpenReader(w.Path())
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer r.Close()

	got := map[string]string{}
	for _, f := range r.File {
		rc, _ := f.Open()
		data, _ := io.ReadAll(rc)
		rc.Close()
		got[f.Name] = string(data)
	}
	if got["01_a_b.mp4"] != "video-bytes" || got[ManifestName] != "manifest" {
		t.Errorf("unexpected entries %v", got)
	}
}

func TestWriter_Abort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.zip")
	w, err := Create(path)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := w.Abort(); err != nil {
		t.Fatalf("Abort() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("aborted archive should be removed")
	}
}
