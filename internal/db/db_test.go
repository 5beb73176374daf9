package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/scriptgen/backend/internal/transcript"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

func TestRebind(t *testing.T) {
	pg := &DB{driver: DriverPostgres}
	got := pg.rebind("UPDATE scripts SET status = ? WHERE id = ?")
	if got != "UPDATE scripts SET status = $1 WHERE id = $2" {
		t.Errorf("rebind() = %q", got)
	}

	lite := &DB{driver: DriverSQLite}
	if q := lite.rebind("SELECT ?"); q != "SELECT ?" {
		t.Errorf("sqlite query should be unchanged, got %q", q)
	}
}

func TestNullTimeScan(t *testing.T) {
	ref := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	tests := []struct {
		name  string
		value any
		valid bool
	}{
		{"nil", nil, false},
		{"time", ref, true},
		{"rfc3339 string", ref.Format(time.RFC3339Nano), true},
		{"bytes", []byte(ref.Format(time.RFC3339Nano)), true},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var nt nullTime
			if err := nt.Scan(tt.value); err != nil {
				t.Fatalf("Scan() error = %v", err)
			}
			if nt.Valid != tt.valid {
				t.Fatalf("Valid = %v, want %v", nt.Valid, tt.valid)
			}
			if tt.valid && !nt.Time.Equal(ref) {
				t.Errorf("Time = %v, want %v", nt.Time, ref)
			}
		})
	}
}

func TestScriptRepository_Lifecycle(t *testing.T) {
	repo := NewScriptRepository(openTestDB(t))
	ctx := context.Background()

	s, err := repo.Create(ctx, "https://www.youtube.com/watch?v=abc", nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if s.Status != StatusPending || s.ID == "" {
		t.Fatalf("unexpected new script %+v", s)
	}

	if err := repo.MarkProcessing(ctx, s.ID); err != nil {
		t.Fatalf("MarkProcessing() error = %v", err)
	}
	if err := repo.SetMetadata(ctx, s.ID, "A Talk", 125); err != nil {
		t.Fatalf("SetMetadata() error = %v", err)
	}

	segments := transcript.Format([]transcript.Segment{{Start: 0, End: 2, Text: "hi"}})
	if err := repo.Complete(ctx, s.ID, "hi", segments, "en"); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	got, err := repo.GetByID(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("Status = %s, want completed", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at should be set")
	}
	if got.TitleOr("") != "A Talk" || got.DurationSeconds == nil || *got.DurationSeconds != 125 {
		t.Errorf("metadata not stored: %+v", got)
	}
	if got.SourceURL != "https://www.youtube.com/watch?v=abc" {
		t.Errorf("source url changed: %s", got.SourceURL)
	}
	if len(got.Segments) != 1 || got.Segments[0].TimestampLabel != "[00:00 - 00:02]" {
		t.Errorf("segments not round-tripped: %+v", got.Segments)
	}
}

func TestScriptRepository_FailClearsTranscript(t *testing.T) {
	repo := NewScriptRepository(openTestDB(t))
	ctx := context.Background()

	s, _ := repo.Create(ctx, "https://youtu.be/x", nil)
	if err := repo.Fail(ctx, s.ID, "Transcription failed: boom"); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}

	got, err := repo.GetByID(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != StatusFailed || got.CompletedAt == nil {
		t.Errorf("unexpected failed record %+v", got)
	}
	if got.ErrorMessage == nil || *got.ErrorMessage != "Transcription failed: boom" {
		t.Errorf("error_message = %v", got.ErrorMessage)
	}
	if len(got.Segments) != 0 || got.TranscriptText != nil {
		t.Error("failed record must not carry a transcript")
	}
}

func TestScriptRepository_CompleteRequiresSegments(t *testing.T) {
	repo := NewScriptRepository(openTestDB(t))
	s, _ := repo.Create(context.Background(), "https://youtu.be/x", nil)

	err := repo.Complete(context.Background(), s.ID, "", nil, "")
	if !errors.Is(err, ErrEmptyTranscript) {
		t.Errorf("Complete() error = %v, want ErrEmptyTranscript", err)
	}
}

func TestScriptRepository_NotFound(t *testing.T) {
	repo := NewScriptRepository(openTestDB(t))
	ctx := context.Background()

	if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, ErrScriptNotFound) {
		t.Errorf("GetByID() error = %v, want ErrScriptNotFound", err)
	}
	if err := repo.MarkProcessing(ctx, "missing"); !errors.Is(err, ErrScriptNotFound) {
		t.Errorf("MarkProcessing() error = %v, want ErrScriptNotFound", err)
	}
}

func TestScriptRepository_List(t *testing.T) {
	repo := NewScriptRepository(openTestDB(t))
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		repo.now = func() time.Time { return at }
		if _, err := repo.Create(ctx, "https://youtu.be/"+string(rune('a'+i)), nil); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	scripts, total, err := repo.List(ctx, 1, 1)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if len(scripts) != 1 || scripts[0].SourceURL != "https://youtu.be/b" {
		t.Errorf("expected the middle script, got %+v", scripts)
	}
}

func TestBatchRepository_Lifecycle(t *testing.T) {
	repo := NewBatchRepository(openTestDB(t))
	ctx := context.Background()

	b, err := repo.Create(ctx, []string{"https://youtu.be/a", "https://youtu.be/b"}, "720p")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.MarkProcessing(ctx, b.ID); err != nil {
		t.Fatalf("MarkProcessing() error = %v", err)
	}
	if err := repo.Complete(ctx, b.ID, "/tmp/videos_1.zip", "", 1, 1); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	got, err := repo.GetByID(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != StatusCompleted || got.ArchivePath == nil || *got.ArchivePath != "/tmp/videos_1.zip" {
		t.Errorf("unexpected batch %+v", got)
	}
	if len(got.URLs) != 2 || got.Succeeded != 1 || got.Failed != 1 {
		t.Errorf("unexpected counts or urls %+v", got)
	}
	if got.ArchiveURL != nil {
		t.Errorf("archive url should be empty, got %v", *got.ArchiveURL)
	}

	if err := repo.Fail(ctx, b.ID, "all 2 downloads failed", 0, 2); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}
	got, _ = repo.GetByID(ctx, b.ID)
	if got.Status != StatusFailed || got.ArchivePath != nil {
		t.Errorf("failed batch must not keep an archive: %+v", got)
	}
}
