package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/scriptgen/backend/internal/db"
	"github.com/scriptgen/backend/internal/janitor"
	"github.com/scriptgen/backend/internal/status"
)

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"serve", "worker", "status", "jobs", "janitor"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q not registered (err=%v)", name, err)
		}
	}
}

func TestRootCommand_MissingConfigFile(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.toml"), "status", "run-1"})

	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "read config") {
		t.Fatalf("expected config read error, got %v", err)
	}
}

func TestStatusCommand_RequiresTaskID(t *testing.T) {
	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"status"})

	if err := root.Execute(); err == nil {
		t.Fatal("expected an argument error")
	}
}

func TestFormatStatus(t *testing.T) {
	got := formatStatus(&status.NormalizedStatus{
		TaskID:   "run-1",
		JobID:    "job-1",
		Status:   status.StateCompleted,
		Progress: 100,
		Message:  "Done",
		Extra:    map[string]interface{}{"title": "Demo", "segment_count": 2},
	})

	for _, want := range []string{
		"Task:     run-1\n",
		"Job:      job-1\n",
		"Status:   completed (100%)\n",
		"Message:  Done\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in:\n%s", want, got)
		}
	}
	if strings.Index(got, "segment_count") > strings.Index(got, "title") {
		t.Errorf("extra fields should be sorted:\n%s", got)
	}
}

func TestScriptRows(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	title := strings.Repeat("x", 60)
	duration := 3725
	scripts := []db.Script{
		{ID: "a", Status: db.StatusCompleted, Title: &title, DurationSeconds: &duration, CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "b", Status: db.StatusPending, CreatedAt: now},
	}

	rows := scriptRows(scripts, now)
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if got := []rune(rows[0][2]); len(got) != 48 || got[47] != '…' {
		t.Errorf("title not truncated: %q", rows[0][2])
	}
	if rows[0][3] != "1:02:05" {
		t.Errorf("duration = %q, want 1:02:05", rows[0][3])
	}
	if rows[0][4] != "2 hours ago" {
		t.Errorf("created = %q, want 2 hours ago", rows[0][4])
	}
	if rows[1][2] != "Untitled" || rows[1][3] != "-" {
		t.Errorf("unexpected defaults: %v", rows[1])
	}
}

func TestRenderTable(t *testing.T) {
	headers := []string{"ID", "Duration"}
	rows := [][]string{{"a", "1:00"}, {"b"}}

	plain := renderTable(headers, rows, []columnAlignment{alignLeft, alignRight}, false)
	if !strings.Contains(plain, "+") || strings.Contains(plain, "╭") {
		t.Errorf("plain table should use ASCII borders:\n%s", plain)
	}
	fancy := renderTable(headers, rows, nil, true)
	if !strings.Contains(fancy, "╭") {
		t.Errorf("terminal table should use rounded borders:\n%s", fancy)
	}
	if renderTable(nil, rows, nil, true) != "" {
		t.Error("no headers should render nothing")
	}
}

func TestFormatReport(t *testing.T) {
	if got := formatReport(&janitor.Report{Skipped: true}); !strings.Contains(got, "skipped") {
		t.Errorf("got %q", got)
	}
	got := formatReport(&janitor.Report{WorkDirsRemoved: 2, ArchivesRemoved: 1, BytesFreed: 2_000_000})
	if got != "Removed 2 work directories and 1 archives, freed 2.0 MB\n" {
		t.Errorf("got %q", got)
	}
}
