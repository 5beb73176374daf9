package transcript

import (
	"encoding/json"
	"math"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestLabel(t *testing.T) {
	tests := []struct {
		name       string
		start, end float64
		want       string
	}{
		{"short", 0, 4.2, "[00:00 - 00:04]"},
		{"minutes", 65.9, 130, "[01:05 - 02:10]"},
		{"end crosses hour", 3599.5, 3601.0, "[00:59:59 - 01:00:01]"},
		{"both past hour", 3723, 3730.4, "[01:02:03 - 01:02:10]"},
		{"negative clamps", -1, 2, "[00:00 - 00:02]"},
		{"NaN clamps", math.NaN(), 2, "[00:00 - 00:02]"},
		{"infinite end clamps", 10, math.Inf(1), "[00:00:10 - 99:59:59]"},
		{"huge end clamps", 10, 1e300, "[00:00:10 - 99:59:59]"},
		{"negative infinity clamps", math.Inf(-1), 2, "[00:00 - 00:02]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Label(tt.start, tt.end); got != tt.want {
				t.Errorf("Label(%v, %v) = %q, want %q", tt.start, tt.end, got, tt.want)
			}
		})
	}
}

func TestFormat_PreservesOrderAndTrims(t *testing.T) {
	segments := []Segment{
		{Start: 10, End: 12, Text: "  second  "},
		{Start: 0, End: 3, Text: "first\n"},
	}

	got := Format(segments)

	if len(got) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(got))
	}
	if got[0].Text != "second" || got[1].Text != "first" {
		t.Errorf("order or trimming wrong: %+v", got)
	}
	if got[0].StartSeconds != 10 || got[0].EndSeconds != 12 {
		t.Errorf("bounds not carried through: %+v", got[0])
	}
}

func TestFormat_Empty(t *testing.T) {
	got := Format(nil)
	if got == nil || len(got) != 0 {
		t.Errorf("Format(nil) = %#v, want empty slice", got)
	}
}

func TestFormat_Idempotent(t *testing.T) {
	segments := []Segment{{Start: 1, End: 2, Text: " a "}, {Start: 3600, End: 3602, Text: "b"}}
	first := Format(segments)
	second := Format(segments)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Format is not deterministic: %v vs %v", first, second)
	}
}

func TestPlainText(t *testing.T) {
	got := PlainText(Format([]Segment{{0, 1, "hello"}, {1, 2, "world"}}))
	want := "[00:00 - 00:01]: hello\n\n[00:01 - 00:02]: world"
	if got != want {
		t.Errorf("PlainText() = %q, want %q", got, want)
	}
}

func TestDocument_JSONKeepsOrder(t *testing.T) {
	segs := Format([]Segment{{5, 6, "later"}, {0, 1, "earlier"}, {5, 6, "again"}})
	doc := NewDocument(segs, VideoInfo{Title: "Talk", URL: "https://youtu.be/x", Duration: FormatDuration(3725)},
		time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	body := string(data)

	if !strings.Contains(body, `"transcript":{"[00:05 - 00:06]":"later","[00:00 - 00:01]":"earlier","[00:05 - 00:06] #2":"again"}`) {
		t.Errorf("transcript mapping wrong: %s", body)
	}
	if !strings.Contains(body, `"duration":"1:02:05"`) {
		t.Errorf("duration wrong: %s", body)
	}
	if !strings.Contains(body, `"segment_count":3`) {
		t.Errorf("segment count wrong: %s", body)
	}
}

func TestExportFilename(t *testing.T) {
	tests := []struct {
		title, ext, want string
	}{
		{"My: Talk?", "txt", "My_ Talk_.txt"},
		{"", "json", "transcript.json"},
		{strings.Repeat("a", 120), "txt", strings.Repeat("a", 100) + ".txt"},
	}
	for _, tt := range tests {
		if got := ExportFilename(tt.title, tt.ext); got != tt.want {
			t.Errorf("ExportFilename(%q) = %q, want %q", tt.title, got, tt.want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := map[int]string{0: "", 59: "0:59", 125: "2:05", 3600: "1:00:00"}
	for in, want := range tests {
		if got := FormatDuration(in); got != want {
			t.Errorf("FormatDuration(%d) = %q, want %q", in, got, want)
		}
	}
}
