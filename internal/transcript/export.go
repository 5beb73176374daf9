package transcript

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PlainText renders "<label>: <text>" blocks separated by blank lines.
func PlainText(segments []FormattedSegment) string {
	blocks := make([]string, 0, len(segments))
	for _, seg := range segments {
		blocks = append(blocks, seg.TimestampLabel+": "+seg.Text)
	}
	return strings.Join(blocks, "\n\n")
}

// VideoInfo describes the source media in an export document.
type VideoInfo struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	Duration string `json:"duration,omitempty"`
	Language string `json:"language,omitempty"`
}

// ExportInfo describes the export itself.
type ExportInfo struct {
	SegmentCount int       `json:"segment_count"`
	ExportedAt   time.Time `json:"exported_at"`
}

// Document is the JSON export of a completed transcript.
type Document struct {
	Transcript OrderedTranscript `json:"transcript"`
	VideoInfo  VideoInfo         `json:"video_info"`
	ExportInfo ExportInfo        `json:"export_info"`
}

// NewDocument assembles an export document.
func NewDocument(segments []FormattedSegment, info VideoInfo, now time.Time) Document {
	return Document{
		Transcript: OrderedTranscript(segments),
		VideoInfo:  info,
		ExportInfo: ExportInfo{SegmentCount: len(segments), ExportedAt: now.UTC()},
	}
}

// OrderedTranscript marshals as a JSON object of label to text, keeping
// segment order. Repeated labels get a numeric suffix.
type OrderedTranscript []FormattedSegment

// MarshalJSON implements json.Marshaler.
func (o OrderedTranscript) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	seen := make(map[string]int, len(o))
	for i, seg := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		key := seg.TimestampLabel
		if n := seen[key]; n > 0 {
			key = fmt.Sprintf("%s #%d", key, n+1)
		}
		seen[seg.TimestampLabel]++
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(seg.Text)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// FormatDuration renders whole seconds as H:MM:SS or M:SS.
func FormatDuration(seconds int) string {
	if seconds <= 0 {
		return ""
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// ExportFilename derives a download name from a title.
func ExportFilename(title, ext string) string {
	name := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`<>:"/\|?*`, r) {
			return '_'
		}
		return r
	}, strings.TrimSpace(title))
	if runes := []rune(name); len(runes) > 100 {
		name = string(runes[:100])
	}
	if name == "" {
		name = "transcript"
	}
	return name + "." + ext
}
