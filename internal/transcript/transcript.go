// Package transcript turns raw recognition segments into labelled,
// display-ready segments and renders them for export.
package transcript

import (
	"fmt"
	"math"
	"strings"
)

// Segment is a time-bounded span of recognised text.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// FormattedSegment is a segment with a human-readable timestamp label.
type FormattedSegment struct {
	TimestampLabel string  `json:"timestamp"`
	Text           string  `json:"text"`
	StartSeconds   float64 `json:"start_seconds"`
	EndSeconds     float64 `json:"end_seconds"`
}

// Format labels each segment in order. The hour form is used for both
// bounds when either bound reaches one hour.
func Format(segments []Segment) []FormattedSegment {
	out := make([]FormattedSegment, 0, len(segments))
	for _, seg := range segments {
		out = append(out, FormattedSegment{
			TimestampLabel: Label(seg.Start, seg.End),
			Text:           strings.TrimSpace(seg.Text),
			StartSeconds:   seg.Start,
			EndSeconds:     seg.End,
		})
	}
	return out
}

// Label renders "[MM:SS - MM:SS]" or "[HH:MM:SS - HH:MM:SS]".
func Label(start, end float64) string {
	withHours := math.Max(start, end) >= 3600
	return fmt.Sprintf("[%s - %s]", clock(start, withHours), clock(end, withHours))
}

// maxClockSeconds is 99:59:59, the widest value a label can show.
const maxClockSeconds = 99*3600 + 59*60 + 59

func clock(seconds float64, withHours bool) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	if seconds > maxClockSeconds {
		seconds = maxClockSeconds
	}
	total := int64(math.Floor(seconds))
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if withHours {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
