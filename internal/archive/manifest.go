package archive

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Outcome is the result of one batch item.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Item is one manifest row.
type Item struct {
	URL       string
	Outcome   Outcome
	Title     string
	Filename  string
	LocalPath string
	Size      int64
	Error     string
}

// Manifest tracks per-item outcomes of a batch in submission order.
type Manifest struct {
	BatchID   string
	Quality   string
	CreatedAt time.Time
	Items     []Item
}

// NewManifest starts every URL in the pending state.
func NewManifest(batchID, quality string, urls []string, now time.Time) *Manifest {
	m := &Manifest{BatchID: batchID, Quality: quality, CreatedAt: now.UTC(), Items: make([]Item, len(urls))}
	for i, u := range urls {
		m.Items[i] = Item{URL: u, Outcome: OutcomePending}
	}
	return m
}

func (m *Manifest) Succeed(i int, title, filename, localPath string, size int64) {
	it := &m.Items[i]
	it.Outcome = OutcomeSuccess
	it.Title = title
	it.Filename = filename
	it.LocalPath = localPath
	it.Size = size
	it.Error = ""
}

func (m *Manifest) Fail(i int, err error) {
	it := &m.Items[i]
	it.Outcome = OutcomeFailure
	it.Error = err.Error()
}

// Successes returns the successful items in order.
func (m *Manifest) Successes() []Item {
	return m.filter(OutcomeSuccess)
}

// Failures returns the failed items in order.
func (m *Manifest) Failures() []Item {
	return m.filter(OutcomeFailure)
}

// Done counts items no longer pending.
func (m *Manifest) Done() int {
	n := 0
	for _, it := range m.Items {
		if it.Outcome != OutcomePending {
			n++
		}
	}
	return n
}

func (m *Manifest) filter(o Outcome) []Item {
	var out []Item
	for _, it := range m.Items {
		if it.Outcome == o {
			out = append(out, it)
		}
	}
	return out
}

// Render produces the manifest.txt bundled with the archive.
func (m *Manifest) Render() string {
	var b strings.Builder
	successes := m.Successes()
	failures := m.Failures()

	fmt.Fprintf(&b, "Batch download %s\n", m.BatchID)
	fmt.Fprintf(&b, "Created: %s\n", m.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Quality: %s\n", m.Quality)
	fmt.Fprintf(&b, "Videos: %d requested, %d downloaded, %d failed\n", len(m.Items), len(successes), len(failures))

	if len(successes) > 0 {
		b.WriteString("\nDownloaded:\n")
		for _, it := range successes {
			fmt.Fprintf(&b, "- %s\n  URL: %s\n  File: %s (%s)\n", it.Title, it.URL, it.Filename, humanize.Bytes(uint64(it.Size)))
		}
	}
	if len(failures) > 0 {
		b.WriteString("\nFailed:\n")
		for _, it := range failures {
			fmt.Fprintf(&b, "- %s\n  Error: %s\n", it.URL, it.Error)
		}
	}
	return b.String()
}
