package archive

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxTitleRunes = 80

// SanitizeTitle makes a title safe for use inside an archive entry name.
// Accents are folded, anything outside letters, digits, "-", "_" and "."
// is dropped, and whitespace runs become a single underscore.
func SanitizeTitle(title string) string {
	folded := transliterate(title)

	var b strings.Builder
	pendingSpace := false
	for _, r := range folded {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = b.Len() > 0
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.':
			if pendingSpace {
				b.WriteByte('_')
				pendingSpace = false
			}
			b.WriteRune(r)
		}
	}

	out := strings.Trim(b.String(), "._")
	if r := []rune(out); len(r) > maxTitleRunes {
		out = strings.TrimRight(string(r[:maxTitleRunes]), "._")
	}
	if out == "" {
		return "video"
	}
	return out
}

// ItemFilename names the i-th (1-based) payload of a batch. The index
// prefix keeps names unique when titles and ids collide.
func ItemFilename(index int, title, canonicalID, ext string) string {
	id := SanitizeTitle(canonicalID)
	if canonicalID == "" {
		id = "unknown"
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return fmt.Sprintf("%02d_%s_%s%s", index, SanitizeTitle(title), id, ext)
}

func transliterate(s string) string {
	t := transform.Chain(
		norm.NFKD,
		runes.Remove(runes.In(unicode.Mn)),
		norm.NFC,
	)
	result, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return result
}
