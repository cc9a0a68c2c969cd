// Package nzb models a parsed NZB document (spec §3) and derives the
// filename/extension/archive-candidate business rules spec §4.2 step 1-2
// layers on top of the raw XML structure.
package nzb

import (
	"strings"

	"golang.org/x/text/cases"
)

// folder does Unicode-aware case folding for canonical-key comparison,
// so uploads with non-ASCII filenames (Turkish "İ", German "ß", etc.)
// collapse to the same key as their ASCII-folded counterparts would.
var folder = cases.Fold()

// Segment is one article in a multi-part upload (spec Glossary).
type Segment struct {
	Number int
	Bytes  int64
	// ID is the NNTP message-id in storage form (no angle brackets).
	ID string
}

// File is one <file> element of the NZB, enriched with the derived
// filename/extension spec §4.2 step 1 specifies.
type File struct {
	Subject   string
	Filename  string // "" if undeterminable
	Extension string // lowercased, includes no leading dot
	Segments  []Segment
}

// Document is the parsed NZB (spec §3: "NZB document").
type Document struct {
	Title string // from head/meta[@type='title'], if present
	Files []File
}

// isArchiveExtension reports whether ext is in the closed set from spec §3: {.rar, .r00-.r99, .7z}.
func isArchiveExtension(ext string) bool {
	if ext == "rar" || ext == "7z" {
		return true
	}
	if len(ext) == 3 && ext[0] == 'r' {
		return ext[1] >= '0' && ext[1] <= '9' && ext[2] >= '0' && ext[2] <= '9'
	}
	return false
}

// ArchiveCandidates returns the Files whose extension is in the archive
// set, deduplicated by canonical archive key while keeping insertion
// order (spec §3: "Archive candidate").
func (d Document) ArchiveCandidates() []File {
	seen := make(map[string]bool)
	var out []File
	for _, f := range d.Files {
		if !isArchiveExtension(f.Extension) {
			continue
		}
		key := CanonicalArchiveKey(f.Filename)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, f)
	}
	return out
}

// CanonicalArchiveKey collapses a filename to the key used to deduplicate
// archive candidates (spec §3): lowercase, with ".partNNN.rar" and ".rNN"
// suffixes collapsed to ".rar". Idempotent: CanonicalArchiveKey(CanonicalArchiveKey(x)) == CanonicalArchiveKey(x).
func CanonicalArchiveKey(filename string) string {
	lower := foldLower(filename)

	if idx := lastPartSuffixIndex(lower); idx >= 0 {
		return lower[:idx] + ".rar"
	}

	if strings.HasSuffix(lower, ".7z") {
		return lower
	}

	// .rNN -> base + ".rar"
	if len(lower) >= 4 {
		ext := lower[len(lower)-4:]
		if ext[0] == '.' && ext[1] == 'r' && isDigit(ext[2]) && isDigit(ext[3]) {
			return lower[:len(lower)-4] + ".rar"
		}
	}

	return lower
}

// lastPartSuffixIndex finds the start of a ".partNNN.rar" suffix, if
// present, returning the index to truncate at (so callers append ".rar").
func lastPartSuffixIndex(lower string) int {
	const suffix = ".rar"
	if !strings.HasSuffix(lower, suffix) {
		return -1
	}
	withoutRar := lower[:len(lower)-len(suffix)]
	idx := strings.LastIndex(withoutRar, ".part")
	if idx < 0 {
		return -1
	}
	digits := withoutRar[idx+len(".part"):]
	if len(digits) == 0 {
		return -1
	}
	for _, c := range digits {
		if !isDigit(byte(c)) {
			return -1
		}
	}
	return idx
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func foldLower(s string) string {
	return folder.String(strings.TrimSpace(s))
}
