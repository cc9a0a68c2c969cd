package nzb

import (
	"io"
	"regexp"
	"strings"

	"github.com/javi11/nzbparser"
)

// filenamePattern is spec §4.2 step 1's fallback rule: the first run of
// filename-safe characters ending in a recognized media/archive extension.
var filenamePattern = regexp.MustCompile(`(?i)[\w\-.()\[\]]+\.(rar|r\d{2}|7z|par2|sfv|nfo|mkv|mp4|avi|mov|wmv)`)

// Parse reads an NZB XML document from r and returns the derived Document,
// applying the filename/extension rule (spec §4.2 step 1) to every file.
//
// The underlying XML decode is delegated to javi11/nzbparser; this
// function only adds the filename-derivation business rule the raw
// library is agnostic to.
func Parse(r io.Reader) (Document, error) {
	parsed, err := nzbparser.Parse(r)
	if err != nil {
		return Document{}, err
	}

	doc := Document{Title: parsed.Meta["title"]}

	for _, f := range parsed.Files {
		name, ext := deriveFilename(f.Subject)

		segs := make([]Segment, 0, len(f.Segments))
		for _, s := range f.Segments {
			segs = append(segs, Segment{
				Number: s.Number,
				Bytes:  int64(s.Bytes),
				ID:     strings.Trim(s.ID, "<>"),
			})
		}

		doc.Files = append(doc.Files, File{
			Subject:   f.Subject,
			Filename:  name,
			Extension: ext,
			Segments:  segs,
		})
	}

	return doc, nil
}

// deriveFilename applies spec §4.2 step 1: first the first double-quoted
// substring of subject, else the first filenamePattern match, else "".
// The extension returned is lowercased with no leading dot.
func deriveFilename(subject string) (name, ext string) {
	if q := firstQuoted(subject); q != "" {
		name = q
	} else if m := filenamePattern.FindString(subject); m != "" {
		name = m
	} else {
		return "", ""
	}

	idx := strings.LastIndex(name, ".")
	if idx < 0 || idx == len(name)-1 {
		return name, ""
	}
	return name, strings.ToLower(name[idx+1:])
}

// firstQuoted returns the contents of the first double-quoted substring
// in s, or "" if none is present.
func firstQuoted(s string) string {
	start := strings.IndexByte(s, '"')
	if start < 0 {
		return ""
	}
	end := strings.IndexByte(s[start+1:], '"')
	if end < 0 {
		return ""
	}
	return s[start+1 : start+1+end]
}
