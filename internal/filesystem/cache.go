// Package filesystem implements the read-only local archive-cache
// lookup spec §4.2 step 4 describes: for each archive candidate filename,
// try it and its canonical ".rar"-substituted form against each
// configured directory root in order. Grounded on the teacher's
// internal/filesystem/service.go (directory lookups) and spec's Design
// Notes preference for an afero.Fs capability over raw os calls so tests
// never touch disk.
package filesystem

import (
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/nzbtriage/engine/internal/nzb"
)

// maxLocalReadBytes is spec §4.2 step 4's "read up to 256 KiB".
const maxLocalReadBytes = 256 * 1024

// ErrNotFound is returned when no directory root has any candidate
// filename for the archive; callers should treat this as "silently
// advance" (spec §4.2 step 4: "ENOENT silently advances").
var ErrNotFound = errors.New("filesystem: archive candidate not found in any archiveDirs root")

// Cache resolves archive candidates against a list of directory roots.
type Cache struct {
	fs   afero.Fs
	dirs []string
}

// NewCache constructs a Cache over fs, rooted at dirs in priority order.
func NewCache(fs afero.Fs, dirs []string) *Cache {
	return &Cache{fs: fs, dirs: dirs}
}

// ExpandCandidateFilenames returns filename plus its canonical
// ".rar"-substituted form, in that order, deduplicated (spec §4.2 step
// 4: "expand to candidate filenames (original, plus .rar-substituted
// forms)").
func ExpandCandidateFilenames(filename string) []string {
	if filename == "" {
		return nil
	}
	key := nzb.CanonicalArchiveKey(filename)
	if key == filename {
		return []string{filename}
	}
	return []string{filename, key}
}

// Lookup reads up to 256 KiB of the first candidate filename found under
// any configured directory root, trying roots in order. It returns
// ErrNotFound if no root has any candidate (an ENOENT at every attempt);
// any other IO error is returned as-is so the caller can classify it as
// an `io-error` warning.
func (c *Cache) Lookup(filename string) ([]byte, error) {
	candidates := ExpandCandidateFilenames(filename)

	for _, dir := range c.dirs {
		for _, name := range candidates {
			path := filepath.Join(dir, name)

			info, err := c.fs.Stat(path)
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return nil, err
			}
			if !info.Mode().IsRegular() {
				continue
			}

			f, err := c.fs.Open(path)
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return nil, err
			}
			buf, readErr := readUpTo(f, maxLocalReadBytes)
			_ = f.Close()
			if readErr != nil && readErr != io.EOF {
				return nil, readErr
			}
			return buf, nil
		}
	}

	return nil, ErrNotFound
}

func readUpTo(r io.Reader, limit int) ([]byte, error) {
	buf := make([]byte, limit)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}
