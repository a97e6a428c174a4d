// Package prefix provides the low-level primitives shared by every other
// package in envpack: normalizing filesystem paths, canonicalizing the
// install prefix an environment was built at, and recognizing where that
// prefix appears inside a byte stream (text or binary).
package prefix

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// DefaultDestination is the placeholder prefix baked into an archive when the
// caller does not supply an explicit destination. It is 225 bytes long. The
// DestinationPrefixTooLong check (§4.3) rejects it for any binary
// placeholder shorter than that, so such environments need an explicit,
// shorter destination.
var DefaultDestination = "/opt/envpack-placeholder/" + strings.Repeat("x", 200)

// sniffWindow is the number of leading bytes inspected to decide whether an
// unmanaged file should be treated as text or binary for prefix scanning.
const sniffWindow = 8192

// Normalize cleans path into an absolute, slash-free-at-the-end form
// suitable for use as a source or destination prefix. It does not resolve
// symlinks: the prefix is an identity, not a physical location.
func Normalize(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("prefix: empty path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("prefix: %w", err)
	}
	abs = filepath.Clean(abs)
	// Clean never leaves a trailing separator except for the root itself.
	return filepath.ToSlash(abs), nil
}

// IsProbablyText applies a cheap heuristic to decide whether sample (a
// prefix of a file's content, or the whole file for small files) should be
// treated as text for the purposes of prefix rewriting: no NUL byte and
// valid UTF-8.
func IsProbablyText(sample []byte) bool {
	if len(sample) > sniffWindow {
		sample = sample[:sniffWindow]
	}
	if bytes.IndexByte(sample, 0) != -1 {
		return false
	}
	return utf8.Valid(sample)
}

// SniffWindow returns the number of leading bytes IsProbablyText inspects,
// so callers can read exactly that much before deciding whether to read the
// rest of a file for a full-content prefix scan.
func SniffWindow() int { return sniffWindow }

// Contains reports whether placeholder appears anywhere in data as a
// contiguous byte substring.
func Contains(data, placeholder []byte) bool {
	return bytes.Contains(data, placeholder)
}

// FindAll returns the start offset of every non-overlapping occurrence of
// placeholder in data, in ascending order.
func FindAll(data, placeholder []byte) []int {
	if len(placeholder) == 0 {
		return nil
	}
	var offsets []int
	start := 0
	for {
		i := bytes.Index(data[start:], placeholder)
		if i == -1 {
			break
		}
		offsets = append(offsets, start+i)
		start += i + len(placeholder)
	}
	return offsets
}

// RelativeSymlinkTarget implements I4: an absolute symlink target that
// points inside sourcePrefix is rewritten to be relative to the symlink's
// own position within the archive. linkArcname is the symlink's own
// archive-relative path (POSIX style, no leading slash). It returns ok=false
// if target does not live under sourcePrefix, in which case the caller
// should preserve target unchanged.
func RelativeSymlinkTarget(target, sourcePrefix, linkArcname string) (rel string, ok bool) {
	if !filepath.IsAbs(target) {
		return "", false
	}
	cleanTarget := filepath.Clean(target)
	cleanPrefix := filepath.Clean(sourcePrefix)
	suffix := strings.TrimPrefix(cleanTarget, cleanPrefix)
	if suffix == cleanTarget || (suffix != "" && suffix[0] != filepath.Separator) {
		// target is not inside sourcePrefix.
		return "", false
	}
	targetArcname := strings.TrimPrefix(filepath.ToSlash(suffix), "/")

	linkDir := filepath.Dir(filepath.ToSlash(linkArcname))
	if linkDir == "." {
		linkDir = ""
	}
	r, err := filepath.Rel(linkDir, targetArcname)
	if err != nil {
		return "", false
	}
	return filepath.ToSlash(r), true
}
