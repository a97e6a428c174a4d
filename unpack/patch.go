package unpack

import (
	"os"

	"github.com/etnz/envpack/errs"
	"github.com/etnz/envpack/prefix"
)

// PatchBinaryFile rewrites every occurrence of placeholder inside the
// NUL-terminated C strings of path with destination, preserving whatever
// text followed placeholder within that same string (the path suffix beyond
// the rewritten prefix, e.g. "/lib/libfoo.so") and padding with NUL bytes up
// to the string's original length so the file's total size, and every other
// string's offset within it, is unchanged (I2). destination must not be
// longer than placeholder; pack-time validation (rewrite.CheckLengthPolicy)
// is what guarantees this holds by the time this runs.
func PatchBinaryFile(path, placeholder, destination string) error {
	if len(destination) > len(placeholder) {
		return errs.New(errs.DestinationPrefixTooLong,
			"destination %q longer than placeholder %q in %s", destination, placeholder, path)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return errs.Wrap(errs.WorkerFailure, err, "opening %s for binary patch", path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errs.Wrap(errs.WorkerFailure, err, "stat %s", path)
	}
	data := make([]byte, info.Size())
	if _, err := f.ReadAt(data, 0); err != nil {
		return errs.Wrap(errs.WorkerFailure, err, "reading %s", path)
	}

	needle := []byte(placeholder)
	offsets := prefix.FindAll(data, needle)
	if len(offsets) == 0 {
		return nil
	}

	for _, off := range offsets {
		strLen, suffix := stringExtent(data, off, len(needle))

		replacement := make([]byte, strLen)
		n := copy(replacement, destination)
		copy(replacement[n:], suffix)
		// Any remaining bytes stay zero (NUL) from make.

		if _, err := f.WriteAt(replacement, int64(off)); err != nil {
			return errs.Wrap(errs.WorkerFailure, err, "patching %s at offset %d", path, off)
		}
	}
	return nil
}

// stringExtent finds the end of the NUL-terminated C string starting at off,
// where needleLen is the length of the matched placeholder at the start of
// that string. It returns the string's total length (excluding the NUL) and
// the bytes following the placeholder within it. If no NUL terminator is
// found (a malformed or truncated string), it falls back to treating the
// string as exactly needleLen long, with no suffix.
func stringExtent(data []byte, off, needleLen int) (length int, suffix []byte) {
	suffixStart := off + needleLen
	end := suffixStart
	for end < len(data) && data[end] != 0 {
		end++
	}
	if end >= len(data) {
		return needleLen, nil
	}
	return end - off, data[suffixStart:end]
}
