// Package rewrite implements the prefix rewriter of §4.3: streaming text
// substitution at pack time, and the length-safety policy check that must
// pass before any binary-prefix file is archived unchanged for deferred,
// on-target rewriting.
package rewrite

import (
	"bytes"
	"io"

	"github.com/etnz/envpack/errs"
)

// DeferredBinary is one entry of the deferred-rewrite manifest for a file
// whose prefix could not be rewritten at pack time because it is embedded
// as a length-preserving, NUL-terminated C string (I2).
type DeferredBinary struct {
	RelativePath string
	Placeholder  string
}

// CheckLengthPolicy validates, before any streaming begins, that the
// destination prefix fits in every binary placeholder that will appear in
// the archive (§4.3 "Policy check", P7). It is called once with every
// distinct placeholder a binary-prefix file in this run carries.
func CheckLengthPolicy(destination string, placeholders []string) error {
	for _, p := range placeholders {
		if len(destination) > len(p) {
			return errs.WithPath(errs.DestinationPrefixTooLong, "",
				"destination prefix %q (%d bytes) exceeds binary placeholder %q (%d bytes)",
				destination, len(destination), p, len(p))
		}
	}
	return nil
}

// Text streams src to dst, replacing every occurrence of placeholder with
// destination. It uses a sliding buffer with overlap of len(placeholder)-1
// bytes so that matches straddling a read boundary are never missed, and
// never buffers more than one read chunk plus that overlap regardless of
// src's total size.
func Text(dst io.Writer, src io.Reader, placeholder, destination string) (written int64, err error) {
	if placeholder == "" {
		n, err := io.Copy(dst, src)
		return n, err
	}

	const chunkSize = 64 * 1024
	overlap := len(placeholder) - 1
	if overlap < 0 {
		overlap = 0
	}

	buf := make([]byte, 0, chunkSize+overlap)
	chunk := make([]byte, chunkSize)

	flush := func(upTo int) error {
		if upTo == 0 {
			return nil
		}
		out := bytes.ReplaceAll(buf[:upTo], []byte(placeholder), []byte(destination))
		n, err := dst.Write(out)
		written += int64(n)
		return err
	}

	for {
		n, readErr := src.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if readErr != nil && readErr != io.EOF {
			return written, readErr
		}

		if readErr == io.EOF {
			if err := flush(len(buf)); err != nil {
				return written, err
			}
			buf = buf[:0]
			return written, nil
		}

		// Keep the trailing `overlap` bytes unflushed in case a match
		// straddles the next read; emit everything before that safely.
		safe := len(buf) - overlap
		if safe < 0 {
			safe = 0
		}
		// A complete match that starts before safe but ends after it is
		// flushed whole; splitting it would leave neither half replaceable.
		for i := 0; i < safe; {
			j := bytes.Index(buf[i:], []byte(placeholder))
			if j < 0 || i+j >= safe {
				break
			}
			i += j + len(placeholder)
			if i > safe {
				safe = i
			}
		}
		if err := flush(safe); err != nil {
			return written, err
		}
		remaining := buf[safe:]
		buf = append(buf[:0], remaining...)
	}
}
