// Package unpack defines the deferred-rewrite manifest that travels inside
// every archive (§4.4 "Unpack metadata") and the on-target binary patcher
// the companion envpack-unpack runner applies after extraction (§4.3 "binary
// files are shipped unchanged and fixed up in place once they are real,
// seekable files on disk again").
package unpack

import (
	"encoding/json"
	"io"

	"github.com/etnz/envpack/errs"
)

// ManifestArcname is the archive-relative path every sink writes the
// manifest under, mirroring the package manager's own metadata directory so
// it survives alongside the environment's existing bookkeeping.
const ManifestArcname = "conda-meta/envpack-manifest.json"

// FileEntry is one deferred-rewrite record: a binary-prefix file whose
// placeholder could not be safely patched while streaming into the archive
// (§4.3 I2).
type FileEntry struct {
	Path        string `json:"path"`
	Placeholder string `json:"placeholder"`
}

// Manifest is the complete deferred-rewrite record for one archive. A
// manifest with an empty Files slice still travels with every archive: its
// presence tells envpack-unpack whether there is any patching left to do.
type Manifest struct {
	SchemaVersion      int         `json:"schema_version"`
	PrefixPlaceholder  string      `json:"prefix_placeholder"`
	DestinationPrefix  string      `json:"destination_prefix"`
	Files              []FileEntry `json:"files"`
}

// CurrentSchemaVersion is bumped whenever Manifest's on-disk shape changes
// in a way envpack-unpack needs to branch on.
const CurrentSchemaVersion = 1

// Write serializes m as indented JSON, matching the human-diffable style the
// package manager's own metadata files use.
func Write(w io.Writer, m Manifest) error {
	if m.SchemaVersion == 0 {
		m.SchemaVersion = CurrentSchemaVersion
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return errs.Wrap(errs.WorkerFailure, err, "encoding unpack manifest")
	}
	return nil
}

// Read parses a Manifest previously produced by Write.
func Read(r io.Reader) (Manifest, error) {
	var m Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return Manifest{}, errs.Wrap(errs.WorkerFailure, err, "decoding unpack manifest")
	}
	return m, nil
}
