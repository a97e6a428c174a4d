package unpack

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/etnz/envpack/errs"
	"github.com/etnz/envpack/progress"
	"github.com/etnz/envpack/rewrite"
)

// activationScriptDirs are swept for stale prefix references after the
// binary patch pass: conda's own post-link hooks write activate.d /
// deactivate.d scripts at install time that the walker's inventory does not
// always attribute to a package, so they can carry the source prefix even
// after every managed file has been rewritten.
var activationScriptDirs = []string{
	filepath.Join("etc", "conda", "activate.d"),
	filepath.Join("etc", "conda", "deactivate.d"),
}

// Run executes the companion runner against an already-extracted archive
// rooted at root: it patches every deferred binary-prefix file and cleans up
// any stale prefix text left in the activation hooks (§1 step 4).
func Run(root string, reporter progress.Reporter) error {
	if reporter == nil {
		reporter = progress.Discard
	}

	manifestPath := filepath.Join(root, filepath.FromSlash(ManifestArcname))
	f, err := os.Open(manifestPath)
	if err != nil {
		return errs.Wrap(errs.WorkerFailure, err, "opening unpack manifest %s", manifestPath)
	}
	m, err := Read(f)
	f.Close()
	if err != nil {
		return err
	}

	for _, entry := range m.Files {
		path := filepath.Join(root, filepath.FromSlash(entry.Path))
		if err := PatchBinaryFile(path, entry.Placeholder, m.DestinationPrefix); err != nil {
			return err
		}
		reporter.Report(progress.EventFileWritten{RelativePath: entry.Path, PrefixAction: "binary-patched"})
	}

	if err := cleanupActivationScripts(root, m.PrefixPlaceholder, m.DestinationPrefix, reporter); err != nil {
		return err
	}
	return nil
}

// cleanupActivationScripts rewrites any remaining textual occurrence of
// placeholder found under the known activate.d/deactivate.d directories. It
// is a best-effort sweep: a missing directory is not an error.
func cleanupActivationScripts(root, placeholder, destination string, reporter progress.Reporter) error {
	for _, rel := range activationScriptDirs {
		dir := filepath.Join(root, rel)
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return errs.Wrap(errs.WorkerFailure, err, "reading %s", dir)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			path := filepath.Join(dir, e.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				return errs.Wrap(errs.WorkerFailure, err, "reading %s", path)
			}
			var buf bytes.Buffer
			if _, err := rewrite.Text(&buf, bytes.NewReader(data), placeholder, destination); err != nil {
				return errs.Wrap(errs.WorkerFailure, err, "rewriting %s", path)
			}
			if bytes.Equal(buf.Bytes(), data) {
				continue
			}
			info, err := e.Info()
			if err != nil {
				return errs.Wrap(errs.WorkerFailure, err, "stat %s", path)
			}
			if err := os.WriteFile(path, buf.Bytes(), info.Mode().Perm()); err != nil {
				return errs.Wrap(errs.WorkerFailure, err, "writing %s", path)
			}
			reporter.Report(progress.EventWarning{Kind: "stale_prefix_cleanup", Path: filepath.Join(rel, e.Name()), Message: "rewrote stale prefix reference left outside package inventory"})
		}
	}
	return nil
}
