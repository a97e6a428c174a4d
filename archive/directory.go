package archive

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/etnz/envpack/errs"
)

// directorySink implements Sink for the "no-archive" format (§4.4
// "Directory"): rewrites happen exactly as with any other sink, but the
// result is persisted as real files on disk rather than packaged into a
// single container. There is no temp-file/rename step since the
// destination directory itself plays that role for the caller.
type directorySink struct {
	root  string
	opts  Options
	count int
}

func newDirectorySink(outputPath string, opts Options) (*directorySink, error) {
	if err := os.MkdirAll(outputPath, 0755); err != nil {
		return nil, errs.Wrap(errs.WorkerFailure, err, "creating output directory %s", outputPath)
	}
	return &directorySink{root: outputPath, opts: opts}, nil
}

func (s *directorySink) path(arcname string) string {
	return filepath.Join(s.root, filepath.FromSlash(joinArc(s.opts.ArcRoot, arcname)))
}

func (s *directorySink) AddDirectory(arcname string, mode os.FileMode, mtime time.Time) error {
	path := s.path(arcname)
	if err := os.MkdirAll(path, mode.Perm()|0700); err != nil {
		return errs.Wrap(errs.WorkerFailure, err, "creating directory %s", arcname)
	}
	os.Chtimes(path, mtime, mtime)
	s.count++
	return nil
}

func (s *directorySink) AddRegular(arcname string, mode os.FileMode, mtime time.Time, size int64, content io.Reader) error {
	path := s.path(arcname)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errs.Wrap(errs.WorkerFailure, err, "creating parent directory for %s", arcname)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return errs.Wrap(errs.WorkerFailure, err, "creating file %s", arcname)
	}
	defer f.Close()
	if _, err := io.Copy(f, content); err != nil {
		return errs.Wrap(errs.WorkerFailure, err, "writing file %s", arcname)
	}
	os.Chtimes(path, mtime, mtime)
	s.count++
	return nil
}

func (s *directorySink) AddSymlink(arcname string, mode os.FileMode, mtime time.Time, target string) error {
	path := s.path(arcname)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errs.Wrap(errs.WorkerFailure, err, "creating parent directory for %s", arcname)
	}
	os.Remove(path)
	if err := os.Symlink(target, path); err != nil {
		return errs.Wrap(errs.WorkerFailure, err, "creating symlink %s", arcname)
	}
	s.count++
	return nil
}

func (s *directorySink) Finalize() error { return nil }

func (s *directorySink) Abort() error {
	return os.RemoveAll(s.root)
}
