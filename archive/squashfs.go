package archive

import (
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/etnz/envpack/config"
	"github.com/etnz/envpack/errs"
)

// squashfsSink implements Sink for the SquashFS format (§4.4 "SquashFS").
// It cannot stream a container format it does not itself encode, so it
// stages the classified tree into a private temporary directory and invokes
// the external mksquashfs tool at Finalize time.
type squashfsSink struct {
	outputPath string
	stageDir   string
	opts       Options
}

func newSquashFSSink(outputPath string, opts Options) (*squashfsSink, error) {
	if _, err := exec.LookPath("mksquashfs"); err != nil {
		return nil, errs.New(errs.FormatUnavailable, "mksquashfs not found in PATH: %v", err)
	}
	stage := filepath.Join(os.TempDir(), "envpack-squashfs-"+uuid.NewString())
	if err := os.MkdirAll(stage, 0755); err != nil {
		return nil, errs.Wrap(errs.WorkerFailure, err, "creating staging directory")
	}
	return &squashfsSink{outputPath: outputPath, stageDir: stage, opts: opts}, nil
}

func (s *squashfsSink) staged(arcname string) string {
	return filepath.Join(s.stageDir, filepath.FromSlash(joinArc(s.opts.ArcRoot, arcname)))
}

func (s *squashfsSink) AddDirectory(arcname string, mode os.FileMode, mtime time.Time) error {
	path := s.staged(arcname)
	if err := os.MkdirAll(path, mode.Perm()|0700); err != nil {
		return errs.Wrap(errs.WorkerFailure, err, "staging directory %s", arcname)
	}
	os.Chtimes(path, mtime, mtime)
	return nil
}

func (s *squashfsSink) AddRegular(arcname string, mode os.FileMode, mtime time.Time, size int64, content io.Reader) error {
	path := s.staged(arcname)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errs.Wrap(errs.WorkerFailure, err, "staging directory for %s", arcname)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return errs.Wrap(errs.WorkerFailure, err, "staging file %s", arcname)
	}
	defer f.Close()
	if _, err := io.Copy(f, content); err != nil {
		return errs.Wrap(errs.WorkerFailure, err, "writing staged file %s", arcname)
	}
	os.Chtimes(path, mtime, mtime)
	return nil
}

func (s *squashfsSink) AddSymlink(arcname string, mode os.FileMode, mtime time.Time, target string) error {
	path := s.staged(arcname)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errs.Wrap(errs.WorkerFailure, err, "staging directory for %s", arcname)
	}
	if err := os.Symlink(target, path); err != nil {
		return errs.Wrap(errs.WorkerFailure, err, "staging symlink %s", arcname)
	}
	return nil
}

// codecFlags maps the explicit SquashFSCodec (SPEC_FULL.md: "exposed
// explicitly rather than re-derived from compress_level", §9) to
// mksquashfs's own flags.
func (s *squashfsSink) codecFlags() []string {
	switch s.opts.SquashFSCodec {
	case config.SquashFSZstd:
		return []string{"-comp", "zstd"}
	case config.SquashFSXz:
		return []string{"-comp", "xz"}
	default:
		return []string{"-noI", "-noD", "-noF", "-noX"}
	}
}

func (s *squashfsSink) Finalize() error {
	defer os.RemoveAll(s.stageDir)

	if err := os.MkdirAll(filepath.Dir(s.outputPath), 0755); err != nil {
		return errs.Wrap(errs.WorkerFailure, err, "creating output directory")
	}
	os.Remove(s.outputPath)

	args := append([]string{s.stageDir, s.outputPath}, s.codecFlags()...)
	cmd := exec.Command("mksquashfs", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errs.Wrap(errs.WorkerFailure, err, "mksquashfs failed: %s", out)
	}
	return nil
}

func (s *squashfsSink) Abort() error {
	return os.RemoveAll(s.stageDir)
}
