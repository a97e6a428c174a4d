// Package archive implements the pluggable archive sinks of §4.4: a
// uniform writer contract with one concrete implementation per container
// format (tar family, zip, SquashFS, parcel, and a no-archive directory
// sink).
package archive

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/etnz/envpack/config"
	"github.com/etnz/envpack/errs"
)

// Sink is the uniform contract every archive format implements (§4.4).
// A Sink is owned by its writer for its lifetime: Finalize or Abort is
// called exactly once, and no method is called concurrently with another
// (§5: "the sink is never accessed concurrently").
type Sink interface {
	AddDirectory(arcname string, mode os.FileMode, mtime time.Time) error
	AddRegular(arcname string, mode os.FileMode, mtime time.Time, size int64, content io.Reader) error
	AddSymlink(arcname string, mode os.FileMode, mtime time.Time, target string) error

	// Finalize completes the archive at the output path it was opened with.
	// The tar-family, zip and parcel sinks atomically rename a temp file
	// into place; the SquashFS sink runs mksquashfs straight to that path,
	// and the directory sink has already written there.
	Finalize() error
	// Abort discards any partial output written so far.
	Abort() error
}

// Options configures sink construction, independent of which format is
// chosen.
type Options struct {
	CompressLevel int
	Reproducible  bool
	ArcRoot       string
	SquashFSCodec config.SquashFSCodec
	Parcel        config.Parcel
}

// Open constructs the Sink for format, writing (eventually) to outputPath.
func Open(format config.Format, outputPath string, opts Options) (Sink, error) {
	switch format {
	case config.FormatTar:
		return newTarSink(outputPath, tarNone, opts)
	case config.FormatTarGz:
		return newTarSink(outputPath, tarGzip, opts)
	case config.FormatTarBz2:
		return newTarSink(outputPath, tarBzip2, opts)
	case config.FormatTarXz:
		return newTarSink(outputPath, tarXz, opts)
	case config.FormatTarZst:
		return newTarSink(outputPath, tarZstd, opts)
	case config.FormatZip:
		return newZipSink(outputPath, opts)
	case config.FormatSquashFS:
		return newSquashFSSink(outputPath, opts)
	case config.FormatParcel:
		return newParcelSink(outputPath, opts)
	case config.FormatNoArchive:
		return newDirectorySink(outputPath, opts)
	default:
		return nil, errs.New(errs.InvalidConfig, "unknown archive format %q", format)
	}
}

// atomicFile is the shared "write to a temp file next to the destination,
// rename on success, unlink on abort" helper every streaming sink uses.
type atomicFile struct {
	final string
	temp  *os.File
}

func newAtomicFile(final string) (*atomicFile, error) {
	dir := filepath.Dir(final)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errs.Wrap(errs.WorkerFailure, err, "creating output directory %s", dir)
	}
	f, err := os.CreateTemp(dir, ".envpack-*.tmp")
	if err != nil {
		return nil, errs.Wrap(errs.WorkerFailure, err, "creating temp file in %s", dir)
	}
	return &atomicFile{final: final, temp: f}, nil
}

func (a *atomicFile) finalize() error {
	if err := a.temp.Close(); err != nil {
		os.Remove(a.temp.Name())
		return errs.Wrap(errs.WorkerFailure, err, "closing %s", a.temp.Name())
	}
	if err := os.Rename(a.temp.Name(), a.final); err != nil {
		os.Remove(a.temp.Name())
		return errs.Wrap(errs.WorkerFailure, err, "renaming %s to %s", a.temp.Name(), a.final)
	}
	return nil
}

func (a *atomicFile) abort() error {
	a.temp.Close()
	return os.Remove(a.temp.Name())
}

// joinArc joins an ArcRoot prefix with an archive-relative name, per the
// "every archive member's path begins with arcroot/" invariant of §6.
func joinArc(arcRoot, name string) string {
	if arcRoot == "" {
		return name
	}
	return arcRoot + "/" + name
}

// reproducibleTime is the zero epoch used when Options.Reproducible is set.
var reproducibleTime = time.Unix(0, 0).UTC()
