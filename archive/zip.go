package archive

import (
	"archive/zip"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/flate"

	"github.com/etnz/envpack/errs"
)

// deflateCompressor deflates at a fixed level (§4.4 "compress_level 1-9 =
// deflate"). archive/zip's built-in Deflate compressor has no way to pick a
// level, so each zipSink registers this one on its own zip.Writer under the
// standard Deflate method id, keeping the output readable by any unzip tool
// without one sink's level affecting another's.
func deflateCompressor(level int) zip.Compressor {
	return func(w io.Writer) (io.WriteCloser, error) { return flate.NewWriter(w, level) }
}

// zipSink implements Sink for the zip format (§4.4 "Zip"). Store (level 0)
// or deflate (level 1-9, via klauspost/compress/flate) per entry; ZIP64 is
// handled transparently by archive/zip once an entry's declared size
// requires it.
type zipSink struct {
	file  *atomicFile
	zw    *zip.Writer
	opts  Options
	count int
	bytes int64
}

func newZipSink(outputPath string, opts Options) (*zipSink, error) {
	af, err := newAtomicFile(outputPath)
	if err != nil {
		return nil, err
	}
	zw := zip.NewWriter(af.temp)
	if opts.CompressLevel > 0 {
		zw.RegisterCompressor(zip.Deflate, deflateCompressor(opts.CompressLevel))
	}
	return &zipSink{file: af, zw: zw, opts: opts}, nil
}

func (s *zipSink) zipTime(mtime time.Time) time.Time {
	if s.opts.Reproducible {
		// Zip timestamps have 2-second granularity (MS-DOS date/time); a
		// fixed epoch within its representable range is used.
		return time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return mtime
}

func (s *zipSink) method() uint16 {
	if s.opts.CompressLevel <= 0 {
		return zip.Store
	}
	return zip.Deflate
}

func (s *zipSink) AddDirectory(arcname string, mode os.FileMode, mtime time.Time) error {
	name := joinArc(s.opts.ArcRoot, arcname)
	if name[len(name)-1] != '/' {
		name += "/"
	}
	h := &zip.FileHeader{Name: name, Method: zip.Store}
	h.SetMode(mode | os.ModeDir)
	h.Modified = s.zipTime(mtime)
	if _, err := s.zw.CreateHeader(h); err != nil {
		return errs.Wrap(errs.WorkerFailure, err, "writing zip directory entry %s", arcname)
	}
	s.count++
	return nil
}

func (s *zipSink) AddRegular(arcname string, mode os.FileMode, mtime time.Time, size int64, content io.Reader) error {
	h := &zip.FileHeader{Name: joinArc(s.opts.ArcRoot, arcname), Method: s.method()}
	h.SetMode(mode)
	h.Modified = s.zipTime(mtime)
	h.UncompressedSize64 = uint64(size)

	w, err := s.zw.CreateHeader(h)
	if err != nil {
		return errs.Wrap(errs.WorkerFailure, err, "writing zip header %s", arcname)
	}
	n, err := io.Copy(w, content)
	if err != nil {
		return errs.Wrap(errs.WorkerFailure, err, "writing zip content %s", arcname)
	}
	s.count++
	s.bytes += n
	return nil
}

func (s *zipSink) AddSymlink(arcname string, mode os.FileMode, mtime time.Time, target string) error {
	h := &zip.FileHeader{Name: joinArc(s.opts.ArcRoot, arcname), Method: zip.Store}
	h.SetMode(mode | os.ModeSymlink)
	h.Modified = s.zipTime(mtime)
	w, err := s.zw.CreateHeader(h)
	if err != nil {
		return errs.Wrap(errs.WorkerFailure, err, "writing zip symlink entry %s", arcname)
	}
	if _, err := io.WriteString(w, target); err != nil {
		return errs.Wrap(errs.WorkerFailure, err, "writing zip symlink target %s", arcname)
	}
	s.count++
	return nil
}

func (s *zipSink) Finalize() error {
	if err := s.zw.Close(); err != nil {
		s.file.abort()
		return errs.Wrap(errs.WorkerFailure, err, "closing zip writer")
	}
	return s.file.finalize()
}

func (s *zipSink) Abort() error {
	return s.file.abort()
}
