package archive

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"time"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/etnz/envpack/errs"
)

// tarCompression selects which member of the tar family a tarSink writes.
type tarCompression int

const (
	tarNone tarCompression = iota
	tarGzip
	tarBzip2
	tarXz
	tarZstd
)

// tarSink implements Sink for the uncompressed-tar / tar.gz / tar.bz2 /
// tar.xz / tar.zst family (§4.4 "Tar family"). POSIX ustar headers are
// emitted; archive/tar falls back to pax extensions automatically only when
// a path or uid/gid overflows ustar's fixed-width fields.
type tarSink struct {
	file        *atomicFile
	compression io.WriteCloser // nil for tarNone
	tw          *tar.Writer
	opts        Options
	count       int
	bytes       int64
}

func newTarSink(outputPath string, compression tarCompression, opts Options) (*tarSink, error) {
	af, err := newAtomicFile(outputPath)
	if err != nil {
		return nil, err
	}

	var w io.Writer = af.temp
	var closer io.WriteCloser

	switch compression {
	case tarGzip:
		gw, _ := gzip.NewWriterLevel(af.temp, mapLevel(opts.CompressLevel, 9))
		if opts.Reproducible {
			gw.Name = ""
			gw.ModTime = reproducibleTime
		}
		closer = gw
		w = gw
	case tarBzip2:
		bw, err := bzip2.NewWriter(af.temp, &bzip2.WriterConfig{Level: mapLevel(opts.CompressLevel, 9)})
		if err != nil {
			af.abort()
			return nil, errs.Wrap(errs.WorkerFailure, err, "initializing bzip2 writer")
		}
		closer = bw
		w = bw
	case tarXz:
		xw, err := xz.NewWriter(af.temp)
		if err != nil {
			af.abort()
			return nil, errs.Wrap(errs.WorkerFailure, err, "initializing xz writer")
		}
		closer = xw
		w = xw
	case tarZstd:
		zw, err := zstd.NewWriter(af.temp, zstd.WithEncoderLevel(zstdLevel(opts.CompressLevel)))
		if err != nil {
			af.abort()
			return nil, errs.Wrap(errs.WorkerFailure, err, "initializing zstd writer")
		}
		closer = zw
		w = zw
	}

	return &tarSink{file: af, compression: closer, tw: tar.NewWriter(w), opts: opts}, nil
}

func mapLevel(level, max int) int {
	if level <= 0 {
		return 1
	}
	if level > max {
		return max
	}
	return level
}

func zstdLevel(level int) zstd.EncoderLevel {
	switch {
	case level <= 2:
		return zstd.SpeedFastest
	case level <= 5:
		return zstd.SpeedDefault
	case level <= 8:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

func (s *tarSink) normalize(mtime time.Time) time.Time {
	if s.opts.Reproducible {
		return reproducibleTime
	}
	return mtime
}

func (s *tarSink) header(arcname string, mode os.FileMode, mtime time.Time, typ byte) *tar.Header {
	h := &tar.Header{
		Name:     joinArc(s.opts.ArcRoot, arcname),
		Mode:     int64(mode.Perm()),
		ModTime:  s.normalize(mtime),
		Typeflag: typ,
	}
	if typ == tar.TypeDir && h.Name[len(h.Name)-1] != '/' {
		h.Name += "/"
	}
	if s.opts.Reproducible {
		h.Uid, h.Gid, h.Uname, h.Gname = 0, 0, "", ""
	}
	return h
}

func (s *tarSink) AddDirectory(arcname string, mode os.FileMode, mtime time.Time) error {
	h := s.header(arcname, mode, mtime, tar.TypeDir)
	if err := s.tw.WriteHeader(h); err != nil {
		return errs.Wrap(errs.WorkerFailure, err, "writing tar directory header %s", arcname)
	}
	s.count++
	return nil
}

func (s *tarSink) AddRegular(arcname string, mode os.FileMode, mtime time.Time, size int64, content io.Reader) error {
	h := s.header(arcname, mode, mtime, tar.TypeReg)
	h.Size = size
	if err := s.tw.WriteHeader(h); err != nil {
		return errs.Wrap(errs.WorkerFailure, err, "writing tar header %s", arcname)
	}
	n, err := io.Copy(s.tw, content)
	if err != nil {
		return errs.Wrap(errs.WorkerFailure, err, "writing tar content %s", arcname)
	}
	s.count++
	s.bytes += n
	return nil
}

func (s *tarSink) AddSymlink(arcname string, mode os.FileMode, mtime time.Time, target string) error {
	h := s.header(arcname, mode, mtime, tar.TypeSymlink)
	h.Linkname = target
	if err := s.tw.WriteHeader(h); err != nil {
		return errs.Wrap(errs.WorkerFailure, err, "writing tar symlink header %s", arcname)
	}
	s.count++
	return nil
}

func (s *tarSink) Finalize() error {
	if err := s.tw.Close(); err != nil {
		s.file.abort()
		return errs.Wrap(errs.WorkerFailure, err, "closing tar writer")
	}
	if s.compression != nil {
		if err := s.compression.Close(); err != nil {
			s.file.abort()
			return errs.Wrap(errs.WorkerFailure, err, "closing compressor")
		}
	}
	return s.file.finalize()
}

func (s *tarSink) Abort() error {
	return s.file.abort()
}
