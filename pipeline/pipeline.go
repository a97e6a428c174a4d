// Package pipeline implements the driver/worker-pool/sink-writer scheduler
// of §4.5 and §5: a bounded number of workers perform the per-file
// rewrite/hash work concurrently, while a single goroutine drains their
// results in the walker's canonical order and hands them to the archive
// sink, which is therefore never accessed concurrently.
package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/etnz/envpack/archive"
	"github.com/etnz/envpack/errs"
	"github.com/etnz/envpack/progress"
	"github.com/etnz/envpack/prefix"
	"github.com/etnz/envpack/rewrite"
	"github.com/etnz/envpack/walker"
)

// Stats accumulates counters the driver reports once the run finishes.
type Stats struct {
	EntryCount int
	Bytes      int64
}

// Pipeline wires a bounded worker pool to a single ordered sink writer.
type Pipeline struct {
	NWorkers     int
	SourcePrefix string
	DestPrefix   string
	Reporter     progress.Reporter
}

// result is what a worker computes for one Record; only the driver acts on
// it, which is what keeps the sink single-writer (§5).
type result struct {
	rec      walker.Record
	content  []byte
	sha256   string
	deferred *rewrite.DeferredBinary
	// symlinkTarget is the (possibly rewritten) target to record; valid
	// only when rec.FileKind == walker.Symlink.
	symlinkTarget        string
	symlinkOutsidePrefix bool
}

// Run drains records (the walker's output), routes each through the
// configured worker pool, and writes the results to sink in canonical
// order. It returns the deferred-rewrite records for the unpack manifest
// and summary stats.
func (p *Pipeline) Run(ctx context.Context, records <-chan walker.Result, sink archive.Sink) ([]rewrite.DeferredBinary, Stats, error) {
	// §6: 0 and 1 both mean serial processing; -1 means use every core.
	n := p.NWorkers
	switch {
	case n < 0:
		n = runtime.NumCPU()
	case n == 0:
		n = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(n))

	// slots preserves arrival order: the producer pushes one channel per
	// record (capacity n+4 bounds how far ahead of the sink writer the
	// workers may race), the consumer receives from each in turn.
	slots := make(chan chan result, n+4)

	g.Go(func() error {
		defer close(slots)
		for rr := range records {
			if rr.Err != nil {
				return rr.Err
			}
			rec := rr.Record
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			slot := make(chan result, 1)
			select {
			case slots <- slot:
			case <-gctx.Done():
				sem.Release(1)
				return gctx.Err()
			}
			g.Go(func() error {
				defer sem.Release(1)
				r, err := p.process(rec)
				if err != nil {
					return err
				}
				slot <- r
				return nil
			})
		}
		return nil
	})

	var (
		deferred []rewrite.DeferredBinary
		stats    Stats
	)
	g.Go(func() error {
		for slot := range slots {
			var r result
			select {
			case r = <-slot:
			case <-gctx.Done():
				return gctx.Err()
			}
			if err := p.deliver(sink, r, &stats, &deferred); err != nil {
				return err
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, Stats{}, err
	}
	return deferred, stats, nil
}

// process performs the CPU/IO-bound per-file work: read, rewrite (if
// textual), hash. It never touches the sink or the reporter.
func (p *Pipeline) process(rec walker.Record) (result, error) {
	r := result{rec: rec}
	if rec.Disposition == walker.Drop {
		// Never reaches the sink; a Missing record has no file to read.
		return r, nil
	}

	switch rec.FileKind {
	case walker.Directory:
		return r, nil
	case walker.Symlink:
		rel, ok := prefix.RelativeSymlinkTarget(rec.SymlinkTarget, p.SourcePrefix, rec.RelativePath)
		if ok {
			r.symlinkTarget = rel
		} else {
			r.symlinkTarget = rec.SymlinkTarget
			r.symlinkOutsidePrefix = filepath.IsAbs(rec.SymlinkTarget)
		}
		return r, nil
	}

	data, err := os.ReadFile(rec.AbsolutePath)
	if err != nil {
		return result{}, errs.Wrap(errs.WorkerFailure, err, "reading %s", rec.RelativePath)
	}

	switch rec.PrefixAction {
	case walker.ActionText:
		var buf bytes.Buffer
		if _, err := rewrite.Text(&buf, bytes.NewReader(data), rec.Placeholder, p.DestPrefix); err != nil {
			return result{}, errs.Wrap(errs.WorkerFailure, err, "rewriting %s", rec.RelativePath)
		}
		r.content = buf.Bytes()
	case walker.ActionBinary:
		r.content = data
		r.deferred = &rewrite.DeferredBinary{RelativePath: rec.RelativePath, Placeholder: rec.Placeholder}
	default:
		r.content = data
	}

	sum := sha256.Sum256(r.content)
	r.sha256 = hex.EncodeToString(sum[:])
	return r, nil
}

// deliver is the single point of contact with the sink and the progress
// reporter, executed only by the driver goroutine.
func (p *Pipeline) deliver(sink archive.Sink, r result, stats *Stats, deferred *[]rewrite.DeferredBinary) error {
	rec := r.rec
	if rec.Disposition == walker.Drop {
		// Records dropped by a downgraded error (§7) surface as warnings.
		if p.Reporter != nil {
			switch {
			case rec.SourceKind == walker.Missing:
				p.Reporter.Report(progress.EventWarning{Kind: string(errs.MissingManagedFile), Path: rec.RelativePath, Message: "listed in package manifest but absent on disk"})
			case rec.DropReason == "path too long for archive format":
				p.Reporter.Report(progress.EventWarning{Kind: string(errs.PathTooLongForFormat), Path: rec.RelativePath, Message: rec.DropReason})
			}
		}
		return nil
	}

	switch rec.FileKind {
	case walker.Directory:
		if err := sink.AddDirectory(rec.RelativePath, rec.Mode, rec.ModTime); err != nil {
			return err
		}
	case walker.Symlink:
		if r.symlinkOutsidePrefix && p.Reporter != nil {
			p.Reporter.Report(progress.EventSymlinkOutsidePrefix{RelativePath: rec.RelativePath, Target: r.symlinkTarget})
		}
		if err := sink.AddSymlink(rec.RelativePath, rec.Mode, rec.ModTime, r.symlinkTarget); err != nil {
			return err
		}
	default:
		if err := sink.AddRegular(rec.RelativePath, rec.Mode, rec.ModTime, int64(len(r.content)), bytes.NewReader(r.content)); err != nil {
			return err
		}
		stats.Bytes += int64(len(r.content))
	}

	if r.deferred != nil {
		*deferred = append(*deferred, *r.deferred)
	}

	stats.EntryCount++
	if p.Reporter != nil {
		action := ""
		switch rec.PrefixAction {
		case walker.ActionText:
			action = "text"
		case walker.ActionBinary:
			action = "binary"
		}
		p.Reporter.Report(progress.EventFileWritten{RelativePath: rec.RelativePath, Size: int64(len(r.content)), PrefixAction: action})
	}
	return nil
}
