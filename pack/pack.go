// Package pack is the driver that wires inventory, walker, rewrite,
// pipeline, and archive together into the single end-to-end operation
// described across §4 and §5: build the inventory, walk the prefix, check
// the binary-rewrite length policy, stream every record through the worker
// pool into an archive sink, and finish by writing the deferred-rewrite
// manifest and the companion unpack runner.
package pack

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/etnz/envpack/archive"
	"github.com/etnz/envpack/config"
	"github.com/etnz/envpack/errs"
	"github.com/etnz/envpack/inventory"
	"github.com/etnz/envpack/pipeline"
	"github.com/etnz/envpack/prefix"
	"github.com/etnz/envpack/progress"
	"github.com/etnz/envpack/rewrite"
	"github.com/etnz/envpack/unpack"
	"github.com/etnz/envpack/walker"
)

// companionRunnerArcname is the well-known in-archive path the companion
// envpack-unpack runner is bundled under, executable immediately after
// extraction (§1 step 4, §4.4 "archive layout invariants").
const companionRunnerArcname = "bin/envpack-unpack"

// Run executes one complete pack operation as described by cfg, reporting
// progress to reporter (which may be progress.Discard).
func Run(ctx context.Context, cfg *config.Config, oracle inventory.Oracle, cache inventory.Cache, reporter progress.Reporter) error {
	if reporter == nil {
		reporter = progress.Discard
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	rawPrefix := cfg.Prefix
	if rawPrefix == "" {
		resolved, err := oracle.ResolvePrefix(cfg.Name)
		if err != nil {
			return errs.Wrap(errs.InvalidConfig, err, "resolving environment name %q", cfg.Name)
		}
		rawPrefix = resolved
	}
	sourcePrefix, err := prefix.Normalize(rawPrefix)
	if err != nil {
		return errs.New(errs.InvalidConfig, "prefix: %v", err)
	}
	arcRoot, destPrefix := cfg.ResolveArcRootAndDestPrefix()

	reporter.Report(progress.EventWalkStarted{Prefix: sourcePrefix})

	inv, _, err := inventory.Build(sourcePrefix, oracle, cache, inventory.Options{
		IgnoreMissingFiles:     cfg.IgnoreMissingFiles,
		IgnoreEditablePackages: cfg.IgnoreEditablePackages,
	})
	if err != nil {
		return err
	}

	if !cfg.AllowCrossPrefix {
		for rel, entry := range inv {
			if entry.PrefixPlaceholder != "" && entry.PrefixPlaceholder != sourcePrefix {
				return errs.WithPath(errs.CrossPrefixInstall, rel,
					"recorded prefix %q differs from environment prefix %q; pass --allow-cross-prefix to override",
					entry.PrefixPlaceholder, sourcePrefix)
			}
		}
	}

	placeholders := distinctBinaryPlaceholders(inv)
	if cfg.Unmanaged {
		// Unmanaged files sniffed as binary during the walk always carry
		// sourcePrefix as their placeholder (walker.sniffUnmanagedPrefix), so
		// it must be validated up front too, even though no inventory entry
		// names it.
		placeholders = appendDistinct(placeholders, sourcePrefix)
	}
	if err := rewrite.CheckLengthPolicy(destPrefix, placeholders); err != nil {
		return err
	}

	w := walker.New(sourcePrefix, inv, walker.Options{
		IncludeUnmanaged:       cfg.Unmanaged,
		MaxPathLen:             maxPathLenForFormat(cfg.Format),
		DowngradeMissing:       cfg.IgnoreMissingFiles,
		DowngradeLong:          cfg.IgnoreLongPaths,
		EditableFilter:         cfg.EditableFilter,
		IgnoreEditablePackages: cfg.IgnoreEditablePackages,
	})

	sink, err := archive.Open(cfg.Format, cfg.Output, archive.Options{
		CompressLevel: cfg.CompressLevel,
		Reproducible:  cfg.Reproducibility(),
		ArcRoot:       arcRoot,
		SquashFSCodec: cfg.SquashFSCodec,
		Parcel:        cfg.Parcel,
	})
	if err != nil {
		return err
	}

	records, unmanagedCounts := countingWalk(ctx, w, cfg.UnmanagedReport)

	p := &pipeline.Pipeline{NWorkers: cfg.NThreads, SourcePrefix: sourcePrefix, DestPrefix: destPrefix, Reporter: reporter}
	deferred, stats, err := p.Run(ctx, records, sink)
	if err != nil {
		if !cfg.KeepPartialOnError {
			sink.Abort()
		}
		return err
	}

	if cfg.UnmanagedReport {
		reporter.Report(progress.EventUnmanagedSummary{Counts: unmanagedCounts.snapshot()})
	}

	if err := writeManifest(sink, sourcePrefix, destPrefix, deferred); err != nil {
		sink.Abort()
		return err
	}
	if err := bundleCompanionRunner(sink); err != nil {
		sink.Abort()
		return err
	}

	if err := sink.Finalize(); err != nil {
		return err
	}
	reporter.Report(progress.EventArchiveFinalized{Output: cfg.Output, EntryCount: stats.EntryCount, Bytes: stats.Bytes})
	return nil
}

// distinctBinaryPlaceholders collects every distinct placeholder string
// carried by a binary-prefix managed file, the set rewrite.CheckLengthPolicy
// must validate before any output is created (S2).
func distinctBinaryPlaceholders(inv inventory.Inventory) []string {
	seen := make(map[string]bool)
	var out []string
	for _, entry := range inv {
		if entry.PrefixKind != inventory.KindBinary || entry.PrefixPlaceholder == "" {
			continue
		}
		if seen[entry.PrefixPlaceholder] {
			continue
		}
		seen[entry.PrefixPlaceholder] = true
		out = append(out, entry.PrefixPlaceholder)
	}
	return out
}

// appendDistinct appends s to out if it isn't already present.
func appendDistinct(out []string, s string) []string {
	for _, existing := range out {
		if existing == s {
			return out
		}
	}
	return append(out, s)
}

// maxPathLenForFormat returns the hard archive-relative path length limit
// for format, or 0 if the format (or archive/tar's automatic pax extension
// fallback) has none worth enforcing up front.
func maxPathLenForFormat(format config.Format) int {
	if format == config.FormatZip {
		return 65535
	}
	return 0
}

// unmanagedCounter tallies unmanaged, included files by top-level directory
// for the --unmanaged-report diagnostic (SPEC_FULL.md supplement).
type unmanagedCounter struct {
	counts map[string]int
}

func (c *unmanagedCounter) observe(rec walker.Record) {
	if c == nil || rec.SourceKind != walker.Unmanaged || rec.Disposition != walker.Include {
		return
	}
	top := rec.RelativePath
	if i := strings.IndexByte(top, '/'); i >= 0 {
		top = top[:i]
	}
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[top]++
}

func (c *unmanagedCounter) snapshot() map[string]int {
	if c == nil {
		return nil
	}
	return c.counts
}

// countingWalk wraps w.Walk so the driver can tally unmanaged files as they
// stream past without buffering the whole walk up front.
func countingWalk(ctx context.Context, w *walker.Walker, enabled bool) (<-chan walker.Result, *unmanagedCounter) {
	in := w.Walk(ctx)
	if !enabled {
		return in, nil
	}
	counter := &unmanagedCounter{}
	out := make(chan walker.Result)
	go func() {
		defer close(out)
		for r := range in {
			if r.Err == nil {
				counter.observe(r.Record)
			}
			out <- r
		}
	}()
	return out, counter
}

// writeManifest appends the deferred-rewrite manifest to sink (§4.4
// "Unpack metadata").
func writeManifest(sink archive.Sink, sourcePrefix, destPrefix string, deferred []rewrite.DeferredBinary) error {
	files := make([]unpack.FileEntry, 0, len(deferred))
	for _, d := range deferred {
		files = append(files, unpack.FileEntry{Path: d.RelativePath, Placeholder: d.Placeholder})
	}
	m := unpack.Manifest{PrefixPlaceholder: sourcePrefix, DestinationPrefix: destPrefix, Files: files}

	var buf bytes.Buffer
	if err := unpack.Write(&buf, m); err != nil {
		return err
	}
	now := time.Now()
	return sink.AddRegular(unpack.ManifestArcname, 0644, now, int64(buf.Len()), bytes.NewReader(buf.Bytes()))
}

// bundleCompanionRunner copies a prebuilt envpack-unpack binary found next
// to the running executable into the archive, if one is present. Packing
// still succeeds without it: operators may install the runner separately
// and point it at the extracted tree's manifest.
func bundleCompanionRunner(sink archive.Sink) error {
	exe, err := os.Executable()
	if err != nil {
		return nil
	}
	candidate := filepath.Join(filepath.Dir(exe), "envpack-unpack")
	info, err := os.Stat(candidate)
	if err != nil || info.IsDir() {
		return nil
	}
	f, err := os.Open(candidate)
	if err != nil {
		return nil
	}
	defer f.Close()
	return sink.AddRegular(companionRunnerArcname, 0755, info.ModTime(), info.Size(), f)
}
