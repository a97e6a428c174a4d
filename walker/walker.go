// Package walker walks an environment's directory tree, reconciles it
// against the package inventory, classifies every entry, and attaches the
// per-file policy the rest of the pipeline needs (§4.2).
package walker

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/etnz/envpack/errs"
	"github.com/etnz/envpack/inventory"
	"github.com/etnz/envpack/prefix"
)

// SourceKind classifies a file against the inventory.
type SourceKind int

const (
	Managed SourceKind = iota
	Unmanaged
	Missing
)

func (k SourceKind) String() string {
	switch k {
	case Managed:
		return "managed"
	case Unmanaged:
		return "unmanaged"
	case Missing:
		return "missing"
	default:
		return "unknown"
	}
}

// FileKind is the on-disk entry type.
type FileKind int

const (
	Regular FileKind = iota
	Symlink
	Directory
)

// PrefixAction is the decision the rewriter will act on (§4.3).
type PrefixAction int

const (
	ActionNone PrefixAction = iota
	ActionText
	ActionBinary
)

// Disposition decides whether a record reaches the archive at all.
type Disposition int

const (
	Include Disposition = iota
	Drop
)

// Record is the per-file annotation produced by the walker; it is the
// pipeline's sole unit of work (§3 "File record").
type Record struct {
	RelativePath  string
	AbsolutePath  string
	SourceKind    SourceKind
	FileKind      FileKind
	Mode          os.FileMode
	ModTime       time.Time
	Size          int64
	SymlinkTarget string

	PrefixAction PrefixAction
	Placeholder  string

	Disposition Disposition
	DropReason  string
}

// Result pairs a Record with an error for the lazy, channel-based stream
// the walker hands to the pipeline (§4.2, §9 "lazy streams").
type Result struct {
	Record Record
	Err    error
}

// DefaultExcludeGlobs matches caches and files that are regenerable or are
// the package manager's own bookkeeping and are therefore dropped
// regardless of ownership (§4.2 step 3).
var DefaultExcludeGlobs = []string{
	"**/__pycache__/**",
	"**/*.pyc",
	"**/*.pyo",
	"**/*.egg-info/installed-files.txt",
	"conda-meta/history",
	"conda-meta/*.trash",
	"pkgs/**",
	".cache/**",
}

// Options controls walker policy (§6 configuration fields that affect the
// walk: unmanaged, ignore_missing_files, ignore_long_paths).
type Options struct {
	IncludeUnmanaged bool
	MaxPathLen       int // 0 disables the check
	ExtraExcludes    []string
	DowngradeMissing bool
	DowngradeLong    bool

	// EditableFilter matches unmanaged editable-install marker files
	// (*.egg-link, *.pth); when IgnoreEditablePackages is set they are
	// dropped alongside the editable packages themselves rather than
	// surviving as ordinary unmanaged files.
	EditableFilter         []string
	IgnoreEditablePackages bool
}

// Walker reconciles an on-disk prefix against an inventory.
type Walker struct {
	SourcePrefix string
	Inventory    inventory.Inventory
	Opts         Options
}

// New constructs a Walker.
func New(sourcePrefix string, inv inventory.Inventory, opts Options) *Walker {
	return &Walker{SourcePrefix: sourcePrefix, Inventory: inv, Opts: opts}
}

// Walk traverses the prefix and emits Records on the returned channel in the
// canonical order of I5 (depth-first lexicographic on relative_path,
// directories before their contents). After the disk walk it handles every
// inventory path the walk never visited: with Opts.DowngradeMissing each one
// becomes a dropped Missing record; otherwise the first one ends the stream
// with a MissingManagedFile error. The channel
// is closed once every record (or a fatal error) has been sent; the caller
// must drain it to avoid leaking the walker's goroutine.
func (w *Walker) Walk(ctx context.Context) <-chan Result {
	out := make(chan Result)
	go func() {
		defer close(out)
		w.walk(ctx, out)
	}()
	return out
}

func (w *Walker) walk(ctx context.Context, out chan<- Result) {
	visited := make(map[string]bool, len(w.Inventory))

	type entry struct {
		rel string
		abs string
	}
	var entries []entry

	err := filepath.WalkDir(w.SourcePrefix, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == w.SourcePrefix {
			return nil
		}
		rel, err := filepath.Rel(w.SourcePrefix, path)
		if err != nil {
			return err
		}
		entries = append(entries, entry{rel: filepath.ToSlash(rel), abs: path})
		return nil
	})
	if err != nil {
		send(ctx, out, Result{Err: errs.Wrap(errs.WorkerFailure, err, "walking %s", w.SourcePrefix)})
		return
	}

	// Comparing with '/' mapped below every other byte keeps each directory's
	// contents contiguous right after it (depth-first), e.g. "bin", "bin/x",
	// "bin-y" rather than "bin", "bin-y", "bin/x".
	sort.Slice(entries, func(i, j int) bool {
		return strings.ReplaceAll(entries[i].rel, "/", "\x00") < strings.ReplaceAll(entries[j].rel, "/", "\x00")
	})

	for _, e := range entries {
		if ctx.Err() != nil {
			send(ctx, out, Result{Err: errs.New(errs.Cancelled, "walk cancelled")})
			return
		}
		visited[e.rel] = true
		rec, err := w.classify(e.rel, e.abs)
		if err != nil {
			send(ctx, out, Result{Err: err})
			return
		}
		if rec == nil {
			continue
		}
		if !send(ctx, out, Result{Record: *rec}) {
			return
		}
	}

	for _, rel := range w.Inventory.SortedPaths() {
		if visited[rel] {
			continue
		}
		meta := w.Inventory[rel]
		rec := Record{
			RelativePath: rel,
			SourceKind:   Missing,
			Disposition:  Drop,
			DropReason:   "missing",
			Placeholder:  meta.PrefixPlaceholder,
		}
		if !w.Opts.DowngradeMissing {
			send(ctx, out, Result{Err: errs.WithPath(errs.MissingManagedFile, rel, "listed in package manifest but absent on disk")})
			return
		}
		if !send(ctx, out, Result{Record: rec}) {
			return
		}
	}
}

func send(ctx context.Context, out chan<- Result, r Result) bool {
	select {
	case out <- r:
		return true
	case <-ctx.Done():
		return false
	}
}

func (w *Walker) classify(rel, abs string) (*Record, error) {
	info, err := os.Lstat(abs)
	if err != nil {
		return nil, errs.Wrap(errs.WorkerFailure, err, "stat %s", rel)
	}

	rec := &Record{
		RelativePath: rel,
		AbsolutePath: abs,
		Mode:         info.Mode(),
		ModTime:      info.ModTime(),
		Size:         info.Size(),
	}

	switch {
	case info.Mode()&os.ModeSymlink != 0:
		rec.FileKind = Symlink
		target, err := os.Readlink(abs)
		if err != nil {
			return nil, errs.Wrap(errs.WorkerFailure, err, "readlink %s", rel)
		}
		rec.SymlinkTarget = target
	case info.IsDir():
		rec.FileKind = Directory
	default:
		rec.FileKind = Regular
	}

	meta, owned := w.Inventory[rel]
	switch {
	case owned:
		rec.SourceKind = Managed
		rec.Placeholder = meta.PrefixPlaceholder
		switch meta.PrefixKind {
		case inventory.KindText:
			rec.PrefixAction = ActionText
		case inventory.KindBinary:
			rec.PrefixAction = ActionBinary
		}
	default:
		rec.SourceKind = Unmanaged
	}

	if rec.SourceKind == Unmanaged && w.Opts.IgnoreEditablePackages && w.matchesEditableFilter(rel) {
		rec.Disposition = Drop
		rec.DropReason = "editable-install marker file excluded"
		return rec, nil
	}

	if excluded, reason := w.excluded(rel); excluded {
		rec.Disposition = Drop
		rec.DropReason = reason
		return rec, nil
	}

	if rec.SourceKind == Unmanaged && !w.Opts.IncludeUnmanaged {
		rec.Disposition = Drop
		rec.DropReason = "unmanaged file excluded by policy"
		return rec, nil
	}

	if w.Opts.MaxPathLen > 0 && len(rel) > w.Opts.MaxPathLen {
		if !w.Opts.DowngradeLong {
			return nil, errs.WithPath(errs.PathTooLongForFormat, rel, "path exceeds %d bytes", w.Opts.MaxPathLen)
		}
		rec.Disposition = Drop
		rec.DropReason = "path too long for archive format"
		return rec, nil
	}

	rec.Disposition = Include

	if rec.SourceKind == Unmanaged && rec.PrefixAction == ActionNone && rec.FileKind == Regular {
		if err := w.sniffUnmanagedPrefix(rec); err != nil {
			return nil, err
		}
	}

	return rec, nil
}

// sniffUnmanagedPrefix implements the on-demand prefix scan of §4.2 step 4
// for files the inventory says nothing about: read the sniff window to
// decide text vs. binary, then scan for the source prefix, reading the rest
// of the file only if the window alone is inconclusive.
func (w *Walker) sniffUnmanagedPrefix(rec *Record) error {
	f, err := os.Open(rec.AbsolutePath)
	if err != nil {
		return errs.Wrap(errs.WorkerFailure, err, "opening %s", rec.RelativePath)
	}
	defer f.Close()

	window := make([]byte, prefix.SniffWindow())
	n, err := f.Read(window)
	if err != nil && n == 0 && rec.Size > 0 {
		return errs.Wrap(errs.WorkerFailure, err, "reading %s", rec.RelativePath)
	}
	window = window[:n]

	placeholder := []byte(w.SourcePrefix)
	text := prefix.IsProbablyText(window)

	hit := prefix.Contains(window, placeholder)
	if !hit && int64(n) < rec.Size {
		rest, err := os.ReadFile(rec.AbsolutePath)
		if err != nil {
			return errs.Wrap(errs.WorkerFailure, err, "reading %s", rec.RelativePath)
		}
		hit = prefix.Contains(rest, placeholder)
	}
	if !hit {
		return nil
	}

	rec.Placeholder = w.SourcePrefix
	if text {
		rec.PrefixAction = ActionText
	} else {
		rec.PrefixAction = ActionBinary
	}
	return nil
}

// matchesEditableFilter reports whether rel looks like an editable-install
// marker file per w.Opts.EditableFilter (§9 open question, resolved as
// configuration).
func (w *Walker) matchesEditableFilter(rel string) bool {
	base := filepath.Base(rel)
	for _, g := range w.Opts.EditableFilter {
		if ok, err := doublestar.Match(g, base); err == nil && ok {
			return true
		}
		if ok, err := doublestar.Match(g, rel); err == nil && ok {
			return true
		}
	}
	return false
}

func (w *Walker) excluded(rel string) (bool, string) {
	globs := DefaultExcludeGlobs
	if len(w.Opts.ExtraExcludes) > 0 {
		globs = append(append([]string{}, globs...), w.Opts.ExtraExcludes...)
	}
	for _, g := range globs {
		ok, err := doublestar.Match(g, rel)
		if err == nil && ok {
			return true, "matches exclude pattern " + g
		}
	}
	if _, owned := w.Inventory[rel]; !owned && strings.HasPrefix(rel, "conda-meta/") && !w.Opts.IncludeUnmanaged {
		// Package-manager bookkeeping directory: unmanaged entries under it
		// are dropped unless explicitly requested.
		return true, "package manager bookkeeping directory"
	}
	return false, ""
}
