// Package errs defines the closed error taxonomy of the archive builder
// (§7) and the fatal/warning severity policy applied to it. Errors are
// constructed here and wrapped with github.com/pkg/errors at the point a
// worker or sink surfaces them to the driver, so a %+v format prints the
// stack that produced them.
package errs

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind identifies one of the semantic error categories from §7.
type Kind string

const (
	MissingPackageCache      Kind = "missing_package_cache"
	ConflictingOwnership     Kind = "conflicting_ownership"
	MissingManagedFile       Kind = "missing_managed_file"
	DestinationPrefixTooLong Kind = "destination_prefix_too_long"
	CrossPrefixInstall       Kind = "cross_prefix_install"
	OutputExists             Kind = "output_exists"
	FormatUnavailable        Kind = "format_unavailable"
	PathTooLongForFormat     Kind = "path_too_long_for_format"
	WorkerFailure            Kind = "worker_failure"
	Cancelled                Kind = "cancelled"
	InvalidConfig            Kind = "invalid_config"
)

// downgradable lists the kinds that may be demoted from fatal to warning
// under the right configuration flag (§7).
var downgradable = map[Kind]bool{
	MissingManagedFile:   true, // --ignore-missing-files
	PathTooLongForFormat: true, // --ignore-long-paths
}

// Error is a taxonomy-tagged error. Path is optional context (the file the
// error concerns, if any).
type Error struct {
	Kind Kind
	Path string
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.msg, e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

func (e *Error) Unwrap() error { return e.err }

// Is allows errors.Is(err, errs.New(Kind, "")) style matching on Kind alone.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New constructs a taxonomy error, annotated with a stack trace via
// github.com/pkg/errors so diagnostics printed with %+v show where it
// originated.
func New(kind Kind, format string, args ...any) error {
	e := &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
	return pkgerrors.WithStack(e)
}

// WithPath is like New but attaches the file path the error concerns.
func WithPath(kind Kind, path, format string, args ...any) error {
	e := &Error{Kind: kind, Path: path, msg: fmt.Sprintf(format, args...)}
	return pkgerrors.WithStack(e)
}

// Wrap tags an arbitrary error (typically a WorkerFailure from I/O or a
// compressor) with a taxonomy kind while preserving it in the chain.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	e := &Error{Kind: kind, msg: fmt.Sprintf(format, args...), err: err}
	return pkgerrors.WithStack(e)
}

// KindOf extracts the Kind of err if it (or something it wraps) is a
// taxonomy Error, and false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Downgradable reports whether kind may be demoted from fatal to warning.
func Downgradable(kind Kind) bool { return downgradable[kind] }

// IsFatal reports whether err should abort the run given the supplied
// downgrade flags, keyed by Kind. Errors outside the taxonomy and kinds that
// are not Downgradable are always fatal. A downgradable Kind not present in
// flags (or present but false) is fatal; one present and true is demoted to
// a warning the caller should log and continue past.
func IsFatal(err error, downgraded map[Kind]bool) bool {
	kind, ok := KindOf(err)
	if !ok {
		return true
	}
	if !Downgradable(kind) {
		return true
	}
	return !downgraded[kind]
}
