// Package inventory consults the package-manager oracle and the package
// cache to build the authoritative mapping of relative_path → owning
// package used by the walker (§4.1).
package inventory

import (
	"fmt"
	"sort"

	"github.com/etnz/envpack/errs"
)

// PrefixKind is the manifest-declared kind of prefix reference a file
// carries, or the empty string if the package manager recorded none.
type PrefixKind string

const (
	KindNone   PrefixKind = ""
	KindText   PrefixKind = "text"
	KindBinary PrefixKind = "binary"
)

// Identity is a package's (name, version, build) triple, as used by the
// oracle and by editable-install filtering.
type Identity struct {
	Name    string
	Version string
	Build   string
}

func (id Identity) String() string {
	return fmt.Sprintf("%s-%s-%s", id.Name, id.Version, id.Build)
}

// FileMeta is a single member of a package's manifest.
type FileMeta struct {
	RelativePath      string
	SHA256            string
	Size              int64
	PrefixPlaceholder string
	PrefixKind        PrefixKind
}

// Manifest is a package's ordered list of member files, as loaded from the
// package cache.
type Manifest struct {
	Files []FileMeta
}

// Package is one installed package as reported by the oracle, together with
// its manifest once loaded.
type Package struct {
	Identity Identity
	Editable bool
	Manifest *Manifest
}

// Oracle is the opaque package-manager collaborator (§6 "Oracle contract").
// It is intentionally minimal: envpack treats whatever package manager
// manages the prefix as a black box that can only enumerate what is
// installed.
type Oracle interface {
	// ListPackages returns the packages installed under prefix, in the
	// order the package manager considers canonical (typically install
	// order; envpack does not depend on that order, since entries are
	// re-sorted by relative_path downstream).
	ListPackages(prefix string) ([]Identity, error)

	// ResolvePrefix resolves a named environment to its absolute prefix
	// (§6: "name resolves via the oracle").
	ResolvePrefix(name string) (string, error)
}

// Cache loads a package's manifest and reports whether the package is
// installed in editable mode. A Cache implementation is backed by the
// package manager's on-disk cache of installed-package metadata.
type Cache interface {
	LoadManifest(id Identity) (*Manifest, error)
	IsEditable(id Identity) (bool, error)
}

// Entry is one resolved (file, owning-package, prefix-kind) triple, keyed by
// RelativePath in the returned Inventory.
type Entry struct {
	FileMeta
	Owner Identity
}

// Inventory is the mapping relative_path → Entry built by Build. It is
// immutable once returned (I1: every managed file is owned by exactly one
// package).
type Inventory map[string]Entry

// Options controls the tolerance of Build for incomplete package-manager
// state.
type Options struct {
	IgnoreMissingFiles     bool
	IgnoreEditablePackages bool
}

// Build consults oracle for the packages installed at prefix, loads each
// one's manifest from cache, and merges them into a single Inventory.
//
// A manifest missing from the cache is a MissingPackageCache error, fatal
// unless opts.IgnoreMissingFiles is set, in which case that package's files
// are simply omitted from the inventory (they become unmanaged once the
// walker finds them on disk, per §4.1).
//
// Two packages claiming the same relative path is always a fatal
// ConflictingOwnership error (I1 permits no downgrade).
func Build(prefix string, oracle Oracle, cache Cache, opts Options) (Inventory, []Package, error) {
	ids, err := oracle.ListPackages(prefix)
	if err != nil {
		return nil, nil, fmt.Errorf("inventory: listing packages: %w", err)
	}

	inv := make(Inventory)
	packages := make([]Package, 0, len(ids))

	for _, id := range ids {
		editable, err := cache.IsEditable(id)
		if err != nil {
			return nil, nil, fmt.Errorf("inventory: checking editable state of %s: %w", id, err)
		}
		if editable && opts.IgnoreEditablePackages {
			continue
		}

		manifest, err := cache.LoadManifest(id)
		if err != nil {
			if opts.IgnoreMissingFiles {
				packages = append(packages, Package{Identity: id, Editable: editable})
				continue
			}
			return nil, nil, errs.WithPath(errs.MissingPackageCache, id.String(), "manifest not found in package cache: %v", err)
		}

		for _, f := range manifest.Files {
			if existing, ok := inv[f.RelativePath]; ok {
				return nil, nil, errs.WithPath(errs.ConflictingOwnership, f.RelativePath,
					"claimed by both %s and %s", existing.Owner, id)
			}
			inv[f.RelativePath] = Entry{FileMeta: f, Owner: id}
		}
		packages = append(packages, Package{Identity: id, Editable: editable, Manifest: manifest})
	}

	return inv, packages, nil
}

// SortedPaths returns the inventory's keys in lexicographic order, the
// starting point for the canonical archive ordering of I5.
func (inv Inventory) SortedPaths() []string {
	paths := make([]string, 0, len(inv))
	for p := range inv {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
