package inventory

import (
	"errors"
	"fmt"
	"testing"
)

type fakeOracle struct {
	ids []Identity
	err error
}

func (f fakeOracle) ListPackages(prefix string) ([]Identity, error) { return f.ids, f.err }

func (f fakeOracle) ResolvePrefix(name string) (string, error) { return name, f.err }

type fakeCache struct {
	manifests map[Identity]*Manifest
	editable  map[Identity]bool
}

func (f fakeCache) LoadManifest(id Identity) (*Manifest, error) {
	m, ok := f.manifests[id]
	if !ok {
		return nil, fmt.Errorf("no manifest for %s", id)
	}
	return m, nil
}

func (f fakeCache) IsEditable(id Identity) (bool, error) { return f.editable[id], nil }

func TestBuildMergesManifests(t *testing.T) {
	pyA := Identity{Name: "pyA", Version: "1.0", Build: "0"}
	pyB := Identity{Name: "pyB", Version: "2.0", Build: "0"}
	oracle := fakeOracle{ids: []Identity{pyA, pyB}}
	cache := fakeCache{
		manifests: map[Identity]*Manifest{
			pyA: {Files: []FileMeta{{RelativePath: "bin/activate", PrefixKind: KindText}}},
			pyB: {Files: []FileMeta{{RelativePath: "lib/libfoo.so", PrefixKind: KindBinary}}},
		},
	}

	inv, packages, err := Build("/opt/env", oracle, cache, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(inv) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(inv))
	}
	if len(packages) != 2 {
		t.Fatalf("expected 2 packages, got %d", len(packages))
	}
	if inv["bin/activate"].Owner != pyA {
		t.Errorf("wrong owner for bin/activate")
	}
}

func TestBuildConflictingOwnership(t *testing.T) {
	pyA := Identity{Name: "pyA", Version: "1.0", Build: "0"}
	pyB := Identity{Name: "pyB", Version: "2.0", Build: "0"}
	oracle := fakeOracle{ids: []Identity{pyA, pyB}}
	cache := fakeCache{
		manifests: map[Identity]*Manifest{
			pyA: {Files: []FileMeta{{RelativePath: "bin/python"}}},
			pyB: {Files: []FileMeta{{RelativePath: "bin/python"}}},
		},
	}

	_, _, err := Build("/opt/env", oracle, cache, Options{})
	if err == nil {
		t.Fatal("expected ConflictingOwnership error")
	}
}

func TestBuildMissingCacheIsFatalByDefault(t *testing.T) {
	pyA := Identity{Name: "pyA", Version: "1.0", Build: "0"}
	oracle := fakeOracle{ids: []Identity{pyA}}
	cache := fakeCache{manifests: map[Identity]*Manifest{}}

	_, _, err := Build("/opt/env", oracle, cache, Options{})
	if err == nil {
		t.Fatal("expected MissingPackageCache error")
	}
}

func TestBuildMissingCacheDemotedWithIgnore(t *testing.T) {
	pyA := Identity{Name: "pyA", Version: "1.0", Build: "0"}
	oracle := fakeOracle{ids: []Identity{pyA}}
	cache := fakeCache{manifests: map[Identity]*Manifest{}}

	inv, packages, err := Build("/opt/env", oracle, cache, Options{IgnoreMissingFiles: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(inv) != 0 {
		t.Fatalf("expected empty inventory, got %d entries", len(inv))
	}
	if len(packages) != 1 {
		t.Fatalf("expected the package to still be recorded, got %d", len(packages))
	}
}

func TestBuildSkipsEditableWhenRequested(t *testing.T) {
	pyA := Identity{Name: "pyA", Version: "1.0", Build: "0"}
	oracle := fakeOracle{ids: []Identity{pyA}}
	cache := fakeCache{
		manifests: map[Identity]*Manifest{pyA: {Files: []FileMeta{{RelativePath: "x"}}}},
		editable:  map[Identity]bool{pyA: true},
	}

	inv, packages, err := Build("/opt/env", oracle, cache, Options{IgnoreEditablePackages: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(inv) != 0 || len(packages) != 0 {
		t.Fatalf("expected editable package fully excluded, got inv=%d packages=%d", len(inv), len(packages))
	}
}

func TestBuildPropagatesOracleError(t *testing.T) {
	oracle := fakeOracle{err: errors.New("boom")}
	_, _, err := Build("/opt/env", oracle, fakeCache{}, Options{})
	if err == nil {
		t.Fatal("expected oracle error to propagate")
	}
}
