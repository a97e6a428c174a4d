package walker

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/etnz/envpack/inventory"
)

func collect(t *testing.T, w *Walker) []Record {
	t.Helper()
	var recs []Record
	for res := range w.Walk(context.Background()) {
		if res.Err != nil {
			t.Fatalf("walk error: %v", res.Err)
		}
		recs = append(recs, res.Record)
	}
	return recs
}

func TestWalkClassifiesManagedUnmanagedAndExcluded(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "bin", "activate"), "#!/bin/sh\n")
	mustWrite(t, filepath.Join(dir, "bin", "my_script"), "echo hi\n")
	mustWrite(t, filepath.Join(dir, "lib", "__pycache__", "x.pyc"), "junk")

	inv := inventory.Inventory{
		"bin/activate": {Owner: inventory.Identity{Name: "pkg"}, FileMeta: inventory.FileMeta{
			RelativePath: "bin/activate", PrefixKind: inventory.KindText, PrefixPlaceholder: "/opt/build",
		}},
	}

	w := New(dir, inv, Options{IncludeUnmanaged: true})
	recs := collect(t, w)

	byPath := map[string]Record{}
	for _, r := range recs {
		byPath[r.RelativePath] = r
	}

	if got := byPath["bin/activate"]; got.SourceKind != Managed || got.PrefixAction != ActionText {
		t.Errorf("bin/activate: got %+v", got)
	}
	if got := byPath["bin/my_script"]; got.SourceKind != Unmanaged || got.Disposition != Include {
		t.Errorf("bin/my_script: got %+v", got)
	}
	if got, ok := byPath["lib/__pycache__/x.pyc"]; ok && got.Disposition != Drop {
		t.Errorf("pycache file should be dropped, got %+v", got)
	}
}

func TestWalkReportsMissingManagedFile(t *testing.T) {
	dir := t.TempDir()
	inv := inventory.Inventory{
		"lib/data.bin": {Owner: inventory.Identity{Name: "pkg"}, FileMeta: inventory.FileMeta{RelativePath: "lib/data.bin"}},
	}

	w := New(dir, inv, Options{})
	var lastErr error
	for res := range w.Walk(context.Background()) {
		if res.Err != nil {
			lastErr = res.Err
		}
	}
	if lastErr == nil {
		t.Fatal("expected MissingManagedFile error")
	}
}

func TestWalkDowngradesMissingWhenRequested(t *testing.T) {
	dir := t.TempDir()
	inv := inventory.Inventory{
		"lib/data.bin": {Owner: inventory.Identity{Name: "pkg"}, FileMeta: inventory.FileMeta{RelativePath: "lib/data.bin"}},
	}

	w := New(dir, inv, Options{DowngradeMissing: true})
	recs := collect(t, w)
	if len(recs) != 1 || recs[0].SourceKind != Missing {
		t.Fatalf("expected a single Missing record, got %+v", recs)
	}
}

func TestWalkSniffsUnmanagedPrefixHit(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "bin", "my_script"), "#!/bin/sh\nexec "+dir+"/lib/python\n")

	w := New(dir, inventory.Inventory{}, Options{IncludeUnmanaged: true})
	recs := collect(t, w)
	// The bin directory record precedes the script's own record.
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[1].PrefixAction != ActionText {
		t.Fatalf("expected sniffed text prefix hit, got %+v", recs[1])
	}
}

func TestWalkDropsEditableMarkersWhenIgnoringEditablePackages(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "lib", "python3.10", "site-packages", "foo.egg-link"), "/src/foo\n")

	w := New(dir, inventory.Inventory{}, Options{
		IncludeUnmanaged:       true,
		IgnoreEditablePackages: true,
		EditableFilter:         []string{"*.egg-link", "*.pth"},
	})
	recs := collect(t, w)
	// Three parent directory records precede the marker file's own record.
	if len(recs) != 4 || recs[3].Disposition != Drop {
		t.Fatalf("expected egg-link to be dropped, got %+v", recs)
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}
