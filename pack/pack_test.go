package pack

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/etnz/envpack/config"
	"github.com/etnz/envpack/inventory"
	"github.com/etnz/envpack/progress"
)

type fakeOracle struct{ prefix string }

func (o fakeOracle) ListPackages(prefix string) ([]inventory.Identity, error) {
	return []inventory.Identity{{Name: "pkg", Version: "1.0", Build: "0"}}, nil
}

func (o fakeOracle) ResolvePrefix(name string) (string, error) { return o.prefix, nil }

type fakeCache struct{ prefix string }

func (c fakeCache) LoadManifest(id inventory.Identity) (*inventory.Manifest, error) {
	return &inventory.Manifest{Files: []inventory.FileMeta{
		{RelativePath: "bin/activate", PrefixKind: inventory.KindText, PrefixPlaceholder: c.prefix},
	}}, nil
}

func (c fakeCache) IsEditable(id inventory.Identity) (bool, error) { return false, nil }

func TestRunProducesTarGzWithRewrittenPrefix(t *testing.T) {
	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "bin"), 0755); err != nil {
		t.Fatal(err)
	}
	content := "#!/bin/sh\nexec " + src + "/bin/python\n"
	if err := os.WriteFile(filepath.Join(src, "bin", "activate"), []byte(content), 0755); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(t.TempDir(), "out.tar.gz")
	cfg := &config.Config{
		Prefix: src,
		Output: out,
		Format: config.FormatTarGz,
	}

	oracle := fakeOracle{prefix: src}
	cache := fakeCache{prefix: src}

	if err := Run(context.Background(), cfg, oracle, cache, progress.Discard); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	tr := tar.NewReader(gz)

	var sawActivate, sawManifest bool
	for {
		h, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		switch h.Name {
		case "bin/activate":
			sawActivate = true
			data, _ := io.ReadAll(tr)
			if string(data) == content {
				t.Errorf("expected prefix to be rewritten, content unchanged: %q", data)
			}
		case "conda-meta/envpack-manifest.json":
			sawManifest = true
		}
	}
	if !sawActivate {
		t.Error("missing bin/activate entry")
	}
	if !sawManifest {
		t.Error("missing deferred-rewrite manifest entry")
	}
}

func TestRunRejectsCrossPrefixByDefault(t *testing.T) {
	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "bin"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "bin", "activate"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(t.TempDir(), "out.tar.gz")
	cfg := &config.Config{Prefix: src, Output: out, Format: config.FormatTarGz}

	oracle := fakeOracle{prefix: src}
	cache := fakeCache{prefix: "/somewhere/else"}

	if err := Run(context.Background(), cfg, oracle, cache, progress.Discard); err == nil {
		t.Fatal("expected CrossPrefixInstall error")
	}
}
