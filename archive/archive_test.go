package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/etnz/envpack/config"
)

func TestTarGzRoundTrip(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.tar.gz")

	sink, err := Open(config.FormatTarGz, out, Options{Reproducible: true, ArcRoot: "root"})
	if err != nil {
		t.Fatal(err)
	}
	if err := sink.AddDirectory("bin", 0755, time.Now()); err != nil {
		t.Fatal(err)
	}
	content := []byte("#!/bin/sh\necho hi\n")
	if err := sink.AddRegular("bin/activate", 0755, time.Now(), int64(len(content)), bytes.NewReader(content)); err != nil {
		t.Fatal(err)
	}
	if err := sink.AddSymlink("bin/python", 0777, time.Now(), "python3"); err != nil {
		t.Fatal(err)
	}
	if err := sink.Finalize(); err != nil {
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

	var names []string
	for {
		h, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		names = append(names, h.Name)
		if h.Name == "root/bin/activate" {
			data, _ := io.ReadAll(tr)
			if !bytes.Equal(data, content) {
				t.Errorf("content mismatch: %q", data)
			}
		}
		if h.Name == "root/bin/python" && h.Linkname != "python3" {
			t.Errorf("symlink target mismatch: %q", h.Linkname)
		}
		if !h.ModTime.Equal(reproducibleTime) {
			t.Errorf("reproducible mtime not applied to %s: %v", h.Name, h.ModTime)
		}
	}
	want := []string{"root/bin/", "root/bin/activate", "root/bin/python"}
	for _, w := range want {
		found := false
		for _, n := range names {
			if n == w {
				found = true
			}
		}
		if !found {
			t.Errorf("missing entry %s among %v", w, names)
		}
	}
}

func TestZipRoundTrip(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.zip")

	sink, err := Open(config.FormatZip, out, Options{CompressLevel: 6})
	if err != nil {
		t.Fatal(err)
	}
	content := []byte("some content")
	if err := sink.AddRegular("data/file.txt", 0644, time.Now(), int64(len(content)), bytes.NewReader(content)); err != nil {
		t.Fatal(err)
	}
	if err := sink.Finalize(); err != nil {
		t.Fatal(err)
	}

	r, err := zip.OpenReader(out)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if len(r.File) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(r.File))
	}
	rc, err := r.File[0].Open()
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if !bytes.Equal(got, content) {
		t.Fatalf("content mismatch: %q", got)
	}
}

func TestDirectorySinkWritesRealFiles(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "clone")

	sink, err := Open(config.FormatNoArchive, out, Options{})
	if err != nil {
		t.Fatal(err)
	}
	content := []byte("hello")
	if err := sink.AddRegular("a/b.txt", 0644, time.Now(), int64(len(content)), bytes.NewReader(content)); err != nil {
		t.Fatal(err)
	}
	if err := sink.Finalize(); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(filepath.Join(out, "a", "b.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("content mismatch: %q", got)
	}
}

func TestAbortRemovesPartialOutput(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.tar.gz")
	sink, err := Open(config.FormatTarGz, out, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := sink.Abort(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("expected no output file after abort, stat err=%v", err)
	}
}
