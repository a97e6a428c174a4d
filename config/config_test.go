package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveFormatFromExtension(t *testing.T) {
	cases := map[string]Format{
		"out.tar.gz":  FormatTarGz,
		"out.tgz":     FormatTarGz,
		"out.tar.bz2": FormatTarBz2,
		"out.tar.xz":  FormatTarXz,
		"out.tar.zst": FormatTarZst,
		"out.tar":     FormatTar,
		"out.zip":     FormatZip,
		"out.squashfs": FormatSquashFS,
		"out.parcel":  FormatParcel,
	}
	for name, want := range cases {
		c := &Config{Output: name}
		got, err := c.ResolveFormat()
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if got != want {
			t.Errorf("%s: got %s want %s", name, got, want)
		}
	}
}

func TestValidateRejectsAmbiguousIdentity(t *testing.T) {
	c := &Config{Prefix: "/opt/env", Name: "myenv", Output: "out.tar.gz"}
	if err := c.Validate(); err == nil {
		t.Fatal("expected error when both prefix and name are set")
	}
}

func TestValidateRejectsParcelOverrides(t *testing.T) {
	dir := t.TempDir()
	c := &Config{
		Name:       "myenv",
		Output:     filepath.Join(dir, "out.parcel"),
		DestPrefix: "/custom",
		Parcel:     Parcel{Name: "myenv", Version: "1.0", Root: "/opt/parcels"},
	}
	if err := c.Validate(); err == nil {
		t.Fatal("expected S6: parcel format rejects dest_prefix override")
	}
}

func TestValidateRejectsExistingOutputWithoutForce(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.tar.gz")
	if err := os.WriteFile(out, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	c := &Config{Name: "myenv", Output: out}
	if err := c.Validate(); err == nil {
		t.Fatal("expected OutputExists error")
	}
}

func TestResolveArcRootAndDestPrefixDerivesParcelValues(t *testing.T) {
	c := &Config{
		Format: FormatParcel,
		Parcel: Parcel{Name: "myenv", Version: "1.0", Root: "/opt/parcels"},
	}
	arcRoot, destPrefix := c.ResolveArcRootAndDestPrefix()
	if arcRoot != "myenv-1.0" {
		t.Errorf("arcRoot = %q, want myenv-1.0", arcRoot)
	}
	if destPrefix != "/opt/parcels/myenv-1.0" {
		t.Errorf("destPrefix = %q, want /opt/parcels/myenv-1.0", destPrefix)
	}
}

func TestResolveArcRootAndDestPrefixDefaultsDestination(t *testing.T) {
	c := &Config{Format: FormatTarGz}
	_, destPrefix := c.ResolveArcRootAndDestPrefix()
	if destPrefix == "" {
		t.Fatal("expected a non-empty default destination prefix")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("name: myenv\noutput: out.tar.gz\n"), 0644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.NThreads != 0 {
		t.Errorf("expected unset n_threads to stay 0 (serial), got %d", c.NThreads)
	}
	if c.SquashFSCodec != SquashFSNone {
		t.Errorf("expected default squashfs codec none, got %s", c.SquashFSCodec)
	}
}
