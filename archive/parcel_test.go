package archive

import (
	"path/filepath"
	"testing"

	"github.com/etnz/envpack/config"
)

func TestParcelSinkRequiresFields(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(config.FormatParcel, filepath.Join(dir, "out.parcel"), Options{})
	if err == nil {
		t.Fatal("expected error when parcel fields are missing")
	}
}

func TestParcelSinkDerivesArcRootAndFinalizes(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.parcel")
	sink, err := Open(config.FormatParcel, out, Options{
		Parcel: config.Parcel{Name: "myenv", Version: "1.0", Distribution: "el7", Root: "/opt/parcels"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := sink.Finalize(); err != nil {
		t.Fatal(err)
	}
}
