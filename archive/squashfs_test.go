package archive

import (
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/etnz/envpack/config"
	"github.com/etnz/envpack/errs"
)

func TestSquashFSUnavailableWithoutTool(t *testing.T) {
	if _, err := exec.LookPath("mksquashfs"); err == nil {
		t.Skip("mksquashfs is installed in this environment; unavailable-path test does not apply")
	}
	dir := t.TempDir()
	_, err := Open(config.FormatSquashFS, filepath.Join(dir, "out.squashfs"), Options{})
	if err == nil {
		t.Fatal("expected FormatUnavailable error")
	}
	if kind, ok := errs.KindOf(err); !ok || kind != errs.FormatUnavailable {
		t.Fatalf("expected FormatUnavailable, got %v", err)
	}
}
