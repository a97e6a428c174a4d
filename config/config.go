// Package config loads and validates the configuration record described in
// spec.md §6. The record is the boundary between the out-of-scope
// command-line front end and the core: the CLI layer (cmd/envpack) parses
// flags or a YAML file into a Config and hands it to pack.Run.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/etnz/envpack/errs"
	"github.com/etnz/envpack/prefix"
)

// Format is one of the archive container formats §6 names.
type Format string

const (
	FormatInfer     Format = "infer"
	FormatZip       Format = "zip"
	FormatTar       Format = "tar"
	FormatTarGz     Format = "tar.gz"
	FormatTarBz2    Format = "tar.bz2"
	FormatTarXz     Format = "tar.xz"
	FormatTarZst    Format = "tar.zst"
	FormatSquashFS  Format = "squashfs"
	FormatParcel    Format = "parcel"
	FormatNoArchive Format = "no-archive"
)

// SquashFSCodec is the explicit codec choice for the SquashFS sink (§9: "the
// mapping from compress_level to a concrete codec has changed across
// releases; expose the codec explicitly").
type SquashFSCodec string

const (
	SquashFSNone SquashFSCodec = "none"
	SquashFSZstd SquashFSCodec = "zstd"
	SquashFSXz   SquashFSCodec = "xz"
)

// Parcel groups the parcel-format-only options of §4.4/§6.
type Parcel struct {
	Name         string `yaml:"parcel_name"`
	Version      string `yaml:"parcel_version"`
	Distribution string `yaml:"parcel_distribution"`
	Root         string `yaml:"parcel_root"`
}

// Config is the configuration record of §6: everything the core consumes,
// regardless of how the caller produced it (flags, YAML, or programmatic
// construction by an embedding tool).
type Config struct {
	Prefix string `yaml:"prefix"`
	Name   string `yaml:"name"`

	Output        string `yaml:"output"`
	Format        Format `yaml:"format"`
	CompressLevel int    `yaml:"compress_level"`
	NThreads      int    `yaml:"n_threads"`

	ArcRoot       string        `yaml:"arcroot"`
	DestPrefix    string        `yaml:"dest_prefix"`
	SquashFSCodec SquashFSCodec `yaml:"squashfs_codec"`

	IgnoreEditablePackages bool     `yaml:"ignore_editable_packages"`
	EditableFilter         []string `yaml:"editable_filter"`
	IgnoreMissingFiles     bool     `yaml:"ignore_missing_files"`
	IgnoreLongPaths        bool     `yaml:"ignore_long_paths"`
	Unmanaged              bool     `yaml:"unmanaged"`
	UnmanagedReport        bool     `yaml:"unmanaged_report"`
	AllowCrossPrefix       bool     `yaml:"allow_cross_prefix"`
	Force                  bool     `yaml:"force"`
	Reproducible           *bool    `yaml:"reproducible"`

	Parcel Parcel `yaml:"parcel"`

	KeepPartialOnError bool `yaml:"keep_partial_on_error"`
}

// DefaultEditableFilter is the pattern set applied when the caller does not
// override EditableFilter (§9 open question, resolved as configuration).
var DefaultEditableFilter = []string{"*.egg-link", "*.pth"}

// Load reads a YAML (or JSON, which is a YAML subset) configuration file
// from path and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyDefaults() {
	// NThreads is left as loaded: §6 gives 0 and 1 their own meaning (serial
	// processing), distinct from -1 (all cores), so 0 must not be coerced
	// into "use every core".
	if len(c.EditableFilter) == 0 {
		c.EditableFilter = DefaultEditableFilter
	}
	if c.SquashFSCodec == "" {
		c.SquashFSCodec = SquashFSNone
	}
	if c.CompressLevel == 0 {
		c.CompressLevel = 6
	}
}

// Reproducibility resolves the reproducible-timestamp policy of §4.3: an
// explicit Reproducible value always wins; when unset it is true for every
// tar-family format (tar, tar.gz, tar.bz2, tar.xz, tar.zst) and false for
// the rest.
func (c *Config) Reproducibility() bool {
	if c.Reproducible != nil {
		return *c.Reproducible
	}
	switch c.Format {
	case FormatTar, FormatTarGz, FormatTarBz2, FormatTarXz, FormatTarZst:
		return true
	default:
		return false
	}
}

// ResolveFormat infers the format from Output's extension when Format is
// FormatInfer or empty, mirroring the "extension infers format unless
// format is set" rule of §6.
func (c *Config) ResolveFormat() (Format, error) {
	if c.Format != "" && c.Format != FormatInfer {
		return c.Format, nil
	}
	name := strings.ToLower(c.Output)
	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return FormatTarGz, nil
	case strings.HasSuffix(name, ".tar.bz2"), strings.HasSuffix(name, ".tbz2"):
		return FormatTarBz2, nil
	case strings.HasSuffix(name, ".tar.xz"):
		return FormatTarXz, nil
	case strings.HasSuffix(name, ".tar.zst"):
		return FormatTarZst, nil
	case strings.HasSuffix(name, ".tar"):
		return FormatTar, nil
	case strings.HasSuffix(name, ".zip"):
		return FormatZip, nil
	case strings.HasSuffix(name, ".squashfs"), strings.HasSuffix(name, ".sqfs"):
		return FormatSquashFS, nil
	case strings.HasSuffix(name, ".parcel"):
		return FormatParcel, nil
	case name == "" || strings.HasSuffix(name, string(filepath.Separator)):
		return FormatNoArchive, nil
	}
	return "", errs.New(errs.InvalidConfig, "cannot infer archive format from output path %q; pass --format", c.Output)
}

// ResolveArcRootAndDestPrefix returns the effective arcroot and destination
// prefix this config resolves to. The parcel format derives both from
// Parcel's fields and ignores ArcRoot/DestPrefix (S6); every other format
// uses them (or DefaultDestination) as given.
func (c *Config) ResolveArcRootAndDestPrefix() (arcRoot, destPrefix string) {
	if c.Format == FormatParcel {
		arcRoot = fmt.Sprintf("%s-%s", c.Parcel.Name, c.Parcel.Version)
		destPrefix = fmt.Sprintf("%s/%s-%s", c.Parcel.Root, c.Parcel.Name, c.Parcel.Version)
		return arcRoot, destPrefix
	}
	destPrefix = c.DestPrefix
	if destPrefix == "" {
		destPrefix = prefix.DefaultDestination
	}
	return c.ArcRoot, destPrefix
}

// Validate applies the pre-flight checks that must pass before any output
// is created (§7, S2, S6).
func (c *Config) Validate() error {
	if c.Prefix == "" && c.Name == "" {
		return errs.New(errs.InvalidConfig, "one of prefix or name is required")
	}
	if c.Prefix != "" && c.Name != "" {
		return errs.New(errs.InvalidConfig, "prefix and name are mutually exclusive")
	}
	if c.Output == "" {
		return errs.New(errs.InvalidConfig, "output is required")
	}
	format, err := c.ResolveFormat()
	if err != nil {
		return err
	}
	c.Format = format

	if c.DestPrefix == "" {
		c.DestPrefix = prefix.DefaultDestination
	}
	if _, err := prefix.Normalize(c.DestPrefix); err != nil {
		return errs.New(errs.InvalidConfig, "dest_prefix: %v", err)
	}

	if format == FormatParcel {
		if c.DestPrefix != prefix.DefaultDestination || c.ArcRoot != "" {
			return errs.New(errs.InvalidConfig,
				"parcel format computes arcroot and dest_prefix from parcel_name/parcel_version/parcel_root; do not set them explicitly (S6)")
		}
		if c.Parcel.Name == "" || c.Parcel.Version == "" || c.Parcel.Root == "" {
			return errs.New(errs.InvalidConfig, "parcel format requires parcel_name, parcel_version and parcel_root")
		}
	}

	if c.CompressLevel < 0 || c.CompressLevel > 9 {
		return errs.New(errs.InvalidConfig, "compress_level must be in [0,9], got %d", c.CompressLevel)
	}

	if !c.Force {
		if _, err := os.Stat(c.Output); err == nil {
			return errs.WithPath(errs.OutputExists, c.Output, "output already exists; pass --force to overwrite")
		}
	}
	return nil
}
