// Command envpack builds a relocatable archive from an installed Conda-like
// environment (spec.md §1). It is the CLI front end over the config, pack,
// and progress packages: parse flags (or load a YAML config file), resolve
// the environment via condameta, and hand the rest to pack.Run.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/pflag"

	"github.com/etnz/envpack/condameta"
	"github.com/etnz/envpack/config"
	"github.com/etnz/envpack/pack"
	"github.com/etnz/envpack/progress"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "envpack: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("envpack", pflag.ContinueOnError)

	configPath := fs.String("config", "", "path to a YAML configuration file; flags below override its fields")
	prefix := fs.String("prefix", "", "absolute path of the environment to pack (mutually exclusive with --name)")
	name := fs.String("name", "", "name of the environment to pack, resolved via the package manager")
	output := fs.String("output", "", "output archive path")
	format := fs.String("format", "", "archive format (infer|tar|tar.gz|tar.bz2|tar.xz|tar.zst|zip|squashfs|parcel|no-archive)")
	compressLevel := fs.Int("compress-level", 0, "compression level 0-9 (0 stores zip entries uncompressed; tar compressors treat it as their fastest level)")
	nThreads := fs.Int("n-threads", 0, "worker pool size (0 or 1 run serially, -1 uses every core)")
	arcRoot := fs.String("arcroot", "", "archive-relative root directory every entry is nested under")
	destPrefix := fs.String("dest-prefix", "", "destination prefix baked into the archive")
	unmanaged := fs.Bool("unmanaged", false, "include files on disk that no package claims")
	unmanagedReport := fs.Bool("unmanaged-report", false, "emit a summary of unmanaged files by top-level directory")
	ignoreEditable := fs.Bool("ignore-editable-packages", false, "exclude packages installed in editable mode")
	ignoreMissing := fs.Bool("ignore-missing-files", false, "downgrade missing managed files to a warning")
	ignoreLongPaths := fs.Bool("ignore-long-paths", false, "downgrade over-length paths to a warning and drop them")
	allowCrossPrefix := fs.Bool("allow-cross-prefix", false, "allow packing an environment whose recorded prefix differs from its current location")
	force := fs.Bool("force", false, "overwrite an existing output file")
	reproducible := fs.Bool("reproducible", false, "force reproducible timestamps/ownership regardless of format default")
	keepPartial := fs.Bool("keep-partial-on-error", false, "do not delete a partially written archive if packing fails")
	parcelName := fs.String("parcel-name", "", "parcel format: package name")
	parcelVersion := fs.String("parcel-version", "", "parcel format: package version")
	parcelDistribution := fs.String("parcel-distribution", "", "parcel format: target distribution tag")
	parcelRoot := fs.String("parcel-root", "", "parcel format: install root on the target host")

	if err := fs.Parse(args); err != nil {
		return err
	}

	var cfg config.Config
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = *loaded
	}

	applyStringFlag(fs, "prefix", prefix, &cfg.Prefix)
	applyStringFlag(fs, "name", name, &cfg.Name)
	applyStringFlag(fs, "output", output, &cfg.Output)
	if fs.Changed("format") {
		cfg.Format = config.Format(*format)
	}
	if fs.Changed("compress-level") {
		cfg.CompressLevel = *compressLevel
	}
	if fs.Changed("n-threads") {
		cfg.NThreads = *nThreads
	}
	applyStringFlag(fs, "arcroot", arcRoot, &cfg.ArcRoot)
	applyStringFlag(fs, "dest-prefix", destPrefix, &cfg.DestPrefix)
	if fs.Changed("unmanaged") {
		cfg.Unmanaged = *unmanaged
	}
	if fs.Changed("unmanaged-report") {
		cfg.UnmanagedReport = *unmanagedReport
	}
	if fs.Changed("ignore-editable-packages") {
		cfg.IgnoreEditablePackages = *ignoreEditable
	}
	if fs.Changed("ignore-missing-files") {
		cfg.IgnoreMissingFiles = *ignoreMissing
	}
	if fs.Changed("ignore-long-paths") {
		cfg.IgnoreLongPaths = *ignoreLongPaths
	}
	if fs.Changed("allow-cross-prefix") {
		cfg.AllowCrossPrefix = *allowCrossPrefix
	}
	if fs.Changed("force") {
		cfg.Force = *force
	}
	if fs.Changed("reproducible") {
		cfg.Reproducible = reproducible
	}
	if fs.Changed("keep-partial-on-error") {
		cfg.KeepPartialOnError = *keepPartial
	}
	applyStringFlag(fs, "parcel-name", parcelName, &cfg.Parcel.Name)
	applyStringFlag(fs, "parcel-version", parcelVersion, &cfg.Parcel.Version)
	applyStringFlag(fs, "parcel-distribution", parcelDistribution, &cfg.Parcel.Distribution)
	applyStringFlag(fs, "parcel-root", parcelRoot, &cfg.Parcel.Root)

	envPrefix := cfg.Prefix
	if envPrefix == "" {
		envPrefix = cfg.Name
	}
	store := condameta.New(envPrefix)

	reporter := progress.NewCLI(os.Stdout)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	return pack.Run(ctx, &cfg, store, store, reporter)
}

// applyStringFlag overwrites dst with *val only when the flag was actually
// passed, so a loaded --config file's field survives when the corresponding
// flag is left at its zero-value default.
func applyStringFlag(fs *pflag.FlagSet, name string, val *string, dst *string) {
	if fs.Changed(name) {
		*dst = *val
	}
}
