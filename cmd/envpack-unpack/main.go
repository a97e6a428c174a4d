// Command envpack-unpack is the companion runner envpack bundles into an
// archive when a prebuilt envpack-unpack binary sits next to the envpack
// executable (spec.md §1 step 4): once an archive has been extracted,
// running this binary against the extracted tree patches every
// deferred-rewrite binary file and cleans up any stale prefix text left in
// the environment's activation hooks.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/etnz/envpack/progress"
	"github.com/etnz/envpack/unpack"
)

func main() {
	root := pflag.String("root", ".", "root of the extracted archive to patch in place")
	quiet := pflag.Bool("quiet", false, "suppress per-file progress output")
	pflag.Parse()

	reporter := progress.Reporter(progress.NewCLI(os.Stdout))
	if *quiet {
		reporter = progress.Discard
	}

	if err := unpack.Run(*root, reporter); err != nil {
		fmt.Fprintf(os.Stderr, "envpack-unpack: %v\n", err)
		os.Exit(1)
	}
}
