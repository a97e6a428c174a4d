package progress

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// CLI is the default terminal Reporter: one colored line per event,
// following mutagen's CLI conventions (fatih/color gated on isatty, with
// go-colorable wrapping os.Stdout on Windows consoles).
type CLI struct {
	out     io.Writer
	colored bool
}

// NewCLI builds a CLI reporter writing to w. If w is os.Stdout (or another
// *os.File) and it is a terminal, output is colorized; otherwise it falls
// back to plain text, matching how mutagen's command-line tools detect a
// TTY before colorizing.
func NewCLI(w io.Writer) *CLI {
	colored := false
	out := w
	if f, ok := w.(*os.File); ok {
		if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
			colored = true
			out = colorable.NewColorable(f)
		}
	}
	return &CLI{out: out, colored: colored}
}

func (c *CLI) paint(attr color.Attribute, format string, args ...interface{}) string {
	s := fmt.Sprintf(format, args...)
	if !c.colored {
		return s
	}
	return color.New(attr).Sprint(s)
}

// Report implements Reporter.
func (c *CLI) Report(e Event) {
	switch ev := e.(type) {
	case EventWalkStarted:
		fmt.Fprintf(c.out, "%s %s\n", c.paint(color.FgCyan, "walking"), ev.Prefix)
	case EventUnmanagedSummary:
		fmt.Fprintf(c.out, "%s\n", c.paint(color.FgCyan, "unmanaged files by top-level directory:"))
		for dir, n := range ev.Counts {
			fmt.Fprintf(c.out, "  %-20s %d\n", dir, n)
		}
	case EventFileWritten:
		fmt.Fprintf(c.out, "%s %s (%s)\n", c.paint(color.FgGreen, "+"), ev.RelativePath, humanize.Bytes(uint64(ev.Size)))
	case EventWarning:
		fmt.Fprintf(c.out, "%s %s: %s\n", c.paint(color.FgYellow, "warning"), ev.Kind, ev.Message)
	case EventSymlinkOutsidePrefix:
		fmt.Fprintf(c.out, "%s %s -> %s (outside prefix, left unrewritten)\n", c.paint(color.FgYellow, "warning"), ev.RelativePath, ev.Target)
	case EventArchiveFinalized:
		fmt.Fprintf(c.out, "%s %s (%d entries, %s)\n", c.paint(color.FgGreen, "done"), ev.Output, ev.EntryCount, humanize.Bytes(uint64(ev.Bytes)))
	default:
		fmt.Fprintln(c.out, e.String())
	}
}
