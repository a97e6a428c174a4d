// Package progress defines the event stream the driver emits as it builds
// an archive and a couple of Reporter implementations, following the
// typed-event-listener shape of the teacher's manifest package
// (manifest/events.go) rather than a process-wide logging singleton (§9
// "model as an interface passed to the driver; never a process-wide
// singleton").
package progress

import (
	"encoding/json"
	"fmt"
)

// Event is anything the driver or a sink can report. Implementations are
// small structs so that a Reporter can pattern-match on concrete type.
type Event interface {
	fmt.Stringer
}

func jsonString(v interface{}) string {
	b, _ := json.Marshal(map[string]interface{}{
		fmt.Sprintf("%T", v): v,
	})
	return string(b)
}

// EventWalkStarted is emitted once, before the first file record is
// classified.
type EventWalkStarted struct {
	Prefix string `json:"prefix"`
}

func (e EventWalkStarted) String() string { return jsonString(e) }

// EventUnmanagedSummary is the "--unmanaged-report" diagnostic from
// SPEC_FULL.md: a count of unmanaged files per top-level directory, emitted
// once the pipeline has drained the whole walk.
type EventUnmanagedSummary struct {
	Counts map[string]int `json:"counts"`
}

func (e EventUnmanagedSummary) String() string { return jsonString(e) }

// EventFileQueued describes an included record handed to the pipeline's
// worker pool. The pipeline package does not emit it; only the driver
// goroutine reports events, and it sees records after the workers.
type EventFileQueued struct {
	RelativePath string `json:"relative_path"`
}

func (e EventFileQueued) String() string { return jsonString(e) }

// EventFileWritten is emitted once a file's bytes have been written to the
// archive sink, in canonical order.
type EventFileWritten struct {
	RelativePath string `json:"relative_path"`
	Size         int64  `json:"size"`
	PrefixAction string `json:"prefix_action,omitempty"`
}

func (e EventFileWritten) String() string { return jsonString(e) }

// EventWarning is a downgraded error (§7): something that did not abort the
// run but the operator should see.
type EventWarning struct {
	Kind    string `json:"kind"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

func (e EventWarning) String() string { return jsonString(e) }

// EventSymlinkOutsidePrefix fires when an absolute symlink target could not
// be rewritten relative to the archive because it points outside the source
// prefix (SPEC_FULL.md: conda-pack's known rough edge, surfaced instead of
// silently preserved). Relative targets are preserved without this event.
type EventSymlinkOutsidePrefix struct {
	RelativePath string `json:"relative_path"`
	Target       string `json:"target"`
}

func (e EventSymlinkOutsidePrefix) String() string { return jsonString(e) }

// EventArchiveFinalized is emitted once after the sink has been finalized.
type EventArchiveFinalized struct {
	Output     string `json:"output"`
	EntryCount int    `json:"entry_count"`
	Bytes      int64  `json:"bytes"`
}

func (e EventArchiveFinalized) String() string { return jsonString(e) }

// Reporter receives Events. Listener mirrors the teacher's
// manifest.Listener callback shape.
type Reporter interface {
	Report(Event)
}

// Listener adapts a plain function to Reporter.
type Listener func(Event)

func (l Listener) Report(e Event) { l(e) }

// Discard reports nothing; it is the default when the caller does not want
// progress output (e.g. library embedding, tests).
var Discard Reporter = Listener(func(Event) {})
