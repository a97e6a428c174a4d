package rewrite

import (
	"bytes"
	"strings"
	"testing"
)

func TestTextRewriteBasic(t *testing.T) {
	src := strings.NewReader("#!/bin/sh\nexport PATH=/opt/build/bin:$PATH\n")
	var dst bytes.Buffer
	if _, err := Text(&dst, src, "/opt/build", "/srv/app"); err != nil {
		t.Fatal(err)
	}
	want := "#!/bin/sh\nexport PATH=/srv/app/bin:$PATH\n"
	if dst.String() != want {
		t.Fatalf("got %q want %q", dst.String(), want)
	}
}

func TestTextRewriteMatchStraddlesChunkBoundary(t *testing.T) {
	placeholder := "/opt/long-build-prefix-marker"
	// Build content where the placeholder occurs right where a naive
	// fixed-size read would split it.
	content := strings.Repeat("x", 64*1024-10) + placeholder + strings.Repeat("y", 100)
	var dst bytes.Buffer
	if _, err := Text(&dst, strings.NewReader(content), placeholder, "/dst"); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(dst.String(), placeholder) {
		t.Fatal("placeholder should not survive rewriting across a chunk boundary")
	}
	want := strings.Repeat("x", 64*1024-10) + "/dst" + strings.Repeat("y", 100)
	if dst.String() != want {
		t.Fatalf("rewrite across boundary produced wrong output")
	}
}

func TestTextRewriteNoMatch(t *testing.T) {
	var dst bytes.Buffer
	if _, err := Text(&dst, strings.NewReader("nothing here"), "/opt/build", "/srv/app"); err != nil {
		t.Fatal(err)
	}
	if dst.String() != "nothing here" {
		t.Fatalf("content without the placeholder must pass through unchanged, got %q", dst.String())
	}
}

func TestCheckLengthPolicy(t *testing.T) {
	if err := CheckLengthPolicy("/a/very/deep/destination/path/here", []string{"/opt/env_build"}); err == nil {
		t.Fatal("expected DestinationPrefixTooLong when destination exceeds the binary placeholder")
	}
	if err := CheckLengthPolicy("/srv/app", []string{"/opt/env_build"}); err != nil {
		t.Fatalf("destination shorter than placeholder must pass: %v", err)
	}
}
