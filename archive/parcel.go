package archive

import (
	"bytes"
	"fmt"
	"io"
	"text/template"
	"time"

	"github.com/etnz/envpack/config"
	"github.com/etnz/envpack/errs"
)

// parcelMetaJSON and parcelActivationSH are adapted from the teacher's
// template-rendering idiom (manifest/template.go): a small text/template
// vocabulary over a fixed set of known variables, with no user-supplied
// defines and no dependency sorting.
const parcelMetaJSON = `{
  "name": "{{.Name}}",
  "version": "{{.Version}}",
  "distribution": "{{.Distribution}}",
  "prefix": "{{.DestPrefix}}"
}
`

const parcelActivationSH = `#!/bin/sh
# Generated by envpack for parcel {{.Name}}-{{.Version}}.
export PATH="{{.DestPrefix}}/bin:$PATH"
`

// parcelSink implements Sink for the parcel format (§4.4 "Parcel"): a
// gzip-tar sink with two mandatory synthetic entries and an arcroot/
// dest_prefix the sink itself derives, replacing any ArcRoot in opts.
// Rejecting a caller override (S6) is config.Validate's job, not the sink's.
type parcelSink struct {
	*tarSink
}

func newParcelSink(outputPath string, opts Options) (*parcelSink, error) {
	p := opts.Parcel
	if p.Name == "" || p.Version == "" || p.Root == "" {
		return nil, errs.New(errs.InvalidConfig, "parcel format requires parcel_name, parcel_version and parcel_root")
	}

	opts.ArcRoot = fmt.Sprintf("%s-%s", p.Name, p.Version)
	destPrefix := fmt.Sprintf("%s/%s-%s", p.Root, p.Name, p.Version)

	base, err := newTarSink(outputPath, tarGzip, opts)
	if err != nil {
		return nil, err
	}
	sink := &parcelSink{tarSink: base}

	meta, err := renderParcel(parcelMetaJSON, p, destPrefix)
	if err != nil {
		sink.Abort()
		return nil, err
	}
	activation, err := renderParcel(parcelActivationSH, p, destPrefix)
	if err != nil {
		sink.Abort()
		return nil, err
	}

	now := time.Now()
	if err := sink.AddRegular("meta/parcel.json", 0644, now, int64(len(meta)), bytesReader(meta)); err != nil {
		sink.Abort()
		return nil, err
	}
	activationName := "meta/" + p.Distribution + ".sh"
	if p.Distribution == "" {
		activationName = "meta/activation.sh"
	}
	if err := sink.AddRegular(activationName, 0755, now, int64(len(activation)), bytesReader(activation)); err != nil {
		sink.Abort()
		return nil, err
	}
	return sink, nil
}

type parcelVars struct {
	Name, Version, Distribution, DestPrefix string
}

func renderParcel(text string, p config.Parcel, destPrefix string) (string, error) {
	t, err := template.New("parcel").Parse(text)
	if err != nil {
		return "", errs.Wrap(errs.WorkerFailure, err, "parsing parcel template")
	}
	var buf bytes.Buffer
	vars := parcelVars{Name: p.Name, Version: p.Version, Distribution: p.Distribution, DestPrefix: destPrefix}
	if err := t.Execute(&buf, vars); err != nil {
		return "", errs.Wrap(errs.WorkerFailure, err, "rendering parcel template")
	}
	return buf.String(), nil
}

func bytesReader(s string) io.Reader { return bytes.NewReader([]byte(s)) }
