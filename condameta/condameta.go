// Package condameta implements inventory.Oracle and inventory.Cache by
// reading an installed Conda-like environment's own on-disk bookkeeping
// directly, the way the teacher's deb package reads a .deb's control data
// straight off the archive rather than shelling out to another tool
// (deb/package.go). Every installed package leaves one JSON record under
// conda-meta/; this package is the only piece of envpack that knows that
// file's shape.
package condameta

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/etnz/envpack/errs"
	"github.com/etnz/envpack/inventory"
)

// pathRecord mirrors one entry of a conda-meta/<pkg>.json file's
// "paths_data.paths" array.
type pathRecord struct {
	Path              string `json:"_path"`
	PathType          string `json:"path_type"`
	SHA256            string `json:"sha256"`
	SizeInBytes       int64  `json:"size_in_bytes"`
	FileMode          string `json:"file_mode"`
	PrefixPlaceholder string `json:"prefix_placeholder"`
}

// record mirrors the fields of a conda-meta/<pkg>-<version>-<build>.json
// file this package needs.
type record struct {
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	Build     string   `json:"build"`
	Files     []string `json:"files"`
	PathsData struct {
		Paths []pathRecord `json:"paths"`
	} `json:"paths_data"`
}

// directURL mirrors the subset of pip's direct_url.json this package reads
// to detect an editable install (PEP 610's "dir_info.editable").
type directURL struct {
	DirInfo struct {
		Editable bool `json:"editable"`
	} `json:"dir_info"`
}

// Store is an environment-bound inventory.Oracle and inventory.Cache backed
// by one prefix's conda-meta directory.
type Store struct {
	prefix string
}

// New binds a Store to prefix, the environment whose conda-meta directory
// LoadManifest and IsEditable will consult (neither receives a prefix
// argument of its own, since inventory.Cache is scoped to one environment).
func New(prefix string) *Store { return &Store{prefix: prefix} }

// ResolvePrefix treats name as already being a filesystem path, since a bare
// conda-meta store has no registry of named environments; a deployment that
// needs `envs/<name>` resolution wires a name-aware Oracle in front of
// Store for that lookup instead.
func (s *Store) ResolvePrefix(name string) (string, error) {
	if name == "" {
		return "", errs.New(errs.InvalidConfig, "condameta: empty environment name")
	}
	return name, nil
}

// ListPackages reads every conda-meta/*.json file under prefix.
func (s *Store) ListPackages(prefix string) ([]inventory.Identity, error) {
	dir := filepath.Join(prefix, "conda-meta")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errs.Wrap(errs.WorkerFailure, err, "reading %s", dir)
	}
	var ids []inventory.Identity
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		rec, err := readRecord(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		ids = append(ids, inventory.Identity{Name: rec.Name, Version: rec.Version, Build: rec.Build})
	}
	return ids, nil
}

// LoadManifest re-reads id's conda-meta record to build the per-file
// manifest Build merges into the inventory.
func (s *Store) LoadManifest(id inventory.Identity) (*inventory.Manifest, error) {
	rec, _, err := s.findRecord(id)
	if err != nil {
		return nil, err
	}
	m := &inventory.Manifest{}
	if len(rec.PathsData.Paths) > 0 {
		for _, p := range rec.PathsData.Paths {
			m.Files = append(m.Files, inventory.FileMeta{
				RelativePath:      p.Path,
				SHA256:            p.SHA256,
				Size:              p.SizeInBytes,
				PrefixPlaceholder: p.PrefixPlaceholder,
				PrefixKind:        prefixKind(p.FileMode),
			})
		}
		return m, nil
	}
	// Older records carry only a flat "files" list with no prefix
	// metadata; every member is treated as carrying no prefix reference.
	for _, f := range rec.Files {
		m.Files = append(m.Files, inventory.FileMeta{RelativePath: f})
	}
	return m, nil
}

// IsEditable reports whether id was installed with pip's editable mode, per
// PEP 610's direct_url.json sitting alongside the package's dist-info.
func (s *Store) IsEditable(id inventory.Identity) (bool, error) {
	_, path, err := s.findRecord(id)
	if err != nil {
		return false, err
	}
	pkgDir := strings.TrimSuffix(filepath.Base(path), ".json")
	direct := filepath.Join(filepath.Dir(path), pkgDir+".dist-info", "direct_url.json")
	data, err := os.ReadFile(direct)
	if err != nil {
		return false, nil
	}
	var du directURL
	if err := json.Unmarshal(data, &du); err != nil {
		return false, nil
	}
	return du.DirInfo.Editable, nil
}

func prefixKind(fileMode string) inventory.PrefixKind {
	switch fileMode {
	case "text":
		return inventory.KindText
	case "binary":
		return inventory.KindBinary
	default:
		return inventory.KindNone
	}
}

func (s *Store) findRecord(id inventory.Identity) (record, string, error) {
	path := filepath.Join(s.prefix, "conda-meta", id.String()+".json")
	rec, err := readRecord(path)
	if err != nil {
		return record{}, "", errs.WithPath(errs.MissingPackageCache, id.String(), "no conda-meta record at %s", path)
	}
	return rec, path, nil
}

func readRecord(path string) (record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return record{}, errs.Wrap(errs.WorkerFailure, err, "reading %s", path)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return record{}, errs.Wrap(errs.WorkerFailure, err, "parsing %s", path)
	}
	return rec, nil
}
