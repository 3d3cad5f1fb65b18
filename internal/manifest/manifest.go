// Package manifest models the published description of a release: the
// version, the per-category file hashes, patch hints and rollback metadata.
//
// Two document formats are understood. manifest.json carries a schema
// version and {hash,size} records; the legacy version.json maps paths
// straight to hash strings. Both parse into the same Manifest.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

const (
	// FileName is the current manifest document name.
	FileName = "manifest.json"
	// LegacyFileName is the older hash-only document name.
	LegacyFileName = "version.json"
	// SchemaVersion is written into generated manifests.
	SchemaVersion = 1
	// ZeroVersion is the version reported for an empty install.
	ZeroVersion = "0.0.0"
)

// FileRecord is the expected state of one tracked file.
type FileRecord struct {
	Hash string
	// Size in bytes; 0 when the document did not carry it.
	Size int64
	// Kind overrides extension-based classification when set.
	Kind ContentKind
}

type fileRecordJSON struct {
	Hash string      `json:"hash"`
	Size int64       `json:"size"`
	Kind ContentKind `json:"kind,omitempty"`
}

// UnmarshalJSON accepts either a bare hash string or a {hash,size} object.
func (r *FileRecord) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var hash string
		if err := json.Unmarshal(data, &hash); err != nil {
			return err
		}
		*r = FileRecord{Hash: hash}
		return nil
	}
	var obj fileRecordJSON
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("file record: %w", err)
	}
	*r = FileRecord(obj)
	return nil
}

// MarshalJSON always writes the object form.
func (r FileRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(fileRecordJSON(r))
}

// PatchDescriptor lists what changed between a previous version and this one.
type PatchDescriptor struct {
	Description  string   `json:"description"`
	ChangedFiles []string `json:"changed_files"`
	RemovedFiles []string `json:"removed_files"`
}

// RollbackInfo is informational metadata about the release before this one.
type RollbackInfo struct {
	PreviousVersion string `json:"previous_version"`
	CanRollback     bool   `json:"can_rollback"`
}

// Manifest describes one release.
type Manifest struct {
	SchemaVersion int                              `json:"manifest_version"`
	Version       string                           `json:"version"`
	ReleaseDate   string                           `json:"release_date,omitempty"`
	Files         map[string]map[string]FileRecord `json:"files"`
	Patches       map[string]PatchDescriptor       `json:"patches,omitempty"`
	Rollback      *RollbackInfo                    `json:"rollback,omitempty"`

	// Skipped lists category/path of records dropped while parsing because
	// their hash was malformed.
	Skipped []string `json:"-"`
}

// Empty returns the manifest of an install that has nothing yet.
func Empty() *Manifest {
	return &Manifest{
		Version: ZeroVersion,
		Files:   map[string]map[string]FileRecord{},
	}
}

// IsEmpty reports whether m describes a fresh install.
func (m *Manifest) IsEmpty() bool {
	return m == nil || (m.Version == ZeroVersion && m.FileCount() == 0)
}

// PatchKey returns the patches map key for an upgrade from version.
func PatchKey(version string) string {
	return "from_" + version
}

// Patch returns the patch descriptor for an upgrade from version, if any.
func (m *Manifest) Patch(fromVersion string) (PatchDescriptor, bool) {
	if m == nil || m.Patches == nil {
		return PatchDescriptor{}, false
	}
	p, ok := m.Patches[PatchKey(fromVersion)]
	return p, ok
}

// Record looks up a record by category and category-relative path.
func (m *Manifest) Record(category, path string) (FileRecord, bool) {
	if m == nil {
		return FileRecord{}, false
	}
	rec, ok := m.Files[category][path]
	return rec, ok
}

// SetRecord stores rec, creating the category if needed.
func (m *Manifest) SetRecord(category, path string, rec FileRecord) {
	if m.Files == nil {
		m.Files = map[string]map[string]FileRecord{}
	}
	if m.Files[category] == nil {
		m.Files[category] = map[string]FileRecord{}
	}
	m.Files[category][path] = rec
}

// Categories returns the category names in lexical order.
func (m *Manifest) Categories() []string {
	if m == nil {
		return nil
	}
	cats := make([]string, 0, len(m.Files))
	for c := range m.Files {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	return cats
}

// FileCount returns the number of tracked files across all categories.
func (m *Manifest) FileCount() int {
	if m == nil {
		return 0
	}
	n := 0
	for _, files := range m.Files {
		n += len(files)
	}
	return n
}

// TotalSize sums the recorded sizes.
func (m *Manifest) TotalSize() int64 {
	if m == nil {
		return 0
	}
	var total int64
	for _, files := range m.Files {
		for _, rec := range files {
			total += rec.Size
		}
	}
	return total
}

// Clone returns a deep copy.
func (m *Manifest) Clone() *Manifest {
	if m == nil {
		return nil
	}
	out := *m
	out.Skipped = append([]string(nil), m.Skipped...)
	out.Files = make(map[string]map[string]FileRecord, len(m.Files))
	for cat, files := range m.Files {
		cp := make(map[string]FileRecord, len(files))
		for p, rec := range files {
			cp[p] = rec
		}
		out.Files[cat] = cp
	}
	if m.Patches != nil {
		out.Patches = make(map[string]PatchDescriptor, len(m.Patches))
		for k, v := range m.Patches {
			out.Patches[k] = v
		}
	}
	if m.Rollback != nil {
		rb := *m.Rollback
		out.Rollback = &rb
	}
	return &out
}
