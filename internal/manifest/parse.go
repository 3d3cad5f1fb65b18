package manifest

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	appErrors "toaupdate/internal/errors"
)

// Parse decodes a manifest.json document.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, appErrors.New(appErrors.CodeManifestInvalid, "decode "+FileName, err)
	}
	if m.SchemaVersion == 0 {
		m.SchemaVersion = SchemaVersion
	}
	if err := m.normalize(); err != nil {
		return nil, err
	}
	return &m, nil
}

type legacyDocument struct {
	Version string                           `json:"version"`
	Files   map[string]map[string]FileRecord `json:"files"`
}

// ParseLegacy decodes a version.json document. Only version and files are
// read; legacy documents carry no patch or rollback metadata.
func ParseLegacy(data []byte) (*Manifest, error) {
	var doc legacyDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, appErrors.New(appErrors.CodeManifestInvalid, "decode "+LegacyFileName, err)
	}
	m := &Manifest{Version: doc.Version, Files: doc.Files}
	if err := m.normalize(); err != nil {
		return nil, err
	}
	return m, nil
}

// Decode picks the parser by document shape: a manifest_version key means
// manifest.json, anything else is treated as legacy.
func Decode(data []byte) (*Manifest, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, appErrors.New(appErrors.CodeManifestInvalid, "decode manifest", err)
	}
	if _, ok := probe["manifest_version"]; ok {
		return Parse(data)
	}
	return ParseLegacy(data)
}

// normalize trims the version and lowercases hashes. A record with a
// malformed hash is dropped and listed in Skipped; the rest of the release
// stays usable.
func (m *Manifest) normalize() error {
	m.Version = strings.TrimSpace(m.Version)
	if m.Version == "" {
		return appErrors.New(appErrors.CodeManifestInvalid, "manifest has no version", nil)
	}
	if m.Files == nil {
		m.Files = map[string]map[string]FileRecord{}
	}
	for cat, files := range m.Files {
		if files == nil {
			m.Files[cat] = map[string]FileRecord{}
			continue
		}
		for p, rec := range files {
			rec.Hash = strings.ToLower(strings.TrimSpace(rec.Hash))
			if rec.Hash != "" && !ValidHash(rec.Hash) {
				delete(files, p)
				m.Skipped = append(m.Skipped, cat+"/"+p)
				continue
			}
			files[p] = rec
		}
	}
	sort.Strings(m.Skipped)
	return nil
}

// Encode writes m as an indented manifest.json document.
func Encode(m *Manifest) ([]byte, error) {
	out := m.Clone()
	if out.SchemaVersion == 0 {
		out.SchemaVersion = SchemaVersion
	}
	return marshalIndent(out)
}

// EncodeLegacy writes the version.json form of m: version plus hash strings.
func EncodeLegacy(m *Manifest) ([]byte, error) {
	doc := struct {
		Version string                       `json:"version"`
		Files   map[string]map[string]string `json:"files"`
	}{
		Version: m.Version,
		Files:   make(map[string]map[string]string, len(m.Files)),
	}
	for cat, files := range m.Files {
		doc.Files[cat] = make(map[string]string, len(files))
		for p, rec := range files {
			doc.Files[cat][p] = rec.Hash
		}
	}
	return marshalIndent(doc)
}

func marshalIndent(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
