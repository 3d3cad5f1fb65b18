package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// DefaultAssetExtensions are the file types published from asset and
// content directories.
var DefaultAssetExtensions = []string{
	".json", ".osu", ".mp3", ".wav", ".ogg", ".jpg", ".png", ".osz", ".ico", ".zip",
}

// SourceSet selects the files of one category in a publish tree. Either
// Files lists explicit category-relative paths, or the category directory is
// walked and every file whose extension is in Extensions is taken.
type SourceSet struct {
	Category   string
	Files      []string
	Extensions []string
}

// BuildOptions configures Build.
type BuildOptions struct {
	Version     string
	ReleaseDate time.Time
	Layout      Layout
	Sets        []SourceSet
	Classifier  *Classifier
	// Previous, when set, is diffed against the new manifest to produce a
	// patch entry and rollback metadata.
	Previous *Manifest
}

// Build hashes the publish tree rooted at fsys and returns its manifest.
func Build(fsys afero.Fs, opts BuildOptions) (*Manifest, error) {
	if strings.TrimSpace(opts.Version) == "" {
		return nil, fmt.Errorf("build manifest: version is required")
	}
	if opts.Classifier == nil {
		opts.Classifier = NewClassifier(nil)
	}
	if opts.ReleaseDate.IsZero() {
		opts.ReleaseDate = time.Now()
	}

	m := &Manifest{
		SchemaVersion: SchemaVersion,
		Version:       opts.Version,
		ReleaseDate:   opts.ReleaseDate.Format(time.DateOnly),
		Files:         map[string]map[string]FileRecord{},
		Patches:       map[string]PatchDescriptor{},
	}

	for _, set := range opts.Sets {
		paths, err := set.resolve(fsys, opts.Layout)
		if err != nil {
			return nil, err
		}
		for _, rel := range paths {
			qualified := opts.Layout.Qualify(set.Category, rel)
			kind := opts.Classifier.KindOf(qualified)
			sum, err := HashFile(fsys, filepath.FromSlash(qualified), kind)
			if err != nil {
				return nil, err
			}
			info, err := fsys.Stat(filepath.FromSlash(qualified))
			if err != nil {
				return nil, fmt.Errorf("stat %s: %w", qualified, err)
			}
			m.SetRecord(set.Category, rel, FileRecord{Hash: sum, Size: info.Size()})
		}
	}

	if opts.Previous != nil {
		m.Rollback = &RollbackInfo{PreviousVersion: opts.Previous.Version, CanRollback: true}
		if patch, ok := GeneratePatch(opts.Previous, m, opts.Layout); ok {
			m.Patches[PatchKey(opts.Previous.Version)] = patch
		}
	}
	return m, nil
}

func (s SourceSet) resolve(fsys afero.Fs, l Layout) ([]string, error) {
	if len(s.Files) > 0 {
		var out []string
		for _, f := range s.Files {
			rel := filepath.ToSlash(f)
			if _, err := fsys.Stat(filepath.FromSlash(l.Qualify(s.Category, rel))); err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return nil, fmt.Errorf("stat %s: %w", rel, err)
			}
			out = append(out, rel)
		}
		return out, nil
	}

	root := filepath.FromSlash(l.Dir(s.Category))
	if root == "" {
		root = "."
	}
	if _, err := fsys.Stat(root); os.IsNotExist(err) {
		return nil, nil
	}
	exts := make(map[string]struct{}, len(s.Extensions))
	for _, e := range s.Extensions {
		exts[strings.ToLower(e)] = struct{}{}
	}

	var out []string
	err := afero.Walk(fsys, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if _, ok := exts[strings.ToLower(filepath.Ext(p))]; len(exts) > 0 && !ok {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(out)
	return out, nil
}

// GeneratePatch lists the qualified paths whose hash changed or that were
// added (changed) and those that disappeared (removed) between prev and
// next. It reports false when nothing differs.
func GeneratePatch(prev, next *Manifest, l Layout) (PatchDescriptor, bool) {
	var changed, removed []string
	for _, e := range next.Entries(l) {
		old, ok := prev.Record(e.Category, e.Path)
		if !ok || !EqualHash(old.Hash, e.Record.Hash) {
			changed = append(changed, e.Qualified)
		}
	}
	for _, e := range prev.Entries(l) {
		if _, ok := next.Record(e.Category, e.Path); !ok {
			removed = append(removed, e.Qualified)
		}
	}
	if len(changed) == 0 && len(removed) == 0 {
		return PatchDescriptor{}, false
	}
	if changed == nil {
		changed = []string{}
	}
	if removed == nil {
		removed = []string{}
	}
	return PatchDescriptor{
		Description:  fmt.Sprintf("Patch from %s to %s", prev.Version, next.Version),
		ChangedFiles: changed,
		RemovedFiles: removed,
	}, true
}
