package manifest

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"slices"
	"sort"
	"strings"
)

// ErrUnsafePath is returned for manifest paths that would resolve outside
// their category directory or into a reserved directory.
var ErrUnsafePath = errors.New("unsafe manifest path")

// Priority orders categories for transfer: code first, then assets, then
// everything else.
type Priority int

const (
	PriorityCode Priority = iota
	PriorityAssets
	PriorityContent
)

// Layout maps manifest categories onto directories of the install root and
// tells which categories hold code and which hold assets.
type Layout struct {
	// Dirs maps a category to its install-relative directory. Categories
	// missing from the map live in a directory named after themselves; an
	// empty value means the install root.
	Dirs   map[string]string
	Code   []string
	Assets []string
	// Reserved lists install-relative directories no manifest path may
	// resolve into, such as the updater's own data directory.
	Reserved []string
}

// DefaultLayout puts code files at the root and every other category in a
// directory named after it.
func DefaultLayout() Layout {
	return Layout{
		Dirs:   map[string]string{"code": ""},
		Code:   []string{"code"},
		Assets: []string{"assets"},
	}
}

// Dir returns the install-relative directory for category.
func (l Layout) Dir(category string) string {
	if d, ok := l.Dirs[category]; ok {
		return strings.Trim(d, "/")
	}
	return category
}

// Qualify joins category directory and relative path with forward slashes.
// The result is both the install-relative path and the remote object path.
func (l Layout) Qualify(category, rel string) string {
	rel = strings.TrimLeft(strings.ReplaceAll(rel, "\\", "/"), "/")
	dir := l.Dir(category)
	if dir == "" {
		return rel
	}
	return path.Join(dir, rel)
}

// Resolve qualifies rel like Qualify but rejects paths that are not local
// (empty, on another volume or climbing with ".."), and paths landing in a
// reserved directory. Errors wrap ErrUnsafePath.
func (l Layout) Resolve(category, rel string) (string, error) {
	slashed := strings.TrimLeft(strings.ReplaceAll(rel, "\\", "/"), "/")
	if !filepath.IsLocal(filepath.FromSlash(slashed)) {
		return "", fmt.Errorf("%w: %s/%s", ErrUnsafePath, category, rel)
	}
	qualified := l.Qualify(category, slashed)
	lower := strings.ToLower(qualified)
	for _, r := range l.Reserved {
		r = strings.ToLower(strings.Trim(path.Clean(filepath.ToSlash(r)), "/"))
		if r == "" || r == "." {
			continue
		}
		if lower == r || strings.HasPrefix(lower, r+"/") {
			return "", fmt.Errorf("%w: %s is inside reserved directory %s", ErrUnsafePath, qualified, r)
		}
	}
	return qualified, nil
}

// IsCode reports whether category holds code.
func (l Layout) IsCode(category string) bool {
	return slices.Contains(l.Code, category)
}

// Priority returns the transfer priority of category.
func (l Layout) Priority(category string) Priority {
	switch {
	case l.IsCode(category):
		return PriorityCode
	case slices.Contains(l.Assets, category):
		return PriorityAssets
	default:
		return PriorityContent
	}
}

// Order sorts categories by priority, then by name.
func (l Layout) Order(categories []string) []string {
	out := slices.Clone(categories)
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := l.Priority(out[i]), l.Priority(out[j])
		if pi != pj {
			return pi < pj
		}
		return out[i] < out[j]
	})
	return out
}

// Entry is one tracked file resolved against a layout.
type Entry struct {
	Category  string
	Path      string
	Qualified string
	Record    FileRecord
}

// Entries lists every tracked file of m in layout order, paths sorted
// within each category. Records whose path fails Resolve are left out.
func (m *Manifest) Entries(l Layout) []Entry {
	if m == nil {
		return nil
	}
	var out []Entry
	for _, cat := range l.Order(m.Categories()) {
		paths := make([]string, 0, len(m.Files[cat]))
		for p := range m.Files[cat] {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, p := range paths {
			qualified, err := l.Resolve(cat, p)
			if err != nil {
				continue
			}
			out = append(out, Entry{
				Category:  cat,
				Path:      p,
				Qualified: qualified,
				Record:    m.Files[cat][p],
			})
		}
	}
	return out
}

// Lookup finds the entry whose qualified path equals qualified.
func (m *Manifest) Lookup(l Layout, qualified string) (Entry, bool) {
	qualified = strings.TrimLeft(strings.ReplaceAll(qualified, "\\", "/"), "/")
	for _, e := range m.Entries(l) {
		if e.Qualified == qualified {
			return e, true
		}
	}
	return Entry{}, false
}
