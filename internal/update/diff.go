package update

import (
	"io"
	"sort"

	"github.com/charmbracelet/log"

	"toaupdate/internal/manifest"
)

// Change is one file whose remote hash differs from the local record.
type Change struct {
	Category  string
	Path      string
	Qualified string
	Record    manifest.FileRecord
	// Added is true when the local manifest has no record for the file.
	Added bool
}

// DiffResult is the outcome of comparing a local and a remote manifest.
type DiffResult struct {
	// HasUpdates is true when the remote version is newer than the local
	// one, even if no file changed.
	HasUpdates     bool
	Changes        []Change
	FromVersion    string
	ToVersion      string
	PatchAvailable bool
	Patch          *manifest.PatchDescriptor
}

// ChangedFiles returns the qualified paths of all changes in order.
func (r *DiffResult) ChangedFiles() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.Changes))
	for i, c := range r.Changes {
		out[i] = c.Qualified
	}
	return out
}

// Differ compares manifests.
type Differ struct {
	layout      manifest.Layout
	scanContent bool
	scanCode    bool
	logger      *log.Logger
}

// DifferOption configures a Differ.
type DifferOption func(*Differ)

// WithContentScan toggles scanning of non-code categories.
func WithContentScan(enabled bool) DifferOption {
	return func(d *Differ) {
		d.scanContent = enabled
	}
}

// WithCodeScan toggles scanning of code categories.
func WithCodeScan(enabled bool) DifferOption {
	return func(d *Differ) {
		d.scanCode = enabled
	}
}

// WithDiffLogger sets the logger used to report skipped records.
func WithDiffLogger(l *log.Logger) DifferOption {
	return func(d *Differ) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDiffer creates a differ that scans every category by default.
func NewDiffer(layout manifest.Layout, opts ...DifferOption) *Differ {
	d := &Differ{layout: layout, scanContent: true, scanCode: true, logger: log.New(io.Discard)}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Diff compares local against remote. The version string alone decides
// whether anything is new: equal versions mean no updates whatever the file
// hashes say, and an older remote is never treated as an update. Remote
// records whose path the layout cannot resolve safely are skipped.
func (d *Differ) Diff(local, remote *manifest.Manifest) *DiffResult {
	if local == nil {
		local = manifest.Empty()
	}
	res := &DiffResult{FromVersion: local.Version}
	if remote == nil {
		return res
	}
	res.ToVersion = remote.Version

	if local.Version == remote.Version || CompareVersions(remote.Version, local.Version) < 0 {
		return res
	}
	res.HasUpdates = true

	for _, cat := range d.layout.Order(remote.Categories()) {
		if d.layout.IsCode(cat) && !d.scanCode {
			continue
		}
		if !d.layout.IsCode(cat) && !d.scanContent {
			continue
		}
		paths := make([]string, 0, len(remote.Files[cat]))
		for p := range remote.Files[cat] {
			paths = append(paths, p)
		}
		sort.Strings(paths)

		for _, p := range paths {
			qualified, err := d.layout.Resolve(cat, p)
			if err != nil {
				d.logger.Warn("skipping manifest record", "category", cat, "path", p, "err", err)
				continue
			}
			rec := remote.Files[cat][p]
			old, ok := local.Record(cat, p)
			if ok && manifest.EqualHash(old.Hash, rec.Hash) {
				continue
			}
			res.Changes = append(res.Changes, Change{
				Category:  cat,
				Path:      p,
				Qualified: qualified,
				Record:    rec,
				Added:     !ok,
			})
		}
	}

	if patch, ok := remote.Patch(local.Version); ok {
		res.PatchAvailable = true
		res.Patch = &patch
	}
	return res
}
