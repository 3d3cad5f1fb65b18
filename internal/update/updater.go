package update

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"golang.org/x/time/rate"

	appErrors "toaupdate/internal/errors"
	"toaupdate/internal/manifest"
	"toaupdate/internal/remote"
)

// Defaults for the orchestrator.
const (
	DefaultDataDir          = ".toa"
	DefaultThrottle         = 100 * time.Millisecond
	DefaultFailureThreshold = 0.5
)

// Policy decides whether a batch with failed files still counts as a success.
type Policy struct {
	// Strict treats any failed file as a failed batch.
	Strict bool
	// FailureThreshold is the failed/requested ratio at or above which a
	// lenient batch fails. Zero selects DefaultFailureThreshold.
	FailureThreshold float64
}

// Tolerates reports whether failed out of requested files is still a success.
// A tolerated batch with failures is never committed.
func (p Policy) Tolerates(failed, requested int) bool {
	if failed == 0 {
		return true
	}
	if p.Strict || requested == 0 {
		return false
	}
	threshold := p.FailureThreshold
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	return float64(failed) < threshold*float64(requested)
}

// Recorder persists the outcome of a batch. Recording is best-effort.
type Recorder interface {
	RecordBatch(ctx context.Context, res *BatchResult) error
}

// FileOutcome is the result of one file in a batch.
type FileOutcome struct {
	Path     string
	Category string
	OK       bool
	Bytes    int64
	Attempts int
	Err      error
}

// BatchResult describes one DownloadUpdates run.
type BatchResult struct {
	ID          string
	State       State
	FromVersion string
	ToVersion   string
	Files       []FileOutcome
	// Success is the overall outcome under the configured Policy.
	Success bool
	// Committed is true only when every file succeeded and the local
	// manifest now names ToVersion.
	Committed   bool
	RolledBack  bool
	CodeUpdated bool
	StartedAt   time.Time
	FinishedAt  time.Time
	Err         error
}

// Requested returns the number of files the batch tried to transfer.
func (r *BatchResult) Requested() int {
	return len(r.Files)
}

// Failed returns the paths that could not be transferred.
func (r *BatchResult) Failed() []string {
	var out []string
	for _, f := range r.Files {
		if !f.OK {
			out = append(out, f.Path)
		}
	}
	return out
}

// Bytes sums the downloaded bytes.
func (r *BatchResult) Bytes() int64 {
	var n int64
	for _, f := range r.Files {
		n += f.Bytes
	}
	return n
}

// Updater runs update batches against one install root.
type Updater struct {
	fs         afero.Fs
	source     remote.Source
	dataDir    string
	layout     manifest.Layout
	classifier *manifest.Classifier
	policy     Policy
	throttle   time.Duration
	auxFiles   []string
	protect    map[string]bool

	manifestTimeout time.Duration

	differOpts   []DifferOption
	transferOpts []TransferOption

	store    *manifest.Store
	differ   *Differ
	transfer *Transfer
	backup   *BackupManager
	limiter  *rate.Limiter
	recorder Recorder
	logger   *log.Logger
	now      func() time.Time
	newID    func() string
}

// Option configures an Updater.
type Option func(*Updater)

// WithDataDir sets the install-relative data directory.
func WithDataDir(dir string) Option {
	return func(u *Updater) {
		if dir != "" {
			u.dataDir = dir
		}
	}
}

// WithLayout sets the category layout.
func WithLayout(l manifest.Layout) Option {
	return func(u *Updater) {
		u.layout = l
	}
}

// WithTextExtensions sets the extensions hashed as text.
func WithTextExtensions(exts []string) Option {
	return func(u *Updater) {
		u.classifier = manifest.NewClassifier(exts)
	}
}

// WithProtectedCategories sets the categories made read-only after install.
func WithProtectedCategories(categories []string) Option {
	return func(u *Updater) {
		u.protect = make(map[string]bool, len(categories))
		for _, c := range categories {
			u.protect[c] = true
		}
	}
}

// WithScan toggles the content and code category scans.
func WithScan(content, code bool) Option {
	return func(u *Updater) {
		u.differOpts = append(u.differOpts, WithContentScan(content), WithCodeScan(code))
	}
}

// WithPolicy sets the batch failure policy.
func WithPolicy(p Policy) Option {
	return func(u *Updater) {
		u.policy = p
	}
}

// WithThrottle sets the minimum spacing between file requests.
func WithThrottle(d time.Duration) Option {
	return func(u *Updater) {
		u.throttle = d
	}
}

// WithAuxiliaryFiles sets the documents fetched on first install.
func WithAuxiliaryFiles(names []string) Option {
	return func(u *Updater) {
		u.auxFiles = names
	}
}

// WithTransferOptions passes options through to the file transfer.
func WithTransferOptions(opts ...TransferOption) Option {
	return func(u *Updater) {
		u.transferOpts = append(u.transferOpts, opts...)
	}
}

// WithRecorder sets where batch outcomes are recorded.
func WithRecorder(r Recorder) Option {
	return func(u *Updater) {
		u.recorder = r
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(u *Updater) {
		if l != nil {
			u.logger = l
		}
	}
}

// WithManifestTimeout bounds the remote manifest request.
func WithManifestTimeout(d time.Duration) Option {
	return func(u *Updater) {
		u.manifestTimeout = d
	}
}

// New creates an updater for the install tree rooted at fsys, reading
// releases from src.
func New(fsys afero.Fs, src remote.Source, opts ...Option) *Updater {
	u := &Updater{
		fs:       fsys,
		source:   src,
		dataDir:  DefaultDataDir,
		layout:   manifest.DefaultLayout(),
		policy:   Policy{FailureThreshold: DefaultFailureThreshold},
		throttle: DefaultThrottle,
		protect:  map[string]bool{"code": true},
		logger:   log.New(io.Discard),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.classifier == nil {
		u.classifier = manifest.NewClassifier(nil)
	}
	// Manifest paths must never reach the data directory.
	u.layout.Reserved = append(slices.Clone(u.layout.Reserved), filepath.ToSlash(u.dataDir))

	u.store = manifest.NewStore(fsys, u.dataDir,
		manifest.WithSource(src),
		manifest.WithFetchTimeout(u.manifestTimeout),
		manifest.WithLogger(u.logger),
	)
	u.differ = NewDiffer(u.layout, append([]DifferOption{WithDiffLogger(u.logger)}, u.differOpts...)...)
	u.transfer = NewTransfer(fsys, src, append([]TransferOption{
		WithClassifier(u.classifier),
		WithTransferLogger(u.logger),
	}, u.transferOpts...)...)
	u.backup = NewBackupManager(fsys, u.dataDir, u.store.LocalPath(), u.logger)

	limit := rate.Inf
	if u.throttle > 0 {
		limit = rate.Every(u.throttle)
	}
	u.limiter = rate.NewLimiter(limit, 1)
	return u
}

// Store returns the manifest store.
func (u *Updater) Store() *manifest.Store {
	return u.store
}

// Backup returns the backup manager.
func (u *Updater) Backup() *BackupManager {
	return u.backup
}

// Update checks for updates and, if there are any, downloads them.
// StateDiffing is emitted while the check runs.
func (u *Updater) Update(ctx context.Context, progress ProgressFunc) (*BatchResult, error) {
	progress.emit(Event{State: StateDiffing})
	check, err := u.CheckForUpdates(ctx)
	if err != nil {
		progress.emit(Event{State: StateNoUpdate, Err: err})
		return &BatchResult{
			State:       StateNoUpdate,
			FromVersion: check.Local.Version,
			Success:     true,
		}, err
	}
	return u.DownloadUpdates(ctx, check, progress)
}

// DownloadUpdates runs one batch for the changes found by a check.
func (u *Updater) DownloadUpdates(ctx context.Context, check *CheckResult, progress ProgressFunc) (*BatchResult, error) {
	if check == nil || check.Remote == nil || check.Diff == nil {
		return nil, appErrors.New(appErrors.CodeManifestUnavailable, "download requires a completed update check", nil)
	}

	res := &BatchResult{
		ID:          u.newID(),
		State:       StateIdle,
		FromVersion: check.Diff.FromVersion,
		ToVersion:   check.Diff.ToVersion,
		StartedAt:   u.now(),
	}
	setState := func(s State) {
		res.State = s
		progress.emit(Event{State: s})
	}
	finish := func(err error) (*BatchResult, error) {
		res.Err = err
		res.FinishedAt = u.now()
		u.record(ctx, res)
		return res, err
	}

	if !check.Diff.HasUpdates {
		res.Success = true
		setState(StateNoUpdate)
		return finish(nil)
	}

	changes := u.prioritize(check.Diff.Changes)
	paths := make([]string, len(changes))
	for i, c := range changes {
		paths[i] = c.Qualified
	}

	hasBackup := false
	if !check.FirstInstall() {
		setState(StateBackingUp)
		if _, err := u.backup.Snapshot(check.Local.Version, paths); err != nil {
			setState(StateFailed)
			return finish(err)
		}
		hasBackup = true
	}

	setState(StateTransferring)
	res.Files = u.transferAll(ctx, changes, progress)
	failed := len(res.Failed())
	for _, f := range res.Files {
		if f.OK && u.layout.IsCode(f.Category) {
			res.CodeUpdated = true
		}
	}

	if failed == 0 {
		setState(StateCommitting)
		err := u.store.CommitLocal(check.Remote)
		if err == nil {
			res.Committed = true
			res.Success = true
			if check.FirstInstall() {
				u.fetchAuxiliary(ctx)
			}
			setState(StateDone)
			u.logger.Info("update installed", "version", res.ToVersion, "files", len(res.Files))
			return finish(nil)
		}
		u.logger.Error("commit failed", "err", err)
		return u.fail(res, hasBackup, err, setState, finish)
	}

	if u.policy.Tolerates(failed, len(res.Files)) {
		// Partial success: the files that arrived stay, the manifest is not
		// committed so the next check retries the rest.
		res.Success = true
		setState(StateDone)
		u.logger.Warn("update partially applied", "failed", failed, "of", len(res.Files))
		return finish(nil)
	}

	err := appErrors.New(appErrors.CodeBatchFailed,
		fmt.Sprintf("%d of %d files failed", failed, len(res.Files)), nil)
	return u.fail(res, hasBackup, err, setState, finish)
}

func (u *Updater) fail(res *BatchResult, hasBackup bool, cause error, setState func(State), finish func(error) (*BatchResult, error)) (*BatchResult, error) {
	if !hasBackup {
		setState(StateFailed)
		return finish(cause)
	}
	setState(StateRollingBack)
	if _, err := u.backup.Restore(); err != nil {
		u.logger.Error("rollback failed", "err", err)
		setState(StateFailed)
		return finish(errors.Join(cause, err))
	}
	res.RolledBack = true
	res.CodeUpdated = false
	setState(StateFailed)
	return finish(cause)
}

// prioritize orders changes code first, then assets, then content, keeping
// the differ's order within each group.
func (u *Updater) prioritize(changes []Change) []Change {
	out := make([]Change, len(changes))
	copy(out, changes)
	sort.SliceStable(out, func(i, j int) bool {
		return u.layout.Priority(out[i].Category) < u.layout.Priority(out[j].Category)
	})
	return out
}

func (u *Updater) transferAll(ctx context.Context, changes []Change, progress ProgressFunc) []FileOutcome {
	outcomes := make([]FileOutcome, 0, len(changes))
	total := len(changes)
	for i, c := range changes {
		outcome := FileOutcome{Path: c.Qualified, Category: c.Category}

		if err := u.limiter.Wait(ctx); err != nil {
			outcome.Err = appErrors.New(appErrors.CodeTransientNetwork, "batch cancelled", err)
			outcomes = append(outcomes, outcome)
			progress.emit(Event{State: StateTransferring, Path: c.Qualified, Index: i + 1, Total: total, Err: outcome.Err})
			continue
		}

		progress.emit(Event{State: StateTransferring, Path: c.Qualified, Index: i + 1, Total: total, BytesTotal: c.Record.Size})
		fr, err := u.transfer.Fetch(ctx, FetchRequest{
			Path:         c.Qualified,
			ExpectedHash: c.Record.Hash,
			Kind:         u.classifier.Kind(c.Qualified, c.Record),
			Protected:    u.protect[c.Category],
			Progress: func(done, size int64) {
				progress.emit(Event{
					State: StateTransferring, Path: c.Qualified, Index: i + 1, Total: total,
					BytesDone: done, BytesTotal: size,
				})
			},
		})
		if err != nil {
			outcome.Err = err
			u.logger.Error("file failed", "path", c.Qualified, "err", err)
			progress.emit(Event{State: StateTransferring, Path: c.Qualified, Index: i + 1, Total: total, Err: err})
		} else {
			outcome.OK = true
			outcome.Bytes = fr.Bytes
			outcome.Attempts = fr.Attempts
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// fetchAuxiliary writes the auxiliary documents into the data directory.
// They are not hash-verified and a failure only logs.
func (u *Updater) fetchAuxiliary(ctx context.Context) {
	for _, name := range u.auxFiles {
		data, err := remote.ReadAll(ctx, u.source, remote.Request{Path: name, NoCache: true, Timeout: u.store.Timeout()})
		if err != nil {
			u.logger.Warn("auxiliary document unavailable", "name", name, "err", err)
			continue
		}
		dst := filepath.Join(u.dataDir, filepath.Base(filepath.FromSlash(name)))
		if err := afero.WriteFile(u.fs, dst, data, 0o644); err != nil {
			u.logger.Warn("write auxiliary document", "name", name, "err", err)
		}
	}
}

func (u *Updater) record(ctx context.Context, res *BatchResult) {
	if u.recorder == nil || res.State == StateNoUpdate {
		return
	}
	if err := u.recorder.RecordBatch(context.WithoutCancel(ctx), res); err != nil {
		u.logger.Warn("record batch", "id", res.ID, "err", err)
	}
}

// VerifyFile reports whether the installed file matches the hash recorded in
// the local manifest. Untracked files and records without a hash verify as
// true; a missing file verifies as false.
func (u *Updater) VerifyFile(path string) (bool, error) {
	entry, ok := u.store.LoadLocal().Lookup(u.layout, path)
	if !ok || entry.Record.Hash == "" {
		return true, nil
	}
	return u.verifyEntry(entry)
}

func (u *Updater) verifyEntry(entry manifest.Entry) (bool, error) {
	actual, err := manifest.HashFile(u.fs, filepath.FromSlash(entry.Qualified), u.classifier.Kind(entry.Qualified, entry.Record))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, appErrors.New(appErrors.CodeFilesystem, "verify "+entry.Qualified, err)
	}
	return manifest.EqualHash(actual, entry.Record.Hash), nil
}

// VerifyAll checks every tracked file and returns the paths that are missing
// or modified.
func (u *Updater) VerifyAll(ctx context.Context) ([]string, error) {
	var bad []string
	for _, e := range u.store.LoadLocal().Entries(u.layout) {
		if err := ctx.Err(); err != nil {
			return bad, err
		}
		if e.Record.Hash == "" {
			continue
		}
		ok, err := u.verifyEntry(e)
		if err != nil {
			return bad, err
		}
		if !ok {
			bad = append(bad, e.Qualified)
		}
	}
	return bad, nil
}

// RepairFile downloads path again using the hash from the local manifest.
func (u *Updater) RepairFile(ctx context.Context, path string) error {
	entry, ok := u.store.LoadLocal().Lookup(u.layout, path)
	if !ok {
		return appErrors.New(appErrors.CodeNotTracked, path+" is not tracked by the local manifest", nil)
	}
	final := filepath.FromSlash(entry.Qualified)
	if _, err := u.fs.Stat(final); err == nil {
		if err := u.fs.Chmod(final, writableMode); err != nil {
			u.logger.Debug("could not clear read-only", "path", entry.Qualified, "err", err)
		}
	}
	_, err := u.transfer.Fetch(ctx, FetchRequest{
		Path:         entry.Qualified,
		ExpectedHash: entry.Record.Hash,
		Kind:         u.classifier.Kind(entry.Qualified, entry.Record),
		Protected:    u.protect[entry.Category],
	})
	if err != nil {
		return err
	}
	u.logger.Info("repaired", "path", entry.Qualified)
	return nil
}
