package update

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	appErrors "toaupdate/internal/errors"
	"toaupdate/internal/manifest"
	"toaupdate/internal/remote"
)

// Transfer defaults.
const (
	DefaultChunkSize   = 1 << 20
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 2 * time.Second
	DefaultFileTimeout = 30 * time.Second

	tmpSuffix = ".tmp"

	writableMode  os.FileMode = 0o644
	protectedMode os.FileMode = 0o444
)

// ErrChecksumMismatch is wrapped by integrity failures.
var ErrChecksumMismatch = fmt.Errorf("checksum verification failed")

// ChecksumError reports a downloaded file whose hash differs from the
// expected one.
type ChecksumError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}

// Unwrap returns ErrChecksumMismatch.
func (e *ChecksumError) Unwrap() error {
	return ErrChecksumMismatch
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// FetchRequest describes one file to download.
type FetchRequest struct {
	// Path is the install-relative qualified path, also used as the remote path.
	Path string
	// ExpectedHash is the manifest hash; empty means unverified.
	ExpectedHash string
	// Kind overrides extension-based classification when set.
	Kind manifest.ContentKind
	// Protected files are made read-only after they are installed.
	Protected bool
	// Progress, if set, is called after every chunk.
	Progress func(done, total int64)
}

// FetchResult describes a completed download.
type FetchResult struct {
	Path     string
	Hash     string
	Bytes    int64
	Attempts int
}

// Transfer downloads files from a remote source into the install fs. Each
// file is streamed into {path}.tmp and renamed into place only once its hash
// has been verified.
type Transfer struct {
	fs          afero.Fs
	source      remote.Source
	classifier  *manifest.Classifier
	chunkSize   int
	maxAttempts int
	retryDelay  time.Duration
	timeout     time.Duration
	sleep       SleepFunc
	logger      *log.Logger
}

// TransferOption configures a Transfer.
type TransferOption func(*Transfer)

// WithChunkSize sets the read buffer size.
func WithChunkSize(n int) TransferOption {
	return func(t *Transfer) {
		if n > 0 {
			t.chunkSize = n
		}
	}
}

// WithMaxAttempts sets the number of attempts per file.
func WithMaxAttempts(n int) TransferOption {
	return func(t *Transfer) {
		if n > 0 {
			t.maxAttempts = n
		}
	}
}

// WithRetryDelay sets the fixed pause between attempts.
func WithRetryDelay(d time.Duration) TransferOption {
	return func(t *Transfer) {
		if d >= 0 {
			t.retryDelay = d
		}
	}
}

// WithFileTimeout bounds each attempt.
func WithFileTimeout(d time.Duration) TransferOption {
	return func(t *Transfer) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithSleep replaces the backoff sleeper. Used by tests.
func WithSleep(fn SleepFunc) TransferOption {
	return func(t *Transfer) {
		if fn != nil {
			t.sleep = fn
		}
	}
}

// WithClassifier sets the content-kind classifier.
func WithClassifier(c *manifest.Classifier) TransferOption {
	return func(t *Transfer) {
		if c != nil {
			t.classifier = c
		}
	}
}

// WithTransferLogger sets the logger.
func WithTransferLogger(l *log.Logger) TransferOption {
	return func(t *Transfer) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTransfer creates a transfer writing into fsys.
func NewTransfer(fsys afero.Fs, src remote.Source, opts ...TransferOption) *Transfer {
	t := &Transfer{
		fs:          fsys,
		source:      src,
		classifier:  manifest.NewClassifier(nil),
		chunkSize:   DefaultChunkSize,
		maxAttempts: DefaultMaxAttempts,
		retryDelay:  DefaultRetryDelay,
		timeout:     DefaultFileTimeout,
		sleep:       sleepContext,
		logger:      log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Fetch downloads req.Path, retrying on any failure up to the attempt
// budget. The temp file never outlives the call.
func (t *Transfer) Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	final := filepath.FromSlash(req.Path)
	if !filepath.IsLocal(final) {
		return nil, appErrors.New(appErrors.CodeFilesystem, "fetch "+req.Path,
			fmt.Errorf("%w: not a local path", manifest.ErrUnsafePath))
	}
	tmp := final + tmpSuffix
	kind := req.Kind
	if kind == "" {
		kind = t.classifier.KindOf(req.Path)
	}

	var lastErr error
	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := t.sleep(ctx, t.retryDelay); err != nil {
				lastErr = appErrors.New(appErrors.CodeTransientNetwork, "fetch "+req.Path, err)
				break
			}
		}

		res, err := t.attempt(ctx, req, kind, final, tmp)
		if err == nil {
			res.Attempts = attempt
			return res, nil
		}
		_ = t.fs.Remove(tmp)
		lastErr = err
		t.logger.Warn("fetch attempt failed", "path", req.Path, "attempt", attempt, "of", t.maxAttempts, "err", err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (t *Transfer) attempt(ctx context.Context, req FetchRequest, kind manifest.ContentKind, final, tmp string) (*FetchResult, error) {
	obj, err := t.source.Open(ctx, remote.Request{Path: req.Path, Timeout: t.timeout})
	if err != nil {
		return nil, err
	}
	defer func() { _ = obj.Body.Close() }()

	//nolint:gosec // G301: install tree directories
	if err := t.fs.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return nil, appErrors.New(appErrors.CodeFilesystem, "create directory for "+req.Path, err)
	}
	f, err := t.fs.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, writableMode)
	if err != nil {
		return nil, appErrors.New(appErrors.CodeFilesystem, "create "+tmp, err)
	}

	sum := sha256.New()
	written, err := t.copyChunks(f, sum, obj, req.Progress)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = appErrors.New(appErrors.CodeFilesystem, "close "+tmp, cerr)
	}
	if err != nil {
		return nil, err
	}

	actual := hex.EncodeToString(sum.Sum(nil))
	if kind == manifest.KindText {
		// Text is hashed the way the publisher hashes it: from the file, with
		// line endings normalised.
		actual, err = manifest.HashFile(t.fs, tmp, manifest.KindText)
		if err != nil {
			return nil, appErrors.New(appErrors.CodeFilesystem, "hash "+tmp, err)
		}
	}
	if req.ExpectedHash != "" && !manifest.EqualHash(actual, req.ExpectedHash) {
		return nil, appErrors.New(appErrors.CodeIntegrityMismatch, "",
			&ChecksumError{Path: req.Path, Expected: req.ExpectedHash, Actual: actual})
	}

	if err := t.commit(tmp, final); err != nil {
		return nil, err
	}
	if req.Protected {
		if err := t.fs.Chmod(final, protectedMode); err != nil {
			t.logger.Debug("could not mark file read-only", "path", req.Path, "err", err)
		}
	}
	return &FetchResult{Path: req.Path, Hash: actual, Bytes: written}, nil
}

func (t *Transfer) copyChunks(dst io.Writer, sum io.Writer, obj *remote.Object, progress func(done, total int64)) (int64, error) {
	buf := make([]byte, t.chunkSize)
	var done int64
	for {
		n, rerr := obj.Body.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return done, appErrors.New(appErrors.CodeFilesystem, "write chunk", err)
			}
			_, _ = sum.Write(buf[:n])
			done += int64(n)
			if progress != nil {
				progress(done, obj.Size)
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return done, appErrors.New(appErrors.CodeTransientNetwork, "read body", rerr)
		}
	}
	if obj.Size >= 0 && done != obj.Size {
		return done, appErrors.New(appErrors.CodeTransientNetwork,
			fmt.Sprintf("short body: got %d of %d bytes", done, obj.Size), io.ErrUnexpectedEOF)
	}
	return done, nil
}

// commit moves tmp over final. An existing final file has its read-only bit
// cleared first; if the rename still fails the old file is removed and the
// rename retried once.
func (t *Transfer) commit(tmp, final string) error {
	if _, err := t.fs.Stat(final); err == nil {
		_ = t.fs.Chmod(final, writableMode)
	}
	if err := t.fs.Rename(tmp, final); err == nil {
		return nil
	}
	if err := t.fs.Remove(final); err != nil && !os.IsNotExist(err) {
		return appErrors.New(appErrors.CodeFilesystem, "remove "+final, err)
	}
	if err := t.fs.Rename(tmp, final); err != nil {
		return appErrors.New(appErrors.CodeFilesystem, "rename "+tmp, err)
	}
	return nil
}
