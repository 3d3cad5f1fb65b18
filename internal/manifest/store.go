package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	appErrors "toaupdate/internal/errors"
	"toaupdate/internal/remote"
)

// DefaultFetchTimeout bounds a remote manifest request.
const DefaultFetchTimeout = 10 * time.Second

// Store loads and persists the local manifest and fetches the remote one.
// The local manifest lives at {dataDir}/manifest.json on the install fs and
// is only ever written by CommitLocal.
type Store struct {
	fs      afero.Fs
	dataDir string
	source  remote.Source
	timeout time.Duration
	logger  *log.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithSource sets the remote repository the store fetches from.
func WithSource(src remote.Source) StoreOption {
	return func(s *Store) {
		s.source = src
	}
}

// WithFetchTimeout overrides DefaultFetchTimeout.
func WithFetchTimeout(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore creates a store over the install filesystem fsys.
func NewStore(fsys afero.Fs, dataDir string, opts ...StoreOption) *Store {
	s := &Store{
		fs:      fsys,
		dataDir: dataDir,
		timeout: DefaultFetchTimeout,
		logger:  log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Timeout returns the remote request timeout.
func (s *Store) Timeout() time.Duration {
	return s.timeout
}

// LocalPath returns the install-relative path of the local manifest.
func (s *Store) LocalPath() string {
	return filepath.Join(s.dataDir, FileName)
}

// localCandidates lists where a local manifest may live, newest format first.
// Installs made by the legacy client keep version.json in the install root.
func (s *Store) localCandidates() []string {
	return []string{
		s.LocalPath(),
		filepath.Join(s.dataDir, LegacyFileName),
		LegacyFileName,
	}
}

// LoadLocal returns the persisted manifest, falling back to a legacy
// version.json (data dir, then install root) and finally to Empty(). It
// never fails.
func (s *Store) LoadLocal() *Manifest {
	for _, name := range s.localCandidates() {
		data, err := afero.ReadFile(s.fs, name)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				s.logger.Warn("read local manifest", "path", name, "err", err)
			}
			continue
		}
		m, err := Decode(data)
		if err != nil {
			s.logger.Warn("ignoring unreadable local manifest", "path", name, "err", err)
			continue
		}
		return m
	}
	return Empty()
}

// FetchRemote downloads the remote manifest.json, falling back to the legacy
// version.json when the former does not exist. Every failure is reported
// with CodeManifestUnavailable.
func (s *Store) FetchRemote(ctx context.Context) (*Manifest, error) {
	if s.source == nil {
		return nil, appErrors.New(appErrors.CodeManifestUnavailable, "no remote source configured", nil)
	}

	data, err := s.fetch(ctx, FileName)
	if err == nil {
		m, perr := Parse(data)
		if perr != nil {
			return nil, appErrors.New(appErrors.CodeManifestUnavailable, "remote "+FileName, perr)
		}
		s.warnSkipped(m)
		return m, nil
	}
	if !errors.Is(err, remote.ErrNotFound) {
		return nil, appErrors.New(appErrors.CodeManifestUnavailable, "fetch remote manifest", err)
	}

	s.logger.Debug("remote manifest missing, trying legacy document", "name", LegacyFileName)
	data, err = s.fetch(ctx, LegacyFileName)
	if err != nil {
		return nil, appErrors.New(appErrors.CodeManifestUnavailable, "fetch remote manifest", err)
	}
	m, err := ParseLegacy(data)
	if err != nil {
		return nil, appErrors.New(appErrors.CodeManifestUnavailable, "remote "+LegacyFileName, err)
	}
	s.warnSkipped(m)
	return m, nil
}

func (s *Store) warnSkipped(m *Manifest) {
	for _, p := range m.Skipped {
		s.logger.Warn("skipping record with malformed hash", "record", p, "version", m.Version)
	}
}

func (s *Store) fetch(ctx context.Context, name string) ([]byte, error) {
	return remote.ReadAll(ctx, s.source, remote.Request{
		Path:    name,
		NoCache: true,
		Timeout: s.timeout,
	})
}

// CommitLocal persists m as the local manifest. The document is written to a
// temp file and renamed into place so readers never see a partial file.
func (s *Store) CommitLocal(m *Manifest) error {
	data, err := Encode(m)
	if err != nil {
		return appErrors.New(appErrors.CodeFilesystem, "encode local manifest", err)
	}
	return writeAtomic(s.fs, s.LocalPath(), data)
}

func writeAtomic(fsys afero.Fs, name string, data []byte) error {
	//nolint:gosec // G301: data directory under the install root
	if err := fsys.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return appErrors.New(appErrors.CodeFilesystem, "create data directory", err)
	}
	tmp := name + ".tmp"
	if err := afero.WriteFile(fsys, tmp, data, 0o644); err != nil {
		_ = fsys.Remove(tmp)
		return appErrors.New(appErrors.CodeFilesystem, fmt.Sprintf("write %s", tmp), err)
	}
	if err := fsys.Rename(tmp, name); err != nil {
		_ = fsys.Remove(tmp)
		return appErrors.New(appErrors.CodeFilesystem, fmt.Sprintf("rename %s", tmp), err)
	}
	return nil
}
