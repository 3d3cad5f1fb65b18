package update

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	appErrors "toaupdate/internal/errors"
)

const (
	backupDirName      = "backup"
	backupFilesDir     = "files"
	backupManifestName = "manifest.json"
	backupIndexName    = "snapshot.json"
)

// ErrNoBackup is returned when restoring without a snapshot on disk.
var ErrNoBackup = fmt.Errorf("no backup snapshot found")

// BackupEntry is one file copied into the backup.
type BackupEntry struct {
	Path string      `json:"path"`
	Mode os.FileMode `json:"mode"`
}

// Snapshot indexes the single backup generation.
type Snapshot struct {
	Version   string        `json:"version"`
	CreatedAt time.Time     `json:"created_at"`
	Files     []BackupEntry `json:"files"`
	// Created lists paths that did not exist when the snapshot was taken.
	// Restore removes them.
	Created     []string `json:"created"`
	HasManifest bool     `json:"has_manifest"`
}

// BackupManager keeps one backup of the files a batch is about to replace,
// under {dataDir}/backup on the install fs.
type BackupManager struct {
	fs           afero.Fs
	root         string
	manifestPath string
	now          func() time.Time
	logger       *log.Logger
}

// NewBackupManager creates a manager for the install fs. manifestPath is the
// install-relative path of the local manifest that is saved alongside files.
func NewBackupManager(fsys afero.Fs, dataDir, manifestPath string, logger *log.Logger) *BackupManager {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &BackupManager{
		fs:           fsys,
		root:         filepath.Join(dataDir, backupDirName),
		manifestPath: manifestPath,
		now:          time.Now,
		logger:       logger,
	}
}

// Root returns the install-relative backup directory.
func (b *BackupManager) Root() string {
	return b.root
}

// Snapshot discards any previous backup, then copies every path that exists
// plus the local manifest into a fresh one.
func (b *BackupManager) Snapshot(version string, paths []string) (*Snapshot, error) {
	if err := b.Discard(); err != nil {
		return nil, err
	}
	//nolint:gosec // G301: backup lives under the install data directory
	if err := b.fs.MkdirAll(filepath.Join(b.root, backupFilesDir), 0o755); err != nil {
		return nil, appErrors.New(appErrors.CodeBackupFailed, "create backup directory", err)
	}

	snap := &Snapshot{Version: version, CreatedAt: b.now().UTC(), Files: []BackupEntry{}, Created: []string{}}
	for _, p := range paths {
		src := filepath.FromSlash(p)
		info, err := b.fs.Stat(src)
		if errors.Is(err, os.ErrNotExist) {
			snap.Created = append(snap.Created, p)
			continue
		}
		if err != nil {
			return nil, appErrors.New(appErrors.CodeBackupFailed, "stat "+p, err)
		}
		if info.IsDir() {
			return nil, appErrors.New(appErrors.CodeBackupFailed, p+" is a directory", nil)
		}
		if err := copyFile(b.fs, src, b.filePath(p), info.Mode().Perm()|0o200); err != nil {
			return nil, appErrors.New(appErrors.CodeBackupFailed, "back up "+p, err)
		}
		snap.Files = append(snap.Files, BackupEntry{Path: p, Mode: info.Mode().Perm()})
	}

	if _, err := b.fs.Stat(b.manifestPath); err == nil {
		if err := copyFile(b.fs, b.manifestPath, filepath.Join(b.root, backupManifestName), 0o644); err != nil {
			return nil, appErrors.New(appErrors.CodeBackupFailed, "back up local manifest", err)
		}
		snap.HasManifest = true
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, appErrors.New(appErrors.CodeBackupFailed, "encode snapshot index", err)
	}
	if err := afero.WriteFile(b.fs, filepath.Join(b.root, backupIndexName), data, 0o644); err != nil {
		return nil, appErrors.New(appErrors.CodeBackupFailed, "write snapshot index", err)
	}
	b.logger.Debug("backup taken", "files", len(snap.Files), "new", len(snap.Created))
	return snap, nil
}

// Load reads the snapshot index.
func (b *BackupManager) Load() (*Snapshot, error) {
	data, err := afero.ReadFile(b.fs, filepath.Join(b.root, backupIndexName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoBackup
	}
	if err != nil {
		return nil, appErrors.New(appErrors.CodeRollbackFailed, "read snapshot index", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, appErrors.New(appErrors.CodeRollbackFailed, "decode snapshot index", err)
	}
	return &snap, nil
}

// Restore copies every backed-up file back over the install tree, removes
// files the batch created along with any leftover temp files, and puts the
// saved local manifest back. Every path is attempted; failures are joined.
func (b *BackupManager) Restore() (*Snapshot, error) {
	snap, err := b.Load()
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, e := range snap.Files {
		dst := filepath.FromSlash(e.Path)
		if err := b.restoreFile(b.filePath(e.Path), dst, e.Mode); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", e.Path, err))
		}
		_ = b.fs.Remove(dst + tmpSuffix)
	}
	for _, p := range snap.Created {
		dst := filepath.FromSlash(p)
		_ = b.fs.Chmod(dst, writableMode)
		if err := b.fs.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", p, err))
		}
		_ = b.fs.Remove(dst + tmpSuffix)
	}
	if snap.HasManifest {
		if err := b.restoreFile(filepath.Join(b.root, backupManifestName), b.manifestPath, 0o644); err != nil {
			errs = append(errs, fmt.Errorf("restore local manifest: %w", err))
		}
	}

	if len(errs) > 0 {
		return snap, appErrors.New(appErrors.CodeRollbackFailed, "rollback incomplete", errors.Join(errs...))
	}
	b.logger.Info("rolled back", "version", snap.Version, "restored", len(snap.Files), "removed", len(snap.Created))
	return snap, nil
}

// Discard removes the backup directory.
func (b *BackupManager) Discard() error {
	if err := b.fs.RemoveAll(b.root); err != nil {
		return appErrors.New(appErrors.CodeBackupFailed, "remove previous backup", err)
	}
	return nil
}

func (b *BackupManager) filePath(p string) string {
	return filepath.Join(b.root, backupFilesDir, filepath.FromSlash(p))
}

// restoreFile copies src to dst through a temp file and rename, then applies mode.
func (b *BackupManager) restoreFile(src, dst string, mode os.FileMode) error {
	tmp := dst + ".restore"
	if err := copyFile(b.fs, src, tmp, 0o644); err != nil {
		_ = b.fs.Remove(tmp)
		return err
	}
	if _, err := b.fs.Stat(dst); err == nil {
		_ = b.fs.Chmod(dst, writableMode)
	}
	if err := b.fs.Rename(tmp, dst); err != nil {
		_ = b.fs.Remove(dst)
		if err := b.fs.Rename(tmp, dst); err != nil {
			_ = b.fs.Remove(tmp)
			return err
		}
	}
	if mode != 0 {
		_ = b.fs.Chmod(dst, mode)
	}
	return nil
}

func copyFile(fsys afero.Fs, src, dst string, mode os.FileMode) error {
	in, err := fsys.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	//nolint:gosec // G301: mirrors install tree layout
	if err := fsys.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := fsys.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
