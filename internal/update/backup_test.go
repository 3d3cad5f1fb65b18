package update

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/spf13/afero"
)

func TestBackupRestoreRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	mustWrite(t, fs, "main.py", "original main\r\n", 0o444)
	mustWrite(t, fs, "assets/a.png", "\x89PNG original", 0o644)
	mustWrite(t, fs, ".toa/manifest.json", `{"version":"1.0.0"}`, 0o644)

	b := NewBackupManager(fs, ".toa", ".toa/manifest.json", nil)
	snap, err := b.Snapshot("1.0.0", []string{"main.py", "assets/a.png", "levels/new.json"})
	if err != nil {
		t.Fatalf("Snapshot() error: %v", err)
	}
	if len(snap.Files) != 2 || !slices.Equal(snap.Created, []string{"levels/new.json"}) || !snap.HasManifest {
		t.Fatalf("snapshot = %+v", snap)
	}

	// Simulate a batch that overwrote, created and left debris behind.
	mustWrite(t, fs, "main.py", "half written", 0o644)
	mustWrite(t, fs, "assets/a.png", "new png", 0o644)
	mustWrite(t, fs, "levels/new.json", "{}", 0o644)
	mustWrite(t, fs, "assets/a.png.tmp", "partial", 0o644)
	mustWrite(t, fs, ".toa/manifest.json", `{"version":"2.0.0"}`, 0o644)

	if _, err := b.Restore(); err != nil {
		t.Fatalf("Restore() error: %v", err)
	}

	assertContent(t, fs, "main.py", "original main\r\n")
	assertContent(t, fs, "assets/a.png", "\x89PNG original")
	assertContent(t, fs, ".toa/manifest.json", `{"version":"1.0.0"}`)
	for _, gone := range []string{"levels/new.json", "assets/a.png.tmp"} {
		if _, err := fs.Stat(gone); !os.IsNotExist(err) {
			t.Errorf("%s should have been removed", gone)
		}
	}
	info, _ := fs.Stat("main.py")
	if info.Mode().Perm() != 0o444 {
		t.Errorf("main.py mode = %v, want original 0444", info.Mode().Perm())
	}
}

func TestSnapshotReplacesPreviousGeneration(t *testing.T) {
	fs := afero.NewMemMapFs()
	mustWrite(t, fs, "a.txt", "a", 0o644)
	mustWrite(t, fs, "b.txt", "b", 0o644)
	b := NewBackupManager(fs, ".toa", ".toa/manifest.json", nil)

	if _, err := b.Snapshot("1.0.0", []string{"a.txt"}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Snapshot("1.1.0", []string{"b.txt"}); err != nil {
		t.Fatal(err)
	}

	if _, err := fs.Stat(filepath.Join(b.Root(), "files", "a.txt")); !os.IsNotExist(err) {
		t.Error("previous generation survived a new snapshot")
	}
	snap, err := b.Load()
	if err != nil {
		t.Fatal(err)
	}
	if snap.Version != "1.1.0" || snap.HasManifest {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestRestoreWithoutBackup(t *testing.T) {
	b := NewBackupManager(afero.NewMemMapFs(), ".toa", ".toa/manifest.json", nil)
	if _, err := b.Restore(); !errors.Is(err, ErrNoBackup) {
		t.Errorf("Restore() error = %v, want ErrNoBackup", err)
	}
}

func TestDiscard(t *testing.T) {
	fs := afero.NewMemMapFs()
	mustWrite(t, fs, "a.txt", "a", 0o644)
	b := NewBackupManager(fs, ".toa", ".toa/manifest.json", nil)
	if _, err := b.Snapshot("1.0.0", []string{"a.txt"}); err != nil {
		t.Fatal(err)
	}
	if err := b.Discard(); err != nil {
		t.Fatalf("Discard() error: %v", err)
	}
	if _, err := b.Load(); !errors.Is(err, ErrNoBackup) {
		t.Errorf("Load() after Discard = %v", err)
	}
}

func mustWrite(t *testing.T, fs afero.Fs, name, content string, mode os.FileMode) {
	t.Helper()
	if err := fs.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(fs, name, []byte(content), mode); err != nil {
		t.Fatal(err)
	}
	if err := fs.Chmod(name, mode); err != nil {
		t.Fatal(err)
	}
}

func assertContent(t *testing.T, fs afero.Fs, name, want string) {
	t.Helper()
	got, err := afero.ReadFile(fs, name)
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	if string(got) != want {
		t.Errorf("%s = %q, want %q", name, got, want)
	}
}
