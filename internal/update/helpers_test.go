package update

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"toaupdate/internal/manifest"
	"toaupdate/internal/remote"
)

func hashOf(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:])
}

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// fakeRepo is an in-memory raw-content host.
type fakeRepo struct {
	mu        sync.Mutex
	files     map[string][]byte
	sequences map[string][][]byte
	failing   map[string]bool
	hits      map[string]int
	order     []string
}

func newFakeRepo(t *testing.T) (*fakeRepo, *httptest.Server) {
	t.Helper()
	repo := &fakeRepo{
		files:     map[string][]byte{},
		sequences: map[string][][]byte{},
		failing:   map[string]bool{},
		hits:      map[string]int{},
	}
	srv := httptest.NewServer(http.HandlerFunc(repo.serve))
	t.Cleanup(srv.Close)
	return repo, srv
}

func (f *fakeRepo) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p := strings.TrimPrefix(r.URL.Path, "/")
	n := f.hits[p]
	f.hits[p]++
	f.order = append(f.order, p)

	if f.failing[p] {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if seq, ok := f.sequences[p]; ok {
		if n >= len(seq) {
			n = len(seq) - 1
		}
		_, _ = w.Write(seq[n])
		return
	}
	data, ok := f.files[p]
	if !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write(data)
}

func (f *fakeRepo) put(path, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = []byte(content)
}

func (f *fakeRepo) fail(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[path] = true
}

func (f *fakeRepo) hitCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}

// categoryOf maps a qualified path back onto the default layout.
func categoryOf(qualified string) (string, string) {
	cat, rel, ok := strings.Cut(qualified, "/")
	if !ok {
		return "code", qualified
	}
	return cat, rel
}

// release builds a manifest for files (qualified path -> content).
func release(version string, files map[string]string) *manifest.Manifest {
	m := manifest.Empty()
	m.SchemaVersion = manifest.SchemaVersion
	m.Version = version
	for q, content := range files {
		cat, rel := categoryOf(q)
		m.SetRecord(cat, rel, manifest.FileRecord{
			Hash: manifest.HashBytes([]byte(content), manifest.NewClassifier(nil).KindOf(q)),
			Size: int64(len(content)),
		})
	}
	return m
}

// publish serves m and its file contents.
func (f *fakeRepo) publish(t *testing.T, m *manifest.Manifest, files map[string]string) {
	t.Helper()
	data, err := manifest.Encode(m)
	if err != nil {
		t.Fatalf("encode manifest: %v", err)
	}
	f.put(manifest.FileName, string(data))
	for q, content := range files {
		f.put(q, content)
	}
}

// install writes files to root and commits m as the local manifest.
func install(t *testing.T, root string, m *manifest.Manifest, files map[string]string) {
	t.Helper()
	for q, content := range files {
		writeFile(t, filepath.Join(root, filepath.FromSlash(q)), content)
	}
	store := manifest.NewStore(afero.NewBasePathFs(afero.NewOsFs(), root), DefaultDataDir)
	if err := store.CommitLocal(m); err != nil {
		t.Fatalf("commit local manifest: %v", err)
	}
}

func newTestUpdater(root string, srvURL string, opts ...Option) *Updater {
	base := []Option{
		WithThrottle(0),
		WithTransferOptions(WithSleep(noSleep)),
	}
	return New(afero.NewBasePathFs(afero.NewOsFs(), root), remote.NewHTTPSource(srvURL), append(base, opts...)...)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	_ = os.Chmod(path, 0o644)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func assertNoTempFiles(t *testing.T, root string) {
	t.Helper()
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if strings.HasSuffix(p, tmpSuffix) || strings.HasSuffix(p, ".restore") {
			t.Errorf("leftover temp file %s", p)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
}
