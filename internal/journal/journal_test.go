package journal

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"toaupdate/internal/update"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(context.Background(), filepath.Join(t.TempDir(), FileName))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func batchAt(id string, started time.Time) *update.BatchResult {
	return &update.BatchResult{
		ID:          id,
		State:       update.StateDone,
		FromVersion: "1.0.0",
		ToVersion:   "1.1.0",
		Success:     true,
		StartedAt:   started,
		FinishedAt:  started.Add(3 * time.Second),
		Files: []update.FileOutcome{
			{Path: "main.py", Category: "code", OK: true, Bytes: 120, Attempts: 1},
			{Path: "assets/a.png", Category: "assets", OK: false, Attempts: 3, Err: errors.New("checksum mismatch")},
		},
	}
}

func TestRecordAndRead(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := j.RecordBatch(ctx, batchAt("b-1", started)); err != nil {
		t.Fatalf("RecordBatch() error: %v", err)
	}

	batches, err := j.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(batches) != 1 {
		t.Fatalf("len(Recent()) = %d, want 1", len(batches))
	}
	b := batches[0]
	if b.ID != "b-1" || b.State != "done" || !b.Success || b.Committed {
		t.Errorf("batch = %+v", b)
	}
	if b.Requested != 2 || b.Failed != 1 || b.Bytes != 120 {
		t.Errorf("counts = %d/%d/%d", b.Requested, b.Failed, b.Bytes)
	}
	if !b.StartedAt.Equal(started) || b.Duration() != 3*time.Second {
		t.Errorf("times = %v, %v", b.StartedAt, b.Duration())
	}

	files, err := j.Files(ctx, "b-1")
	if err != nil {
		t.Fatalf("Files() error: %v", err)
	}
	if len(files) != 2 || files[0].Path != "main.py" || !files[0].OK {
		t.Fatalf("files = %+v", files)
	}
	if files[1].OK || files[1].Attempts != 3 || !strings.Contains(files[1].Error, "checksum") {
		t.Errorf("failed file = %+v", files[1])
	}
}

func TestRecordReplacesSameID(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	res := batchAt("b-1", time.Now())
	if err := j.RecordBatch(ctx, res); err != nil {
		t.Fatal(err)
	}
	res.Files = res.Files[:1]
	if err := j.RecordBatch(ctx, res); err != nil {
		t.Fatal(err)
	}
	files, err := j.Files(ctx, "b-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 {
		t.Errorf("len(Files()) = %d, want 1", len(files))
	}
}

func TestRecentOrderAndPrune(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 5 {
		if err := j.RecordBatch(ctx, batchAt(fmt.Sprintf("b-%d", i), base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatal(err)
		}
	}

	recent, err := j.Recent(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].ID != "b-4" || recent[1].ID != "b-3" {
		t.Errorf("Recent(2) = %v", recent)
	}

	removed, err := j.Prune(ctx, 3)
	if err != nil {
		t.Fatalf("Prune() error: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	files, err := j.Files(ctx, "b-0")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 0 {
		t.Errorf("pruned batch still has %d files", len(files))
	}
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	ctx := context.Background()
	j, err := Open(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if err := j.RecordBatch(ctx, batchAt("b-1", time.Now())); err != nil {
		t.Fatal(err)
	}
	_ = j.Close()

	j, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = j.Close() }()
	recent, err := j.Recent(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 1 {
		t.Errorf("len(Recent()) after reopen = %d", len(recent))
	}
}

func TestRecordRequiresID(t *testing.T) {
	j := openTestJournal(t)
	if err := j.RecordBatch(context.Background(), &update.BatchResult{}); err == nil {
		t.Error("RecordBatch() without an ID should fail")
	}
}
