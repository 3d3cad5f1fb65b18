package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"toaupdate/internal/journal"
	"toaupdate/internal/update"
)

// printCheck prints the outcome of an update check.
func printCheck(w io.Writer, check *update.CheckResult) {
	local := check.Local.Version
	if check.FirstInstall() {
		local = "not installed"
	}
	if !check.HasUpdates() {
		_, _ = fmt.Fprintln(w, successStyle.Render("Up to date")+dimStyle.Render(fmt.Sprintf(" (v%s)", local)))
		return
	}

	diff := check.Diff
	var size int64
	for _, c := range diff.Changes {
		size += c.Record.Size
	}
	_, _ = fmt.Fprintln(w, titleStyle.Render("Update available")+
		dimStyle.Render(fmt.Sprintf(" %s → v%s", local, diff.ToVersion)))
	_, _ = fmt.Fprintf(w, "%d changed files, %s\n", len(diff.Changes), humanize.Bytes(uint64(max(size, 0))))
	if diff.PatchAvailable && diff.Patch != nil && diff.Patch.Description != "" {
		_, _ = fmt.Fprintln(w, dimStyle.Render(diff.Patch.Description))
	}
}

// printBatchSummary prints the outcome of an update batch.
func printBatchSummary(w io.Writer, res *update.BatchResult) {
	if res == nil {
		return
	}
	duration := formatDuration(res.FinishedAt.Sub(res.StartedAt))
	failed := res.Failed()
	okCount := res.Requested() - len(failed)

	switch {
	case res.State == update.StateNoUpdate:
		_, _ = fmt.Fprintln(w, successStyle.Render("Up to date")+dimStyle.Render(fmt.Sprintf(" (v%s)", res.FromVersion)))
		return
	case res.Committed:
		_, _ = fmt.Fprintln(w, successStyle.Render("Updated")+
			dimStyle.Render(fmt.Sprintf(" v%s → v%s • %s", res.FromVersion, res.ToVersion, duration)))
	case res.Success:
		_, _ = fmt.Fprintln(w, warningStyle.Render("Partially updated")+
			dimStyle.Render(fmt.Sprintf(" • %s • still at v%s, the rest is retried next run", duration, res.FromVersion)))
	case res.RolledBack:
		_, _ = fmt.Fprintln(w, errorStyle.Render("Update failed")+
			dimStyle.Render(fmt.Sprintf(" • rolled back to v%s", res.FromVersion)))
	default:
		_, _ = fmt.Fprintln(w, errorStyle.Render("Update failed"))
	}

	_, _ = fmt.Fprintf(w, "%d of %d files, %s\n", okCount, res.Requested(), humanize.Bytes(uint64(max(res.Bytes(), 0))))
	if len(failed) > 0 {
		_, _ = fmt.Fprintf(w, "Failed: %s\n", strings.Join(failed, ", "))
	}
	if res.CodeUpdated {
		_, _ = fmt.Fprintln(w, statusStyle.Render("Program files changed; restart to use the new version."))
	}
}

// printHistory prints journal entries, newest first.
func printHistory(w io.Writer, batches []journal.Batch, now time.Time) {
	if len(batches) == 0 {
		_, _ = fmt.Fprintln(w, dimStyle.Render("No update history."))
		return
	}
	for _, b := range batches {
		status := successStyle.Render("ok")
		switch {
		case b.Success && !b.Committed:
			status = warningStyle.Render("partial")
		case b.RolledBack:
			status = errorStyle.Render("rolled back")
		case !b.Success:
			status = errorStyle.Render("failed")
		}
		_, _ = fmt.Fprintf(w, "%s  %s → %s  %s  %d/%d files  %s  %s\n",
			dimStyle.Render(b.ID),
			b.FromVersion, b.ToVersion,
			status,
			b.Requested-b.Failed, b.Requested,
			humanize.Bytes(uint64(max(b.Bytes, 0))),
			dimStyle.Render(humanize.RelTime(b.StartedAt, now, "ago", "from now")),
		)
		if b.Error != "" {
			_, _ = fmt.Fprintln(w, "    "+dimStyle.Render(b.Error))
		}
	}
}

// formatDuration formats a duration into a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		if secs == 0 {
			return fmt.Sprintf("%dm", mins)
		}
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	if mins == 0 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dh %dm", hours, mins)
}
