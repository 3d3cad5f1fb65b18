package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/dustin/go-humanize"

	"toaupdate/internal/update"
)

const progressBarWidth = 30

// progressPrinter renders batch events. In live mode the current file is
// redrawn in place; in plain mode every file gets one line, which suits
// logs and pipes.
type progressPrinter struct {
	writer io.Writer
	live   bool
	bar    progress.Model

	lineOpen bool
}

func newProgressPrinter(w io.Writer, live bool) *progressPrinter {
	if w == nil {
		w = io.Discard
	}
	return &progressPrinter{
		writer: w,
		live:   live,
		bar: progress.New(
			progress.WithDefaultGradient(),
			progress.WithWidth(progressBarWidth),
			progress.WithoutPercentage(),
		),
	}
}

var stateMessages = map[update.State]string{
	update.StateDiffing:      "Comparing manifests...",
	update.StateBackingUp:    "Backing up files...",
	update.StateTransferring: "Downloading...",
	update.StateCommitting:   "Recording new version...",
	update.StateRollingBack:  "Rolling back...",
}

// Handle is an update.ProgressFunc.
func (p *progressPrinter) Handle(e update.Event) {
	if p == nil {
		return
	}
	switch {
	case e.Err != nil && e.Path != "":
		p.clearLine()
		_, _ = fmt.Fprintf(p.writer, "%s %s %s\n", errorStyle.Render("✗"), e.Path, dimStyle.Render(e.Err.Error()))
	case e.State == update.StateTransferring && e.Path != "":
		p.file(e)
	default:
		if msg, ok := stateMessages[e.State]; ok && e.State != update.StateTransferring {
			p.clearLine()
			_, _ = fmt.Fprintln(p.writer, statusStyle.Render(msg))
		}
	}
}

func (p *progressPrinter) file(e update.Event) {
	counter := dimStyle.Render(fmt.Sprintf("[%d/%d]", e.Index, e.Total))
	if !p.live {
		// One line when the file starts.
		if e.BytesDone == 0 {
			_, _ = fmt.Fprintf(p.writer, "%s %s %s\n", counter, e.Path, dimStyle.Render(formatSize(e.BytesTotal)))
		}
		return
	}
	_, _ = fmt.Fprintf(p.writer, "\r\033[2K%s %s %s %s",
		counter, e.Path, p.bar.ViewAs(fraction(e.BytesDone, e.BytesTotal)), dimStyle.Render(formatTransferred(e.BytesDone, e.BytesTotal)))
	p.lineOpen = true
}

// Finish clears any partially drawn line.
func (p *progressPrinter) Finish() {
	if p == nil {
		return
	}
	p.clearLine()
}

func (p *progressPrinter) clearLine() {
	if !p.lineOpen {
		return
	}
	_, _ = fmt.Fprint(p.writer, "\r\033[2K")
	p.lineOpen = false
}

func fraction(done, total int64) float64 {
	if total <= 0 {
		return 0
	}
	f := float64(done) / float64(total)
	if f > 1 {
		return 1
	}
	return f
}

func formatSize(n int64) string {
	if n < 0 {
		return "unknown size"
	}
	return humanize.Bytes(uint64(n))
}

func formatTransferred(done, total int64) string {
	if total < 0 {
		return humanize.Bytes(uint64(max(done, 0)))
	}
	return strings.Join([]string{humanize.Bytes(uint64(max(done, 0))), humanize.Bytes(uint64(total))}, " / ")
}
