package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"toaupdate/internal/update"
)

func TestProgressPrinterPlain(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressPrinter(&buf, false)

	p.Handle(update.Event{State: update.StateDiffing})
	p.Handle(update.Event{State: update.StateTransferring})
	p.Handle(update.Event{State: update.StateTransferring, Path: "main.py", Index: 1, Total: 2, BytesTotal: 2048})
	p.Handle(update.Event{State: update.StateTransferring, Path: "main.py", Index: 1, Total: 2, BytesDone: 1024, BytesTotal: 2048})
	p.Handle(update.Event{State: update.StateTransferring, Path: "main.py", Index: 1, Total: 2, BytesDone: 2048, BytesTotal: 2048})
	p.Handle(update.Event{State: update.StateTransferring, Path: "assets/a.png", Index: 2, Total: 2, BytesTotal: -1})
	p.Handle(update.Event{State: update.StateTransferring, Path: "assets/a.png", Index: 2, Total: 2, Err: errors.New("integrity mismatch")})
	p.Handle(update.Event{State: update.StateDone})
	p.Finish()

	out := buf.String()
	if strings.Contains(out, "\r") {
		t.Errorf("plain output should not redraw lines: %q", out)
	}
	want := []string{
		"Comparing manifests...",
		"[1/2] main.py 2.0 kB",
		"[2/2] assets/a.png unknown size",
		"✗ assets/a.png integrity mismatch",
	}
	for _, s := range want {
		if !strings.Contains(out, s) {
			t.Errorf("output missing %q:\n%s", s, out)
		}
	}
	if n := strings.Count(out, "main.py"); n != 1 {
		t.Errorf("main.py printed %d times, want once:\n%s", n, out)
	}
	if strings.Contains(out, "Downloading...") {
		t.Errorf("transferring state message should be suppressed:\n%s", out)
	}
}

func TestProgressPrinterLive(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressPrinter(&buf, true)

	p.Handle(update.Event{State: update.StateTransferring, Path: "levels/a.json", Index: 1, Total: 1, BytesDone: 512, BytesTotal: 1024})
	if !p.lineOpen {
		t.Fatal("live progress should leave the line open")
	}
	if !strings.Contains(buf.String(), "\r\033[2K") || !strings.Contains(buf.String(), "512 B / 1.0 kB") {
		t.Errorf("live output = %q", buf.String())
	}

	p.Handle(update.Event{State: update.StateCommitting})
	if p.lineOpen {
		t.Error("a state message should close the progress line")
	}
	if !strings.HasSuffix(buf.String(), "Recording new version...\n") {
		t.Errorf("output = %q", buf.String())
	}
	p.Finish()
}

func TestProgressPrinterNil(t *testing.T) {
	var p *progressPrinter
	p.Handle(update.Event{State: update.StateDone})
	p.Finish()
}

func TestFraction(t *testing.T) {
	tests := []struct {
		done, total int64
		want        float64
	}{
		{0, 100, 0},
		{50, 100, 0.5},
		{150, 100, 1},
		{10, 0, 0},
		{10, -1, 0},
	}
	for _, tt := range tests {
		if got := fraction(tt.done, tt.total); got != tt.want {
			t.Errorf("fraction(%d, %d) = %v, want %v", tt.done, tt.total, got, tt.want)
		}
	}
}
