package manifest

import (
	"bytes"
	"testing"
	"testing/iotest"

	"github.com/spf13/afero"
)

func TestTextHashIgnoresLineEndings(t *testing.T) {
	lf := "print('a')\nprint('b')\n"
	crlf := "print('a')\r\nprint('b')\r\n"

	want := HashBytes([]byte(lf), KindText)
	if got := HashBytes([]byte(crlf), KindText); got != want {
		t.Errorf("CRLF text hash = %s, want %s", got, want)
	}
	if want != sum(lf) {
		t.Errorf("LF text hash should equal plain sha256 of the bytes")
	}
	if HashBytes([]byte(crlf), KindBinary) == want {
		t.Error("binary hash must not normalise line endings")
	}
}

func TestTextHashKeepsLoneCR(t *testing.T) {
	cr := "print('a')\rprint('b')\r"
	if got := HashBytes([]byte(cr), KindText); got != sum(cr) {
		t.Errorf("lone CR hash = %s, want hash of the raw bytes", got)
	}
	if got, want := HashBytes([]byte("a\r\r\nb"), KindText), sum("a\r\nb"); got != want {
		t.Errorf("CR CRLF hash = %s, want %s", got, want)
	}
}

func TestTextHashFallsBackToRawOnInvalidUTF8(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"invalid byte", "x = 1\r\n\xff\r\n"},
		{"truncated sequence", "x = 'caf\xc3'\r\n"},
		{"cut off at end", "x = 1\r\n\xe2\x82"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HashBytes([]byte(tt.data), KindText); got != sum(tt.data) {
				t.Errorf("hash = %s, want raw sha256 %s", got, sum(tt.data))
			}
		})
	}

	// Multi-byte runes are still text.
	if got := HashBytes([]byte("caf\xc3\xa9\r\n"), KindText); got != sum("caf\xc3\xa9\n") {
		t.Errorf("valid UTF-8 text was not normalised")
	}
}

func TestHasherHandlesChunkBoundaries(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"line endings", "a\r\nb\r\r\nc\r", "a\nb\r\nc\r"},
		{"split rune", "caf\xc3\xa9\r\n\xe2\x82\xac\r\n", "caf\xc3\xa9\n\xe2\x82\xac\n"},
		{"invalid", "a\r\n\xc3(\r\n", "a\r\n\xc3(\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// One byte per read splits every CRLF and every multi-byte rune.
			got, n, err := HashReader(iotest.OneByteReader(bytes.NewReader([]byte(tt.data))), KindText)
			if err != nil {
				t.Fatalf("HashReader() error: %v", err)
			}
			if got != sum(tt.want) {
				t.Errorf("chunked hash = %s, want %s", got, sum(tt.want))
			}
			if got != HashBytes([]byte(tt.data), KindText) {
				t.Error("chunked hash differs from single write")
			}
			if n != int64(len(tt.data)) {
				t.Errorf("n = %d, want raw length %d", n, len(tt.data))
			}
		})
	}
}

func TestNormalizeLineEndings(t *testing.T) {
	got := string(NormalizeLineEndings([]byte("a\r\nb\rc\n")))
	if got != "a\nb\rc\n" {
		t.Errorf("NormalizeLineEndings() = %q", got)
	}
}

func TestHashFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "main.py", []byte("x = 1\r\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := HashFile(fs, "main.py", KindText)
	if err != nil {
		t.Fatalf("HashFile() error: %v", err)
	}
	if got != sum("x = 1\n") {
		t.Errorf("HashFile() = %s", got)
	}
	if _, err := HashFile(fs, "missing.py", KindText); err == nil {
		t.Error("HashFile() on missing file should fail")
	}
}

func TestValidHash(t *testing.T) {
	if !ValidHash(sum("x")) {
		t.Error("ValidHash(sha256) = false")
	}
	for _, bad := range []string{"", "abc", sum("x")[:63] + "g"} {
		if ValidHash(bad) {
			t.Errorf("ValidHash(%q) = true", bad)
		}
	}
}

func TestClassifier(t *testing.T) {
	c := NewClassifier([]string{"py", ".TXT"})
	tests := []struct {
		path string
		rec  FileRecord
		want ContentKind
	}{
		{"main.py", FileRecord{}, KindText},
		{"notes/readme.txt", FileRecord{}, KindText},
		{"assets/song.mp3", FileRecord{}, KindBinary},
		{"Makefile", FileRecord{}, KindBinary},
		{"main.py", FileRecord{Kind: KindBinary}, KindBinary},
		{"level.json", FileRecord{Kind: KindText}, KindText},
	}
	for _, tt := range tests {
		if got := c.Kind(tt.path, tt.rec); got != tt.want {
			t.Errorf("Kind(%q, %+v) = %s, want %s", tt.path, tt.rec, got, tt.want)
		}
	}
	if NewClassifier(nil).KindOf("launcher.py") != KindText {
		t.Error("default classifier should treat .py as text")
	}
}
