package manifest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/spf13/afero"
)

// Hasher computes the manifest hash of a stream. Text content has CRLF
// normalised to LF before hashing, so a file checked out with either line
// ending convention hashes the same. Text that is not valid UTF-8 is hashed
// as raw bytes, matching how the publisher treats undecodable files.
type Hasher struct {
	raw       hash.Hash
	norm      hash.Hash
	text      bool
	valid     bool
	pendingCR bool
	tail      []byte
	buf       []byte
}

// NewHasher returns a Hasher for the given kind.
func NewHasher(kind ContentKind) *Hasher {
	h := &Hasher{raw: sha256.New(), text: kind == KindText, valid: true}
	if h.text {
		h.norm = sha256.New()
	}
	return h
}

// Write implements io.Writer. It never fails.
func (h *Hasher) Write(p []byte) (int, error) {
	_, _ = h.raw.Write(p)
	if !h.text || !h.valid {
		return len(p), nil
	}
	h.checkUTF8(p)

	h.buf = h.buf[:0]
	for _, b := range p {
		if h.pendingCR {
			h.pendingCR = false
			if b != '\n' {
				h.buf = append(h.buf, '\r')
			}
		}
		if b == '\r' {
			h.pendingCR = true
			continue
		}
		h.buf = append(h.buf, b)
	}
	_, _ = h.norm.Write(h.buf)
	return len(p), nil
}

// checkUTF8 validates p as the continuation of everything written so far.
// An incomplete sequence at the end of p is carried into the next write.
func (h *Hasher) checkUTF8(p []byte) {
	data := append(h.tail, p...)
	i := 0
	for i < len(data) {
		if data[i] < utf8.RuneSelf {
			i++
			continue
		}
		if !utf8.FullRune(data[i:]) {
			break
		}
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size == 1 {
			h.valid = false
			return
		}
		i += size
	}
	h.tail = append(h.tail[:0], data[i:]...)
}

// Sum returns the lowercase hex digest.
func (h *Hasher) Sum() string {
	if !h.text || !h.valid || len(h.tail) > 0 {
		return hex.EncodeToString(h.raw.Sum(nil))
	}
	if h.pendingCR {
		h.pendingCR = false
		_, _ = h.norm.Write([]byte{'\r'})
	}
	return hex.EncodeToString(h.norm.Sum(nil))
}

// NormalizeLineEndings converts CRLF to LF. A lone CR is left alone.
func NormalizeLineEndings(data []byte) []byte {
	return bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
}

// HashBytes hashes data according to kind.
func HashBytes(data []byte, kind ContentKind) string {
	h := NewHasher(kind)
	_, _ = h.Write(data)
	return h.Sum()
}

// HashReader streams r through a Hasher and returns the digest and the
// number of raw bytes read.
func HashReader(r io.Reader, kind ContentKind) (string, int64, error) {
	h := NewHasher(kind)
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return h.Sum(), n, nil
}

// HashFile hashes the file at name on fsys.
func HashFile(fsys afero.Fs, name string, kind ContentKind) (string, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", name, err)
	}
	defer func() { _ = f.Close() }()

	sum, _, err := HashReader(f, kind)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", name, err)
	}
	return sum, nil
}

// ValidHash reports whether s is a 64 character hex sha256 digest.
func ValidHash(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// EqualHash compares digests case-insensitively.
func EqualHash(a, b string) bool {
	return strings.EqualFold(a, b)
}
