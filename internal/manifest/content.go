package manifest

import (
	"path"
	"strings"
)

// ContentKind decides how a file is hashed.
type ContentKind string

const (
	// KindBinary files are hashed byte for byte.
	KindBinary ContentKind = "binary"
	// KindText files are hashed after line endings are normalised to LF.
	KindText ContentKind = "text"
)

// DefaultTextExtensions lists the extensions treated as text when a record
// carries no explicit kind.
var DefaultTextExtensions = []string{".py"}

// Classifier resolves the content kind of a file.
type Classifier struct {
	text map[string]struct{}
}

// NewClassifier treats files with the given extensions as text. A nil slice
// selects DefaultTextExtensions.
func NewClassifier(textExtensions []string) *Classifier {
	if textExtensions == nil {
		textExtensions = DefaultTextExtensions
	}
	c := &Classifier{text: make(map[string]struct{}, len(textExtensions))}
	for _, ext := range textExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.text[ext] = struct{}{}
	}
	return c
}

// Kind returns rec.Kind when set, otherwise classifies by extension.
func (c *Classifier) Kind(p string, rec FileRecord) ContentKind {
	switch rec.Kind {
	case KindText, KindBinary:
		return rec.Kind
	}
	return c.KindOf(p)
}

// KindOf classifies by extension only.
func (c *Classifier) KindOf(p string) ContentKind {
	if c == nil {
		return KindBinary
	}
	ext := strings.ToLower(path.Ext(strings.ReplaceAll(p, "\\", "/")))
	if _, ok := c.text[ext]; ok {
		return KindText
	}
	return KindBinary
}
