// Package remote reads published content from the repository a client
// updates from. Two backends are provided: a raw-content HTTP host (the
// default, e.g. raw.githubusercontent.com) and an S3 bucket.
package remote

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// ErrNotFound is returned (wrapped) when the requested object does not exist.
var ErrNotFound = errors.New("object not found")

// Request describes a single object read.
type Request struct {
	// Path is the repository-relative path using forward slashes.
	Path string
	// NoCache asks the backend to bypass intermediate caches.
	NoCache bool
	// Timeout bounds the whole read, body included. Zero means no limit
	// beyond the caller's context.
	Timeout time.Duration
}

// Object is an open remote object. Callers must close Body.
type Object struct {
	Body io.ReadCloser
	// Size is the advertised length in bytes, or -1 when unknown.
	Size int64
}

// Source opens objects from the remote repository.
type Source interface {
	Open(ctx context.Context, req Request) (*Object, error)
}

// ReadAll opens req and returns the full body.
func ReadAll(ctx context.Context, src Source, req Request) ([]byte, error) {
	obj, err := src.Open(ctx, req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = obj.Body.Close() }()
	return io.ReadAll(obj.Body)
}

// cleanPath strips leading slashes and converts separators so paths built on
// Windows address the same object.
func cleanPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	return strings.TrimLeft(p, "/")
}

// cancelOnClose releases the per-request timeout once the body is consumed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
