package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/photoclub/photocore/pkg/photocore"
)

// Backend is a filesystem implementation of the photocore.BlobStore interface
type Backend struct {
	baseDir   string
	urlPrefix string
}

// Config options for the filesystem backend
type Config struct {
	BaseDir   string // Base directory for storing objects
	URLPrefix string // Public URL prefix, e.g. "https://example.com/assets"
}

// New creates a new filesystem storage backend
func New(config Config) (photocore.BlobStore, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}

	if err := os.MkdirAll(config.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Backend{
		baseDir:   config.BaseDir,
		urlPrefix: strings.TrimSuffix(config.URLPrefix, "/"),
	}, nil
}

// Get copies the object to a temporary file and returns its path. The
// stored file itself is never handed out, so callers can process and
// remove their copy freely.
func (b *Backend) Get(ctx context.Context, key string) (string, error) {
	src, err := os.Open(filepath.Join(b.baseDir, key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", b.wrap("get", key, photocore.ErrObjectNotFound)
		}
		return "", b.wrap("get", key, err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp("", "fs-object-*")
	if err != nil {
		return "", b.wrap("get", key, err)
	}
	defer tmp.Close()

	if _, err := io.Copy(tmp, src); err != nil {
		os.Remove(tmp.Name())
		return "", b.wrap("get", key, err)
	}
	return tmp.Name(), nil
}

// Put stores the file at localPath under the given key
func (b *Backend) Put(ctx context.Context, key string, localPath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return b.wrap("put", key, err)
	}
	defer src.Close()

	destPath := filepath.Join(b.baseDir, key)
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return b.wrap("put", key, err)
	}

	dest, err := os.Create(destPath)
	if err != nil {
		return b.wrap("put", key, err)
	}
	defer dest.Close()

	if _, err := io.Copy(dest, src); err != nil {
		return b.wrap("put", key, err)
	}
	return nil
}

// Delete removes the object; a missing key is a no-op
func (b *Backend) Delete(ctx context.Context, key string) error {
	err := os.Remove(filepath.Join(b.baseDir, key))
	if err != nil && !os.IsNotExist(err) {
		return b.wrap("delete", key, err)
	}
	b.cleanupEmptyDirectories(filepath.Dir(filepath.Join(b.baseDir, key)))
	return nil
}

// DeleteAll removes every object under the given key prefix
func (b *Backend) DeleteAll(ctx context.Context, prefix string) error {
	root := filepath.Join(b.baseDir, prefix)
	if err := os.RemoveAll(root); err != nil {
		return b.wrap("deleteall", prefix, err)
	}
	b.cleanupEmptyDirectories(filepath.Dir(root))
	return nil
}

// Exists reports whether an object is stored under the key
func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(filepath.Join(b.baseDir, key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, b.wrap("exists", key, err)
	}
	return true, nil
}

// PublicURL returns the public URL for a key
func (b *Backend) PublicURL(key string) string {
	if b.urlPrefix == "" {
		return "/" + strings.TrimPrefix(key, "/")
	}
	return b.urlPrefix + "/" + strings.TrimPrefix(key, "/")
}

// cleanupEmptyDirectories recursively removes empty directories up to baseDir
func (b *Backend) cleanupEmptyDirectories(dir string) {
	if dir == b.baseDir || dir == "." || dir == "/" {
		return
	}
	if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
		if os.Remove(dir) == nil {
			b.cleanupEmptyDirectories(filepath.Dir(dir))
		}
	}
}

func (b *Backend) wrap(op, key string, err error) error {
	return &photocore.StorageError{Backend: "fs", Key: key, Op: op, Err: err}
}
