// Package blob stores channel share-code assets. Channel deletion must be
// able to release these, so every asset is addressed by a name the channel
// record keeps.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/locano/channelbot/core/config"
)

// Store is the asset lifecycle surface the chat flows consume.
type Store interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
	Remove(ctx context.Context, name string) error
}

// FS keeps assets as plain files under one directory.
type FS struct {
	dir string
}

// NewFS creates the asset directory if needed.
func NewFS(cfg config.BlobConfig) (*FS, error) {
	dir := cfg.Dir
	if dir == "" {
		dir = "blobs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &FS{dir: dir}, nil
}

// Put writes the asset and returns its path.
func (f *FS) Put(_ context.Context, name string, data []byte) (string, error) {
	clean, err := f.resolve(name)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(clean, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob %s: %w", name, err)
	}
	return clean, nil
}

// Remove deletes the asset. A missing asset is not an error; release paths
// run on best-effort cleanup.
func (f *FS) Remove(_ context.Context, name string) error {
	clean, err := f.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(clean); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove blob %s: %w", name, err)
	}
	return nil
}

// resolve rejects names that would escape the asset directory.
func (f *FS) resolve(name string) (string, error) {
	if name == "" || strings.Contains(name, "..") || strings.ContainsRune(name, os.PathSeparator) {
		return "", fmt.Errorf("invalid blob name %q", name)
	}
	return filepath.Join(f.dir, name), nil
}
