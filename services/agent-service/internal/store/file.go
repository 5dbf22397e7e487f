package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/stoik/aide/internal/models"
)

var _ KV = (*File)(nil)

// File keeps one file per record under Dir/<bucket>/. It is the default for
// single-user installs without Postgres.
type File struct {
	Dir string
	mu  sync.RWMutex
}

func NewFile(dir string) *File {
	return &File{Dir: dir}
}

func (f *File) path(bucket Bucket, key models.Key) string {
	return filepath.Join(f.Dir, string(bucket), url.PathEscape(key.String())+".json")
}

func (f *File) Get(ctx context.Context, bucket Bucket, key models.Key) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, err := os.ReadFile(f.path(bucket, key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", bucket, err)
	}
	return v, nil
}

func (f *File) Put(ctx context.Context, bucket Bucket, key models.Key, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	dir := filepath.Join(f.Dir, string(bucket))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create %s dir: %w", bucket, err)
	}
	target := f.path(bucket, key)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, value, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", bucket, err)
	}
	return os.Rename(tmp, target)
}

func (f *File) Delete(ctx context.Context, bucket Bucket, key models.Key) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := os.Remove(f.path(bucket, key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", bucket, err)
	}
	return nil
}

// List returns values in file name order.
func (f *File) List(ctx context.Context, bucket Bucket) ([][]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entries, err := os.ReadDir(filepath.Join(f.Dir, string(bucket)))
	if errors.Is(err, os.ErrNotExist) {
		return [][]byte{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", bucket, err)
	}
	out := make([][]byte, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		v, err := os.ReadFile(filepath.Join(f.Dir, string(bucket), e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", bucket, err)
		}
		out = append(out, v)
	}
	return out, nil
}
