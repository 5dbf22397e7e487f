// Package credentials persists opaque token blobs per account. Callers own the
// encoding of the blob; implementations never look inside it.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/stoik/aide/internal/models"
	"github.com/stoik/aide/services/agent-service/internal/store"
)

var ErrNotFound = errors.New("credentials: not found")

type Store interface {
	Load(ctx context.Context, vendor models.ProviderType, accountID string) ([]byte, error)
	Save(ctx context.Context, vendor models.ProviderType, accountID string, blob []byte) error
	Delete(ctx context.Context, vendor models.ProviderType, accountID string) error
}

var _ Store = (*FileStore)(nil)

// FileStore keeps one 0600 file per account under Dir.
type FileStore struct {
	Dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._@-]`)

func (f *FileStore) path(vendor models.ProviderType, accountID string) string {
	return filepath.Join(f.Dir, string(vendor)+"-"+unsafeName.ReplaceAllString(accountID, "_")+".token")
}

func (f *FileStore) Load(ctx context.Context, vendor models.ProviderType, accountID string) ([]byte, error) {
	blob, err := os.ReadFile(f.path(vendor, accountID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read credential: %w", err)
	}
	return blob, nil
}

func (f *FileStore) Save(ctx context.Context, vendor models.ProviderType, accountID string, blob []byte) error {
	if err := os.MkdirAll(f.Dir, 0o700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}
	target := f.path(vendor, accountID)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return fmt.Errorf("write credential: %w", err)
	}
	return os.Rename(tmp, target)
}

func (f *FileStore) Delete(ctx context.Context, vendor models.ProviderType, accountID string) error {
	err := os.Remove(f.path(vendor, accountID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

var _ Store = (*KVStore)(nil)

// KVStore keeps credential blobs in the credentials bucket of a store.KV.
type KVStore struct {
	kv store.KV
}

func NewKVStore(kv store.KV) *KVStore {
	return &KVStore{kv: kv}
}

func kvKey(vendor models.ProviderType, accountID string) models.Key {
	return models.Key{ProviderType: vendor, AccountID: accountID, ID: "token"}
}

func (k *KVStore) Load(ctx context.Context, vendor models.ProviderType, accountID string) ([]byte, error) {
	blob, err := k.kv.Get(ctx, store.BucketCredentials, kvKey(vendor, accountID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return blob, err
}

func (k *KVStore) Save(ctx context.Context, vendor models.ProviderType, accountID string, blob []byte) error {
	return k.kv.Put(ctx, store.BucketCredentials, kvKey(vendor, accountID), blob)
}

func (k *KVStore) Delete(ctx context.Context, vendor models.ProviderType, accountID string) error {
	return k.kv.Delete(ctx, store.BucketCredentials, kvKey(vendor, accountID))
}
