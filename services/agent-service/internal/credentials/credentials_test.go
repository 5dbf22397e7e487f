package credentials

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stoik/aide/internal/models"
	"github.com/stoik/aide/services/agent-service/internal/store"
)

func TestStores(t *testing.T) {
	impls := map[string]Store{
		"file": NewFileStore(t.TempDir()),
		"kv":   NewKVStore(store.NewMemory()),
	}
	for name, s := range impls {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := s.Load(ctx, models.ProviderGoogle, "acc/1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if err := s.Save(ctx, models.ProviderGoogle, "acc/1", []byte("blob")); err != nil {
				t.Fatalf("Save: %v", err)
			}
			got, err := s.Load(ctx, models.ProviderGoogle, "acc/1")
			if err != nil || string(got) != "blob" {
				t.Fatalf("Load = %q, %v", got, err)
			}
			if _, err := s.Load(ctx, models.ProviderMicrosoft, "acc/1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("vendors must not share blobs, got %v", err)
			}
			if err := s.Delete(ctx, models.ProviderGoogle, "acc/1"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if err := s.Delete(ctx, models.ProviderGoogle, "acc/1"); err != nil {
				t.Fatalf("second Delete: %v", err)
			}
			if _, err := s.Load(ctx, models.ProviderGoogle, "acc/1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound after delete, got %v", err)
			}
		})
	}
}

func TestFileStorePermissions(t *testing.T) {
	s := NewFileStore(t.TempDir())
	if err := s.Save(context.Background(), models.ProviderMicrosoft, "acc-1", []byte("x")); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(s.path(models.ProviderMicrosoft, "acc-1"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("perm = %o, want 600", perm)
	}
}
