package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stoik/aide/internal/models"
)

func TestStoreRoundTripsRecordsPerAccount(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemory())

	msg := models.Message{ID: "m1", Subject: "Budget", ProviderType: models.ProviderGoogle, AccountID: "acc-1", AccountEmail: "a@x.com"}
	other := msg
	other.AccountID = "acc-2"
	other.Subject = "Other account"

	if err := s.SaveMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveMessage(ctx, other); err != nil {
		t.Fatal(err)
	}

	got, err := s.Message(ctx, msg.Key())
	if err != nil {
		t.Fatal(err)
	}
	if got.Subject != "Budget" || got.AccountID != "acc-1" || got.ProviderType != models.ProviderGoogle {
		t.Fatalf("unexpected message %+v", got)
	}

	deadline := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	a := models.EmailAnalysis{EmailID: "m1", PriorityLevel: models.PriorityHigh, Deadline: &deadline}
	if err := s.SaveAnalysis(ctx, msg.Key(), a); err != nil {
		t.Fatal(err)
	}
	gotA, err := s.Analysis(ctx, msg.Key())
	if err != nil {
		t.Fatal(err)
	}
	if gotA.PriorityLevel != models.PriorityHigh || gotA.Deadline == nil || !gotA.Deadline.Equal(deadline) {
		t.Fatalf("unexpected analysis %+v", gotA)
	}
	if _, err := s.Analysis(ctx, other.Key()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other account, got %v", err)
	}
}

func TestStoreAccounts(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemory())

	a := models.Account{ID: "acc-1", ProviderType: models.ProviderMicrosoft, Email: "me@contoso.com"}
	b := models.Account{ID: "acc-2", ProviderType: models.ProviderGoogle, Email: "me@gmail.com"}
	for _, acct := range []models.Account{a, b} {
		if err := s.SaveAccount(ctx, acct); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.Accounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d accounts", len(got))
	}

	if err := s.DeleteAccount(ctx, a); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Accounts(ctx)
	if len(got) != 1 || got[0].ID != "acc-2" {
		t.Fatalf("unexpected accounts after delete %+v", got)
	}
}

func TestStoreEmbedding(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemory())
	key := models.Key{ProviderType: models.ProviderMicrosoft, AccountID: "acc-1", ID: "note-1"}

	if err := s.SaveEmbedding(ctx, key, []float32{0.5, 0.25}); err != nil {
		t.Fatal(err)
	}
	vec, err := s.Embedding(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 2 || vec[0] != 0.5 {
		t.Fatalf("unexpected vector %v", vec)
	}
}

func TestFileKVSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	acct := models.Account{ID: "acc/1", ProviderType: models.ProviderGoogle, Email: "me@gmail.com"}
	if err := New(NewFile(dir)).SaveAccount(ctx, acct); err != nil {
		t.Fatal(err)
	}

	s := New(NewFile(dir))
	got, err := s.Accounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "acc/1" {
		t.Fatalf("unexpected accounts %+v", got)
	}

	key := models.Key{ProviderType: models.ProviderGoogle, AccountID: "acc/1", ID: "m1"}
	if _, err := s.Analysis(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteAccount(ctx, acct); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.Accounts(ctx); len(got) != 0 {
		t.Fatalf("account not deleted: %+v", got)
	}
	if err := s.DeleteAccount(ctx, acct); err != nil {
		t.Fatalf("deleting a missing record: %v", err)
	}
}
