package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/stoik/aide/internal/models"
)

var testKey = models.Key{ProviderType: models.ProviderMicrosoft, AccountID: "acc-1", ID: "m1"}

func TestPostgresPut(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO kv").
		WithArgs("messages", "microsoft", "acc-1", "m1", []byte(`{"id":"m1"}`)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	p := NewPostgres(db)
	if err := p.Put(context.Background(), BucketMessages, testKey, []byte(`{"id":"m1"}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT value FROM kv WHERE bucket").
		WithArgs("analyses", "microsoft", "acc-1", "m1").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`{"email_id":"m1"}`)))
	mock.ExpectQuery("SELECT value FROM kv WHERE bucket").
		WithArgs("analyses", "microsoft", "acc-1", "missing").
		WillReturnError(sql.ErrNoRows)

	s := New(NewPostgres(db))
	a, err := s.Analysis(context.Background(), testKey)
	if err != nil {
		t.Fatalf("Analysis: %v", err)
	}
	if a.EmailID != "m1" {
		t.Fatalf("unexpected analysis %+v", a)
	}

	missing := testKey
	missing.ID = "missing"
	if _, err := s.Analysis(context.Background(), missing); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresListAndDelete(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT value FROM kv WHERE bucket = \\$1 ORDER BY").
		WithArgs("accounts").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).
			AddRow([]byte(`{"id":"acc-1","provider_type":"microsoft"}`)).
			AddRow([]byte(`{"id":"acc-2","provider_type":"google"}`)))
	mock.ExpectExec("DELETE FROM kv").
		WithArgs("accounts", "google", "acc-2", "acc-2").
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := New(NewPostgres(db))
	accounts, err := s.Accounts(context.Background())
	if err != nil {
		t.Fatalf("Accounts: %v", err)
	}
	if len(accounts) != 2 || accounts[1].ProviderType != models.ProviderGoogle {
		t.Fatalf("unexpected accounts %+v", accounts)
	}
	if err := s.DeleteAccount(context.Background(), accounts[1]); err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
