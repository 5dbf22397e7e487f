// Package store persists raw messages, analyses, note embeddings, accounts and
// credential blobs behind a get/put surface keyed by (provider, account, id).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stoik/aide/internal/models"
)

var ErrNotFound = errors.New("store: not found")

type Bucket string

const (
	BucketMessages    Bucket = "messages"
	BucketAnalyses    Bucket = "analyses"
	BucketEmbeddings  Bucket = "embeddings"
	BucketAccounts    Bucket = "accounts"
	BucketCredentials Bucket = "credentials"
)

// KV is the raw persistence surface. Implementations must be safe for concurrent use.
type KV interface {
	Get(ctx context.Context, bucket Bucket, key models.Key) ([]byte, error)
	Put(ctx context.Context, bucket Bucket, key models.Key, value []byte) error
	Delete(ctx context.Context, bucket Bucket, key models.Key) error
	List(ctx context.Context, bucket Bucket) ([][]byte, error)
}

// Store layers typed JSON records over a KV.
type Store struct {
	kv KV
}

func New(kv KV) *Store {
	return &Store{kv: kv}
}

// KV exposes the underlying surface, for the credential blob store.
func (s *Store) KV() KV { return s.kv }

func (s *Store) SaveMessage(ctx context.Context, msg models.Message) error {
	return s.putJSON(ctx, BucketMessages, msg.Key(), msg)
}

func (s *Store) Message(ctx context.Context, key models.Key) (models.Message, error) {
	var msg models.Message
	err := s.getJSON(ctx, BucketMessages, key, &msg)
	return msg, err
}

// SaveAnalysis replaces any previous analysis for the message.
func (s *Store) SaveAnalysis(ctx context.Context, key models.Key, a models.EmailAnalysis) error {
	return s.putJSON(ctx, BucketAnalyses, key, a)
}

func (s *Store) Analysis(ctx context.Context, key models.Key) (models.EmailAnalysis, error) {
	var a models.EmailAnalysis
	err := s.getJSON(ctx, BucketAnalyses, key, &a)
	return a, err
}

func (s *Store) SaveEmbedding(ctx context.Context, key models.Key, vec []float32) error {
	return s.putJSON(ctx, BucketEmbeddings, key, vec)
}

func (s *Store) Embedding(ctx context.Context, key models.Key) ([]float32, error) {
	var vec []float32
	err := s.getJSON(ctx, BucketEmbeddings, key, &vec)
	return vec, err
}

func accountKey(a models.Account) models.Key {
	return models.Key{ProviderType: a.ProviderType, AccountID: a.ID, ID: a.ID}
}

func (s *Store) SaveAccount(ctx context.Context, a models.Account) error {
	return s.putJSON(ctx, BucketAccounts, accountKey(a), a)
}

func (s *Store) DeleteAccount(ctx context.Context, a models.Account) error {
	return s.kv.Delete(ctx, BucketAccounts, accountKey(a))
}

func (s *Store) Accounts(ctx context.Context) ([]models.Account, error) {
	raws, err := s.kv.List(ctx, BucketAccounts)
	if err != nil {
		return nil, err
	}
	accounts := make([]models.Account, 0, len(raws))
	for _, raw := range raws {
		var a models.Account
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("decode account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, nil
}

func (s *Store) putJSON(ctx context.Context, bucket Bucket, key models.Key, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", bucket, err)
	}
	return s.kv.Put(ctx, bucket, key, raw)
}

func (s *Store) getJSON(ctx context.Context, bucket Bucket, key models.Key, v any) error {
	raw, err := s.kv.Get(ctx, bucket, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", bucket, err)
	}
	return nil
}
