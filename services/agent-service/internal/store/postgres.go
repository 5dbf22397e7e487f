package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/stoik/aide/internal/models"
)

var _ KV = (*Postgres)(nil)

// Postgres implements KV on the kv table created by db.Migrate.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Get(ctx context.Context, bucket Bucket, key models.Key) ([]byte, error) {
	var value []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE bucket = $1 AND provider = $2 AND account_id = $3 AND id = $4`,
		string(bucket), string(key.ProviderType), key.AccountID, key.ID,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return value, err
}

func (p *Postgres) Put(ctx context.Context, bucket Bucket, key models.Key, value []byte) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO kv (bucket, provider, account_id, id, value, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (bucket, provider, account_id, id)
		DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		string(bucket), string(key.ProviderType), key.AccountID, key.ID, value,
	)
	return err
}

func (p *Postgres) Delete(ctx context.Context, bucket Bucket, key models.Key) error {
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM kv WHERE bucket = $1 AND provider = $2 AND account_id = $3 AND id = $4`,
		string(bucket), string(key.ProviderType), key.AccountID, key.ID,
	)
	return err
}

func (p *Postgres) List(ctx context.Context, bucket Bucket) ([][]byte, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT value FROM kv WHERE bucket = $1 ORDER BY provider, account_id, id`, string(bucket))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var value []byte
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		out = append(out, value)
	}
	return out, rows.Err()
}
