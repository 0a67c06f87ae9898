package docstore

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

// PostgresBackend keeps every document as a jsonb row of the documents table
// created by db.AutoMigrate.
type PostgresBackend struct {
	db *sql.DB
}

func NewPostgresBackend(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

func (b *PostgresBackend) Load(ctx context.Context, collection, key string) (*Document, error) {
	var (
		version int64
		body    []byte
	)
	query := "SELECT version, body FROM documents WHERE collection = $1 AND key = $2"
	err := b.db.QueryRowContext(ctx, query, collection, key).Scan(&version, &body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "docstore.postgres.Load")
	}
	return decodeBody(collection, key, version, body)
}

func (b *PostgresBackend) Commit(ctx context.Context, doc *Document, expected int64) error {
	body, err := doc.body()
	if err != nil {
		return err
	}

	var res sql.Result
	if expected == 0 {
		query := `INSERT INTO documents (collection, key, version, body)
            VALUES ($1, $2, $3, $4::jsonb)
            ON CONFLICT (collection, key) DO NOTHING`
		res, err = b.db.ExecContext(ctx, query, doc.Collection, doc.Key, doc.Version, string(body))
	} else {
		query := `UPDATE documents SET version = $3, body = $4::jsonb, updated_at = now()
            WHERE collection = $1 AND key = $2 AND version = $5`
		res, err = b.db.ExecContext(ctx, query, doc.Collection, doc.Key, doc.Version, string(body), expected)
	}
	if err != nil {
		return errors.Wrap(err, "docstore.postgres.Commit")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "docstore.postgres.Commit.RowsAffected")
	}
	if n == 0 {
		return ErrVersionConflict
	}
	return nil
}

// Close is a no-op; the *sql.DB belongs to db.Database.
func (b *PostgresBackend) Close() error { return nil }
