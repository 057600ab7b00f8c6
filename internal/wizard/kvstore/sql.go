package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/docflow/docflow-backend/pkg/database"
)

const schema = `CREATE TABLE IF NOT EXISTS wizard_kv (
	namespace  TEXT NOT NULL,
	name       TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (namespace, name)
)`

// SQLStore keeps values in the wizard_kv table.
// The queries run unchanged on postgres and sqlite.
type SQLStore struct {
	db  *database.DB
	now func() time.Time
}

// NewSQLStore creates a store on top of db
func NewSQLStore(db *database.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

// Migrate creates the wizard_kv table if it does not exist
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate wizard_kv: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	conn := s.db.Conn(ctx)

	var value string
	query := conn.Rebind(`SELECT value FROM wizard_kv WHERE namespace = ? AND name = ?`)
	if err := conn.GetContext(ctx, &value, query, namespace, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read %s/%s: %w", namespace, key, err)
	}
	return []byte(value), nil
}

func (s *SQLStore) Set(ctx context.Context, namespace, key string, value []byte) error {
	conn := s.db.Conn(ctx)

	query := conn.Rebind(`INSERT INTO wizard_kv (namespace, name, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (namespace, name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`)
	if _, err := conn.ExecContext(ctx, query, namespace, key, string(value), s.now().UTC()); err != nil {
		if appErr := database.MapDriverError(err); appErr != nil {
			return appErr
		}
		return fmt.Errorf("failed to write %s/%s: %w", namespace, key, err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, namespace, key string) error {
	conn := s.db.Conn(ctx)

	query := conn.Rebind(`DELETE FROM wizard_kv WHERE namespace = ? AND name = ?`)
	if _, err := conn.ExecContext(ctx, query, namespace, key); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

func (s *SQLStore) DeleteNamespace(ctx context.Context, namespace string) error {
	conn := s.db.Conn(ctx)

	query := conn.Rebind(`DELETE FROM wizard_kv WHERE namespace = ?`)
	if _, err := conn.ExecContext(ctx, query, namespace); err != nil {
		return fmt.Errorf("failed to delete namespace %s: %w", namespace, err)
	}
	return nil
}

func (s *SQLStore) Keys(ctx context.Context, namespace string) ([]string, error) {
	conn := s.db.Conn(ctx)

	var keys []string
	query := conn.Rebind(`SELECT name FROM wizard_kv WHERE namespace = ? ORDER BY name`)
	if err := conn.SelectContext(ctx, &keys, query, namespace); err != nil {
		return nil, fmt.Errorf("failed to list namespace %s: %w", namespace, err)
	}
	return keys, nil
}

// Batch runs fn in a single transaction
func (s *SQLStore) Batch(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.db.WithTx(ctx, fn)
}
