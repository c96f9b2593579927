package incidents

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const upsertKV = `INSERT INTO kv_store (namespace, key, value, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`

// PostgresKV stores record keys as rows of kv_store (see migrations/).
type PostgresKV struct {
	db        *sql.DB
	namespace string
}

func NewPostgresKV(db *sql.DB, namespace string) *PostgresKV {
	if db == nil {
		panic("incidents: database handle cannot be nil")
	}
	if namespace == "" {
		namespace = "default"
	}
	return &PostgresKV{db: db, namespace: namespace}
}

func (s *PostgresKV) Get(ctx context.Context, keys ...string) (Record, error) {
	query := "SELECT key, value FROM kv_store WHERE namespace = $1"
	args := []any{s.namespace}
	if len(keys) > 0 {
		placeholders := make([]string, len(keys))
		for i, k := range keys {
			placeholders[i] = fmt.Sprintf("$%d", i+2)
			args = append(args, k)
		}
		query += " AND key IN (" + strings.Join(placeholders, ", ") + ")"
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("incidents: postgres get: %w", err)
	}
	defer rows.Close()

	out := make(Record)
	for rows.Next() {
		var (
			key   string
			value []byte
		)
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("incidents: postgres scan: %w", err)
		}
		out[key] = json.RawMessage(value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("incidents: postgres rows: %w", err)
	}
	return out, nil
}

// Set writes all keys in one transaction.
func (s *PostgresKV) Set(ctx context.Context, rec Record) error {
	if len(rec) == 0 {
		return nil
	}
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("incidents: postgres begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, upsertKV, s.namespace, k, string(rec[k])); err != nil {
			return fmt.Errorf("incidents: postgres upsert %s: %w", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("incidents: postgres commit: %w", err)
	}
	return nil
}

func (s *PostgresKV) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv_store WHERE namespace = $1", s.namespace); err != nil {
		return fmt.Errorf("incidents: postgres clear: %w", err)
	}
	return nil
}
