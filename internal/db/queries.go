package db

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/hpungsan/skim/internal/errors"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// GetValues returns the stored values for keys. Missing keys are absent from the map.
func GetValues(ctx context.Context, db *sql.DB, keys []string) (map[string][]byte, error) {
	values, err := readValues(ctx, db, keys)
	if err != nil {
		return nil, errors.NewStore("get", err)
	}
	return values, nil
}

// GetAll returns every stored key and value.
func GetAll(ctx context.Context, db *sql.DB) (map[string][]byte, error) {
	rows, err := db.QueryContext(ctx, `SELECT key, value FROM kv`)
	if err != nil {
		return nil, errors.NewStore("get", err)
	}
	values, err := scanValues(rows)
	if err != nil {
		return nil, errors.NewStore("get", err)
	}
	return values, nil
}

// PutValues writes all values in one transaction and returns the previous values of those keys.
func PutValues(ctx context.Context, db *sql.DB, values map[string][]byte) (map[string][]byte, error) {
	if len(values) == 0 {
		return map[string][]byte{}, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.NewStore("set", err)
	}
	defer tx.Rollback() //nolint:errcheck

	old, err := readValues(ctx, tx, keysOf(values))
	if err != nil {
		return nil, errors.NewStore("set", err)
	}

	now := time.Now().Unix()
	query := `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	for key, value := range values {
		if _, err := tx.ExecContext(ctx, query, key, string(value), now); err != nil {
			return nil, errors.NewStore("set", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.NewStore("set", err)
	}
	return old, nil
}

// DeleteValues removes keys in one transaction and returns the values they held.
func DeleteValues(ctx context.Context, db *sql.DB, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return map[string][]byte{}, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.NewStore("remove", err)
	}
	defer tx.Rollback() //nolint:errcheck

	old, err := readValues(ctx, tx, keys)
	if err != nil {
		return nil, errors.NewStore("remove", err)
	}

	query := `DELETE FROM kv WHERE key IN (` + placeholders(len(keys)) + `)`
	if _, err := tx.ExecContext(ctx, query, toArgs(keys)...); err != nil {
		return nil, errors.NewStore("remove", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.NewStore("remove", err)
	}
	return old, nil
}

// readValues selects the given keys using q.
func readValues(ctx context.Context, q querier, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return map[string][]byte{}, nil
	}
	query := `SELECT key, value FROM kv WHERE key IN (` + placeholders(len(keys)) + `)`
	rows, err := q.QueryContext(ctx, query, toArgs(keys)...)
	if err != nil {
		return nil, err
	}
	return scanValues(rows)
}

// scanValues drains rows of (key, value) into a map and closes them.
func scanValues(rows *sql.Rows) (map[string][]byte, error) {
	defer rows.Close()

	values := make(map[string][]byte)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		values[key] = []byte(value)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(keys []string) []any {
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	return args
}

func keysOf(values map[string][]byte) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	return keys
}
