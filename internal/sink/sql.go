package sink

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"sheet-etl/internal/record"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// SQLStore keeps every table in a single records table, fields stored as
// tagged JSON.
type SQLStore struct {
	db *sql.DB
}

func driverFor(dsn string) string {
	for _, prefix := range []string{"libsql://", "http://", "https://", "ws://", "wss://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "libsql"
		}
	}
	return "sqlite"
}

// OpenSQL opens a local SQLite file (or ":memory:") with modernc.org/sqlite,
// or a remote libsql database for libsql:// and http(s):// DSNs.
func OpenSQL(ctx context.Context, dsn string) (*SQLStore, error) {
	driver := driverFor(dsn)
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}
	if driver == "sqlite" {
		// a second connection to ":memory:" would see an empty database
		db.SetMaxOpenConns(1)
		if dsn != ":memory:" {
			if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
				db.Close()
				return nil, fmt.Errorf("enable WAL: %w", err)
			}
		}
	}
	store, err := NewSQLStore(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	logrus.Infof("opened %s store", driver)
	return store, nil
}

// NewSQLStore wraps an open database, creating the schema if needed.
func NewSQLStore(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) Select(ctx context.Context, q Query) ([]record.Destination, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, fields FROM records WHERE tbl = ? ORDER BY created_at, rowid", q.Table)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", q.Table, err)
	}
	defer rows.Close()

	var out []record.Destination
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", q.Table, err)
		}
		fields, err := decodeFields(raw)
		if err != nil {
			return nil, fmt.Errorf("%s/%s: %w", q.Table, id, err)
		}
		if p, ok := project(q, record.Destination{ID: id, Fields: fields}); ok {
			out = append(out, p)
		}
	}
	return out, rows.Err()
}

func (s *SQLStore) Create(ctx context.Context, table string, batch []record.Fields) ([]string, error) {
	if err := checkBatch(len(batch)); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(batch))
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UnixNano()
		for _, f := range batch {
			raw, err := json.Marshal(compact(f))
			if err != nil {
				return err
			}
			id := "rec" + strings.ReplaceAll(uuid.NewString(), "-", "")
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO records (id, tbl, fields, created_at) VALUES (?, ?, ?, ?)",
				id, table, string(raw), now); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create in %s: %w", table, err)
	}
	return ids, nil
}

func (s *SQLStore) Update(ctx context.Context, table string, batch []record.Update) error {
	if err := checkBatch(len(batch)); err != nil {
		return err
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, u := range batch {
			var raw string
			err := tx.QueryRowContext(ctx,
				"SELECT fields FROM records WHERE id = ? AND tbl = ?", u.ID, table).Scan(&raw)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%s: %w", u.ID, ErrNotFound)
			}
			if err != nil {
				return err
			}
			fields, err := decodeFields(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", u.ID, err)
			}
			merge(fields, u.Fields)
			updated, err := json.Marshal(fields)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				"UPDATE records SET fields = ? WHERE id = ?", string(updated), u.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update in %s: %w", table, err)
	}
	return nil
}

func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func decodeFields(raw string) (record.Fields, error) {
	fields := record.Fields{}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return fields, nil
}
