package rulestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	_ "modernc.org/sqlite" // SQLite driver.

	"github.com/macropower/rulebook/pkg/errs"
	"github.com/macropower/rulebook/pkg/rule"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS metadata (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	version TEXT NOT NULL,
	created TEXT NOT NULL,
	last_modified TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS rules (
	id TEXT PRIMARY KEY,
	position INTEGER NOT NULL,
	data TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rules_position ON rules(position);
`

// SQLiteBackend stores the snapshot in a SQLite database. Each save
// rewrites the whole snapshot inside one transaction.
type SQLiteBackend struct {
	db   *sql.DB
	path string
}

// NewSQLiteBackend opens (creating if needed) the database at path.
func NewSQLiteBackend(ctx context.Context, path string) (*SQLiteBackend, error) {
	err := os.MkdirAll(filepath.Dir(path), 0o700)
	if err != nil {
		return nil, &errs.StorageError{Op: "create directory", Path: filepath.Dir(path), Err: err}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &errs.StorageError{Op: "open", Path: path, Err: err}
	}

	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	_, err = db.ExecContext(ctx, sqliteSchema)
	if err != nil {
		_ = db.Close()
		return nil, &errs.StorageError{Op: "initialize schema", Path: path, Err: err}
	}

	return &SQLiteBackend{db: db, path: path}, nil
}

func (b *SQLiteBackend) Load(ctx context.Context) (*Snapshot, error) {
	var version, created, lastModified string

	err := b.db.QueryRowContext(ctx,
		`SELECT version, created, last_modified FROM metadata WHERE id = 1`,
	).Scan(&version, &created, &lastModified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, &errs.StorageError{Op: "read metadata", Path: b.path, Err: err}
	}

	s := &Snapshot{
		Metadata: Metadata{Version: version},
		Rules:    orderedmap.New[string, *rule.Rule](),
	}

	s.Metadata.Created, err = time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return nil, &errs.StorageError{Op: "decode metadata", Path: b.path, Err: err}
	}

	s.Metadata.LastModified, err = time.Parse(time.RFC3339Nano, lastModified)
	if err != nil {
		return nil, &errs.StorageError{Op: "decode metadata", Path: b.path, Err: err}
	}

	err = b.loadRules(ctx, s)
	if err != nil {
		return nil, err
	}

	s.normalize()

	err = s.Validate()
	if err != nil {
		return nil, &errs.StorageError{Op: "decode", Path: b.path, Err: fmt.Errorf("validate snapshot: %w", err)}
	}

	return s, nil
}

func (b *SQLiteBackend) loadRules(ctx context.Context, s *Snapshot) error {
	rows, err := b.db.QueryContext(ctx, `SELECT id, data FROM rules ORDER BY position`)
	if err != nil {
		return &errs.StorageError{Op: "read rules", Path: b.path, Err: err}
	}
	defer rows.Close() //nolint:errcheck // Read-only query.

	for rows.Next() {
		var id, data string

		err := rows.Scan(&id, &data)
		if err != nil {
			return &errs.StorageError{Op: "read rules", Path: b.path, Err: err}
		}

		r := &rule.Rule{}

		err = json.Unmarshal([]byte(data), r)
		if err != nil {
			return &errs.StorageError{Op: "decode", Path: b.path, Err: fmt.Errorf("rule %s: %w", id, err)}
		}

		s.Rules.Set(id, r)
	}

	err = rows.Err()
	if err != nil {
		return &errs.StorageError{Op: "read rules", Path: b.path, Err: err}
	}

	return nil
}

func (b *SQLiteBackend) Save(ctx context.Context, s *Snapshot) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return &errs.StorageError{Op: "begin", Path: b.path, Err: err}
	}

	err = saveTx(ctx, tx, s)
	if err != nil {
		_ = tx.Rollback()
		return &errs.StorageError{Op: "write", Path: b.path, Err: err}
	}

	err = tx.Commit()
	if err != nil {
		return &errs.StorageError{Op: "commit", Path: b.path, Err: err}
	}

	return nil
}

func saveTx(ctx context.Context, tx *sql.Tx, s *Snapshot) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM rules`)
	if err != nil {
		return fmt.Errorf("clear rules: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO rules (id, position, data) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close() //nolint:errcheck // Closed with the transaction.

	pos := 0
	for pair := s.Rules.Oldest(); pair != nil; pair = pair.Next() {
		data, err := json.Marshal(pair.Value)
		if err != nil {
			return fmt.Errorf("marshal rule %s: %w", pair.Key, err)
		}

		_, err = stmt.ExecContext(ctx, pair.Key, pos, string(data))
		if err != nil {
			return fmt.Errorf("insert rule %s: %w", pair.Key, err)
		}

		pos++
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO metadata (id, version, created, last_modified) VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			version = excluded.version,
			created = excluded.created,
			last_modified = excluded.last_modified`,
		s.Metadata.Version,
		s.Metadata.Created.Format(time.RFC3339Nano),
		s.Metadata.LastModified.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}

	return nil
}

// Backup writes a consistent copy of the database to path with VACUUM INTO.
func (b *SQLiteBackend) Backup(ctx context.Context, path string) error {
	err := os.MkdirAll(filepath.Dir(path), 0o700)
	if err != nil {
		return &errs.StorageError{Op: "backup", Path: path, Err: err}
	}

	// VACUUM INTO refuses to overwrite.
	err = os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return &errs.StorageError{Op: "backup", Path: path, Err: err}
	}

	_, err = b.db.ExecContext(ctx, `VACUUM INTO ?`, path)
	if err != nil {
		return &errs.StorageError{Op: "backup", Path: path, Err: err}
	}

	return nil
}

func (b *SQLiteBackend) Location() string {
	return b.path
}

func (b *SQLiteBackend) Ext() string {
	return ".db"
}

func (b *SQLiteBackend) Close() error {
	err := b.db.Close()
	if err != nil {
		return &errs.StorageError{Op: "close", Path: b.path, Err: err}
	}

	return nil
}

func (b *SQLiteBackend) String() string {
	return fmt.Sprintf("sqlite(%s)", b.path)
}
