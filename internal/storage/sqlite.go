package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/naka-gawa/traffic-archive/internal/domain"
)

const sqliteFileName = "traffic.db"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS repositories (
	name       TEXT PRIMARY KEY,
	record     TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS runs (
	id     INTEGER PRIMARY KEY CHECK (id = 1),
	record TEXT NOT NULL
);`

// errReadOnly is returned by writes on a store opened read-only.
var errReadOnly = errors.New("store is opened read-only")

// SQLiteStore keeps the same JSON documents as FileStore in a single SQLite database.
// A read-only store over a database that does not exist yet has no db and behaves as empty.
type SQLiteStore struct {
	db       *sql.DB
	readOnly bool
}

// OpenSQLite opens the database at path. ":memory:" is accepted for tests.
//
// Unless readOnly is set, the directory, the database and its schema are
// created as needed. A read-only open never creates the database, the
// schema or the directory and leaves the journal mode alone; a missing
// database reads as empty.
func OpenSQLite(path string, readOnly bool) (*SQLiteStore, error) {
	if readOnly {
		return openSQLiteReadOnly(path)
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; also keeps an in-memory database on a single connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 10000", "PRAGMA synchronous = NORMAL"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func openSQLiteReadOnly(path string) (*SQLiteStore, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return &SQLiteStore{readOnly: true}, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat database: %w", err)
	}
	dsn := "file:" + path + "?mode=ro&_pragma=query_only(1)&_pragma=busy_timeout(10000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &SQLiteStore{db: db, readOnly: true}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, repo string) (*domain.RepositoryRecord, error) {
	if s.db == nil {
		return nil, ErrNotFound
	}
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM repositories WHERE name = ?`, repo).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, persistenceError(repo, "failed to read record", err)
	}
	record, err := decodeRecord([]byte(data))
	if err != nil {
		return nil, persistenceError(repo, "failed to decode record", err)
	}
	return record, nil
}

func (s *SQLiteStore) Save(ctx context.Context, record *domain.RepositoryRecord) error {
	if err := validRepoName(record.Repo); err != nil {
		return persistenceError(record.Repo, "save", err)
	}
	if s.readOnly {
		return persistenceError(record.Repo, "save", errReadOnly)
	}
	data, err := encode(record)
	if err != nil {
		return persistenceError(record.Repo, "failed to encode record", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO repositories (name, record, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at`,
		record.Repo, string(data), record.LastUpdated.UTC().Format(time.RFC3339))
	if err != nil {
		return persistenceError(record.Repo, "failed to write record", err)
	}
	return nil
}

func (s *SQLiteStore) LoadAll(ctx context.Context) ([]*domain.RepositoryRecord, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT name, record FROM repositories ORDER BY name`)
	if err != nil {
		return nil, persistenceError("", "failed to list records", err)
	}
	defer rows.Close()

	var records []*domain.RepositoryRecord
	for rows.Next() {
		var name, data string
		if err := rows.Scan(&name, &data); err != nil {
			return nil, persistenceError("", "failed to scan record", err)
		}
		record, err := decodeRecord([]byte(data))
		if err != nil {
			return nil, persistenceError(name, "failed to decode record", err)
		}
		if record.Repo == "" {
			record.Repo = name
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("", "failed to list records", err)
	}
	return records, nil
}

func (s *SQLiteStore) LoadRun(ctx context.Context) (*domain.RunMetadata, error) {
	if s.db == nil {
		return nil, ErrNotFound
	}
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM runs WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, persistenceError("", "failed to read run metadata", err)
	}
	var run domain.RunMetadata
	if err := json.Unmarshal([]byte(data), &run); err != nil {
		return nil, persistenceError("", "failed to decode run metadata", err)
	}
	return &run, nil
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run *domain.RunMetadata) error {
	if s.readOnly {
		return persistenceError("", "save run metadata", errReadOnly)
	}
	data, err := encode(run)
	if err != nil {
		return persistenceError("", "failed to encode run metadata", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, record) VALUES (1, ?) ON CONFLICT(id) DO UPDATE SET record = excluded.record`,
		string(data))
	if err != nil {
		return persistenceError("", "failed to write run metadata", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
