package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS stores (
	name TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
	store TEXT NOT NULL REFERENCES stores(name) ON DELETE CASCADE,
	method TEXT NOT NULL,
	url TEXT NOT NULL,
	payload BLOB NOT NULL,
	stored_at INTEGER NOT NULL,
	PRIMARY KEY (store, method, url)
);`

// SQLiteStorage 把所有缓存库放在同一个 SQLite 文件中，库之间以 store 列区分。
type SQLiteStorage struct {
	db *sql.DB
}

type sqliteStore struct {
	db   *sql.DB
	name string
}

// NewSQLiteStorage 打开（必要时创建）path 指向的数据库文件并初始化表结构。
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path required")
	}

	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Open(ctx context.Context, name string) (Store, error) {
	if err := validateStoreName(name); err != nil {
		return nil, err
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO stores (name, created_at) VALUES (?, ?)",
		name, time.Now().UTC().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("create store %s: %w", name, err)
	}
	return &sqliteStore{db: s.db, name: name}, nil
}

func (s *SQLiteStorage) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM stores ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := validateStoreName(name); err != nil {
		return false, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE store = ?", name); err != nil {
		return false, fmt.Errorf("delete entries of %s: %w", name, err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM stores WHERE name = ?", name)
	if err != nil {
		return false, fmt.Errorf("delete store %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Close closes the underlying database.
func (s *SQLiteStorage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Name() string { return s.name }

func (s *sqliteStore) Match(ctx context.Context, key Key) (*Response, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT payload FROM entries WHERE store = ? AND method = ? AND url = ?",
		s.name, key.Method, key.URL).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	_, resp, err := decodeEntry(payload)
	return resp, err
}

func (s *sqliteStore) Put(ctx context.Context, key Key, resp *Response) error {
	payload, err := encodeEntry(key, resp)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO entries (store, method, url, payload, stored_at)
		VALUES (?, ?, ?, ?, ?)`,
		s.name, key.Method, key.URL, payload, time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("put %s into %s: %w", key, s.name, err)
	}
	return nil
}

func (s *sqliteStore) Keys(ctx context.Context) ([]Key, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT method, url FROM entries WHERE store = ? ORDER BY method || ' ' || url", s.name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []Key
	for rows.Next() {
		var key Key
		if err := rows.Scan(&key.Method, &key.URL); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
