package geocache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/airport-bench/internal/types"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists cache entries in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS geo_cache (
		key TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (*types.GeoInfo, bool) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM geo_cache WHERE key = ?", key).Scan(&data)
	if err != nil {
		return nil, false
	}

	var info types.GeoInfo
	if err := json.Unmarshal([]byte(data), &info); err != nil {
		return nil, false
	}
	return &info, true
}

func (s *SQLiteStore) Put(ctx context.Context, key string, info *types.GeoInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO geo_cache (key, data, updated_at) VALUES (?, ?, ?) "+
			"ON CONFLICT(key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at",
		key, string(data), time.Now())
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
