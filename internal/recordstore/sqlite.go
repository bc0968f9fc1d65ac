package recordstore

// SQLite-backed record store. Fields are stored as a JSON column keyed by a
// generated uuid, so arbitrary survey schemas need no migrations.

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"surveyflow/internal/models"
)

// DefaultDirPermissions is used when creating the database directory.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists records in a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at the DSN path and
// applies migrations.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(cfg.DSN)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("sqlite ping failed: %w", err)
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLiteStore opened", "path", cfg.DSN)
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateRecord inserts a new record and returns its generated id.
func (s *SQLiteStore) CreateRecord(ctx context.Context, table string, fields models.Fields) (string, error) {
	id := uuid.NewString()
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to encode record fields: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (id, table_name, fields, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, table, string(data), now, now)
	if err != nil {
		return "", fmt.Errorf("failed to insert record into %s: %w", table, err)
	}
	slog.Debug("SQLiteStore CreateRecord succeeded", "table", table, "record_id", id)
	return id, nil
}

// GetRecord loads a record's fields.
func (s *SQLiteStore) GetRecord(ctx context.Context, table, id string) (models.Fields, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT fields FROM records WHERE id = ? AND table_name = ?`, id, table).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s/%s", ErrRecordNotFound, table, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query record %s/%s: %w", table, id, err)
	}
	var fields models.Fields
	if err := json.Unmarshal([]byte(data), &fields); err != nil {
		return nil, fmt.Errorf("failed to decode record fields: %w", err)
	}
	return fields, nil
}

// UpdateRecord merges the given fields into the stored record.
func (s *SQLiteStore) UpdateRecord(ctx context.Context, table, id string, fields models.Fields) error {
	stored, err := s.GetRecord(ctx, table, id)
	if err != nil {
		return err
	}
	for k, v := range fields {
		stored[k] = v
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to encode record fields: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE records SET fields = ?, updated_at = ? WHERE id = ? AND table_name = ?`,
		string(data), time.Now().UTC(), id, table)
	if err != nil {
		return fmt.Errorf("failed to update record %s/%s: %w", table, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrRecordNotFound, table, id)
	}
	slog.Debug("SQLiteStore UpdateRecord succeeded", "table", table, "record_id", id, "field_count", len(fields))
	return nil
}
