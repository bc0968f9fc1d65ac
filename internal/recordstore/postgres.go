package recordstore

// PostgreSQL-backed record store, mirroring the SQLite backend with JSONB
// fields storage.

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"surveyflow/internal/models"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists records in a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to the database at the DSN and applies migrations.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgresStore connected")
	return &PostgresStore{db: db}, nil
}

// Close closes the underlying database.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// CreateRecord inserts a new record and returns its generated id.
func (s *PostgresStore) CreateRecord(ctx context.Context, table string, fields models.Fields) (string, error) {
	id := uuid.NewString()
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to encode record fields: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (id, table_name, fields, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, table, string(data), now, now)
	if err != nil {
		return "", fmt.Errorf("failed to insert record into %s: %w", table, err)
	}
	slog.Debug("PostgresStore CreateRecord succeeded", "table", table, "record_id", id)
	return id, nil
}

// GetRecord loads a record's fields.
func (s *PostgresStore) GetRecord(ctx context.Context, table, id string) (models.Fields, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT fields FROM records WHERE id = $1 AND table_name = $2`, id, table).Scan(&data)
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
func (s *PostgresStore) UpdateRecord(ctx context.Context, table, id string, fields models.Fields) error {
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
		`UPDATE records SET fields = $1, updated_at = $2 WHERE id = $3 AND table_name = $4`,
		string(data), time.Now().UTC(), id, table)
	if err != nil {
		return fmt.Errorf("failed to update record %s/%s: %w", table, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrRecordNotFound, table, id)
	}
	slog.Debug("PostgresStore UpdateRecord succeeded", "table", table, "record_id", id, "field_count", len(fields))
	return nil
}
