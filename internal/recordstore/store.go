// Package recordstore persists survey answers as records of flat field maps.
//
// Backends exist for Airtable, SQLite, and PostgreSQL, plus an in-memory
// store for tests. The Cached decorator layers a TTL cache over any backend.
package recordstore

import (
	"context"
	"errors"
	"strings"

	"surveyflow/internal/models"
)

// ErrRecordNotFound is returned when a record id does not resolve.
var ErrRecordNotFound = errors.New("record not found")

// Store is the record persistence interface. Fields maps are flat; values
// are scalars or arrays of attachment objects.
type Store interface {
	CreateRecord(ctx context.Context, table string, fields models.Fields) (string, error)
	GetRecord(ctx context.Context, table, id string) (models.Fields, error)
	UpdateRecord(ctx context.Context, table, id string, fields models.Fields) error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN    string
	APIKey string
	BaseID string
}

// Option configures store construction.
type Option func(*Opts)

// WithSQLiteDSN sets a SQLite file path DSN.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets a PostgreSQL connection DSN.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithAPIKey sets the Airtable API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseID sets the Airtable base id.
func WithBaseID(base string) Option {
	return func(o *Opts) { o.BaseID = base }
}

// DetectDSNType reports "postgres" for PostgreSQL-looking DSNs and "sqlite3"
// for anything else (file paths).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite3"
}
