package recordstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"surveyflow/internal/models"
)

// InMemoryStore keeps records in a map. Used in tests and local development.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]models.Fields // key: table + "/" + id
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]models.Fields)}
}

func memKey(table, id string) string { return table + "/" + id }

// CreateRecord stores a copy of fields under a fresh uuid.
func (s *InMemoryStore) CreateRecord(ctx context.Context, table string, fields models.Fields) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.records[memKey(table, id)] = cloneFields(fields)
	return id, nil
}

// GetRecord returns a copy of the stored fields.
func (s *InMemoryStore) GetRecord(ctx context.Context, table, id string) (models.Fields, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fields, ok := s.records[memKey(table, id)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrRecordNotFound, table, id)
	}
	return cloneFields(fields), nil
}

// UpdateRecord merges the given fields into the stored record.
func (s *InMemoryStore) UpdateRecord(ctx context.Context, table, id string, fields models.Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.records[memKey(table, id)]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrRecordNotFound, table, id)
	}
	for k, v := range fields {
		stored[k] = v
	}
	return nil
}

func cloneFields(fields models.Fields) models.Fields {
	out := make(models.Fields, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
