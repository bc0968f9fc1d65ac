package recordstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"surveyflow/internal/models"
)

// AirtableStore persists records through the Airtable REST API. Tables map
// to Airtable tables inside one base.
type AirtableStore struct {
	baseURL    string
	apiKey     string
	baseID     string
	httpClient *http.Client
}

// AirtableOption configures the Airtable store.
type AirtableOption func(*AirtableStore)

// WithAirtableBaseURL overrides the API base URL. Used by tests.
func WithAirtableBaseURL(base string) AirtableOption {
	return func(a *AirtableStore) {
		if base != "" {
			a.baseURL = base
		}
	}
}

// WithAirtableHTTPClient overrides the HTTP client. Used by tests.
func WithAirtableHTTPClient(c *http.Client) AirtableOption {
	return func(a *AirtableStore) { a.httpClient = c }
}

// NewAirtableStore creates a store for one Airtable base.
func NewAirtableStore(apiKey, baseID string, opts ...AirtableOption) (*AirtableStore, error) {
	if apiKey == "" || baseID == "" {
		return nil, fmt.Errorf("airtable API key and base id must be provided")
	}
	a := &AirtableStore{
		baseURL:    "https://api.airtable.com/v0",
		apiKey:     apiKey,
		baseID:     baseID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

type airtableRecord struct {
	ID     string        `json:"id,omitempty"`
	Fields models.Fields `json:"fields"`
}

func (a *AirtableStore) recordURL(table, id string) string {
	u := fmt.Sprintf("%s/%s/%s", a.baseURL, a.baseID, url.PathEscape(table))
	if id != "" {
		u += "/" + url.PathEscape(id)
	}
	return u
}

func (a *AirtableStore) do(ctx context.Context, method, url string, payload any) (*airtableRecord, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode airtable payload: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build airtable request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("airtable request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrRecordNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("airtable returned status %d: %s", resp.StatusCode, detail)
	}
	var rec airtableRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode airtable response: %w", err)
	}
	return &rec, nil
}

// CreateRecord creates a record and returns the Airtable record id.
func (a *AirtableStore) CreateRecord(ctx context.Context, table string, fields models.Fields) (string, error) {
	rec, err := a.do(ctx, http.MethodPost, a.recordURL(table, ""), airtableRecord{Fields: fields})
	if err != nil {
		return "", fmt.Errorf("failed to create record in %s: %w", table, err)
	}
	slog.Debug("AirtableStore CreateRecord succeeded", "table", table, "record_id", rec.ID)
	return rec.ID, nil
}

// GetRecord fetches a record's fields.
func (a *AirtableStore) GetRecord(ctx context.Context, table, id string) (models.Fields, error) {
	rec, err := a.do(ctx, http.MethodGet, a.recordURL(table, id), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s/%s: %w", table, id, err)
	}
	return rec.Fields, nil
}

// UpdateRecord patches the given fields onto a record. PATCH semantics merge
// at the field level on the Airtable side; array values replace wholesale.
func (a *AirtableStore) UpdateRecord(ctx context.Context, table, id string, fields models.Fields) error {
	if _, err := a.do(ctx, http.MethodPatch, a.recordURL(table, id), airtableRecord{Fields: fields}); err != nil {
		return fmt.Errorf("failed to update record %s/%s: %w", table, id, err)
	}
	slog.Debug("AirtableStore UpdateRecord succeeded", "table", table, "record_id", id, "field_count", len(fields))
	return nil
}
