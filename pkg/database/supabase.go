package database

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SupabaseStore talks to the documents table through the PostgREST API.
// Subscriptions poll, since Supabase realtime needs a websocket client of its own.
type SupabaseStore struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	pollEvery  time.Duration
}

type documentRow struct {
	Collection string          `json:"collection,omitempty"`
	ID         string          `json:"id,omitempty"`
	Data       json.RawMessage `json:"data"`
	UpdatedAt  string          `json:"updated_at,omitempty"`
}

const maxUpdateAttempts = 5

func NewSupabaseStore(baseURL, key string, pollEvery time.Duration) *SupabaseStore {
	if !strings.HasPrefix(baseURL, "http") {
		baseURL = "https://" + baseURL
	}
	if pollEvery <= 0 {
		pollEvery = 2 * time.Second
	}
	return &SupabaseStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     key,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		pollEvery:  pollEvery,
	}
}

// makeRequest sends a request to /rest/v1 and returns the response body
func (s *SupabaseStore) makeRequest(ctx context.Context, method, endpoint string, query url.Values, body interface{}, prefer string) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	u := s.baseURL + "/rest/v1" + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if prefer == "" {
		prefer = "return=representation"
	}
	req.Header.Set("Prefer", prefer)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

func keyQuery(collection, id string) url.Values {
	q := url.Values{}
	q.Set("collection", "eq."+collection)
	q.Set("id", "eq."+id)
	return q
}

func (s *SupabaseStore) getRow(ctx context.Context, collection, id string) (*documentRow, error) {
	q := keyQuery(collection, id)
	q.Set("select", "data,updated_at")
	data, err := s.makeRequest(ctx, http.MethodGet, "/documents", q, nil, "")
	if err != nil {
		return nil, err
	}
	var rows []documentRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

func (s *SupabaseStore) Get(ctx context.Context, collection, id string) (Document, error) {
	row, err := s.getRow(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	return unmarshalDocument(row.Data)
}

func (s *SupabaseStore) Set(ctx context.Context, collection, id string, doc Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	q := url.Values{}
	q.Set("on_conflict", "collection,id")
	row := documentRow{Collection: collection, ID: id, Data: raw, UpdatedAt: Timestamp(time.Now())}
	_, err = s.makeRequest(ctx, http.MethodPost, "/documents", q, row, "resolution=merge-duplicates,return=minimal")
	return err
}

// Update is a compare-and-swap on updated_at, retried when another writer wins.
func (s *SupabaseStore) Update(ctx context.Context, collection, id string, patch Patch) error {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		row, err := s.getRow(ctx, collection, id)
		if err != nil {
			return err
		}
		current, err := unmarshalDocument(row.Data)
		if err != nil {
			return err
		}
		now := time.Now()
		next, err := applyPatch(current, patch, now)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(next)
		if err != nil {
			return err
		}

		q := keyQuery(collection, id)
		q.Set("updated_at", "eq."+row.UpdatedAt)
		data, err := s.makeRequest(ctx, http.MethodPatch, "/documents", q,
			documentRow{Data: raw, UpdatedAt: Timestamp(now)}, "")
		if err != nil {
			return err
		}
		var updated []documentRow
		if err := json.Unmarshal(data, &updated); err != nil {
			return fmt.Errorf("decode rows: %w", err)
		}
		if len(updated) > 0 {
			return nil
		}
		slog.Debug("supabase update lost race, retrying", "collection", collection, "id", id, "attempt", attempt+1)
	}
	return fmt.Errorf("update %s/%s: too many concurrent writers", collection, id)
}

func (s *SupabaseStore) Delete(ctx context.Context, collection, id string) error {
	_, err := s.makeRequest(ctx, http.MethodDelete, "/documents", keyQuery(collection, id), nil, "return=minimal")
	return err
}

// Query maps both filter ops onto JSONB containment.
func (s *SupabaseStore) Query(ctx context.Context, collection string, filters ...Filter) ([]Snapshot, error) {
	q := url.Values{}
	q.Set("collection", "eq."+collection)
	q.Set("select", "id,data")
	q.Set("order", "id.asc")
	for _, f := range filters {
		var operand interface{}
		switch f.Op {
		case OpEqual:
			operand = map[string]interface{}{f.Field: f.Value}
		case OpArrayContains:
			operand = map[string]interface{}{f.Field: []interface{}{f.Value}}
		default:
			return nil, fmt.Errorf("unsupported filter op %q", f.Op)
		}
		raw, err := json.Marshal(operand)
		if err != nil {
			return nil, err
		}
		q.Add("data", "cs."+string(raw))
	}

	data, err := s.makeRequest(ctx, http.MethodGet, "/documents", q, nil, "")
	if err != nil {
		return nil, err
	}
	var rows []documentRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode rows: %w", err)
	}
	out := make([]Snapshot, 0, len(rows))
	for _, row := range rows {
		doc, err := unmarshalDocument(row.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, Snapshot{ID: row.ID, Data: doc})
	}
	return out, nil
}

// Subscribe polls the document and reports when its body changes.
func (s *SupabaseStore) Subscribe(ctx context.Context, collection, id string, fn ChangeFunc) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)

	var last []byte
	lastExists := false
	poll := func(first bool) {
		row, err := s.getRow(ctx, collection, id)
		switch {
		case errors.Is(err, ErrNotFound):
			if first || lastExists {
				lastExists = false
				last = nil
				fn(nil, false)
			}
		case err != nil:
			if ctx.Err() == nil {
				slog.Warn("supabase subscription poll failed", "collection", collection, "id", id, "error", err)
			}
		default:
			if !first && lastExists && bytes.Equal(last, row.Data) {
				return
			}
			doc, err := unmarshalDocument(row.Data)
			if err != nil {
				slog.Warn("supabase subscription decode failed", "error", err)
				return
			}
			last, lastExists = row.Data, true
			fn(doc, true)
		}
	}

	poll(true)
	go func() {
		ticker := time.NewTicker(s.pollEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				poll(false)
			}
		}
	}()
	return cancel, nil
}

func (s *SupabaseStore) NewID() string {
	return uuid.New().String()
}

func (s *SupabaseStore) HealthCheck(ctx context.Context) error {
	q := url.Values{}
	q.Set("select", "id")
	q.Set("limit", "1")
	_, err := s.makeRequest(ctx, http.MethodGet, "/documents", q, nil, "")
	return err
}

func (s *SupabaseStore) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}
