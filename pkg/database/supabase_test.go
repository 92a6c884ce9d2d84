package database

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// fakePostgREST serves a single documents row and counts PATCH attempts.
type fakePostgREST struct {
	mu        sync.Mutex
	data      string
	updatedAt string
	patches   int
	loseFirst bool
	lastQuery string
}

func (f *fakePostgREST) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.URL.Path != "/rest/v1/documents" || r.Header.Get("apikey") != "service-key" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	q := r.URL.Query()
	switch r.Method {
	case http.MethodGet:
		f.lastQuery = r.URL.RawQuery
		if f.data == "" || (q.Get("id") != "" && q.Get("id") != "eq.s1") {
			w.Write([]byte(`[]`))
			return
		}
		json.NewEncoder(w).Encode([]map[string]interface{}{{
			"id":         "s1",
			"data":       json.RawMessage(f.data),
			"updated_at": f.updatedAt,
		}})
	case http.MethodPatch:
		f.patches++
		if f.loseFirst && f.patches == 1 {
			// another writer got there first
			f.updatedAt = "t-other"
			w.Write([]byte(`[]`))
			return
		}
		if q.Get("updated_at") != "eq."+f.updatedAt {
			w.Write([]byte(`[]`))
			return
		}
		body, _ := io.ReadAll(r.Body)
		var row documentRow
		json.Unmarshal(body, &row)
		f.data = string(row.Data)
		f.updatedAt = row.UpdatedAt
		w.Write([]byte(`[{"id":"s1"}]`))
	default:
		http.Error(w, "unsupported", http.StatusMethodNotAllowed)
	}
}

func TestSupabaseStoreUpdateRetriesLostRace(t *testing.T) {
	fake := &fakePostgREST{data: `{"tasks":1}`, updatedAt: "t0", loseFirst: true}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	s := NewSupabaseStore(srv.URL, "service-key", 0)
	if err := s.Update(context.Background(), "spaces", "s1", Patch{"tasks": Set(2)}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if fake.patches != 2 {
		t.Fatalf("patches = %d, want 2", fake.patches)
	}
	doc, err := s.Get(context.Background(), "spaces", "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc["tasks"] != float64(2) {
		t.Fatalf("tasks = %v", doc["tasks"])
	}
}

func TestSupabaseStoreNotFoundAndQuery(t *testing.T) {
	fake := &fakePostgREST{data: `{"adminId":"a","members":["a"]}`, updatedAt: "t0"}
	srv := httptest.NewServer(fake)
	defer srv.Close()
	s := NewSupabaseStore(srv.URL, "service-key", 0)
	ctx := context.Background()

	if _, err := s.Get(ctx, "spaces", "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing = %v", err)
	}

	snaps, err := s.Query(ctx, "spaces", Where("members", OpArrayContains, "a"))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(snaps) != 1 || snaps[0].ID != "s1" {
		t.Fatalf("snaps = %+v", snaps)
	}
	if want := "cs.{\"members\":[\"a\"]}"; !containsQueryValue(fake.lastQuery, "data", want) {
		t.Fatalf("query %q does not carry containment filter %s", fake.lastQuery, want)
	}
}

func containsQueryValue(raw, key, want string) bool {
	req, _ := http.NewRequest(http.MethodGet, "http://x/?"+raw, nil)
	for _, v := range req.URL.Query()[key] {
		if v == want {
			return true
		}
	}
	return false
}
