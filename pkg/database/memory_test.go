package database

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestMemoryStoreGetSetUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.Get(ctx, "spaces", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing = %v, want ErrNotFound", err)
	}
	if err := s.Update(ctx, "spaces", "missing", Patch{"x": Set(1)}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Update missing = %v, want ErrNotFound", err)
	}

	if err := s.Set(ctx, "spaces", "s1", Document{"members": []string{"a"}, "memberCount": 1}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	err := s.Update(ctx, "spaces", "s1", Patch{
		"members":     ArrayUnion("b", "a"),
		"memberCount": Set(2),
		"updatedAt":   ServerTimestamp(),
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	doc, err := s.Get(ctx, "spaces", "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got, want := doc["members"], []interface{}{"a", "b"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("members = %v, want %v", got, want)
	}
	if doc["memberCount"] != float64(2) {
		t.Fatalf("memberCount = %v", doc["memberCount"])
	}
	ts, _ := doc["updatedAt"].(string)
	if _, err := time.Parse(time.RFC3339Nano, ts); err != nil {
		t.Fatalf("updatedAt %q is not a timestamp: %v", ts, err)
	}
}

func TestArrayRemoveMatchesObjectEntries(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Set(ctx, "spaces", "s1", Document{"members": []interface{}{"a", map[string]interface{}{"uid": "b"}, "c"}})

	if err := s.Update(ctx, "spaces", "s1", Patch{"members": ArrayRemove("b", map[string]string{"uid": "b"})}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	doc, _ := s.Get(ctx, "spaces", "s1")
	if got, want := doc["members"], []interface{}{"a", "c"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("members = %v, want %v", got, want)
	}
}

func TestReturnedDocumentsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Set(ctx, "users", "u1", Document{"spaces": []string{"s1"}})

	doc, _ := s.Get(ctx, "users", "u1")
	doc["spaces"].([]interface{})[0] = "mutated"

	again, _ := s.Get(ctx, "users", "u1")
	if again["spaces"].([]interface{})[0] != "s1" {
		t.Fatal("store state changed through a returned document")
	}
}

func TestMemoryStoreQuery(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Set(ctx, "spaces", "s2", Document{"adminId": "a", "members": []string{"a", "b"}})
	s.Set(ctx, "spaces", "s1", Document{"adminId": "a", "members": []string{"a"}})
	s.Set(ctx, "spaces", "s3", Document{"adminId": "c", "members": []string{"c", "b"}})

	byAdmin, err := s.Query(ctx, "spaces", Where("adminId", OpEqual, "a"))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if ids := snapshotIDs(byAdmin); !reflect.DeepEqual(ids, []string{"s1", "s2"}) {
		t.Fatalf("adminId == a: %v", ids)
	}

	byMember, _ := s.Query(ctx, "spaces", Where("members", OpArrayContains, "b"))
	if ids := snapshotIDs(byMember); !reflect.DeepEqual(ids, []string{"s2", "s3"}) {
		t.Fatalf("members contains b: %v", ids)
	}

	both, _ := s.Query(ctx, "spaces", Where("members", OpArrayContains, "b"), Where("adminId", OpEqual, "c"))
	if ids := snapshotIDs(both); !reflect.DeepEqual(ids, []string{"s3"}) {
		t.Fatalf("combined filters: %v", ids)
	}

	if _, err := s.Query(ctx, "spaces", Where("x", FilterOp("<"), 1)); err == nil {
		t.Fatal("expected error for unsupported op")
	}
}

func TestMemoryStoreSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewMemoryStore()
	s.Set(ctx, "spaces", "s1", Document{"notes": "v1"})

	var mu sync.Mutex
	var seen []string
	unsubscribe, err := s.Subscribe(ctx, "spaces", "s1", func(doc Document, exists bool) {
		mu.Lock()
		defer mu.Unlock()
		if !exists {
			seen = append(seen, "<deleted>")
			return
		}
		seen = append(seen, doc["notes"].(string))
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	s.Update(ctx, "spaces", "s1", Patch{"notes": Set("v2")})
	s.Set(ctx, "spaces", "other", Document{"notes": "ignored"})
	s.Delete(ctx, "spaces", "s1")
	unsubscribe()
	s.Set(ctx, "spaces", "s1", Document{"notes": "after"})

	mu.Lock()
	defer mu.Unlock()
	if want := []string{"v1", "v2", "<deleted>"}; !reflect.DeepEqual(seen, want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewMemoryStore()
	s.Subscribe(ctx, "spaces", "s1", func(Document, bool) {})
	cancel()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		s.mu.RLock()
		n := len(s.subs)
		s.mu.RUnlock()
		if n == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("subscription survived context cancellation")
}

func TestBuildQuery(t *testing.T) {
	q, args, err := buildQuery("spaces", []Filter{
		Where("members", OpArrayContains, "u1"),
		Where("adminId", OpEqual, "a"),
	})
	if err != nil {
		t.Fatalf("buildQuery: %v", err)
	}
	if !strings.Contains(q, `data->($2::text) @> $3::jsonb`) || !strings.Contains(q, `data->($4::text) = $5::jsonb`) {
		t.Fatalf("unexpected query: %s", q)
	}
	want := []interface{}{"spaces", "members", `["u1"]`, "adminId", `"a"`}
	if !reflect.DeepEqual(args, want) {
		t.Fatalf("args = %v, want %v", args, want)
	}
}

func snapshotIDs(snaps []Snapshot) []string {
	ids := make([]string, 0, len(snaps))
	for _, s := range snaps {
		ids = append(ids, s.ID)
	}
	return ids
}
