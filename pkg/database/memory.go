package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type docKey struct {
	collection string
	id         string
}

// MemoryStore is an in-process DocumentStore. Every write fans out to the
// subscribers of the written document.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]map[string]Document
	subs   map[docKey]map[int]ChangeFunc
	nextID int
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]map[string]Document),
		subs: make(map[docKey]map[int]ChangeFunc),
		now:  time.Now,
	}
}

func (s *MemoryStore) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.data[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDocument(doc), nil
}

func (s *MemoryStore) Set(ctx context.Context, collection, id string, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n, err := normalizeDocument(doc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.data[collection] == nil {
		s.data[collection] = make(map[string]Document)
	}
	s.data[collection][id] = n
	fns := s.subscribersLocked(collection, id)
	s.mu.Unlock()

	publish(fns, n, true)
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, collection, id string, patch Patch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	current, ok := s.data[collection][id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	next, err := applyPatch(current, patch, s.now())
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.data[collection][id] = next
	fns := s.subscribersLocked(collection, id)
	s.mu.Unlock()

	publish(fns, next, true)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	_, existed := s.data[collection][id]
	delete(s.data[collection], id)
	fns := s.subscribersLocked(collection, id)
	s.mu.Unlock()

	if existed {
		publish(fns, nil, false)
	}
	return nil
}

// Query returns matching documents ordered by id.
func (s *MemoryStore) Query(ctx context.Context, collection string, filters ...Filter) ([]Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Snapshot
	for id, doc := range s.data[collection] {
		ok, err := matches(doc, filters)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, Snapshot{ID: id, Data: copyDocument(doc)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, collection, id string, fn ChangeFunc) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := docKey{collection, id}

	s.mu.Lock()
	s.nextID++
	subID := s.nextID
	if s.subs[key] == nil {
		s.subs[key] = make(map[int]ChangeFunc)
	}
	s.subs[key][subID] = fn
	doc, exists := s.data[collection][id]
	if exists {
		doc = copyDocument(doc)
	}
	s.mu.Unlock()

	fn(doc, exists)

	var once sync.Once
	done := make(chan struct{})
	unsubscribe := func() {
		once.Do(func() {
			s.mu.Lock()
			if subs, ok := s.subs[key]; ok {
				delete(subs, subID)
				if len(subs) == 0 {
					delete(s.subs, key)
				}
			}
			s.mu.Unlock()
			close(done)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-done:
		}
	}()
	return unsubscribe, nil
}

func (s *MemoryStore) NewID() string {
	return uuid.New().String()
}

func (s *MemoryStore) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.subs = make(map[docKey]map[int]ChangeFunc)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) subscribersLocked(collection, id string) []ChangeFunc {
	subs := s.subs[docKey{collection, id}]
	fns := make([]ChangeFunc, 0, len(subs))
	for _, fn := range subs {
		fns = append(fns, fn)
	}
	return fns
}

func publish(fns []ChangeFunc, doc Document, exists bool) {
	for _, fn := range fns {
		var c Document
		if exists {
			c = copyDocument(doc)
		}
		fn(c, exists)
	}
}

// copyDocument deep-copies a normalized document.
func copyDocument(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, x := range t {
			m[k] = copyValue(x)
		}
		return m
	case []interface{}:
		s := make([]interface{}, len(t))
		for i, x := range t {
			s[i] = copyValue(x)
		}
		return s
	default:
		return v
	}
}
