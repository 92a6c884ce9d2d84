package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
)

const notifyChannel = "documents_changed"

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		data JSONB NOT NULL DEFAULT '{}'::jsonb,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (collection, id)
	)`,
	`CREATE INDEX IF NOT EXISTS documents_data_idx ON documents USING GIN (data jsonb_path_ops)`,
	`CREATE OR REPLACE FUNCTION notify_document_change() RETURNS trigger AS $$
	BEGIN
		IF TG_OP = 'DELETE' THEN
			PERFORM pg_notify('documents_changed', OLD.collection || '/' || OLD.id);
			RETURN OLD;
		END IF;
		PERFORM pg_notify('documents_changed', NEW.collection || '/' || NEW.id);
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS documents_notify ON documents`,
	`CREATE TRIGGER documents_notify AFTER INSERT OR UPDATE OR DELETE ON documents
		FOR EACH ROW EXECUTE FUNCTION notify_document_change()`,
}

// PostgresStore keeps every collection in one JSONB table.
// Subscriptions ride on LISTEN/NOTIFY through a lib/pq listener.
type PostgresStore struct {
	db  *sql.DB
	dsn string

	mu       sync.Mutex
	listener *pq.Listener
	subs     map[docKey]map[int]ChangeFunc
	nextID   int
	stop     chan struct{}
}

// NewPostgresStore opens the database with the given driver ("postgres" for
// lib/pq, "pgx" for the pgx stdlib adapter).
func NewPostgresStore(ctx context.Context, driver, dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	switch driver {
	case "", "postgres", "pq":
		driver = "postgres"
	case "pgx":
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}

	if !strings.Contains(dsn, "connect_timeout") {
		dsn = addConnectionParams(dsn, "connect_timeout=10")
	}

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		db, err := sql.Open(driver, dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		// serverless-friendly pool
		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			lastErr = err
			db.Close()
			slog.Warn("postgres ping failed", "attempt", attempt, "driver", driver, "error", err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
			continue
		}

		slog.Info("postgres connection established", "driver", driver, "attempt", attempt)
		return &PostgresStore{
			db:   db,
			dsn:  dsn,
			subs: make(map[docKey]map[int]ChangeFunc),
		}, nil
	}
	return nil, fmt.Errorf("connect postgres: %w", lastErr)
}

// addConnectionParams appends query parameters to a URL-style DSN
func addConnectionParams(dsn, params string) string {
	if params == "" || !strings.Contains(dsn, "://") {
		return dsn
	}
	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	return dsn + separator + params
}

// Migrate creates the documents table and its change-notification trigger.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, collection, id string) (Document, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = $1 AND id = $2`, collection, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return unmarshalDocument(raw)
}

func (s *PostgresStore) Set(ctx context.Context, collection, id string, doc Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data, updated_at)
		VALUES ($1, $2, $3::jsonb, NOW())
		ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`,
		collection, id, string(raw))
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, id, err)
	}
	return nil
}

// Update applies the patch while holding the row lock.
func (s *PostgresStore) Update(ctx context.Context, collection, id string, patch Patch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var raw []byte
	err = tx.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = $1 AND id = $2 FOR UPDATE`, collection, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock %s/%s: %w", collection, id, err)
	}
	current, err := unmarshalDocument(raw)
	if err != nil {
		return err
	}
	next, err := applyPatch(current, patch, time.Now())
	if err != nil {
		return err
	}
	out, err := json.Marshal(next)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET data = $3::jsonb, updated_at = NOW() WHERE collection = $1 AND id = $2`,
		collection, id, string(out)); err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	return tx.Commit()
}

func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id); err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *PostgresStore) Query(ctx context.Context, collection string, filters ...Filter) ([]Snapshot, error) {
	query, args, err := buildQuery(collection, filters)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		doc, err := unmarshalDocument(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, Snapshot{ID: id, Data: doc})
	}
	return out, rows.Err()
}

func buildQuery(collection string, filters []Filter) (string, []interface{}, error) {
	var b strings.Builder
	b.WriteString(`SELECT id, data FROM documents WHERE collection = $1`)
	args := []interface{}{collection}
	for _, f := range filters {
		var operand interface{}
		var op string
		switch f.Op {
		case OpEqual:
			operand, op = f.Value, "="
		case OpArrayContains:
			operand, op = []interface{}{f.Value}, "@>"
		default:
			return "", nil, fmt.Errorf("unsupported filter op %q", f.Op)
		}
		raw, err := json.Marshal(operand)
		if err != nil {
			return "", nil, err
		}
		args = append(args, f.Field, string(raw))
		fmt.Fprintf(&b, ` AND data->($%d::text) %s $%d::jsonb`, len(args)-1, op, len(args))
	}
	b.WriteString(` ORDER BY id`)
	return b.String(), args, nil
}

func (s *PostgresStore) Subscribe(ctx context.Context, collection, id string, fn ChangeFunc) (func(), error) {
	if err := s.ensureListener(); err != nil {
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
	s.mu.Unlock()

	s.deliver(ctx, key, []ChangeFunc{fn})

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

func (s *PostgresStore) ensureListener() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}
	l := pq.NewListener(s.dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			slog.Warn("postgres listener event", "event", ev, "error", err)
		}
	})
	if err := l.Listen(notifyChannel); err != nil {
		l.Close()
		return fmt.Errorf("listen %s: %w", notifyChannel, err)
	}
	s.listener = l
	s.stop = make(chan struct{})
	go s.listen(l, s.stop)
	return nil
}

func (s *PostgresStore) listen(l *pq.Listener, stop chan struct{}) {
	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-stop:
			return
		case n, ok := <-l.Notify:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if n == nil {
				// reconnected; notifications may have been missed
				s.refreshAll(ctx)
			} else if collection, id, found := strings.Cut(n.Extra, "/"); found {
				key := docKey{collection, id}
				s.deliver(ctx, key, s.subscribers(key))
			}
			cancel()
		case <-ping.C:
			go l.Ping()
		}
	}
}

func (s *PostgresStore) subscribers(key docKey) []ChangeFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	fns := make([]ChangeFunc, 0, len(s.subs[key]))
	for _, fn := range s.subs[key] {
		fns = append(fns, fn)
	}
	return fns
}

func (s *PostgresStore) refreshAll(ctx context.Context) {
	s.mu.Lock()
	keys := make([]docKey, 0, len(s.subs))
	for k := range s.subs {
		keys = append(keys, k)
	}
	s.mu.Unlock()
	for _, k := range keys {
		s.deliver(ctx, k, s.subscribers(k))
	}
}

func (s *PostgresStore) deliver(ctx context.Context, key docKey, fns []ChangeFunc) {
	if len(fns) == 0 {
		return
	}
	doc, err := s.Get(ctx, key.collection, key.id)
	exists := true
	if errors.Is(err, ErrNotFound) {
		exists = false
	} else if err != nil {
		slog.Warn("subscription refresh failed", "collection", key.collection, "id", key.id, "error", err)
		return
	}
	publish(fns, doc, exists)
}

func (s *PostgresStore) NewID() string {
	return uuid.New().String()
}

func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	s.mu.Lock()
	if s.listener != nil {
		close(s.stop)
		s.listener.Close()
		s.listener = nil
	}
	s.mu.Unlock()
	return s.db.Close()
}

func unmarshalDocument(raw []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}
