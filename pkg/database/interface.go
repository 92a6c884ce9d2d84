package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Collections used by the application
const (
	CollectionSpaces   = "spaces"
	CollectionUsers    = "users"
	CollectionTasks    = "tasks"
	CollectionAccounts = "accounts"
	CollectionSessions = "sessions"
)

// ErrNotFound is returned by Get and Update when the document does not exist.
var ErrNotFound = errors.New("document not found")

// Document is a JSON-shaped document body.
type Document map[string]interface{}

// Snapshot is a query result row
type Snapshot struct {
	ID   string
	Data Document
}

// ChangeFunc receives the current state of a watched document.
// exists is false once the document has been deleted.
type ChangeFunc func(doc Document, exists bool)

// DocumentStore is the durable document store shared by every component.
type DocumentStore interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	// Set creates or replaces a document.
	Set(ctx context.Context, collection, id string, doc Document) error
	// Update applies patch to an existing document; ErrNotFound when missing.
	Update(ctx context.Context, collection, id string, patch Patch) error
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, collection string, filters ...Filter) ([]Snapshot, error)
	// Subscribe delivers the current state, then every later change, until the
	// returned function is called or ctx is done.
	Subscribe(ctx context.Context, collection, id string, fn ChangeFunc) (unsubscribe func(), err error)
	NewID() string

	HealthCheck(ctx context.Context) error
	Close() error
}

// FilterOp is a query comparison
type FilterOp string

const (
	OpEqual         FilterOp = "=="
	OpArrayContains FilterOp = "array-contains"
)

type Filter struct {
	Field string
	Op    FilterOp
	Value interface{}
}

func Where(field string, op FilterOp, value interface{}) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

// StoreConfig selects and configures a document store backend
type StoreConfig struct {
	Backend     string // memory | postgres | supabase
	PostgresDSN string
	Driver      string // postgres (lib/pq) | pgx
	SupabaseURL string
	SupabaseKey string
	PollEvery   time.Duration
	Debug       bool
}

// NewStore builds the backend named in cfg.
func NewStore(ctx context.Context, cfg StoreConfig) (DocumentStore, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres store requires POSTGRES_DSN")
		}
		return NewPostgresStore(ctx, cfg.Driver, cfg.PostgresDSN)
	case "supabase":
		if cfg.SupabaseURL == "" || cfg.SupabaseKey == "" {
			return nil, fmt.Errorf("supabase store requires SUPABASE_URL and SUPABASE_SERVICE_KEY")
		}
		return NewSupabaseStore(cfg.SupabaseURL, cfg.SupabaseKey, cfg.PollEvery), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
