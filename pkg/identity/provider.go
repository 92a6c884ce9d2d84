package identity

import (
	"fmt"
	"strings"

	"tasker-backend/pkg/database"
)

// NewProvider builds the backend named in cfg. The local backend keeps its
// accounts in store.
func NewProvider(cfg Config, store database.DocumentStore) (Provider, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "local":
		if cfg.JWTSecret == "" {
			return nil, fmt.Errorf("local identity requires JWT_SECRET")
		}
		return NewLocalProvider(store, cfg.JWTSecret, cfg.SessionTTL, cfg.BcryptCost), nil
	case "supabase":
		if cfg.SupabaseURL == "" || cfg.SupabaseAnonKey == "" || cfg.JWTSecret == "" {
			return nil, fmt.Errorf("supabase identity requires SUPABASE_URL, SUPABASE_ANON_KEY and JWT_SECRET")
		}
		return NewSupabaseProvider(cfg.SupabaseURL, cfg.SupabaseAnonKey, cfg.JWTSecret), nil
	default:
		return nil, fmt.Errorf("unknown identity backend %q", cfg.Backend)
	}
}
