package cache

import "fmt"

// Config selects the cache backend.
type Config struct {
	Backend string `yaml:"backend"` // "memory" (default) or "sqlite"
	Path    string `yaml:"path"`    // sqlite file, required for that backend
}

// Open builds the configured store.
func Open(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
