package sessions

import (
	"context"
	"fmt"
	"strings"
)

// Config selects a checkpoint backend.
type Config struct {
	// Backend is memory (default), postgres, sqlite or s3.
	Backend string

	Postgres   PostgresConfig
	SQLitePath string
	S3         S3Config
}

// Open builds the configured store.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "postgres", "cockroach", "cockroachdb":
		store, err := NewPostgresStore(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "sqlite":
		store, err := NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "s3":
		store, err := NewS3Store(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}
