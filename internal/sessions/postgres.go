package sessions

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

var postgresDialect = dialect{
	name: "postgres",
	schema: []string{`
		CREATE TABLE IF NOT EXISTS conduit_checkpoints (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL DEFAULT '',
			data JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS conduit_checkpoints_owner_idx ON conduit_checkpoints (owner_id, updated_at DESC)`,
	},
	selectData:    `SELECT data FROM conduit_checkpoints WHERE id = $1`,
	selectForSave: `SELECT data FROM conduit_checkpoints WHERE id = $1 FOR UPDATE`,
	upsert: `
		INSERT INTO conduit_checkpoints (id, owner_id, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at`,
	delete: `DELETE FROM conduit_checkpoints WHERE id = $1`,
}

// PostgresConfig holds configuration for a Postgres or CockroachDB connection.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration

	// AutoMigrate creates the checkpoint table on startup.
	AutoMigrate bool
}

// DefaultPostgresConfig returns default pool settings.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnectTimeout:  10 * time.Second,
		AutoMigrate:     true,
	}
}

// NewPostgresStore opens a Postgres-backed checkpoint store.
func NewPostgresStore(ctx context.Context, config PostgresConfig) (*SQLStore, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	defaults := DefaultPostgresConfig()
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = defaults.MaxOpenConns
	}
	if config.MaxIdleConns <= 0 {
		config.MaxIdleConns = defaults.MaxIdleConns
	}
	if config.ConnMaxLifetime <= 0 {
		config.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
	if config.ConnMaxIdleTime <= 0 {
		config.ConnMaxIdleTime = defaults.ConnMaxIdleTime
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = defaults.ConnectTimeout
	}

	db, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := NewPostgresStoreFromDB(db)
	if config.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return store, nil
}

// NewPostgresStoreFromDB wraps an existing connection pool.
func NewPostgresStoreFromDB(db *sql.DB) *SQLStore {
	return newSQLStore(db, postgresDialect)
}
