package sessions

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{`
		CREATE TABLE IF NOT EXISTS conduit_checkpoints (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL DEFAULT '',
			data TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS conduit_checkpoints_owner_idx ON conduit_checkpoints (owner_id, updated_at)`,
	},
	selectData:    `SELECT data FROM conduit_checkpoints WHERE id = ?`,
	selectForSave: `SELECT data FROM conduit_checkpoints WHERE id = ?`,
	upsert: `
		INSERT INTO conduit_checkpoints (id, owner_id, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = excluded.owner_id,
			data = excluded.data,
			updated_at = excluded.updated_at`,
	delete: `DELETE FROM conduit_checkpoints WHERE id = ?`,
}

// NewSQLiteStore opens (creating if needed) an embedded SQLite checkpoint
// store at path and applies the schema.
func NewSQLiteStore(ctx context.Context, path string) (*SQLStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	store := newSQLStore(db, sqliteDialect)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}
