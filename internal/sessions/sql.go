package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/haasonsaas/conduit/pkg/models"
)

// dialect holds the statements that differ between SQL backends.
type dialect struct {
	name          string
	schema        []string
	selectData    string
	selectForSave string
	upsert        string
	delete        string
}

// SQLStore stores checkpoints as JSON documents in a single table. It backs
// both the Postgres and SQLite stores.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	locks   *Locker
	now     func() time.Time
}

func newSQLStore(db *sql.DB, d dialect) *SQLStore {
	return &SQLStore{db: db, dialect: d, locks: NewLocker(), now: time.Now}
}

// DB exposes the underlying database connection.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Migrate creates the checkpoint table if it does not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: migrate: %w", s.dialect.name, err)
		}
	}
	return nil
}

// Load returns the stored checkpoint, or (nil, nil) when none exists.
func (s *SQLStore) Load(ctx context.Context, id string) (*models.Checkpoint, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, s.dialect.selectData, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return decodeCheckpoint(data)
}

// Save merges cp into the stored checkpoint inside a transaction.
func (s *SQLStore) Save(ctx context.Context, cp *models.Checkpoint) error {
	if err := validate(cp); err != nil {
		return err
	}

	// Serialize local writers; the row lock covers other processes on Postgres.
	unlock, err := s.locks.Lock(ctx, cp.ID)
	if err != nil {
		return err
	}
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing *models.Checkpoint
	var data []byte
	switch err := tx.QueryRowContext(ctx, s.dialect.selectForSave, cp.ID).Scan(&data); {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("failed to read checkpoint: %w", err)
	default:
		if existing, err = decodeCheckpoint(data); err != nil {
			return err
		}
	}

	merged := Merge(existing, cp)
	if merged.CreatedAt.IsZero() {
		merged.CreatedAt = s.now()
	}
	if merged.UpdatedAt.IsZero() {
		merged.UpdatedAt = merged.CreatedAt
	}
	encoded, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	if _, err := tx.ExecContext(ctx, s.dialect.upsert,
		merged.ID,
		merged.OwnerID,
		string(encoded),
		merged.CreatedAt.UTC(),
		merged.UpdatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	return nil
}

// Delete removes a checkpoint.
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.delete, id); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func decodeCheckpoint(data []byte) (*models.Checkpoint, error) {
	var cp models.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return &cp, nil
}
