// Package sessions persists conversation checkpoints.
//
// Every backend merges on save (see Merge), so repeated saves of the same
// checkpoint are idempotent and concurrent writers never drop history that
// the other already persisted.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/haasonsaas/conduit/pkg/models"
)

// ErrInvalidCheckpoint is returned when a checkpoint cannot be stored.
var ErrInvalidCheckpoint = errors.New("sessions: invalid checkpoint")

// Store is the interface for checkpoint persistence.
type Store interface {
	// Load returns the checkpoint, or (nil, nil) when none exists.
	Load(ctx context.Context, id string) (*models.Checkpoint, error)

	// Save merges cp into the stored checkpoint.
	Save(ctx context.Context, cp *models.Checkpoint) error

	// Delete removes a checkpoint. Deleting a missing checkpoint is not an error.
	Delete(ctx context.Context, id string) error

	Close() error
}

func validate(cp *models.Checkpoint) error {
	if cp == nil {
		return fmt.Errorf("%w: checkpoint is required", ErrInvalidCheckpoint)
	}
	if strings.TrimSpace(cp.ID) == "" {
		return fmt.Errorf("%w: checkpoint ID is required", ErrInvalidCheckpoint)
	}
	return nil
}
