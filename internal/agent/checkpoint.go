package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/conduit/internal/observability"
	"github.com/haasonsaas/conduit/pkg/models"
)

// checkpointer owns the working checkpoint of one run and persists it after
// every meaningful step. Save failures are logged; they never fail the turn.
type checkpointer struct {
	store        CheckpointStore
	cp           *models.Checkpoint
	logger       *slog.Logger
	tracer       *observability.Tracer
	flushTimeout time.Duration
	now          func() time.Time
}

// loadCheckpoint loads the stored checkpoint for sessionID, or starts a new
// one. An empty sessionID gets a fresh identifier.
func loadCheckpoint(ctx context.Context, store CheckpointStore, sessionID, ownerID string, logger *slog.Logger) (*models.Checkpoint, error) {
	if sessionID != "" && store != nil {
		cp, err := store.Load(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if cp != nil {
			if cp.OwnerID != "" && ownerID != "" && cp.OwnerID != ownerID {
				logger.Warn("session owned by another subject", "session_id", sessionID)
				return nil, ErrSessionForbidden
			}
			return cp, nil
		}
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	now := time.Now()
	return &models.Checkpoint{
		ID:        sessionID,
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// mergeTranscript returns the messages to append to stored for a new turn.
// Clients may resend the full history; the stored prefix is not duplicated.
// Anything shorter than the stored transcript is new input and is appended.
func mergeTranscript(stored, incoming []models.Message) []models.Message {
	if len(stored) == 0 || len(incoming) < len(stored) {
		return incoming
	}
	if sameMessages(stored, incoming[:len(stored)]) {
		return incoming[len(stored):]
	}
	return incoming
}

func sameMessages(a, b []models.Message) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Role != b[i].Role || a[i].Content != b[i].Content || a[i].ToolCallID != b[i].ToolCallID {
			return false
		}
	}
	return true
}

// append adds messages, assigning IDs and timestamps where missing.
func (c *checkpointer) append(msgs ...models.Message) {
	for _, msg := range msgs {
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = c.now()
		}
		c.cp.Messages = append(c.cp.Messages, msg)
	}
}

func (c *checkpointer) record(inv models.ToolInvocation) {
	c.cp.ToolResults = append(c.cp.ToolResults, inv)
}

func (c *checkpointer) messages() []models.Message {
	return c.cp.Messages
}

// save persists a snapshot of the working checkpoint.
func (c *checkpointer) save(ctx context.Context) {
	if c.store == nil {
		return
	}
	ctx, span := c.tracer.TraceCheckpoint(ctx, c.cp.ID)
	defer span.End()

	c.cp.UpdatedAt = c.now()
	if err := c.store.Save(ctx, c.cp.Clone()); err != nil {
		c.tracer.RecordError(span, err)
		c.logger.Warn("checkpoint save failed", "session_id", c.cp.ID, "error", err)
	}
}

// flush saves on a context detached from the caller's cancellation so a
// disconnected client still leaves a resumable checkpoint.
func (c *checkpointer) flush(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.flushTimeout)
	defer cancel()
	c.save(ctx)
}
