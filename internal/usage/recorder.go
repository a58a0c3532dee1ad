package usage

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/conduit/internal/auth"
)

// Pricing maps model names to per-million-token prices. Lookups fall back
// to the longest configured prefix, so "gpt-4o" prices "gpt-4o-2024-08-06".
type Pricing map[string]Cost

// Lookup returns the price for model, or nil when unknown.
func (p Pricing) Lookup(model string) *Cost {
	model = strings.ToLower(strings.TrimSpace(model))
	if cost, ok := p[model]; ok {
		return &cost
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	for _, k := range keys {
		if strings.HasPrefix(model, strings.ToLower(k)) {
			cost := p[k]
			return &cost
		}
	}
	return nil
}

// DefaultPricing lists list prices for commonly used models.
func DefaultPricing() Pricing {
	return Pricing{
		"gpt-4o":           {Input: 2.5, Output: 10, CacheRead: 1.25},
		"gpt-4o-mini":      {Input: 0.15, Output: 0.6, CacheRead: 0.075},
		"claude-sonnet-4":  {Input: 3, Output: 15, CacheRead: 0.3, CacheWrite: 3.75},
		"claude-3-5-haiku": {Input: 0.8, Output: 4, CacheRead: 0.08, CacheWrite: 1},
		"claude-opus-4":    {Input: 15, Output: 75, CacheRead: 1.5, CacheWrite: 18.75},
	}
}

// Recorder records one usage entry per model round-trip into a Tracker,
// attributing spend to the caller identity found in the context.
type Recorder struct {
	tracker  *Tracker
	pricing  Pricing
	provider string
	now      func() time.Time
}

// NewRecorder creates a recorder. A nil pricing table records zero cost.
func NewRecorder(tracker *Tracker, pricing Pricing, provider string) *Recorder {
	if tracker == nil {
		tracker = NewTracker(DefaultTrackerConfig())
	}
	return &Recorder{tracker: tracker, pricing: pricing, provider: provider, now: time.Now}
}

// Tracker returns the underlying tracker.
func (r *Recorder) Tracker() *Tracker { return r.tracker }

// Record stores usage for a session. It returns nil when u is empty.
// Spend is recorded even when ctx is cancelled, since the tokens were consumed.
func (r *Recorder) Record(ctx context.Context, sessionID string, u Usage, model string) (*Record, error) {
	if u.IsZero() {
		return nil, nil
	}
	rec := Record{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Provider:  r.provider,
		Model:     model,
		Usage:     u,
		Cost:      r.pricing.Lookup(model).Estimate(&u),
		Timestamp: r.now(),
	}
	if identity, ok := auth.IdentityFromContext(ctx); ok {
		rec.AccountID = identity.AccountID
		rec.UserID = identity.Subject
	}
	r.tracker.Record(rec)
	return &rec, nil
}
