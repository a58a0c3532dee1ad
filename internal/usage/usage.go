// Package usage tracks token usage per model round-trip and estimates cost.
package usage

import (
	"sync"
	"time"
)

// Usage represents token usage for a single request.
type Usage struct {
	InputTokens      int64 `json:"input_tokens"`
	OutputTokens     int64 `json:"output_tokens"`
	CacheReadTokens  int64 `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int64 `json:"cache_write_tokens,omitempty"`
}

// Total returns the total token count.
func (u *Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens + u.CacheReadTokens + u.CacheWriteTokens
}

// IsZero reports whether no tokens were counted.
func (u *Usage) IsZero() bool {
	return u == nil || u.Total() == 0
}

// Add adds another usage record to this one.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheReadTokens += other.CacheReadTokens
	u.CacheWriteTokens += other.CacheWriteTokens
}

// Cost represents pricing for a model (per million tokens).
type Cost struct {
	Input      float64 `json:"input" yaml:"input"`
	Output     float64 `json:"output" yaml:"output"`
	CacheRead  float64 `json:"cache_read" yaml:"cache_read"`
	CacheWrite float64 `json:"cache_write" yaml:"cache_write"`
}

// Estimate calculates the estimated cost for the given usage.
func (c *Cost) Estimate(usage *Usage) float64 {
	if c == nil || usage == nil {
		return 0
	}
	total := float64(usage.InputTokens)*c.Input +
		float64(usage.OutputTokens)*c.Output +
		float64(usage.CacheReadTokens)*c.CacheRead +
		float64(usage.CacheWriteTokens)*c.CacheWrite
	return total / 1_000_000
}

// Record represents one recorded model round-trip.
type Record struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	Model     string    `json:"model"`
	AccountID string    `json:"account_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Usage     Usage     `json:"usage"`
	Cost      float64   `json:"cost,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Scope selects whose window totals are read.
type Scope string

const (
	ScopeAccount Scope = "account"
	ScopeUser    Scope = "user"
)

// Totals is the token and cost spend within the current window.
type Totals struct {
	Tokens int64   `json:"tokens"`
	Cost   float64 `json:"cost"`
}

// Tracker tracks usage across requests. Per-model totals are cumulative;
// per-account and per-user totals cover the current budget window and are
// cleared by ResetWindow.
type Tracker struct {
	mu          sync.RWMutex
	records     []Record
	totals      map[string]*Usage // keyed by "provider:model"
	window      map[Scope]map[string]*Totals
	windowStart time.Time
	maxAge      time.Duration
	maxCount    int
	now         func() time.Time
}

// TrackerConfig configures the usage tracker.
type TrackerConfig struct {
	MaxAge   time.Duration
	MaxCount int
}

// DefaultTrackerConfig returns default tracker configuration.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		MaxAge:   24 * time.Hour,
		MaxCount: 10000,
	}
}

// NewTracker creates a new usage tracker.
func NewTracker(config TrackerConfig) *Tracker {
	if config.MaxAge <= 0 {
		config.MaxAge = 24 * time.Hour
	}
	if config.MaxCount <= 0 {
		config.MaxCount = 10000
	}
	t := &Tracker{
		totals:   make(map[string]*Usage),
		maxAge:   config.MaxAge,
		maxCount: config.MaxCount,
		now:      time.Now,
	}
	t.resetWindowLocked()
	return t
}

// Record adds a usage record.
func (t *Tracker) Record(r Record) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if r.Timestamp.IsZero() {
		r.Timestamp = t.now()
	}
	t.records = append(t.records, r)

	key := r.Provider + ":" + r.Model
	if t.totals[key] == nil {
		t.totals[key] = &Usage{}
	}
	t.totals[key].Add(&r.Usage)

	t.addWindow(ScopeAccount, r.AccountID, r)
	t.addWindow(ScopeUser, r.UserID, r)

	t.pruneOld()
}

func (t *Tracker) addWindow(scope Scope, id string, r Record) {
	if id == "" {
		return
	}
	totals := t.window[scope][id]
	if totals == nil {
		totals = &Totals{}
		t.window[scope][id] = totals
	}
	totals.Tokens += r.Usage.Total()
	totals.Cost += r.Cost
}

// pruneOld removes records older than maxAge and beyond maxCount.
func (t *Tracker) pruneOld() {
	cutoff := t.now().Add(-t.maxAge)
	startIdx := 0
	for i, r := range t.records {
		if r.Timestamp.After(cutoff) {
			startIdx = i
			break
		}
		startIdx = i + 1
	}
	if startIdx > 0 {
		t.records = t.records[startIdx:]
	}
	if len(t.records) > t.maxCount {
		t.records = t.records[len(t.records)-t.maxCount:]
	}
}

// WindowTotals returns spend for a subject in the current window.
func (t *Tracker) WindowTotals(scope Scope, id string) Totals {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if totals := t.window[scope][id]; totals != nil {
		return *totals
	}
	return Totals{}
}

// WindowStart returns when the current window began.
func (t *Tracker) WindowStart() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.windowStart
}

// ResetWindow clears per-account and per-user window totals.
func (t *Tracker) ResetWindow() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetWindowLocked()
}

func (t *Tracker) resetWindowLocked() {
	t.window = map[Scope]map[string]*Totals{
		ScopeAccount: {},
		ScopeUser:    {},
	}
	t.windowStart = t.now()
}

// GetTotals returns usage totals for a provider:model key.
func (t *Tracker) GetTotals(provider, model string) *Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if usage := t.totals[provider+":"+model]; usage != nil {
		u := *usage
		return &u
	}
	return nil
}

// GetRecentRecords returns up to limit of the most recent records.
func (t *Tracker) GetRecentRecords(limit int) []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if limit <= 0 || limit > len(t.records) {
		limit = len(t.records)
	}
	result := make([]Record, limit)
	copy(result, t.records[len(t.records)-limit:])
	return result
}

// GetSessionTotals sums usage and cost recorded for a session.
func (t *Tracker) GetSessionTotals(sessionID string) (Usage, float64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var u Usage
	var cost float64
	for i := range t.records {
		if t.records[i].SessionID == sessionID {
			u.Add(&t.records[i].Usage)
			cost += t.records[i].Cost
		}
	}
	return u, cost
}
