package gateway

import (
	"log/slog"
	"sync/atomic"

	"github.com/haasonsaas/conduit/internal/agent"
	"github.com/haasonsaas/conduit/internal/config"
	"github.com/haasonsaas/conduit/internal/tools/policy"
)

// PolicyHolder is a PolicySource whose engine can be replaced while turns
// run. A run resolves its permissions once, so a swap affects new runs only.
type PolicyHolder struct {
	engine atomic.Pointer[policy.Engine]
}

// NewPolicyHolder returns a holder serving engine.
func NewPolicyHolder(engine *policy.Engine) *PolicyHolder {
	h := &PolicyHolder{}
	h.engine.Store(engine)
	return h
}

// Engine returns the current engine.
func (h *PolicyHolder) Engine() *policy.Engine {
	return h.engine.Load()
}

// Swap installs engine and returns the previous one.
func (h *PolicyHolder) Swap(engine *policy.Engine) *policy.Engine {
	return h.engine.Swap(engine)
}

// Reloader applies configuration changes that are safe to take without a
// restart. Everything else is logged and ignored until the next start.
type Reloader struct {
	policy *PolicyHolder
	logger *slog.Logger
}

// NewReloader returns a Reloader that updates holder.
func NewReloader(holder *PolicyHolder, logger *slog.Logger) *Reloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reloader{policy: holder, logger: logger.With("component", "reload")}
}

// Apply installs the policy from cfg. A policy that fails to build keeps
// the current engine.
func (r *Reloader) Apply(cfg *config.Config) error {
	engine, err := policy.NewEngine(cfg.Policy)
	if err != nil {
		r.logger.Error("config reload rejected", "error", err)
		return err
	}
	r.policy.Swap(engine)
	r.logger.Info("policy reloaded", "roles", len(cfg.Policy.Roles))
	return nil
}

// OnError logs a failed reload.
func (r *Reloader) OnError(err error) {
	r.logger.Warn("config reload failed; keeping current configuration", "error", err)
}

var _ agent.PolicySource = (*PolicyHolder)(nil)
