package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/haasonsaas/conduit/pkg/models"
)

// SubjectPermissions is the resolved access for one subject kind.
type SubjectPermissions struct {
	AllowAll bool     `json:"allow_all"`
	DenyAll  bool     `json:"deny_all"`
	Allowed  []string `json:"allowed,omitempty"`
	Denied   []string `json:"denied,omitempty"`
}

// EffectivePermissions is the access granted to one request. It is computed
// once and never mutated afterwards.
type EffectivePermissions struct {
	Models       SubjectPermissions `json:"models"`
	Servers      SubjectPermissions `json:"servers"`
	Tools        SubjectPermissions `json:"tools"`
	AppliedRoles []string           `json:"applied_roles,omitempty"`

	emptyAllowMeansAll bool
}

// AllowAll returns permissions granting every model, server and tool.
func AllowAll() *EffectivePermissions {
	all := SubjectPermissions{AllowAll: true}
	return &EffectivePermissions{Models: all, Servers: all, Tools: all}
}

// DenyAll returns permissions granting nothing.
func DenyAll() *EffectivePermissions {
	none := SubjectPermissions{DenyAll: true}
	return &EffectivePermissions{Models: none, Servers: none, Tools: none}
}

// Engine resolves roles into effective permissions. It is safe for
// concurrent use; a config reload builds a new Engine.
type Engine struct {
	roles              map[string]*RolePolicy
	groups             map[string][]string
	mode               UnauthenticatedMode
	defaultRoles       []string
	owners             map[string]struct{}
	admins             map[string]struct{}
	emptyAllowMeansAll bool
}

// NewEngine validates cfg and builds an engine.
func NewEngine(cfg Config) (*Engine, error) {
	e := &Engine{
		roles:              make(map[string]*RolePolicy, len(cfg.Roles)),
		groups:             make(map[string][]string, len(cfg.Groups)),
		mode:               cfg.Unauthenticated,
		defaultRoles:       NormalizeRoles(cfg.DefaultRoles),
		owners:             subjectSet(cfg.OwnerSubjects),
		admins:             subjectSet(cfg.AdminSubjects),
		emptyAllowMeansAll: cfg.EmptyAllowMeansAll,
	}
	if e.mode == "" {
		e.mode = ModeDeny
	}
	switch e.mode {
	case ModeAllow, ModeDeny, ModeDefault:
	default:
		return nil, fmt.Errorf("unknown unauthenticated mode %q", cfg.Unauthenticated)
	}
	if e.mode == ModeDefault && len(e.defaultRoles) == 0 {
		return nil, fmt.Errorf("unauthenticated mode %q requires default_roles", ModeDefault)
	}

	for name, rp := range cfg.Roles {
		key := NormalizeRole(name)
		if key == "" {
			return nil, fmt.Errorf("role name %q normalizes to empty", name)
		}
		if rp == nil {
			rp = &RolePolicy{}
		}
		if existing, ok := e.roles[key]; ok {
			rp = mergeRolePolicies(existing, rp)
		}
		e.roles[key] = rp
	}
	for name, members := range cfg.Groups {
		e.groups[normalizePattern(name)] = members
	}
	return e, nil
}

// Resolve merges the policies for roles and their inherited ancestors.
// The result does not depend on the order of roles.
func (e *Engine) Resolve(roles []string) *EffectivePermissions {
	acc := newAccumulator()
	visited := make(map[string]struct{})
	for _, role := range NormalizeRoles(roles) {
		e.apply(role, acc, visited)
	}
	perms := acc.finish()
	perms.emptyAllowMeansAll = e.emptyAllowMeansAll
	return perms
}

// ResolveIdentity resolves the caller's permissions, applying identity hints
// and the unauthenticated mode when the caller carries no roles.
func (e *Engine) ResolveIdentity(identity *models.Identity) *EffectivePermissions {
	roles := e.RolesFor(identity)
	if len(roles) > 0 {
		return e.Resolve(roles)
	}
	switch e.mode {
	case ModeAllow:
		return AllowAll()
	case ModeDefault:
		return e.Resolve(e.defaultRoles)
	default:
		return DenyAll()
	}
}

// RolesFor returns the identity's token roles unioned with hint roles.
func (e *Engine) RolesFor(identity *models.Identity) []string {
	if identity == nil {
		return nil
	}
	roles := append([]string(nil), identity.Roles...)
	subject := strings.TrimSpace(identity.Subject)
	if subject != "" {
		if _, ok := e.owners[subject]; ok {
			roles = append(roles, RoleOwner)
		}
		if _, ok := e.admins[subject]; ok {
			roles = append(roles, RoleAdmin)
		}
	}
	return NormalizeRoles(roles)
}

// apply merges role and its ancestors into acc. visited guarantees
// termination for cyclic inherits chains.
func (e *Engine) apply(role string, acc *accumulator, visited map[string]struct{}) {
	if _, seen := visited[role]; seen {
		return
	}
	visited[role] = struct{}{}

	rp, ok := e.roles[role]
	if !ok {
		return
	}
	acc.applied[role] = struct{}{}
	for _, parent := range rp.Inherits {
		if name := NormalizeRole(parent); name != "" {
			e.apply(name, acc, visited)
		}
	}

	acc.models.add(rp.Models)
	acc.servers.add(rp.Servers)
	acc.tools.add(Rules{
		Allow: expandGroups(e.groups, rp.Tools.Allow),
		Deny:  expandGroups(e.groups, rp.Tools.Deny),
	})
}

type accumulator struct {
	models  *subjectAccumulator
	servers *subjectAccumulator
	tools   *subjectAccumulator
	applied map[string]struct{}
}

func newAccumulator() *accumulator {
	return &accumulator{
		models:  newSubjectAccumulator(),
		servers: newSubjectAccumulator(),
		tools:   newSubjectAccumulator(),
		applied: make(map[string]struct{}),
	}
}

func (a *accumulator) finish() *EffectivePermissions {
	return &EffectivePermissions{
		Models:       a.models.finish(),
		Servers:      a.servers.finish(),
		Tools:        a.tools.finish(),
		AppliedRoles: sortedKeys(a.applied),
	}
}

type subjectAccumulator struct {
	allowAll bool
	denyAll  bool
	allowed  map[string]struct{}
	denied   map[string]struct{}
}

func newSubjectAccumulator() *subjectAccumulator {
	return &subjectAccumulator{
		allowed: make(map[string]struct{}),
		denied:  make(map[string]struct{}),
	}
}

func (s *subjectAccumulator) add(rules Rules) {
	for _, entry := range rules.Allow {
		pattern := normalizePattern(entry)
		switch pattern {
		case "":
		case "*":
			s.allowAll = true
		default:
			s.allowed[pattern] = struct{}{}
		}
	}
	for _, entry := range rules.Deny {
		pattern := normalizePattern(entry)
		switch pattern {
		case "":
		case "*":
			s.denyAll = true
		default:
			s.denied[pattern] = struct{}{}
		}
	}
}

func (s *subjectAccumulator) finish() SubjectPermissions {
	return SubjectPermissions{
		AllowAll: s.allowAll,
		DenyAll:  s.denyAll,
		Allowed:  sortedKeys(s.allowed),
		Denied:   sortedKeys(s.denied),
	}
}

func mergeRolePolicies(a, b *RolePolicy) *RolePolicy {
	return &RolePolicy{
		Inherits: append(append([]string(nil), a.Inherits...), b.Inherits...),
		Models:   mergeRules(a.Models, b.Models),
		Servers:  mergeRules(a.Servers, b.Servers),
		Tools:    mergeRules(a.Tools, b.Tools),
	}
}

func mergeRules(a, b Rules) Rules {
	return Rules{
		Allow: append(append([]string(nil), a.Allow...), b.Allow...),
		Deny:  append(append([]string(nil), a.Deny...), b.Deny...),
	}
}

func subjectSet(subjects []string) map[string]struct{} {
	set := make(map[string]struct{}, len(subjects))
	for _, subject := range subjects {
		if trimmed := strings.TrimSpace(subject); trimmed != "" {
			set[trimmed] = struct{}{}
		}
	}
	return set
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
