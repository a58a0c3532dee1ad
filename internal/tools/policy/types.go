// Package policy provides role-based authorization for models, tool servers
// and tools. Role policies can inherit from other roles and use wildcard
// patterns. Deny rules always take precedence over allow rules.
package policy

// Rules is an allow/deny pair for a single subject kind (models, servers, tools).
// A literal "*" entry sets the global allow-all or deny-all flag for the subject.
type Rules struct {
	// Allow lists patterns that grant access.
	Allow []string `json:"allow,omitempty" yaml:"allow"`

	// Deny lists patterns that revoke access (overrides allow).
	Deny []string `json:"deny,omitempty" yaml:"deny"`
}

// RolePolicy defines what a single role grants.
type RolePolicy struct {
	// Inherits names other roles whose rules are merged into this one.
	Inherits []string `json:"inherits,omitempty" yaml:"inherits"`

	Models  Rules `json:"models,omitempty" yaml:"models"`
	Servers Rules `json:"servers,omitempty" yaml:"servers"`
	Tools   Rules `json:"tools,omitempty" yaml:"tools"`
}

// UnauthenticatedMode controls how callers without roles are resolved.
type UnauthenticatedMode string

const (
	// ModeAllow grants full access.
	ModeAllow UnauthenticatedMode = "allow"

	// ModeDeny grants nothing.
	ModeDeny UnauthenticatedMode = "deny"

	// ModeDefault resolves the configured fallback roles.
	ModeDefault UnauthenticatedMode = "default"
)

// Well-known roles granted through identity hints.
const (
	RoleOwner = "owner"
	RoleAdmin = "admin"
)

// Config is the full policy configuration.
type Config struct {
	// Roles maps a role name to its policy. Names are normalized on load.
	Roles map[string]*RolePolicy `json:"roles,omitempty" yaml:"roles"`

	// Groups defines named tool groups usable as "group:<name>" in tool rules.
	Groups map[string][]string `json:"groups,omitempty" yaml:"groups"`

	// Unauthenticated selects the mode for callers without roles.
	Unauthenticated UnauthenticatedMode `json:"unauthenticated,omitempty" yaml:"unauthenticated"`

	// DefaultRoles are resolved when Unauthenticated is "default".
	DefaultRoles []string `json:"default_roles,omitempty" yaml:"default_roles"`

	// OwnerSubjects and AdminSubjects grant the owner/admin role to the
	// listed identity subjects in addition to their token roles.
	OwnerSubjects []string `json:"owner_subjects,omitempty" yaml:"owner_subjects"`
	AdminSubjects []string `json:"admin_subjects,omitempty" yaml:"admin_subjects"`

	// EmptyAllowMeansAll treats a subject with no allow patterns as allow-all.
	// When false, a subject must match at least one allow pattern.
	EmptyAllowMeansAll bool `json:"empty_allow_means_all,omitempty" yaml:"empty_allow_means_all"`
}
