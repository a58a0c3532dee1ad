package policy

import (
	"sort"
	"strings"
)

// NormalizeRole canonicalizes a role string from a token or config.
// It trims, lower-cases, strips a "role:" or "role_" prefix and keeps the last
// "/" or ":" separated segment. It returns "" for input that normalizes to nothing.
func NormalizeRole(role string) string {
	role = strings.ToLower(strings.TrimSpace(role))
	role = strings.TrimPrefix(role, "role:")
	role = strings.TrimPrefix(role, "role_")
	if idx := strings.LastIndexAny(role, "/:"); idx >= 0 {
		role = role[idx+1:]
	}
	return strings.TrimSpace(role)
}

// NormalizeRoles normalizes, dedupes and sorts roles, dropping empty entries.
func NormalizeRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(roles))
	out := make([]string, 0, len(roles))
	for _, role := range roles {
		normalized := NormalizeRole(role)
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	sort.Strings(out)
	return out
}

// normalizePattern lower-cases and trims a rule pattern.
func normalizePattern(pattern string) string {
	return strings.ToLower(strings.TrimSpace(pattern))
}
