package policy

import "strings"

// matchPattern reports whether name matches a case-insensitive glob pattern
// where "*" matches any run of characters, including none.
func matchPattern(pattern, name string) bool {
	pattern = normalizePattern(pattern)
	name = strings.ToLower(strings.TrimSpace(name))
	if pattern == "" || name == "" {
		return false
	}
	if !strings.Contains(pattern, "*") {
		return pattern == name
	}

	p, n := 0, 0
	star, mark := -1, 0
	for n < len(name) {
		switch {
		case p < len(pattern) && pattern[p] != '*' && pattern[p] == name[n]:
			p++
			n++
		case p < len(pattern) && pattern[p] == '*':
			star = p
			mark = n
			p++
		case star >= 0:
			p = star + 1
			mark++
			n = mark
		default:
			return false
		}
	}
	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}

// matchAny reports whether any candidate name matches any pattern.
func matchAny(patterns []string, names ...string) bool {
	for _, name := range names {
		if name == "" {
			continue
		}
		for _, pattern := range patterns {
			if matchPattern(pattern, name) {
				return true
			}
		}
	}
	return false
}
