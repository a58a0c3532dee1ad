package policy

import "strings"

const groupPrefix = "group:"

// expandGroups replaces "group:<name>" entries with the group's members.
// Unknown groups are kept verbatim so they never silently widen access.
func expandGroups(groups map[string][]string, items []string) []string {
	if len(groups) == 0 {
		return items
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		key := normalizePattern(item)
		if strings.HasPrefix(key, groupPrefix) {
			if members, ok := groups[strings.TrimPrefix(key, groupPrefix)]; ok {
				out = append(out, members...)
				continue
			}
		}
		out = append(out, item)
	}
	return out
}
