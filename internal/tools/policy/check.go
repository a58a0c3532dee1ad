package policy

import "github.com/haasonsaas/conduit/pkg/models"

// allows evaluates deny patterns first; any deny match wins.
func (s SubjectPermissions) allows(emptyAllowMeansAll bool, names ...string) bool {
	if matchAny(s.Denied, names...) {
		return false
	}
	if s.DenyAll {
		return false
	}
	if s.AllowAll {
		return true
	}
	if len(s.Allowed) == 0 {
		return emptyAllowMeansAll
	}
	return matchAny(s.Allowed, names...)
}

// IsModelAllowed reports whether perms grant access to model.
func IsModelAllowed(model string, perms *EffectivePermissions) bool {
	if perms == nil {
		return false
	}
	return perms.Models.allows(perms.emptyAllowMeansAll, model)
}

// IsServerAllowed reports whether perms grant access to a tool server.
func IsServerAllowed(serverID string, perms *EffectivePermissions) bool {
	if perms == nil {
		return false
	}
	return perms.Servers.allows(perms.emptyAllowMeansAll, serverID)
}

// IsToolAllowed reports whether perms grant access to a tool. Both the bare
// tool name and the "<serverId>_<toolName>" composite are matched.
func IsToolAllowed(toolName, serverID string, perms *EffectivePermissions) bool {
	if perms == nil {
		return false
	}
	names := []string{toolName}
	if serverID != "" {
		names = append(names, serverID+"_"+toolName)
	}
	return perms.Tools.allows(perms.emptyAllowMeansAll, names...)
}

// FilterTools returns the tools whose server and tool name are both allowed.
func FilterTools(tools []models.ToolDefinition, perms *EffectivePermissions) []models.ToolDefinition {
	if len(tools) == 0 {
		return nil
	}
	out := make([]models.ToolDefinition, 0, len(tools))
	for _, tool := range tools {
		if tool.ServerID != "" && !IsServerAllowed(tool.ServerID, perms) {
			continue
		}
		if !IsToolAllowed(tool.Name, tool.ServerID, perms) {
			continue
		}
		out = append(out, tool)
	}
	return out
}
