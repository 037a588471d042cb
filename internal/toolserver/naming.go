// Package toolserver implements the Remote Tool-Server Manager (spec
// §4.I): a uniform list_tools()/invoke() interface over four transports
// (stdio, container, http_sse, ws), and reconnect-on-failure semantics.
// Only the ws transport runs a reader goroutine that routes responses by
// request id; stdio and container serialize calls on their pipe under a
// mutex, and http_sse makes one HTTP request per call.
// Grounded on the teacher's internal/mcp/gateway.go connectStdio/
// connectSSE/executeToolStdio/executeToolSSE and internal/mcp/helpers.go
// tool-name sanitization.
package toolserver

import (
	"fmt"
	"regexp"
	"strings"
)

var invalidCharsRE = regexp.MustCompile(`[^a-z0-9_-]+`)

// sanitizeSlug mirrors the teacher's SanitizeServerName: lowercase,
// invalid chars to underscore, trim, collapse doubles.
func sanitizeSlug(name string) string {
	slug := strings.ToLower(name)
	slug = invalidCharsRE.ReplaceAllString(slug, "_")
	slug = strings.Trim(slug, "_")
	for strings.Contains(slug, "__") {
		slug = strings.ReplaceAll(slug, "__", "_")
	}
	return slug
}

// PrefixToolName implements spec §4.I: "Tool names may be prefixed with
// <server>__<tool> when prefix_tool_names is set, to disambiguate
// across servers" — grounded on the teacher's SanitizeToolName.
func PrefixToolName(server, tool string) string {
	return fmt.Sprintf("%s__%s", sanitizeSlug(server), sanitizeSlug(tool))
}

// ParseToolName splits a prefixed name on its first "__" (teacher's
// ParseToolName), used by the manager to route an incoming tool call
// back to its owning server. It does not undo the sanitizing that
// PrefixToolName applies: it returns the two slugs as they appear.
func ParseToolName(full string) (server, tool string, ok bool) {
	parts := strings.SplitN(full, "__", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
