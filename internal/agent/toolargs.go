package agent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var errMalformedArgs = errors.New("tool arguments are not a valid JSON object")

var smartQuotes = strings.NewReplacer(
	"“", `"`, "”", `"`,
	"‘", "'", "’", "'",
)

// parseToolArgs parses accumulated tool-call arguments. Strict JSON is tried
// first; on failure a best-effort repair normalizes quotes, extracts the first
// balanced object and strips trailing commas. The result is compacted.
// Empty input yields an empty object.
func parseToolArgs(raw string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "null" {
		return json.RawMessage("{}"), nil
	}
	if obj, ok := compactObject(trimmed); ok {
		return obj, nil
	}

	repaired := stripTrailingCommas(extractObject(normalizeQuotes(trimmed)))
	if obj, ok := compactObject(repaired); ok {
		return obj, nil
	}
	return nil, fmt.Errorf("%w: %s", errMalformedArgs, truncate(trimmed, 120))
}

func compactObject(s string) (json.RawMessage, bool) {
	if !strings.HasPrefix(s, "{") || !json.Valid([]byte(s)) {
		return nil, false
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(s)); err != nil {
		return nil, false
	}
	return json.RawMessage(buf.Bytes()), true
}

// normalizeQuotes converts typographic quotes and single-quoted strings into
// double-quoted JSON strings.
func normalizeQuotes(s string) string {
	s = smartQuotes.Replace(s)
	if !strings.Contains(s, "'") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	inDouble, inSingle, escaped := false, false, false
	for _, r := range s {
		switch {
		case escaped:
			escaped = false
			// \' inside a single-quoted string is a literal quote.
			if !(inSingle && r == '\'') {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		case r == '\\' && (inDouble || inSingle):
			escaped = true
		case r == '"' && inSingle:
			b.WriteString(`\"`)
		case r == '"':
			inDouble = !inDouble
			b.WriteRune(r)
		case r == '\'' && !inDouble:
			inSingle = !inSingle
			b.WriteRune('"')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// extractObject returns the first balanced {...} span, or s unchanged when
// there is none.
func extractObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return s
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return s[start:]
}

// stripTrailingCommas removes commas directly preceding } or ].
func stripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			b.WriteByte(c)
			continue
		}
		if c == '"' {
			inString = true
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\n' || s[j] == '\t' || s[j] == '\r') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
