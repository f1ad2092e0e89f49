package bridge

import (
	"encoding/json"
	"fmt"
)

// Envelope is the structured reply every agent call produces.
type Envelope struct {
	Success  bool                   `json:"success"`
	ExitCode int                    `json:"exit_code"`
	Output   string                 `json:"output"`
	Data     map[string]interface{} `json:"data"`
}

// ParseEnvelope extracts and decodes the agent's JSON envelope from raw
// session output. Incidental log lines before or after the JSON object
// are tolerated.
func ParseEnvelope(raw string) (*Envelope, error) {
	fragment, ok := extractJSON(raw)
	if !ok {
		return nil, fmt.Errorf("no JSON object found in agent output: %q", truncate(raw, 200))
	}
	var env Envelope
	if err := json.Unmarshal([]byte(fragment), &env); err != nil {
		return nil, fmt.Errorf("malformed agent envelope: %w", err)
	}
	return &env, nil
}

// extractJSON returns the first balanced {...} or [...] substring of s,
// honoring JSON string literals and escapes.
func extractJSON(s string) (string, bool) {
	start := -1
	var open, close byte
	for i := 0; i < len(s); i++ {
		if s[i] == '{' {
			start, open, close = i, '{', '}'
			break
		}
		if s[i] == '[' {
			start, open, close = i, '[', ']'
			break
		}
	}
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
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
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
