// Package parse extracts JSON payloads from free-form LLM responses.
//
// Local and cloud models alike wrap JSON in markdown code fences, prepend
// conversational filler, or trail explanations after the payload. Every
// caller that "expects" JSON goes through this package and decides locally
// whether a miss is a hard error or a default-substitution point.
package parse

import (
	"encoding/json"
	"strings"
)

// Object returns the first balanced {...} block in resp as raw JSON.
// The second return value is false when no valid object is found.
func Object(resp string) (json.RawMessage, bool) {
	return extract(stripFences(resp), '{', '}')
}

// Array returns the first balanced [...] block in resp as raw JSON.
func Array(resp string) (json.RawMessage, bool) {
	return extract(stripFences(resp), '[', ']')
}

// ObjectInto extracts the first JSON object from resp and unmarshals it
// into target. Returns false if no object is found or it does not fit.
func ObjectInto(resp string, target any) bool {
	raw, ok := Object(resp)
	if !ok {
		return false
	}
	return json.Unmarshal(raw, target) == nil
}

// ArrayInto extracts the first JSON array from resp and unmarshals it
// into target. Returns false if no array is found or it does not fit.
func ArrayInto(resp string, target any) bool {
	raw, ok := Array(resp)
	if !ok {
		return false
	}
	return json.Unmarshal(raw, target) == nil
}

// stripFences removes a markdown code fence wrapper if present
// (```json ... ``` or plain ``` ... ```).
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	idx := strings.Index(s, "```")
	if idx == -1 {
		return s
	}
	s = s[idx+3:]
	if strings.HasPrefix(s, "json") {
		s = s[4:]
	}
	if end := strings.Index(s, "```"); end != -1 {
		s = s[:end]
	}
	return s
}

// extract scans for the first balanced open...close block, tracking string
// literals and escapes so braces inside values do not confuse the count.
func extract(s string, open, close byte) (json.RawMessage, bool) {
	start := strings.IndexByte(s, open)
	if start == -1 {
		return nil, false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
			// Nothing structural inside a string literal.
		case c == open:
			depth++
		case c == close:
			depth--
			if depth == 0 {
				candidate := s[start : i+1]
				if !json.Valid([]byte(candidate)) {
					return nil, false
				}
				return json.RawMessage(candidate), true
			}
		}
	}
	return nil, false
}
