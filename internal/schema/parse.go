// Package schema extracts structured role results from raw model text.
//
// Models are asked to reply with a JSON object, but in practice wrap it
// in Markdown fences, split long fields across multiple objects, or emit
// prose around the payload. Parse recovers the object when possible and
// fails closed otherwise: callers always get either a mapping containing
// every required key, or invalid — never a partial result, never a panic.
package schema

import (
	"encoding/json"
	"strings"
)

// Object is a validated role result: a mapping guaranteed by Parse to
// contain every required key.
type Object map[string]any

// Parse extracts a JSON object from raw model output. The whole-response
// Markdown fence is stripped if present, then a strict decode is
// attempted. On decode failure it falls back to scanning the text for
// balanced-brace substrings, decoding each independently and merging
// them key by key (string values concatenate, which recovers fields a
// model split across multiple fenced blocks).
//
// Returns (nil, false) if nothing decodes or any required key is absent
// from the merged mapping.
func Parse(raw string, required ...string) (Object, bool) {
	clean := StripFence(raw)

	merged := Object{}
	var strict map[string]any
	if err := json.Unmarshal([]byte(clean), &strict); err == nil {
		merged = strict
	} else {
		for _, candidate := range balancedObjects(clean) {
			var m map[string]any
			if err := json.Unmarshal([]byte(candidate), &m); err != nil {
				continue
			}
			merge(merged, m)
		}
	}

	if len(merged) == 0 {
		return nil, false
	}
	for _, key := range required {
		if _, ok := merged[key]; !ok {
			return nil, false
		}
	}
	return merged, true
}

// merge folds src into dst. Keys new to dst are copied; keys present in
// both with string values are concatenated (discovery order preserved);
// anything else keeps the first value seen.
func merge(dst Object, src map[string]any) {
	for k, v := range src {
		old, exists := dst[k]
		if !exists {
			dst[k] = v
			continue
		}
		os, oldIsStr := old.(string)
		ns, newIsStr := v.(string)
		if oldIsStr && newIsStr {
			dst[k] = os + ns
		}
	}
}

// balancedObjects returns every top-level balanced {...} substring,
// respecting JSON string literals and escapes so braces inside strings
// do not confuse the scan.
func balancedObjects(s string) []string {
	var out []string
	depth := 0
	start := -1
	inString := false
	escaped := false

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
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					out = append(out, s[start:i+1])
					start = -1
				}
			}
		}
	}
	return out
}

// StripFence removes a Markdown code fence that wraps the entire
// response. Text that is not fully fenced is returned unchanged (minus
// surrounding whitespace).
func StripFence(raw string) string {
	s := strings.TrimSpace(raw)
	for _, fence := range []string{"```", "~~~"} {
		if !strings.HasPrefix(s, fence) || !strings.HasSuffix(s, fence) || len(s) < 2*len(fence)+1 {
			continue
		}
		body := s[len(fence) : len(s)-len(fence)]
		// Drop the info string ("json", "python", ...) on the opening line.
		if idx := strings.IndexByte(body, '\n'); idx >= 0 {
			body = body[idx+1:]
		} else {
			body = ""
		}
		return strings.TrimSpace(body)
	}
	return s
}

// String returns the value for key as a string. Non-string values
// (including absent keys) yield "".
func (o Object) String(key string) string {
	s, _ := o[key].(string)
	return s
}

// StringSlice returns the value for key as a string slice. JSON arrays
// decode as []any; non-string elements are skipped. Absent or non-array
// values yield nil.
func (o Object) StringSlice(key string) []string {
	switch v := o[key].(type) {
	case []string:
		return v
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// StringMap returns the value for key as a string-to-string map.
// Non-string values are rendered via JSON so nested structures remain
// readable. Absent or non-object values yield nil.
func (o Object) StringMap(key string) map[string]string {
	m, ok := o[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		if data, err := json.Marshal(v); err == nil {
			out[k] = string(data)
		}
	}
	return out
}

// Bool returns the value for key as a boolean. Native JSON booleans are
// accepted, as are exactly the strings "True" and "False" (a convention
// some prompts use). Any other value is invalid: ok is false rather
// than a coerced guess.
func (o Object) Bool(key string) (value, ok bool) {
	switch v := o[key].(type) {
	case bool:
		return v, true
	case string:
		switch v {
		case "True":
			return true, true
		case "False":
			return false, true
		}
	}
	return false, false
}
