// Package jsonsalvage implements the shared JSON-recovery ladder used by the
// Role Classifier (§4.4) and the Markdown Pipeline (§4.7) when an LLM
// response is not strict JSON: fenced-block extraction, brace-balance
// extraction, then pattern-recovery of complete objects.
package jsonsalvage

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// ExtractFencedBlock returns the content of the first fenced code block, or
// the original text unchanged if none is found.
func ExtractFencedBlock(text string) string {
	m := fencedBlock.FindStringSubmatch(text)
	if len(m) == 2 {
		return strings.TrimSpace(m[1])
	}
	return text
}

// ExtractBalancedBraces returns the first top-level brace-balanced JSON
// object substring found in text, scanning from the first '{'.
func ExtractBalancedBraces(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escape := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			if escape {
				escape = false
			} else if c == '\\' {
				escape = true
			} else if c == '"' {
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
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// ExtractObjects recovers every complete {...} object it can find in text,
// skipping over malformed fragments rather than failing the whole parse —
// the pattern-recovery stage of the salvage ladder.
func ExtractObjects(text string) []string {
	var out []string
	remaining := text
	for {
		obj, ok := ExtractBalancedBraces(remaining)
		if !ok {
			break
		}
		if gjson.Valid(obj) {
			out = append(out, obj)
		}
		idx := strings.Index(remaining, obj)
		if idx < 0 {
			break
		}
		remaining = remaining[idx+len(obj):]
	}
	return out
}

// Recover runs the full salvage ladder on raw LLM output and returns the
// first valid JSON object text it can find, or false if nothing salvageable
// exists. Order: as-is, fenced-block, brace-balance, pattern-recovery.
func Recover(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}
	if gjson.Valid(trimmed) {
		return trimmed, true
	}

	fenced := ExtractFencedBlock(trimmed)
	if fenced != trimmed && gjson.Valid(fenced) {
		return fenced, true
	}

	if balanced, ok := ExtractBalancedBraces(fenced); ok && gjson.Valid(balanced) {
		return balanced, true
	}

	if objs := ExtractObjects(fenced); len(objs) > 0 {
		return objs[0], true
	}

	return "", false
}
