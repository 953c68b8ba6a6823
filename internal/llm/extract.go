package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

// ExtractJSON recovers a JSON document from model output. Models wrap
// JSON in prose, markdown fences and broken escapes, so extraction runs
// a cascade of increasingly aggressive strategies and stops at the
// first one that yields a document that actually parses. Returns false
// when nothing salvageable is found; it never panics on garbage.
func ExtractJSON(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}

	// 1. The whole output, trimmed, is already valid JSON.
	trimmed := strings.TrimSpace(raw)
	if isJSONDocument(trimmed) {
		return trimmed, true
	}

	// 2. A fenced code block.
	if doc, ok := fromFence(raw); ok {
		return doc, true
	}

	// 3. The trimmed output with common escape damage repaired.
	if fixed := fixEscapes(trimmed); isJSONDocument(fixed) {
		return fixed, true
	}

	// 4. The first balanced object or array found by a depth scan.
	if doc, ok := fromBalancedScan(raw); ok {
		return doc, true
	}

	// 5. Regex-matched object candidates, shortest first.
	if doc, ok := fromRegex(raw); ok {
		return doc, true
	}

	// 6. Everything between the first '{' and the last '}'.
	if doc, ok := fromOuterBraces(raw); ok {
		return doc, true
	}

	// Asking a model to repair its own broken JSON is possible here
	// but doubles cost for marginal gain, so the cascade ends.
	return "", false
}

// isJSONDocument reports whether s parses as a JSON object or array.
// Bare scalars are rejected: a lone number inside prose is never the
// document the caller asked for.
func isJSONDocument(s string) bool {
	if len(s) == 0 || (s[0] != '{' && s[0] != '[') {
		return false
	}
	return json.Valid([]byte(s))
}

var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

func fromFence(raw string) (string, bool) {
	for _, m := range fenceRe.FindAllStringSubmatch(raw, -1) {
		candidate := strings.TrimSpace(m[1])
		if isJSONDocument(candidate) {
			return candidate, true
		}
		if fixed := fixEscapes(candidate); isJSONDocument(fixed) {
			return fixed, true
		}
	}
	return "", false
}

// escapeFixes repairs the escape sequences models most often invent
var escapeFixes = []struct{ from, to string }{
	{`\_`, `_`},
	{`\*`, `*`},
	{`\-`, `-`},
	{`\'`, `'`},
	{"\\\n", `\n`},
}

func fixEscapes(s string) string {
	for _, f := range escapeFixes {
		s = strings.ReplaceAll(s, f.from, f.to)
	}
	// Strip raw control characters that are illegal inside strings.
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// fromBalancedScan walks the text tracking brace depth outside string
// literals and returns the first balanced object or array that parses.
func fromBalancedScan(raw string) (string, bool) {
	for i := 0; i < len(raw); i++ {
		open := raw[i]
		if open != '{' && open != '[' {
			continue
		}
		if end, ok := matchBalanced(raw, i); ok {
			candidate := raw[i : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, true
			}
			if fixed := fixEscapes(candidate); json.Valid([]byte(fixed)) {
				return fixed, true
			}
		}
	}
	return "", false
}

// matchBalanced finds the index of the delimiter closing the one at
// start, skipping string literals and their escapes
func matchBalanced(s string, start int) (int, bool) {
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
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

var objectRe = regexp.MustCompile(`(?s)\{.*?\}`)

func fromRegex(raw string) (string, bool) {
	for _, m := range objectRe.FindAllString(raw, -1) {
		if isJSONDocument(m) {
			return m, true
		}
	}
	return "", false
}

func fromOuterBraces(raw string) (string, bool) {
	first := strings.IndexByte(raw, '{')
	last := strings.LastIndexByte(raw, '}')
	if first < 0 || last <= first {
		return "", false
	}
	candidate := raw[first : last+1]
	if isJSONDocument(candidate) {
		return candidate, true
	}
	if fixed := fixEscapes(candidate); isJSONDocument(fixed) {
		return fixed, true
	}
	return "", false
}
