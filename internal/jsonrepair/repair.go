// Package jsonrepair recovers structured JSON from raw LLM output.
//
// Generation models wrap JSON in markdown fences, surround it with prose,
// leave trailing commas, and emit domain notation with bare backslashes that
// are illegal inside JSON strings. Each repair step is a best-effort textual
// transform, not a full parser; the final authority on validity is
// encoding/json.
package jsonrepair

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	snippetLen   = 200
	windowRadius = 100
)

// UnrecoverableParseError is returned when every repair heuristic fails.
// It carries enough of the raw and cleaned text to diagnose the failure
// from logs without replaying the LLM call.
type UnrecoverableParseError struct {
	Message     string `json:"message"`
	RawHead     string `json:"raw_head"`
	RawTail     string `json:"raw_tail"`
	CleanedHead string `json:"cleaned_head"`
	CleanedTail string `json:"cleaned_tail"`
	ErrorWindow string `json:"error_window"`
}

func (e *UnrecoverableParseError) Error() string {
	return fmt.Sprintf("unrecoverable JSON parse failure: %s", e.Message)
}

// Repair runs the cleanup cascade over raw LLM text and returns a string
// that parses as JSON. Pure function over text, no side effects.
func Repair(raw string) (string, error) {
	cleaned := stripCodeFences(raw)
	cleaned = extractDominantFragment(cleaned)
	cleaned = stripComments(cleaned)
	cleaned = removeTrailingCommas(cleaned)
	cleaned = escapeControlCharsInStrings(cleaned)
	cleaned = fixInvalidEscapes(cleaned)
	cleaned = normalizeUnicode(cleaned)

	parseErr := checkParse(cleaned)
	if parseErr == nil {
		return cleaned, nil
	}

	// One truncation retry: cut at the last complete closing delimiter
	// before the fault, re-balance whatever is still open, and re-parse.
	offset := parseOffset(parseErr, len(cleaned))
	truncated := truncateAtLastDelimiter(cleaned, offset)
	if truncated != "" {
		truncated = closeOpenDelimiters(truncated)
		if checkParse(truncated) == nil {
			return truncated, nil
		}
	}

	return "", &UnrecoverableParseError{
		Message:     parseErr.Error(),
		RawHead:     head(raw, snippetLen),
		RawTail:     tail(raw, snippetLen),
		CleanedHead: head(cleaned, snippetLen),
		CleanedTail: tail(cleaned, snippetLen),
		ErrorWindow: window(cleaned, offset, windowRadius),
	}
}

// Unmarshal repairs raw and decodes the result into v.
func Unmarshal(raw string, v interface{}) error {
	cleaned, err := Repair(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return fmt.Errorf("decode repaired JSON: %w", err)
	}
	return nil
}

func checkParse(s string) error {
	var v interface{}
	return json.Unmarshal([]byte(s), &v)
}

func parseOffset(err error, max int) int {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		off := int(syntaxErr.Offset)
		if off > max {
			off = max
		}
		if off < 0 {
			off = 0
		}
		return off
	}
	return max
}

// ── Step 1: markdown fences ─────────────────────────────

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = s[3:]
		// Optional language tag on the fence line.
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			firstLine := strings.TrimSpace(s[:nl])
			if firstLine == "" || strings.EqualFold(firstLine, "json") {
				s = s[nl+1:]
			}
		} else {
			s = strings.TrimPrefix(strings.TrimSpace(s), "json")
		}
		s = strings.TrimSpace(s)
	}
	if strings.HasSuffix(s, "```") {
		s = strings.TrimSpace(s[:len(s)-3])
	}
	return s
}

// ── Steps 2–3: dominant-shape fragment extraction ───────

// extractDominantFragment decides whether the payload is array- or
// object-shaped by whichever opening delimiter appears first, then keeps the
// longest bracket-balanced candidate of that shape. Explanatory prose around
// the JSON falls away here.
func extractDominantFragment(s string) string {
	objIdx := strings.IndexByte(s, '{')
	arrIdx := strings.IndexByte(s, '[')

	var open, close byte
	switch {
	case objIdx < 0 && arrIdx < 0:
		return s
	case objIdx < 0:
		open, close = '[', ']'
	case arrIdx < 0:
		open, close = '{', '}'
	case arrIdx < objIdx:
		open, close = '[', ']'
	default:
		open, close = '{', '}'
	}

	best := ""
	depth := 0
	start := -1
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			if c == '\\' {
				i++
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			if depth == 0 {
				start = i
			}
			depth++
		case close:
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					candidate := s[start : i+1]
					if len(candidate) > len(best) {
						best = candidate
					}
					start = -1
				}
			}
		}
	}
	if best != "" {
		return best
	}

	// Nothing balanced — fall back to first opening through last closing
	// delimiter (or end of text) and let the truncation retry cope.
	first := strings.IndexByte(s, open)
	if first < 0 {
		return s
	}
	last := strings.LastIndexByte(s, close)
	if last > first {
		return s[first : last+1]
	}
	return s[first:]
}

// ── Step 4: comments and trailing commas ────────────────

func stripComments(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			if c == '\\' && i+1 < len(s) {
				i++
				b.WriteByte(s[i])
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch {
		case c == '"':
			inString = true
			b.WriteByte(c)
		case c == '/' && i+1 < len(s) && s[i+1] == '/':
			for i < len(s) && s[i] != '\n' {
				i++
			}
			if i < len(s) {
				b.WriteByte('\n')
			}
		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			i += 2
			for i+1 < len(s) && !(s[i] == '*' && s[i+1] == '/') {
				i++
			}
			i++ // skip the trailing '/'
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func removeTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			if c == '\\' && i+1 < len(s) {
				i++
				b.WriteByte(s[i])
			} else if c == '"' {
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			b.WriteByte(c)
			continue
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n' || s[j] == '\r') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue // drop the comma, keep scanning from the whitespace
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// ── Step 5: raw control characters inside strings ───────

func escapeControlCharsInStrings(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !inString {
			if c == '"' {
				inString = true
			}
			b.WriteByte(c)
			continue
		}
		switch c {
		case '\\':
			b.WriteByte(c)
			if i+1 < len(s) {
				i++
				b.WriteByte(s[i])
			}
		case '"':
			inString = false
			b.WriteByte(c)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// ── Step 6: invalid backslash sequences ─────────────────

// fixInvalidEscapes doubles every backslash that does not start a valid JSON
// escape. Models writing math or markup notation (\in, \frac, \alpha) emit
// bare backslashes constantly; a valid escape or 4-hex-digit \u sequence is
// left alone so already-correct strings survive untouched.
func fixInvalidEscapes(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !inString {
			if c == '"' {
				inString = true
			}
			b.WriteByte(c)
			continue
		}
		if c == '"' {
			inString = false
			b.WriteByte(c)
			continue
		}
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(s) {
			b.WriteString(`\\`)
			continue
		}
		next := s[i+1]
		switch next {
		case '"', '\\', '/', 'b', 'f', 'n', 'r', 't':
			b.WriteByte('\\')
			b.WriteByte(next)
			i++
		case 'u':
			if i+5 < len(s) && isHex(s[i+2]) && isHex(s[i+3]) && isHex(s[i+4]) && isHex(s[i+5]) {
				b.WriteString(s[i : i+6])
				i += 5
			} else {
				b.WriteString(`\\`)
			}
		default:
			b.WriteString(`\\`)
		}
	}
	return b.String()
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// ── Step 7: smart quotes and invisible characters ───────

var unicodeReplacer = strings.NewReplacer(
	"\u2018", "'", // left single quote
	"\u2019", "'", // right single quote
	"\u201c", `"`, // left double quote
	"\u201d", `"`, // right double quote
	"\u200b", "", // zero-width space
	"\u200c", "", // zero-width non-joiner
	"\u200d", "", // zero-width joiner
	"\u2060", "", // word joiner
	"\ufeff", "", // byte-order mark
)

func normalizeUnicode(s string) string {
	return unicodeReplacer.Replace(s)
}

// ── Truncation retry helpers ────────────────────────────

func truncateAtLastDelimiter(s string, before int) string {
	if before > len(s) {
		before = len(s)
	}
	for i := before - 1; i >= 0; i-- {
		if s[i] == '}' || s[i] == ']' {
			return s[:i+1]
		}
	}
	return ""
}

func closeOpenDelimiters(s string) string {
	var stack []byte
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			if c == '\\' {
				i++
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	var b strings.Builder
	b.WriteString(s)
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}

// ── Diagnostics ─────────────────────────────────────────

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func window(s string, offset, radius int) string {
	lo := offset - radius
	if lo < 0 {
		lo = 0
	}
	hi := offset + radius
	if hi > len(s) {
		hi = len(s)
	}
	return s[lo:hi]
}
