package orchestrator

import (
	"regexp"
	"strings"
)

var (
	fenceRe         = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)
	unquotedKeyRe   = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)(\s*:)`)
)

// ExtractJSONBlock pulls the most likely JSON document out of free-form model
// output. It prefers a fenced code block, then falls back to the first
// balanced object or array found in the text. Returns "" when nothing
// JSON-shaped is present.
func ExtractJSONBlock(text string) string {
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		if inner := strings.TrimSpace(m[1]); inner != "" {
			return inner
		}
	}
	objStart := strings.IndexAny(text, "{[")
	if objStart < 0 {
		return ""
	}
	open := rune(text[objStart])
	var close rune
	if open == '{' {
		close = '}'
	} else {
		close = ']'
	}
	depth := 0
	inString := false
	escaped := false
	for i, r := range text[objStart:] {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return text[objStart : objStart+i+1]
			}
		}
	}
	// Unbalanced: return the tail and let RepairJSON close it.
	return text[objStart:]
}

// RepairJSON applies a series of mechanical fixes to almost-JSON text:
// stray code fences, trailing commas, unquoted object keys, single-quoted
// strings, and unterminated braces or brackets. The result is not guaranteed
// to parse; callers must still unmarshal and handle failure.
func RepairJSON(text string) string {
	s := strings.TrimSpace(text)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	s = trailingCommaRe.ReplaceAllString(s, "$1")
	s = unquotedKeyRe.ReplaceAllString(s, `$1"$2"$3`)
	s = convertSingleQuotes(s)
	s = balanceBrackets(s)
	return s
}

// convertSingleQuotes rewrites single-quoted JSON strings to double-quoted
// ones, leaving apostrophes inside double-quoted strings alone.
func convertSingleQuotes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inDouble := false
	inSingle := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			b.WriteByte(c)
			escaped = false
			continue
		}
		switch {
		case c == '\\' && (inDouble || inSingle):
			b.WriteByte(c)
			escaped = true
		case c == '"' && !inSingle:
			inDouble = !inDouble
			b.WriteByte(c)
		case c == '\'' && !inDouble:
			inSingle = !inSingle
			b.WriteByte('"')
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// balanceBrackets appends the closing braces and brackets a truncated
// document is missing.
func balanceBrackets(s string) string {
	var stack []byte
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
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}':
			if len(stack) > 0 && stack[len(stack)-1] == '{' {
				stack = stack[:len(stack)-1]
			}
		case ']':
			if len(stack) > 0 && stack[len(stack)-1] == '[' {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if inString {
		s += `"`
	} else {
		s = trimIncompletePair(s)
	}
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			s += "}"
		} else {
			s += "]"
		}
	}
	return s
}

// trimIncompletePair drops a dangling comma, or a key truncated before its
// value, from the end of a cut-off document.
func trimIncompletePair(s string) string {
	t := strings.TrimRight(s, " \t\r\n")
	if strings.HasSuffix(t, ",") {
		return strings.TrimRight(t[:len(t)-1], " \t\r\n")
	}
	if !strings.HasSuffix(t, ":") {
		return t
	}
	t = strings.TrimRight(t[:len(t)-1], " \t\r\n")
	if strings.HasSuffix(t, `"`) {
		i := len(t) - 2
		for i >= 0 && !(t[i] == '"' && (i == 0 || t[i-1] != '\\')) {
			i--
		}
		if i >= 0 {
			t = strings.TrimRight(t[:i], " \t\r\n")
		}
	}
	t = strings.TrimRight(strings.TrimSuffix(t, ","), " \t\r\n")
	return t
}
