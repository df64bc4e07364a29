package extract

import (
	"strings"
)

// CleanJSON pulls the first balanced JSON object or array out of free-form
// model output. It drops markdown code fences and surrounding prose, strips
// C-style comments and rewrites numbers such as ".5" into valid JSON. The
// boolean is false when no balanced block exists.
func CleanJSON(raw string) (string, bool) {
	block := balancedBlock(stripCodeFences(raw))
	if block == "" {
		return "", false
	}
	block = stripJSONComments(block)
	block = normalizeLeadingDecimals(block)
	return block, true
}

func stripCodeFences(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// balancedBlock returns the first {...} or [...] span whose brackets balance
// outside string literals.
func balancedBlock(s string) string {
	start := strings.IndexAny(s, "{[")
	if start == -1 {
		return ""
	}
	open := s[start]
	closing := byte('}')
	if open == '[' {
		closing = ']'
	}

	depth := 0
	sc := scanner{}
	for i := start; i < len(s); i++ {
		c := s[i]
		if sc.step(c) {
			continue
		}
		switch c {
		case open:
			depth++
		case closing:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// scanner tracks whether the cursor is inside a JSON string literal.
type scanner struct {
	inString bool
	escaped  bool
}

// step consumes c and reports whether it belongs to a string literal (and so
// must be copied through untouched).
func (sc *scanner) step(c byte) bool {
	switch {
	case sc.escaped:
		sc.escaped = false
		return true
	case c == '\\' && sc.inString:
		sc.escaped = true
		return true
	case c == '"':
		sc.inString = !sc.inString
		return true
	}
	return sc.inString
}

func stripJSONComments(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	sc := scanner{}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if sc.step(c) {
			b.WriteByte(c)
			continue
		}
		if c == '/' && i+1 < len(s) && s[i+1] == '/' {
			for i+1 < len(s) && s[i+1] != '\n' {
				i++
			}
			continue
		}
		if c == '/' && i+1 < len(s) && s[i+1] == '*' {
			i += 2
			for i+1 < len(s) && !(s[i] == '*' && s[i+1] == '/') {
				i++
			}
			i++
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// normalizeLeadingDecimals turns ".8" and "-.3" into "0.8" and "-0.3".
func normalizeLeadingDecimals(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	sc := scanner{}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if sc.step(c) {
			b.WriteByte(c)
			continue
		}
		if c == '.' && i+1 < len(s) && isDigit(s[i+1]) && isNumericBoundary(prevNonSpace(s, i-1)) {
			b.WriteByte('0')
		}
		b.WriteByte(c)
	}
	return b.String()
}

func prevNonSpace(s string, i int) byte {
	for ; i >= 0; i-- {
		switch s[i] {
		case ' ', '\n', '\r', '\t':
			continue
		}
		return s[i]
	}
	return 0
}

func isNumericBoundary(c byte) bool {
	switch c {
	case 0, ':', ',', '[', '{', '-':
		return true
	}
	return false
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
