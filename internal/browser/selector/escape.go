package selector

import (
	"fmt"
	"strings"
)

// quoteString renders s as a double-quoted CSS string literal.
func quoteString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch {
		case r == '"' || r == '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == 0:
			b.WriteString(`\fffd `)
		case r < 0x20 || r == 0x7f:
			// Trailing space terminates the hex escape.
			fmt.Fprintf(&b, `\%x `, r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// escapeIdent escapes s for use as a CSS identifier (tag-less id, class or
// attribute name), following the CSSOM serialize-an-identifier rules. Plain
// names like "data-t" or "btn_primary" come back unchanged.
func escapeIdent(s string) string {
	if s == "" {
		return s
	}
	if !needsEscape(s) {
		return s
	}
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		switch {
		case r == 0:
			b.WriteString(`\fffd `)
		case (r >= 0x01 && r <= 0x1f) || r == 0x7f:
			fmt.Fprintf(&b, `\%x `, r)
		case i == 0 && r >= '0' && r <= '9':
			fmt.Fprintf(&b, `\%x `, r)
		case i == 1 && r >= '0' && r <= '9' && runes[0] == '-':
			fmt.Fprintf(&b, `\%x `, r)
		case i == 0 && r == '-' && (len(runes) == 1 || runes[1] == '-'):
			// "--name" is a valid identifier, but not every selector engine
			// accepts a leading double dash unescaped.
			b.WriteString(`\-`)
		case r >= 0x80 || r == '-' || r == '_' ||
			(r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			b.WriteRune(r)
		default:
			b.WriteByte('\\')
			b.WriteRune(r)
		}
	}
	return b.String()
}

func needsEscape(s string) bool {
	for i, r := range s {
		if r >= 0x80 || r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			continue
		}
		if r == '-' {
			if i == 0 && (len(s) == 1 || s[1] == '-') {
				return true
			}
			continue
		}
		if r >= '0' && r <= '9' {
			if i == 0 || (i == 1 && s[0] == '-') {
				return true
			}
			continue
		}
		return true
	}
	return false
}
