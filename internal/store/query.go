package store

import (
	"strings"
	"unicode"
)

var allowedLeading = []string{"SELECT", "WITH", "EXPLAIN"}

// validateQuery returns the statement without trailing semicolons, or an
// error when it is blank, holds several statements, or does not start as a read.
func validateQuery(query string) (string, error) {
	stmt := strings.TrimSpace(query)
	for strings.HasSuffix(stmt, ";") {
		stmt = strings.TrimSpace(strings.TrimSuffix(stmt, ";"))
	}
	body := strings.TrimSpace(stripComments(stmt))
	if body == "" {
		return "", ErrEmptyQuery
	}
	if hasStatementSeparator(stmt) {
		return "", ErrMultipleStatements
	}

	keyword := strings.ToUpper(leadingWord(body))
	for _, k := range allowedLeading {
		if keyword == k {
			return stmt, nil
		}
	}
	return "", ErrReadOnly
}

func leadingWord(s string) string {
	end := strings.IndexFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if end < 0 {
		return s
	}
	return s[:end]
}

// scan walks s, calling visit for every byte outside quotes and comments.
// Returning false from visit stops the walk.
func scan(s string, visit func(i int) bool) {
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\'' || c == '"' || c == '`':
			j := i + 1
			for j < len(s) {
				if s[j] == c {
					if j+1 < len(s) && s[j+1] == c {
						j += 2
						continue
					}
					break
				}
				j++
			}
			i = j
		case c == '[':
			if j := strings.IndexByte(s[i:], ']'); j >= 0 {
				i += j
			} else {
				i = len(s)
			}
		case c == '-' && i+1 < len(s) && s[i+1] == '-':
			if j := strings.IndexByte(s[i:], '\n'); j >= 0 {
				i += j
			} else {
				i = len(s)
			}
		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			if j := strings.Index(s[i+2:], "*/"); j >= 0 {
				i += j + 3
			} else {
				i = len(s)
			}
		default:
			if !visit(i) {
				return
			}
		}
	}
}

func hasStatementSeparator(s string) bool {
	found := false
	scan(s, func(i int) bool {
		if s[i] == ';' {
			found = true
			return false
		}
		return true
	})
	return found
}

func stripComments(s string) string {
	var b strings.Builder
	last := 0
	for i := 0; i < len(s); i++ {
		switch {
		case strings.HasPrefix(s[i:], "--"):
			b.WriteString(s[last:i])
			j := strings.IndexByte(s[i:], '\n')
			if j < 0 {
				return b.String()
			}
			i += j
			last = i
		case strings.HasPrefix(s[i:], "/*"):
			b.WriteString(s[last:i])
			j := strings.Index(s[i+2:], "*/")
			if j < 0 {
				return b.String()
			}
			i += j + 3
			last = i + 1
			b.WriteByte(' ')
		case s[i] == '\'' || s[i] == '"':
			if j := strings.IndexByte(s[i+1:], s[i]); j >= 0 {
				i += j + 1
			} else {
				i = len(s)
			}
		}
	}
	b.WriteString(s[last:])
	return b.String()
}
