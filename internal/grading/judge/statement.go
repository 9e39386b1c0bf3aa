package judge

import "strings"

// sessionKeywords lead statements that end, nest or reconfigure the judging
// transaction. Candidate queries starting with one are never executed.
var sessionKeywords = map[string]bool{
	"BEGIN":     true,
	"START":     true,
	"COMMIT":    true,
	"END":       true,
	"ROLLBACK":  true,
	"ABORT":     true,
	"SAVEPOINT": true,
	"RELEASE":   true,
	"SET":       true,
	"RESET":     true,
}

// transactionControl returns the offending keyword when any statement in query
// controls the transaction or session.
func transactionControl(query string) (string, bool) {
	for _, stmt := range strings.Split(stripLiterals(query), ";") {
		words := strings.Fields(stmt)
		if len(words) == 0 {
			continue
		}
		first := strings.ToUpper(words[0])
		if sessionKeywords[first] {
			return first, true
		}
		if first == "PREPARE" && len(words) > 1 && strings.EqualFold(words[1], "TRANSACTION") {
			return "PREPARE TRANSACTION", true
		}
	}
	return "", false
}

// stripLiterals blanks out comments, quoted strings, quoted identifiers and
// dollar-quoted bodies so that only statement text remains. Backslash escapes
// are not honored; a literal then ends early and more text is checked, never less.
func stripLiterals(query string) string {
	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); {
		c := query[i]
		switch {
		case c == '-' && strings.HasPrefix(query[i:], "--"):
			end := strings.IndexByte(query[i:], '\n')
			if end < 0 {
				return b.String()
			}
			i += end
		case c == '/' && strings.HasPrefix(query[i:], "/*"):
			end := blockCommentEnd(query, i)
			if end < 0 {
				return b.String()
			}
			b.WriteByte(' ')
			i = end
		case c == '\'' || c == '"':
			end := strings.IndexByte(query[i+1:], c)
			if end < 0 {
				return b.String()
			}
			b.WriteByte(' ')
			i += end + 2
		case c == '$' && (i == 0 || !identByte(query[i-1])):
			tag, ok := dollarTag(query[i:])
			if !ok {
				b.WriteByte(c)
				i++
				continue
			}
			end := strings.Index(query[i+len(tag):], tag)
			if end < 0 {
				return b.String()
			}
			b.WriteByte(' ')
			i += len(tag) + end + len(tag)
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

// blockCommentEnd returns the index after the comment opened at start. Comments nest.
func blockCommentEnd(query string, start int) int {
	depth := 0
	for i := start; i+1 < len(query); {
		switch {
		case query[i] == '/' && query[i+1] == '*':
			depth++
			i += 2
		case query[i] == '*' && query[i+1] == '/':
			depth--
			i += 2
			if depth == 0 {
				return i
			}
		default:
			i++
		}
	}
	return -1
}

// dollarTag reads a $tag$ or $$ opener at the start of s.
func dollarTag(s string) (string, bool) {
	for i := 1; i < len(s); i++ {
		c := s[i]
		if c == '$' {
			return s[:i+1], true
		}
		if !identByte(c) || (i == 1 && c >= '0' && c <= '9') {
			return "", false
		}
	}
	return "", false
}

func identByte(c byte) bool {
	return c == '_' || c == '$' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}
