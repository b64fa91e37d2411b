package migrate

import "strings"

// SplitStatements splits a migration file's text into its top-level
// statements (spec §4.13's splitter): it tracks single/double-quoted
// strings, block and line comments, PostgreSQL dollar-quoted blocks
// (`$tag$...$tag$`, including the anonymous `$$`), and nested
// `BEGIN...END` blocks so that semicolons inside any of those do not
// terminate a statement. An optional leading `-- description` line (the
// very first line of the file, before any statement content) is returned
// separately as the migration's description.
func SplitStatements(content string) (statements []string, description string) {
	runes := []rune(content)
	n := len(runes)

	if rest, desc, ok := leadingDescription(runes); ok {
		runes = rest
		n = len(runes)
		description = desc
	}

	var (
		stmt       strings.Builder
		statementsOut []string
		beginDepth int
		i          int
	)

	flush := func() {
		s := strings.TrimSpace(stmt.String())
		if s != "" {
			statementsOut = append(statementsOut, s)
		}
		stmt.Reset()
	}

	for i < n {
		c := runes[i]

		switch {
		case c == '\'' || c == '"':
			j := skipQuoted(runes, i, c)
			stmt.WriteString(string(runes[i:j]))
			i = j
			continue

		case c == '-' && i+1 < n && runes[i+1] == '-':
			j := i
			for j < n && runes[j] != '\n' {
				j++
			}
			stmt.WriteString(string(runes[i:j]))
			i = j
			continue

		case c == '/' && i+1 < n && runes[i+1] == '*':
			j := i + 2
			for j+1 < n && !(runes[j] == '*' && runes[j+1] == '/') {
				j++
			}
			j = min(j+2, n)
			stmt.WriteString(string(runes[i:j]))
			i = j
			continue

		case c == '$':
			if j, ok := skipDollarQuoted(runes, i); ok {
				stmt.WriteString(string(runes[i:j]))
				i = j
				continue
			}
			stmt.WriteRune(c)
			i++
			continue

		case isWordStart(runes, i, "BEGIN"):
			beginDepth++
			stmt.WriteString("BEGIN")
			i += len("BEGIN")
			continue

		case isWordStart(runes, i, "END"):
			if beginDepth > 0 {
				beginDepth--
			}
			stmt.WriteString("END")
			i += len("END")
			continue

		case c == ';' && beginDepth == 0:
			stmt.WriteRune(c)
			flush()
			i++
			continue

		default:
			stmt.WriteRune(c)
			i++
		}
	}
	flush()

	return statementsOut, description
}

// leadingDescription strips a single leading "-- text" comment line used
// as the migration's description, if the file starts with one.
func leadingDescription(runes []rune) (rest []rune, description string, ok bool) {
	trimmed := 0
	for trimmed < len(runes) && (runes[trimmed] == ' ' || runes[trimmed] == '\t' || runes[trimmed] == '\n' || runes[trimmed] == '\r') {
		trimmed++
	}
	if trimmed+1 >= len(runes) || runes[trimmed] != '-' || runes[trimmed+1] != '-' {
		return runes, "", false
	}
	lineEnd := trimmed
	for lineEnd < len(runes) && runes[lineEnd] != '\n' {
		lineEnd++
	}
	text := strings.TrimSpace(string(runes[trimmed+2 : lineEnd]))
	return runes[lineEnd:], text, true
}

func skipQuoted(runes []rune, i int, quote rune) int {
	j := i + 1
	for j < len(runes) {
		if runes[j] == quote {
			// SQL escapes a quote by doubling it.
			if j+1 < len(runes) && runes[j+1] == quote {
				j += 2
				continue
			}
			return j + 1
		}
		j++
	}
	return j
}

// skipDollarQuoted recognizes a $tag$...$tag$ block starting at i, where
// tag may be empty. Returns the index just past the closing tag and true
// if a matching close is found; otherwise false (caller treats '$' as an
// ordinary character).
func skipDollarQuoted(runes []rune, i int) (int, bool) {
	j := i + 1
	for j < len(runes) && runes[j] != '$' && isTagChar(runes[j]) {
		j++
	}
	if j >= len(runes) || runes[j] != '$' {
		return 0, false
	}
	tag := string(runes[i : j+1]) // includes both '$' delimiters
	closeAt := indexOf(runes, j+1, tag)
	if closeAt < 0 {
		return 0, false
	}
	return closeAt + len(tag), true
}

func isTagChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_'
}

func indexOf(runes []rune, from int, tag string) int {
	s := string(runes[from:])
	idx := strings.Index(s, tag)
	if idx < 0 {
		return -1
	}
	return from + len([]rune(s[:idx]))
}

func isWordStart(runes []rune, i int, word string) bool {
	w := []rune(word)
	if i+len(w) > len(runes) {
		return false
	}
	for k, r := range w {
		if toUpper(runes[i+k]) != r {
			return false
		}
	}
	if i > 0 && isIdentChar(runes[i-1]) {
		return false
	}
	end := i + len(w)
	if end < len(runes) && isIdentChar(runes[end]) {
		return false
	}
	return true
}

func isIdentChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_'
}

func toUpper(r rune) rune {
	if r >= 'a' && r <= 'z' {
		return r - ('a' - 'A')
	}
	return r
}
