package security

import (
	"strings"
)

// SplitSegments splits shell command text into simple command segments.
// Boundaries are unquoted, unescaped ';', '|', '&', newlines and subshell
// parentheses. Runs of operators such as "&&" or "||" collapse into a single
// boundary. Redirections like "2>&1" or "&>file" are not boundaries.
// Segment text is returned raw (quotes and escapes intact) and trimmed.
func SplitSegments(command string) []string {
	var (
		segments []string
		cur      strings.Builder
		inSingle bool
		inDouble bool
	)

	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			segments = append(segments, s)
		}
		cur.Reset()
	}

	runes := []rune(command)
	for i := 0; i < len(runes); i++ {
		c := runes[i]

		switch {
		case inSingle:
			cur.WriteRune(c)
			if c == '\'' {
				inSingle = false
			}
			continue
		case c == '\\':
			cur.WriteRune(c)
			if i+1 < len(runes) {
				i++
				cur.WriteRune(runes[i])
			}
			continue
		case inDouble:
			cur.WriteRune(c)
			if c == '"' {
				inDouble = false
			}
			continue
		case c == '\'':
			inSingle = true
			cur.WriteRune(c)
			continue
		case c == '"':
			inDouble = true
			cur.WriteRune(c)
			continue
		}

		if !isSegmentOperator(c) {
			cur.WriteRune(c)
			continue
		}

		if isRedirectOperator(runes, i, cur.String()) {
			cur.WriteRune(c)
			continue
		}

		flush()
		for i+1 < len(runes) && isSegmentOperator(runes[i+1]) && !isRedirectOperator(runes, i+1, "") {
			i++
		}
	}
	flush()

	return segments
}

// CommandSubstitutions returns the bodies of "$(...)" and backtick
// substitutions that the shell would run, including those inside double
// quotes. Single-quoted text is literal and skipped. An unterminated
// substitution runs to the end of the command.
func CommandSubstitutions(command string) []string {
	var (
		subs     []string
		inSingle bool
		inDouble bool
	)
	runes := []rune(command)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case inSingle:
			if c == '\'' {
				inSingle = false
			}
		case c == '\\':
			i++
		case c == '\'' && !inDouble:
			inSingle = true
		case c == '"':
			inDouble = !inDouble
		case c == '$' && i+1 < len(runes) && runes[i+1] == '(':
			end := closingParen(runes, i+1)
			subs = append(subs, string(runes[i+2:end]))
			i = end
		case c == '`':
			end := closingBacktick(runes, i+1)
			subs = append(subs, string(runes[i+1:end]))
			i = end
		}
	}
	return subs
}

// closingParen returns the index of the ')' matching runes[open], or
// len(runes).
func closingParen(runes []rune, open int) int {
	depth := 0
	for j := open; j < len(runes); j++ {
		switch runes[j] {
		case '\\':
			j++
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return j
			}
		}
	}
	return len(runes)
}

func closingBacktick(runes []rune, from int) int {
	for j := from; j < len(runes); j++ {
		switch runes[j] {
		case '\\':
			j++
		case '`':
			return j
		}
	}
	return len(runes)
}

func isSegmentOperator(c rune) bool {
	switch c {
	case ';', '|', '&', '\n', '(', ')':
		return true
	}
	return false
}

// isRedirectOperator reports whether the operator at runes[i] belongs to a
// redirection ("2>&1", ">&2", "&>out", ">|out") rather than separating commands.
func isRedirectOperator(runes []rune, i int, before string) bool {
	c := runes[i]
	if c != '&' && c != '|' {
		return false
	}
	if before != "" {
		last := before[len(before)-1]
		if last == '>' || last == '<' {
			return true
		}
	}
	return c == '&' && i+1 < len(runes) && runes[i+1] == '>'
}

// Tokenize splits one segment into argument tokens on unquoted whitespace.
// Single quotes preserve everything literally, double quotes allow backslash
// escapes, and an unquoted backslash escapes the following character. No
// expansion, globbing or substitution is performed.
func Tokenize(segment string) []string {
	var (
		tokens   []string
		cur      strings.Builder
		inToken  bool
		inSingle bool
		inDouble bool
	)

	runes := []rune(segment)
	for i := 0; i < len(runes); i++ {
		c := runes[i]

		if inSingle {
			if c == '\'' {
				inSingle = false
			} else {
				cur.WriteRune(c)
			}
			continue
		}

		if inDouble {
			switch {
			case c == '"':
				inDouble = false
			case c == '\\' && i+1 < len(runes) && strings.ContainsRune("\"\\$`\n", runes[i+1]):
				i++
				if runes[i] != '\n' {
					cur.WriteRune(runes[i])
				}
			default:
				cur.WriteRune(c)
			}
			continue
		}

		switch {
		case c == '\\':
			inToken = true
			if i+1 < len(runes) {
				i++
				if runes[i] != '\n' {
					cur.WriteRune(runes[i])
				}
			}
		case c == '\'':
			inToken = true
			inSingle = true
		case c == '"':
			inToken = true
			inDouble = true
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			if inToken {
				tokens = append(tokens, cur.String())
				cur.Reset()
				inToken = false
			}
		default:
			inToken = true
			cur.WriteRune(c)
		}
	}

	if inToken {
		tokens = append(tokens, cur.String())
	}
	return tokens
}

// isEnvAssignment reports whether tok has the form NAME=value.
func isEnvAssignment(tok string) bool {
	eq := strings.IndexByte(tok, '=')
	if eq <= 0 {
		return false
	}
	for i, c := range tok[:eq] {
		switch {
		case c == '_', c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// isRedirection reports whether tok is a redirection operator, possibly with
// its target attached ("2>&1", ">out.log", "<in"). The second result is true
// when the operator stands alone and consumes the next token as its target.
func isRedirection(tok string) (redirect bool, takesNext bool) {
	i := 0
	for i < len(tok) && tok[i] >= '0' && tok[i] <= '9' {
		i++
	}
	if i < len(tok) && tok[i] == '&' {
		i++
	}
	if i >= len(tok) || (tok[i] != '>' && tok[i] != '<') {
		return false, false
	}
	rest := strings.TrimLeft(tok[i:], "<>&|")
	return true, rest == ""
}
