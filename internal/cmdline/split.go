package cmdline

import "strings"

// SplitCommand splits a fully expanded command line into an argv slice.
// Stages are spawned without a shell, so the quoting Flatten produced (and
// any quoting in user templates) is undone here: double and single quotes
// group words, and backslash escapes the next character outside single
// quotes. An empty quoted token ("") survives as an empty argument.
func SplitCommand(s string) []string {
	var (
		argv    []string
		cur     strings.Builder
		quote   byte
		escaped bool
		pending bool // a token exists even if cur is empty (e.g. "")
	)

	flush := func() {
		if pending || cur.Len() > 0 {
			argv = append(argv, cur.String())
			cur.Reset()
			pending = false
		}
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			cur.WriteByte(c)
			escaped = false
		case c == '\\' && quote != '\'':
			escaped = true
		case quote != 0:
			if c == quote {
				quote = 0
			} else {
				cur.WriteByte(c)
			}
		case c == '"' || c == '\'':
			quote = c
			pending = true
		case c == ' ' || c == '\t':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()

	return argv
}
