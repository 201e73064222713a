package utils

import "strings"

// ExtractQuoted returns the substrings enclosed in double or single quotes,
// in order of appearance. Curly quotes from mobile keyboards count too.
func ExtractQuoted(s string) []string {
	var out []string
	pairs := []struct{ open, close rune }{
		{'"', '"'},
		{'\'', '\''},
		{'“', '”'}, // “ ”
		{'‘', '’'}, // ‘ ’
	}
	for _, p := range pairs {
		rest := s
		for {
			i := strings.IndexRune(rest, p.open)
			if i < 0 {
				break
			}
			rest = rest[i+len(string(p.open)):]
			j := strings.IndexRune(rest, p.close)
			if j < 0 {
				break
			}
			if q := strings.TrimSpace(rest[:j]); q != "" {
				out = append(out, q)
			}
			rest = rest[j+len(string(p.close)):]
		}
	}
	return out
}

// NormalizeSpace lowercases s and collapses runs of whitespace to one space.
func NormalizeSpace(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Truncate shortens s to at most n bytes, appending "..." when cut.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
