package query

import (
	"regexp"
	"strings"
)

var (
	regexMeta  = regexp.MustCompile(`[(){}\[\].*?|^$\\+-]`)
	globStars  = regexp.MustCompile(`\*\*|\*`)
	globBraces = regexp.MustCompile(`\{([^}]*)\}`)
)

// EscapeRegex escapes the ASCII regex metacharacters in s. Bytes outside
// ASCII are left untouched so multi-byte UTF-8 sequences survive.
func EscapeRegex(s string) string {
	return regexMeta.ReplaceAllString(s, `\$0`)
}

// GlobToRegex converts a path glob into a regular expression.
//
//	*      any run of characters except '/'
//	**     any run of characters
//	?      any single character
//	{a,b}  alternation
//
// Parentheses, pipes and dots are matched literally.
func GlobToRegex(glob string) string {
	r := strings.NewReplacer(`(`, `\(`, `)`, `\)`, `|`, `\|`, `.`, `\.`).Replace(glob)
	r = globStars.ReplaceAllStringFunc(r, func(m string) string {
		if m == "*" {
			return "[^/]*"
		}
		return ".*"
	})
	r = strings.ReplaceAll(r, "?", ".")
	return globBraces.ReplaceAllStringFunc(r, func(m string) string {
		inner := m[1 : len(m)-1]
		return "(" + strings.ReplaceAll(inner, ",", "|") + ")"
	})
}
