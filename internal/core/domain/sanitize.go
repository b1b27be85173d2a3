package domain

import (
	"regexp"
	"strings"
)

var inList = regexp.MustCompile(`(?i)\bIN\s*\(([^()]*)\)`)

// Sanitize applies cosmetic repairs to generated SQL before validation:
// duplicate items inside IN (...) lists are removed and missing closing
// parentheses are appended. It never removes anything the validator would
// reject, and changes lists what was rewritten.
func Sanitize(sql string) (out string, changes []string) {
	out = inList.ReplaceAllStringFunc(sql, func(m string) string {
		sub := inList.FindStringSubmatch(m)
		items := splitOutsideQuotes(sub[1], ',')
		seen := make(map[string]bool, len(items))
		kept := make([]string, 0, len(items))
		for _, it := range items {
			it = strings.TrimSpace(it)
			if seen[it] {
				continue
			}
			seen[it] = true
			kept = append(kept, it)
		}
		if len(kept) == len(items) {
			return m
		}
		changes = append(changes, "deduplicated IN list")
		return m[:strings.Index(m, "(")+1] + strings.Join(kept, ", ") + ")"
	})

	if open := unclosedParens(out); open > 0 {
		out = strings.TrimRight(out, " \t\r\n;") + strings.Repeat(")", open)
		changes = append(changes, "balanced parentheses")
	}
	return out, changes
}

func splitOutsideQuotes(s string, sep rune) []string {
	var (
		parts []string
		start int
		quote rune
	)
	for i, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == sep:
			parts = append(parts, s[start:i])
			start = i + len(string(sep))
		}
	}
	return append(parts, s[start:])
}

// unclosedParens counts '(' left open outside quoted text.
func unclosedParens(s string) int {
	depth := 0
	var quote rune
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '(':
			depth++
		case r == ')':
			depth = max(0, depth-1)
		}
	}
	return depth
}
