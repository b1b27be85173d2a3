package domain

import "strings"

// IsExplain reports whether sql is an EXPLAIN statement.
func IsExplain(sql string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(sql)), "EXPLAIN")
}

// TrimStatement strips surrounding whitespace and trailing semicolons so a
// single statement can be embedded in a subquery.
func TrimStatement(sql string) string {
	return strings.TrimSpace(strings.TrimRight(strings.TrimSpace(sql), "; \t\r\n"))
}
