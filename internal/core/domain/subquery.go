package domain

import "fmt"

// CheckSubqueryDepth bounds the structural complexity of sql. It rejects when
// the maximum parenthesis depth exceeds maxDepth+1 (one level is left for
// ordinary function calls) or when more than maxDepth "(SELECT" openings
// appear. Unbalanced closing parentheses never drive the depth below zero.
// String literals are not skipped by either count.
// detail describes the failed measurement and is empty when ok.
func CheckSubqueryDepth(sql string, maxDepth int) (ok bool, detail string) {
	depth, deepest := 0, 0
	for _, r := range sql {
		switch r {
		case '(':
			depth++
			deepest = max(deepest, depth)
		case ')':
			depth = max(0, depth-1)
		}
	}
	if deepest > maxDepth+1 {
		return false, fmt.Sprintf("nesting depth %d exceeds %d", deepest, maxDepth+1)
	}

	if n := len(subqueryOpen.FindAllStringIndex(sql, -1)); n > maxDepth {
		return false, fmt.Sprintf("subquery count %d exceeds %d", n, maxDepth)
	}
	return true, ""
}
