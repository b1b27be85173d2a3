package port

import "github.com/HArsh-ri01/nl-to-sql/internal/core/domain"

// QueryValidator validates SQL statements before execution.
type QueryValidator interface {
	Validate(sql string, maxSubqueryDepth int) domain.Verdict
}
