package domain

import "fmt"

// Rule identifies which validation stage rejected a query. It is recorded in
// the audit trail and never shown to the caller.
type Rule string

const (
	RuleNone           Rule = ""
	RuleEmpty          Rule = "empty_query"
	RuleDenyPattern    Rule = "deny_pattern"
	RuleUnionCount     Rule = "union_count"
	RuleUnionProbe     Rule = "union_probe"
	RuleStatementType  Rule = "statement_type"
	RuleMultiStatement Rule = "multiple_statements"
	RuleParseFailure   Rule = "parse_failure"
	RuleNestingDepth   Rule = "nesting_depth"
	RuleSubqueryCount  Rule = "subquery_count"
	RuleGeneratorError Rule = "generator_error"
)

// Caller-facing reasons. They describe the category of the problem without
// naming the rule that fired.
const (
	ReasonUnsafePattern = "Potentially unsafe SQL pattern detected"
	ReasonNotSelect     = "Only SELECT statements are allowed"
	ReasonMultiple      = "Only a single SQL statement is allowed"
	ReasonTooComplex    = "Query exceeds the allowed complexity"
	ReasonParseFailure  = "SQL could not be parsed; try generating the query again"
	ReasonEmpty         = "Query is empty"
)

// Verdict is the outcome of validating one SQL statement.
type Verdict struct {
	Accepted bool
	Reason   string // caller-facing, empty when accepted

	Rule   Rule   // which stage rejected the query
	Detail string // the specific pattern or measurement, for audit only

	// Retryable marks rejections caused by a parse problem: regenerating the
	// SQL may succeed, whereas a security rejection will never be allowed.
	Retryable bool

	// Notes carries advisory findings that did not affect the verdict.
	Notes []string
}

func accept(notes []string) Verdict {
	return Verdict{Accepted: true, Notes: notes}
}

func reject(rule Rule, reason, detail string) Verdict {
	return Verdict{Rule: rule, Reason: reason, Detail: detail}
}

func retry(rule Rule, reason, detail string) Verdict {
	return Verdict{Rule: rule, Reason: reason, Detail: detail, Retryable: true}
}

// Err converts a rejecting verdict into an error wrapping ErrUnsafeSQL or
// ErrMalformedSQL. Accepted verdicts return nil.
func (v Verdict) Err() error {
	if v.Accepted {
		return nil
	}
	if v.Retryable {
		return fmt.Errorf("%w: %s", ErrMalformedSQL, v.Reason)
	}
	return fmt.Errorf("%w: %s", ErrUnsafeSQL, v.Reason)
}
