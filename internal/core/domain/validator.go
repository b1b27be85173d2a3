package domain

import (
	"fmt"
	"log/slog"
	"strings"
)

// DefaultMaxUnions is the UNION keyword count above which a query is rejected.
const DefaultMaxUnions = 5

// DefaultMaxSubqueryDepth bounds nested SELECTs when no value is configured.
const DefaultMaxSubqueryDepth = 2

// literalAdvisoryThreshold is the string literal count above which an
// advisory note is emitted.
const literalAdvisoryThreshold = 3

// ValidatorOptions configures a SafetyValidator. Zero values select defaults.
type ValidatorOptions struct {
	// MaxUnions rejects queries with more UNION keywords. Negative disables
	// the count check; zero means DefaultMaxUnions.
	MaxUnions int

	// ExtraDenyPatterns are appended to DefaultDenyPatterns.
	ExtraDenyPatterns []DenyPattern

	// Classifier defaults to the lexical classifier.
	Classifier StatementClassifier

	Logger *slog.Logger
}

// SafetyValidator decides whether a generated SQL string is a bounded,
// read-only query. It holds no mutable state and is safe for concurrent use.
type SafetyValidator struct {
	maxUnions  int
	deny       []DenyPattern
	classifier StatementClassifier
	logger     *slog.Logger
}

func NewSafetyValidator(opts ValidatorOptions) *SafetyValidator {
	maxUnions := opts.MaxUnions
	if maxUnions == 0 {
		maxUnions = DefaultMaxUnions
	}
	classifier := opts.Classifier
	if classifier == nil {
		classifier = LexicalClassifier{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	deny := make([]DenyPattern, 0, len(DefaultDenyPatterns)+len(opts.ExtraDenyPatterns))
	deny = append(deny, DefaultDenyPatterns...)
	deny = append(deny, opts.ExtraDenyPatterns...)

	return &SafetyValidator{
		maxUnions:  maxUnions,
		deny:       deny,
		classifier: classifier,
		logger:     logger,
	}
}

// Validate runs the checks in order and returns at the first rejection:
// deny-list, union abuse, statement type, structural complexity. An accepted
// verdict may carry advisory notes.
func (v *SafetyValidator) Validate(sql string, maxSubqueryDepth int) Verdict {
	normalized := NormalizeWhitespace(sql)
	if normalized == "" {
		return retry(RuleEmpty, ReasonEmpty, "")
	}

	if verdict, ok := v.checkDenyList(normalized); !ok {
		return verdict
	}
	if verdict, ok := v.checkUnions(normalized); !ok {
		return verdict
	}
	if verdict, ok := v.checkStatements(sql); !ok {
		return verdict
	}
	if ok, detail := CheckSubqueryDepth(sql, maxSubqueryDepth); !ok {
		rule := RuleNestingDepth
		if strings.HasPrefix(detail, "subquery count") {
			rule = RuleSubqueryCount
		}
		return reject(rule, ReasonTooComplex, detail)
	}

	var notes []string
	if n := len(stringLiteral.FindAllStringIndex(normalized, -1)); n > literalAdvisoryThreshold {
		note := fmt.Sprintf("%d string literals; consider parameterizing", n)
		v.logger.Info("validation advisory",
			slog.String("advisory", note),
			slog.Int("literal.count", n),
		)
		notes = append(notes, note)
	}
	return accept(notes)
}

func (v *SafetyValidator) checkDenyList(normalized string) (Verdict, bool) {
	for _, p := range v.deny {
		if p.Re.MatchString(normalized) {
			return reject(RuleDenyPattern, ReasonUnsafePattern, p.Name), false
		}
	}
	return Verdict{}, true
}

func (v *SafetyValidator) checkUnions(normalized string) (Verdict, bool) {
	if v.maxUnions > 0 {
		if n := len(unionKeyword.FindAllStringIndex(normalized, -1)); n > v.maxUnions {
			return reject(RuleUnionCount, ReasonUnsafePattern,
				fmt.Sprintf("%d UNION keywords exceed limit %d", n, v.maxUnions)), false
		}
	}
	for _, p := range unionProbes {
		if p.Re.MatchString(normalized) {
			return reject(RuleUnionProbe, ReasonUnsafePattern, p.Name), false
		}
	}
	return Verdict{}, true
}

func (v *SafetyValidator) checkStatements(sql string) (Verdict, bool) {
	stmts, err := v.classifier.Classify(sql)
	if err != nil {
		return retry(RuleParseFailure, ReasonParseFailure, err.Error()), false
	}
	if len(stmts) == 0 {
		return retry(RuleEmpty, ReasonEmpty, "no statements"), false
	}
	if len(stmts) > 1 {
		return reject(RuleMultiStatement, ReasonMultiple, fmt.Sprintf("%d statements", len(stmts))), false
	}

	for _, s := range stmts {
		if s.Kind == KindSelect {
			continue
		}
		// A CTE whose main verb the classifier could not resolve is accepted
		// as long as a SELECT follows the WITH keyword.
		if s.Kind == KindAmbiguous && cteWithSelect(s.Text) {
			continue
		}
		return reject(RuleStatementType, ReasonNotSelect,
			fmt.Sprintf("%s statement: %.60s", s.Kind, NormalizeWhitespace(s.Text))), false
	}
	return Verdict{}, true
}

func cteWithSelect(stmt string) bool {
	words := scanWords(stmt)
	if len(words) == 0 || words[0].text != "WITH" {
		return false
	}
	for _, w := range words[1:] {
		if w.text == "SELECT" {
			return true
		}
	}
	return false
}

// NormalizeWhitespace collapses every run of whitespace into a single space
// and trims the ends. The result is used for pattern checks only.
func NormalizeWhitespace(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}
