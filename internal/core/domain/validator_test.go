package domain

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafetyValidator_Validate(t *testing.T) {
	t.Parallel()

	deepNesting := "SELECT a FROM t WHERE a IN (SELECT a FROM t WHERE a IN " +
		"(SELECT a FROM t WHERE a IN (SELECT a FROM t WHERE a IN (SELECT a FROM t))))"

	tests := []struct {
		name       string
		sql        string
		wantAccept bool
		wantRule   Rule
		wantDetail string
		wantRetry  bool
	}{
		{name: "simple select", sql: "SELECT * FROM matches", wantAccept: true},
		{name: "cte", sql: "WITH t AS (SELECT 1) SELECT * FROM t", wantAccept: true},
		{name: "trailing semicolon", sql: "SELECT 1;", wantAccept: true},
		{name: "cte using replace function", sql: "WITH a AS (SELECT replace(team, 'Daredevils', 'Capitals') AS team FROM matches) SELECT * FROM a", wantAccept: true},
		{name: "function call inside subqueries", sql: "SELECT * FROM (SELECT max(a) FROM (SELECT a FROM t) y) x", wantAccept: true},
		{name: "odd whitespace", sql: "  SELECT\n\t*\n  FROM   t  ", wantAccept: true},

		{name: "chained drop", sql: "SELECT * FROM matches; DROP TABLE matches;", wantRule: RuleDenyPattern, wantDetail: "chained_drop"},
		{name: "chained drop across newline", sql: "SELECT 1;\n\n  drop table x", wantRule: RuleDenyPattern, wantDetail: "chained_drop"},
		{name: "line comment", sql: "SELECT * FROM t -- AND owner = 1", wantRule: RuleDenyPattern, wantDetail: "line_comment"},
		{name: "block comment", sql: "SELECT /* x */ 1", wantRule: RuleDenyPattern, wantDetail: "block_comment"},
		{name: "sleep", sql: "SELECT sleep(10)", wantRule: RuleDenyPattern, wantDetail: "sleep"},
		{name: "outfile", sql: "SELECT * FROM t INTO OUTFILE '/tmp/x'", wantRule: RuleDenyPattern, wantDetail: "into_outfile"},
		{name: "waitfor", sql: "SELECT 1 WAITFOR DELAY '0:0:5'", wantRule: RuleDenyPattern, wantDetail: "waitfor_delay"},

		{name: "union null probe", sql: "SELECT 1 UNION SELECT NULL", wantRule: RuleUnionProbe, wantDetail: "union_select_null"},
		{name: "union ordinal probe", sql: "SELECT a, b FROM t UNION ALL SELECT 1, 2", wantRule: RuleUnionProbe, wantDetail: "union_select_ordinals"},
		{name: "union version probe", sql: "SELECT name FROM t UNION SELECT @@version", wantRule: RuleUnionProbe, wantDetail: "union_select_version"},
		{name: "too many unions", sql: "SELECT a FROM t" + strings.Repeat(" UNION SELECT a FROM t", 6), wantRule: RuleUnionCount},

		{name: "update", sql: "UPDATE t SET a = 1", wantRule: RuleStatementType},
		{name: "cte wrapping delete", sql: "WITH x AS (SELECT 1) DELETE FROM t", wantRule: RuleStatementType},
		{name: "delete inside cte", sql: "WITH d AS (DELETE FROM matches RETURNING *) SELECT * FROM d", wantRule: RuleStatementType},
		{name: "update inside cte", sql: "WITH u AS (UPDATE matches SET score = 0 RETURNING *) SELECT count(*) FROM u", wantRule: RuleStatementType},
		{name: "multiple selects", sql: "SELECT 1; SELECT 2", wantRule: RuleMultiStatement},
		{name: "pragma", sql: "PRAGMA table_info(t)", wantRule: RuleStatementType},

		{name: "unterminated literal", sql: "SELECT 'abc FROM t", wantRule: RuleParseFailure, wantRetry: true},
		{name: "empty", sql: " \n\t ", wantRule: RuleEmpty, wantRetry: true},

		{name: "four nested selects", sql: deepNesting, wantRule: RuleNestingDepth},
		{name: "three subqueries", sql: "SELECT * FROM (SELECT * FROM (SELECT * FROM (SELECT 1) a) b) c", wantRule: RuleSubqueryCount},
	}

	v := NewSafetyValidator(ValidatorOptions{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := v.Validate(tt.sql, DefaultMaxSubqueryDepth)
			assert.Equal(t, tt.wantAccept, got.Accepted, "verdict: %+v", got)
			if tt.wantAccept {
				assert.Empty(t, got.Reason)
				assert.NoError(t, got.Err())
				return
			}
			assert.Equal(t, tt.wantRule, got.Rule)
			assert.Equal(t, tt.wantRetry, got.Retryable)
			assert.NotEmpty(t, got.Reason)
			if tt.wantDetail != "" {
				assert.Equal(t, tt.wantDetail, got.Detail)
			}
		})
	}
}

func TestSafetyValidator_GenericReasonHidesPattern(t *testing.T) {
	t.Parallel()

	v := NewSafetyValidator(ValidatorOptions{})
	got := v.Validate("SELECT * FROM t; DELETE FROM t", 2)

	require.False(t, got.Accepted)
	assert.Equal(t, ReasonUnsafePattern, got.Reason)
	assert.NotContains(t, got.Reason, "DELETE")
	assert.Equal(t, "chained_delete", got.Detail)
}

func TestSafetyValidator_Idempotent(t *testing.T) {
	t.Parallel()

	v := NewSafetyValidator(ValidatorOptions{})
	for _, sql := range []string{
		"SELECT * FROM t",
		"SELECT 1 UNION SELECT NULL",
		"DELETE FROM t",
		"SELECT 'x",
	} {
		assert.Equal(t, v.Validate(sql, 2), v.Validate(sql, 2), sql)
	}
}

func TestSafetyValidator_LiteralAdvisory(t *testing.T) {
	t.Parallel()

	v := NewSafetyValidator(ValidatorOptions{})

	got := v.Validate("SELECT * FROM t WHERE a IN ('a', 'b', 'c', 'd')", 2)
	assert.True(t, got.Accepted)
	require.Len(t, got.Notes, 1)
	assert.Contains(t, got.Notes[0], "4 string literals")

	got = v.Validate("SELECT * FROM t WHERE a IN ('a', 'b', 'c')", 2)
	assert.True(t, got.Accepted)
	assert.Empty(t, got.Notes)
}

func TestSafetyValidator_UnionThreshold(t *testing.T) {
	t.Parallel()

	sql := "SELECT a FROM t" + strings.Repeat(" UNION SELECT a FROM t", 2)

	strict := NewSafetyValidator(ValidatorOptions{MaxUnions: 1})
	assert.Equal(t, RuleUnionCount, strict.Validate(sql, 2).Rule)

	disabled := NewSafetyValidator(ValidatorOptions{MaxUnions: -1})
	many := "SELECT a FROM t" + strings.Repeat(" UNION SELECT a FROM t", 10)
	assert.True(t, disabled.Validate(many, 2).Accepted)
}

func TestSafetyValidator_ExtraDenyPatterns(t *testing.T) {
	t.Parallel()

	p, err := NewDenyPattern("pg_read_file", `\bpg_read_file\s*\(`)
	require.NoError(t, err)

	sql := "SELECT PG_READ_FILE('/etc/passwd')"
	assert.True(t, NewSafetyValidator(ValidatorOptions{}).Validate(sql, 2).Accepted)

	v := NewSafetyValidator(ValidatorOptions{ExtraDenyPatterns: []DenyPattern{p}})
	got := v.Validate(sql, 2)
	assert.Equal(t, RuleDenyPattern, got.Rule)
	assert.Equal(t, "pg_read_file", got.Detail)

	_, err = NewDenyPattern("broken", `(`)
	assert.Error(t, err)
}

func TestSafetyValidator_PostgresClassifier(t *testing.T) {
	t.Parallel()

	v := NewSafetyValidator(ValidatorOptions{Classifier: PgQueryClassifier{}})

	assert.True(t, v.Validate("WITH t AS (SELECT 1) SELECT * FROM t", 2).Accepted)
	assert.True(t, v.Validate("SELECT replace(team, 'a', 'b') FROM matches", 2).Accepted)

	got := v.Validate("SELECT 1; SELECT 2", 2)
	assert.Equal(t, RuleMultiStatement, got.Rule)
	assert.Equal(t, ReasonMultiple, got.Reason)

	for _, sql := range []string{
		"WITH d AS (DELETE FROM matches RETURNING *) SELECT * FROM d",
		"WITH u AS (UPDATE matches SET score = 0 RETURNING *) SELECT count(*) FROM u",
		"WITH i AS (INSERT INTO archive SELECT * FROM matches RETURNING id) SELECT count(*) FROM i",
		"SELECT 1 UNION ALL (WITH d AS (DELETE FROM matches RETURNING 1) SELECT * FROM d)",
	} {
		got = v.Validate(sql, 2)
		assert.Equal(t, RuleStatementType, got.Rule, sql)
		assert.Equal(t, ReasonNotSelect, got.Reason, sql)
	}

	got = v.Validate("SELECT * INTO archive FROM t", 2)
	assert.Equal(t, RuleStatementType, got.Rule)

	got = v.Validate("WITH x AS (SELECT 1) DELETE FROM t", 2)
	assert.Equal(t, RuleStatementType, got.Rule)

	got = v.Validate("SELEC * FROM t", 2)
	assert.Equal(t, RuleParseFailure, got.Rule)
	assert.True(t, got.Retryable)
}

func TestVerdict_Err(t *testing.T) {
	t.Parallel()

	assert.NoError(t, accept(nil).Err())
	assert.True(t, errors.Is(reject(RuleDenyPattern, ReasonUnsafePattern, "x").Err(), ErrUnsafeSQL))
	assert.True(t, errors.Is(retry(RuleParseFailure, ReasonParseFailure, "x").Err(), ErrMalformedSQL))
}

func TestCheckSubqueryDepth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		sql      string
		maxDepth int
		wantOK   bool
	}{
		{"flat", "SELECT 1", 2, true},
		{"function call tolerated", "SELECT count(*) FROM (SELECT a FROM (SELECT a FROM t) x) y", 2, true},
		{"depth over limit", "SELECT ((((1))))", 2, false},
		{"unbalanced closers clamp at zero", "SELECT ))))) ((1))", 2, true},
		{"count over limit", "SELECT (SELECT 1), (SELECT 2), (SELECT 3)", 2, false},
		{"zero depth allows one paren level", "SELECT count(*) FROM t", 0, true},
		{"zero depth rejects any subquery", "SELECT * FROM (SELECT 1) x", 0, false},
		{"openings inside literals count", "SELECT '(SELECT 1)' AS a", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ok, detail := CheckSubqueryDepth(tt.sql, tt.maxDepth)
			assert.Equal(t, tt.wantOK, ok, detail)
			if ok {
				assert.Empty(t, detail)
			} else {
				assert.NotEmpty(t, detail)
			}
		})
	}
}

func TestNormalizeWhitespace(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "SELECT * FROM t", NormalizeWhitespace("\n SELECT\t*   FROM\r\nt  "))
	assert.Equal(t, "", NormalizeWhitespace(" \t\n"))
}
