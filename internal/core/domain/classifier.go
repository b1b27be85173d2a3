package domain

import (
	"fmt"
	"strings"
	"unicode"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// StatementKind is the coarse type of one parsed statement.
type StatementKind int

const (
	KindOther StatementKind = iota
	KindSelect
	KindModify
	// KindAmbiguous means the classifier could not decide, typically a
	// WITH prelude whose main verb was not resolved.
	KindAmbiguous
)

func (k StatementKind) String() string {
	switch k {
	case KindSelect:
		return "SELECT"
	case KindModify:
		return "MODIFY"
	case KindAmbiguous:
		return "AMBIGUOUS"
	default:
		return "OTHER"
	}
}

// Statement is one classified statement and its source text.
type Statement struct {
	Kind StatementKind
	Text string
}

// StatementClassifier splits SQL into statements and classifies each one.
// It returns an error wrapping ErrParseFailed when the text cannot be parsed.
type StatementClassifier interface {
	Classify(sql string) ([]Statement, error)
}

// NewClassifier returns the classifier for a dialect name: "postgres" uses
// PostgreSQL's own parser, anything else the lexical classifier.
func NewClassifier(dialect string) StatementClassifier {
	if strings.EqualFold(dialect, "postgres") {
		return PgQueryClassifier{}
	}
	return LexicalClassifier{}
}

// PgQueryClassifier classifies statements using PostgreSQL's actual parser.
type PgQueryClassifier struct{}

func (PgQueryClassifier) Classify(sql string) ([]Statement, error) {
	tree, err := pg_query.Parse(sql)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParseFailed, err)
	}

	stmts := make([]Statement, 0, len(tree.Stmts))
	for _, raw := range tree.Stmts {
		stmts = append(stmts, Statement{
			Kind: pgKind(raw.Stmt),
			Text: rawText(sql, raw),
		})
	}
	return stmts, nil
}

func pgKind(n *pg_query.Node) StatementKind {
	if n == nil || n.Node == nil {
		return KindAmbiguous
	}
	switch s := n.Node.(type) {
	case *pg_query.Node_SelectStmt:
		if selectModifies(s.SelectStmt) {
			return KindModify
		}
		return KindSelect
	case *pg_query.Node_InsertStmt, *pg_query.Node_UpdateStmt,
		*pg_query.Node_DeleteStmt, *pg_query.Node_MergeStmt:
		return KindModify
	default:
		return KindOther
	}
}

// selectModifies reports whether a SELECT writes data: SELECT ... INTO
// creates a table, and a WITH clause may hold INSERT, UPDATE, DELETE or MERGE
// bodies. Set operations are checked on both arms.
func selectModifies(s *pg_query.SelectStmt) bool {
	if s == nil {
		return false
	}
	if s.GetIntoClause() != nil {
		return true
	}
	for _, n := range s.GetWithClause().GetCtes() {
		if pgKind(n.GetCommonTableExpr().GetCtequery()) == KindModify {
			return true
		}
	}
	return selectModifies(s.GetLarg()) || selectModifies(s.GetRarg())
}

func rawText(sql string, raw *pg_query.RawStmt) string {
	start := int(raw.StmtLocation)
	if start < 0 || start > len(sql) {
		return sql
	}
	end := len(sql)
	if raw.StmtLen > 0 && start+int(raw.StmtLen) <= len(sql) {
		end = start + int(raw.StmtLen)
	}
	return strings.TrimSpace(sql[start:end])
}

// LexicalClassifier classifies statements by their leading keyword. It works
// for dialects PostgreSQL's parser rejects (DuckDB, SQLite) at the cost of
// precision: a WITH prelude is reported as KindModify when a data modifying
// verb appears anywhere in it, otherwise as KindAmbiguous.
type LexicalClassifier struct{}

var modifyVerbs = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true,
	"MERGE": true, "UPSERT": true, "REPLACE": true,
}

// cteModifyVerbs are the verbs that may form a CTE body. REPLACE is left out
// because replace() is a common string function.
var cteModifyVerbs = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "MERGE": true,
}

func (LexicalClassifier) Classify(sql string) ([]Statement, error) {
	parts, err := splitStatements(sql)
	if err != nil {
		return nil, err
	}

	stmts := make([]Statement, 0, len(parts))
	for _, part := range parts {
		words := scanWords(part)
		if len(words) == 0 {
			return nil, fmt.Errorf("%w: no statement keyword in %q", ErrParseFailed, part)
		}
		stmts = append(stmts, Statement{Kind: lexicalKind(words), Text: part})
	}
	return stmts, nil
}

func lexicalKind(words []word) StatementKind {
	first := words[0].text
	switch {
	case first == "SELECT":
		return KindSelect
	case modifyVerbs[first]:
		return KindModify
	case first == "WITH":
		for _, w := range words[1:] {
			if modifyVerbs[w.text] && (w.depth == 0 || cteModifyVerbs[w.text]) {
				return KindModify
			}
		}
		return KindAmbiguous
	default:
		return KindOther
	}
}

// splitStatements splits on semicolons outside quotes. Empty statements
// (such as after a trailing semicolon) are dropped.
func splitStatements(sql string) ([]string, error) {
	var (
		parts []string
		start int
		quote rune
	)
	for i, r := range sql {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == ';':
			parts = appendNonEmpty(parts, sql[start:i])
			start = i + 1
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("%w: unterminated quoted literal", ErrParseFailed)
	}
	return appendNonEmpty(parts, sql[start:]), nil
}

func appendNonEmpty(parts []string, s string) []string {
	if s = strings.TrimSpace(s); s != "" {
		parts = append(parts, s)
	}
	return parts
}

type word struct {
	text  string
	depth int
}

// scanWords returns the upper-cased bare words of a statement with their
// parenthesis depth, skipping quoted text.
func scanWords(stmt string) []word {
	var (
		words []word
		depth int
		quote rune
		cur   strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, word{text: strings.ToUpper(cur.String()), depth: depth})
			cur.Reset()
		}
	}
	for _, r := range stmt {
		if quote != 0 {
			if r == quote {
				quote = 0
			}
			continue
		}
		switch {
		case unicode.IsLetter(r) || r == '_' || (cur.Len() > 0 && unicode.IsDigit(r)):
			cur.WriteRune(r)
		case r == '\'' || r == '"':
			flush()
			quote = r
		case r == '(':
			flush()
			depth++
		case r == ')':
			flush()
			depth = max(0, depth-1)
		default:
			flush()
		}
	}
	flush()
	return words
}
