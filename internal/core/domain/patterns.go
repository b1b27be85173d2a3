package domain

import (
	"fmt"
	"regexp"
)

// DenyPattern is one named entry of the deny-list.
type DenyPattern struct {
	Name string
	Re   *regexp.Regexp
}

// NewDenyPattern compiles expr case-insensitively.
func NewDenyPattern(name, expr string) (DenyPattern, error) {
	re, err := regexp.Compile("(?i)" + expr)
	if err != nil {
		return DenyPattern{}, fmt.Errorf("compiling deny pattern %q: %w", name, err)
	}
	return DenyPattern{Name: name, Re: re}, nil
}

func mustDeny(name, expr string) DenyPattern {
	p, err := NewDenyPattern(name, expr)
	if err != nil {
		panic(err)
	}
	return p
}

// DefaultDenyPatterns is the built-in deny-list. Patterns run against
// whitespace-normalized text, so `\s+` and a single space are equivalent.
var DefaultDenyPatterns = []DenyPattern{
	mustDeny("chained_drop", `;\s*DROP\s+`),
	mustDeny("chained_delete", `;\s*DELETE\s+`),
	mustDeny("chained_update", `;\s*UPDATE\s+`),
	mustDeny("chained_insert", `;\s*INSERT\s+`),
	mustDeny("chained_alter", `;\s*ALTER\s+`),
	mustDeny("chained_create", `;\s*CREATE\s+`),
	mustDeny("chained_truncate", `;\s*TRUNCATE\s+`),
	mustDeny("line_comment", `--`),
	mustDeny("block_comment", `/\*.*?\*/`),
	mustDeny("exec", `\bEXEC\s+`),
	mustDeny("execute", `\bEXECUTE\s+`),
	mustDeny("xp_cmdshell", `xp_cmdshell`),
	mustDeny("sp_executesql", `sp_executesql`),
	mustDeny("into_outfile", `INTO\s+OUTFILE`),
	mustDeny("into_dumpfile", `INTO\s+DUMPFILE`),
	mustDeny("load_file", `LOAD_FILE\s*\(`),
	mustDeny("sleep", `SLEEP\s*\(`),
	mustDeny("benchmark", `BENCHMARK\s*\(`),
	mustDeny("waitfor_delay", `WAITFOR\s+DELAY`),
	mustDeny("declare", `\bDECLARE\s+`),
}

var (
	unionKeyword = regexp.MustCompile(`(?i)\bUNION\b`)

	// Enumeration probes: column-count discovery with NULLs or integer
	// lists, and server introspection.
	unionProbes = []DenyPattern{
		mustDeny("union_select_null", `\bUNION\s+(ALL\s+)?SELECT\s+NULL\b`),
		mustDeny("union_select_ordinals", `\bUNION\s+(ALL\s+)?SELECT\s+\d+\s*,\s*\d+`),
		mustDeny("union_select_version", `\bUNION\s+(ALL\s+)?SELECT\s+(@@\w+|version\s*\(\s*\)|sqlite_version\s*\(\s*\)|database\s*\(\s*\)|user\s*\(\s*\)|current_user\b|current_database\s*\(\s*\))`),
	}

	subqueryOpen  = regexp.MustCompile(`(?i)\(\s*SELECT`)
	stringLiteral = regexp.MustCompile(`'[^']*'`)
)
