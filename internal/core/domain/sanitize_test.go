package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		in          string
		want        string
		wantChanges []string
	}{
		{
			name: "unchanged",
			in:   "SELECT * FROM t WHERE a IN (1, 2, 3)",
			want: "SELECT * FROM t WHERE a IN (1, 2, 3)",
		},
		{
			name:        "duplicate literals",
			in:          "SELECT * FROM t WHERE team IN ('CSK', 'MI', 'CSK')",
			want:        "SELECT * FROM t WHERE team IN ('CSK', 'MI')",
			wantChanges: []string{"deduplicated IN list"},
		},
		{
			name:        "comma inside literal",
			in:          "SELECT * FROM t WHERE a in ('x,y','x,y')",
			want:        "SELECT * FROM t WHERE a in ('x,y')",
			wantChanges: []string{"deduplicated IN list"},
		},
		{
			name:        "missing closing paren",
			in:          "SELECT count(* FROM t;",
			want:        "SELECT count(* FROM t)",
			wantChanges: []string{"balanced parentheses"},
		},
		{
			name: "paren inside literal",
			in:   "SELECT '(' FROM t",
			want: "SELECT '(' FROM t",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, changes := Sanitize(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantChanges, changes)
		})
	}
}
