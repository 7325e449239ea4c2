package common

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstKeyword(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"SELECT * FROM t", "SELECT"},
		{"  select 1", "SELECT"},
		{"DELETE FROM t", "DELETE"},
		{"from(bucket: \"metrics\")", "FROM"},
		{"EXPLAIN QUERY PLAN SELECT 1", "EXPLAIN"},
		{"PRAGMA page_count;", "PRAGMA"},
		{"", ""},
		{"  ", ""},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, FirstKeyword(tc.query), "query %q", tc.query)
	}
}

func TestCheckSafeMode(t *testing.T) {
	sqlVerbs := []string{"SELECT", "WITH", "EXPLAIN", "SHOW"}

	require.NoError(t, CheckSafeMode("SELECT 1", true, sqlVerbs...))
	require.NoError(t, CheckSafeMode("with x as (select 1) select * from x", true, sqlVerbs...))

	err := CheckSafeMode("DELETE FROM t", true, sqlVerbs...)
	require.Error(t, err)
	var unsafe *UnsafeQueryError
	assert.True(t, errors.As(err, &unsafe))

	// Safe mode off lets anything through.
	assert.NoError(t, CheckSafeMode("DROP TABLE t", false, sqlVerbs...))

	// Prefix tricks don't fool the keyword scan.
	assert.Error(t, CheckSafeMode("SELECTX/**/1", true, sqlVerbs...))
	assert.Error(t, CheckSafeMode("DELETEFROM t", true, "SELECT"))
}
