package common

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// QuerySQL runs one statement against a database/sql handle, measuring wall
// clock around the native call and normalizing rows into ordered maps. Read
// statements (leading keyword in readVerbs) go through Query; anything else
// goes through Exec and reports the affected-row count.
func QuerySQL(ctx context.Context, db *sql.DB, query string, readVerbs []string) (*QueryResult, error) {
	isRead := false
	kw := FirstKeyword(query)
	for _, v := range readVerbs {
		if kw == strings.ToUpper(v) {
			isRead = true
			break
		}
	}

	start := time.Now()
	if !isRead {
		res, err := db.ExecContext(ctx, query)
		elapsed := time.Since(start)
		if err != nil {
			return nil, err
		}
		affected, _ := res.RowsAffected()
		return &QueryResult{
			Columns:       []string{},
			Rows:          []map[string]any{},
			RowCount:      int(affected),
			ExecutionTime: elapsed,
		}, nil
	}

	rows, err := db.QueryContext(ctx, query)
	elapsed := time.Since(start)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, mapped, err := ScanRows(rows)
	if err != nil {
		return nil, err
	}

	return &QueryResult{
		Columns:       cols,
		Rows:          mapped,
		RowCount:      len(mapped),
		ExecutionTime: elapsed,
	}, nil
}

// ScanRows drains a result set into column names and one map per row.
// Driver []byte values are converted to string so results serialize
// cleanly.
func ScanRows(rows *sql.Rows) ([]string, []map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	out := make([]map[string]any, 0, 16)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}

		row := make(map[string]any, len(cols))
		for i, col := range cols {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[col] = v
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	return cols, out, nil
}

// ExplainSQL fetches an execution plan by prefixing the statement with the
// dialect's explain keyword. Plans are best-effort: any failure yields an
// empty string.
func ExplainSQL(ctx context.Context, db *sql.DB, explainPrefix, query string) string {
	rows, err := db.QueryContext(ctx, explainPrefix+" "+query)
	if err != nil {
		return ""
	}
	defer rows.Close()

	cols, mapped, err := ScanRows(rows)
	if err != nil {
		return ""
	}

	lines := make([]string, 0, len(mapped))
	for _, row := range mapped {
		parts := make([]string, 0, len(cols))
		for _, col := range cols {
			if v := row[col]; v != nil {
				parts = append(parts, fmt.Sprint(v))
			}
		}
		lines = append(lines, strings.Join(parts, " | "))
	}
	return strings.Join(lines, "\n")
}
