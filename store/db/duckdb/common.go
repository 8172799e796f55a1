package duckdb

import (
	"strings"
)

// insertBatchSize bounds the number of rows bound in one INSERT statement.
const insertBatchSize = 500

// placeholders returns n placeholders for DuckDB (uses ?)
func placeholders(n int) string {
	list := make([]string, n)
	for i := range list {
		list[i] = "?"
	}
	return strings.Join(list, ", ")
}

// valuesRows returns "(?, ...), (?, ...)" for rows tuples of width cols.
func valuesRows(rows, cols int) string {
	row := "(" + placeholders(cols) + ")"
	list := make([]string, rows)
	for i := range list {
		list[i] = row
	}
	return strings.Join(list, ", ")
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
