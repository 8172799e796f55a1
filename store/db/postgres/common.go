package postgres

import (
	"fmt"
	"strings"
)

// insertBatchSize bounds the number of rows bound in one INSERT statement.
const insertBatchSize = 500

// placeholder returns a placeholder for PostgreSQL (uses $n)
func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

// placeholders returns n placeholders starting at $1
func placeholders(n int) string {
	return placeholdersFrom(1, n)
}

// placeholdersFrom returns n placeholders starting at $start
func placeholdersFrom(start, n int) string {
	list := make([]string, n)
	for i := range list {
		list[i] = placeholder(start + i)
	}
	return strings.Join(list, ", ")
}

// valuesRows returns "($1, ...), ($k, ...)" for rows tuples of width cols.
func valuesRows(rows, cols int) string {
	list := make([]string, rows)
	for i := range list {
		list[i] = "(" + placeholdersFrom(i*cols+1, cols) + ")"
	}
	return strings.Join(list, ", ")
}
