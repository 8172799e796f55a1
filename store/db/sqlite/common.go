package sqlite

import (
	"strings"
)

// insertBatchSize bounds the number of rows bound in one INSERT statement.
const insertBatchSize = 500

// placeholder returns a placeholder for SQLite (uses ?)
func placeholder(int) string {
	return "?"
}

// placeholders returns n placeholders for SQLite
func placeholders(n int) string {
	list := []string{}
	for i := 0; i < n; i++ {
		list = append(list, placeholder(i+1))
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
