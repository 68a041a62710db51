package fetcher

import "strings"

// Table is a parsed sheet: one header row and the data rows below it.
type Table struct {
	Header []string
	Rows   [][]string

	index map[string]int
}

func newTable(header []string, rows [][]string) *Table {
	t := &Table{Header: header, Rows: rows, index: make(map[string]int, len(header))}
	for i, h := range header {
		key := NormalizeHeader(h)
		if _, dup := t.index[key]; !dup {
			t.index[key] = i
		}
	}
	return t
}

// NormalizeHeader lower-cases a column name and joins its words with
// underscores, so "Cost Per Hour" and "cost_per_hour" match.
func NormalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	return strings.Join(strings.FieldsFunc(strings.ToLower(h), func(r rune) bool {
		return r == ' ' || r == '_' || r == '-' || r == '\t'
	}), "_")
}

// Has reports whether the table has a column named col.
func (t *Table) Has(col string) bool {
	_, ok := t.index[NormalizeHeader(col)]
	return ok
}

// Get returns the trimmed value of col in row, or "" when the column or cell
// is missing.
func (t *Table) Get(row []string, col string) string {
	i, ok := t.index[NormalizeHeader(col)]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
