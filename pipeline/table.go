package pipeline

import (
	"fmt"
	"strings"
)

// Table is an in-memory tabular payload: one header row plus data
// rows, all strings the way CSV delivers them.
type Table struct {
	Header []string
	Rows   [][]string
}

func (t Table) Empty() bool {
	return len(t.Rows) == 0
}

// Transform applies the workflow's row filters and column projection.
// Filters keep a row when the named column's trimmed value matches any
// of the allowed values. Projection reorders columns to the requested
// list, filling blanks for columns the source never had.
func (t Table) Transform(filters map[string][]string, columns []string) (Table, error) {
	if len(filters) == 0 && len(columns) == 0 {
		return t, nil
	}
	index := t.headerIndex()

	rows := t.Rows
	if len(filters) > 0 {
		for column := range filters {
			if _, ok := index[strings.TrimSpace(column)]; !ok {
				return Table{}, fmt.Errorf("filter column %q not in header %v", column, t.Header)
			}
		}
		kept := make([][]string, 0, len(rows))
		for _, row := range rows {
			if rowMatches(row, index, filters) {
				kept = append(kept, row)
			}
		}
		rows = kept
	}

	if len(columns) == 0 {
		return Table{Header: t.Header, Rows: rows}, nil
	}

	projected := make([][]string, 0, len(rows))
	for _, row := range rows {
		next := make([]string, len(columns))
		for i, column := range columns {
			if at, ok := index[strings.TrimSpace(column)]; ok && at < len(row) {
				next[i] = row[at]
			}
		}
		projected = append(projected, next)
	}
	return Table{Header: append([]string(nil), columns...), Rows: projected}, nil
}

// Append merges another table's rows, matching columns by name against
// the receiver's header.
func (t Table) Append(other Table) Table {
	if len(t.Header) == 0 {
		return other
	}
	if other.Empty() {
		return t
	}
	index := other.headerIndex()
	merged := t
	for _, row := range other.Rows {
		next := make([]string, len(t.Header))
		for i, column := range t.Header {
			if at, ok := index[strings.TrimSpace(column)]; ok && at < len(row) {
				next[i] = row[at]
			}
		}
		merged.Rows = append(merged.Rows, next)
	}
	return merged
}

// Values renders the table as the sheet payload, header first.
func (t Table) Values() [][]string {
	if t.Empty() {
		return nil
	}
	values := make([][]string, 0, len(t.Rows)+1)
	values = append(values, t.Header)
	values = append(values, t.Rows...)
	return values
}

func (t Table) headerIndex() map[string]int {
	index := make(map[string]int, len(t.Header))
	for i, column := range t.Header {
		index[strings.TrimSpace(column)] = i
	}
	return index
}

func rowMatches(row []string, index map[string]int, filters map[string][]string) bool {
	for column, allowed := range filters {
		at, ok := index[strings.TrimSpace(column)]
		if !ok || at >= len(row) {
			return false
		}
		value := strings.TrimSpace(row[at])
		matched := false
		for _, want := range allowed {
			if value == strings.TrimSpace(want) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}
