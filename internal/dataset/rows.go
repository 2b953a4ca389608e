package dataset

// Row is one provider row addressed by field name.
type Row map[string]any

// RowSet is a columnar provider response: field names plus positional items.
type RowSet struct {
	Fields []string `json:"fields"`
	Items  [][]any  `json:"items"`
}

// Len returns the number of rows.
func (rs RowSet) Len() int {
	return len(rs.Items)
}

// Row returns row i keyed by field name. Items shorter than Fields leave the
// trailing fields absent.
func (rs RowSet) Row(i int) Row {
	item := rs.Items[i]
	row := make(Row, len(rs.Fields))
	for j, f := range rs.Fields {
		if j < len(item) {
			row[f] = item[j]
		}
	}
	return row
}

// Append concatenates another page with the same field layout.
func (rs *RowSet) Append(page RowSet) {
	if len(rs.Fields) == 0 {
		rs.Fields = page.Fields
	}
	rs.Items = append(rs.Items, page.Items...)
}
