package export

// Column describes one output column. Width is a relative weight used by the
// PDF renderer; zero means an even share.
type Column struct {
	Key   string
	Label string
	Width float64
}

// Table is tabular report content shared by the CSV and PDF renderers.
type Table struct {
	Title   string
	Columns []Column
	Rows    []map[string]string
	Footer  []string
}

func (t Table) labels() []string {
	out := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		out[i] = col.Label
		if out[i] == "" {
			out[i] = col.Key
		}
	}
	return out
}

func (t Table) record(row map[string]string) []string {
	out := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		out[i] = row[col.Key]
	}
	return out
}
