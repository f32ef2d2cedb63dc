package domain

// ResultSet is the tabular output of an executed query.
// Every row has len(Columns) values and TotalRows >= len(Rows);
// TotalRows exceeds len(Rows) when the executor truncated the output.
type ResultSet struct {
	Columns   []string        `json:"columns"`
	Rows      [][]interface{} `json:"rows"`
	TotalRows int             `json:"total_rows"`
}

// Truncated reports whether rows were dropped by the executor.
func (r ResultSet) Truncated() bool { return r.TotalRows > len(r.Rows) }

// ChartKind is a visualization family.
type ChartKind string

// Supported chart kinds.
const (
	ChartKPI              ChartKind = "kpi"
	ChartBar              ChartKind = "bar"
	ChartLine             ChartKind = "line"
	ChartPie              ChartKind = "pie"
	ChartScatter          ChartKind = "scatter"
	ChartSingleValueGauge ChartKind = "single_value_gauge"
)

// ParseChartKind validates a chart kind name. The empty string is accepted
// and means "no preference".
func ParseChartKind(v string) (ChartKind, error) {
	switch k := ChartKind(v); k {
	case "", ChartKPI, ChartBar, ChartLine, ChartPie, ChartScatter, ChartSingleValueGauge:
		return k, nil
	}
	return "", ErrValidation("unknown chart kind %q", v)
}

// ChartSpec is the visualization directive derived from a ResultSet.
// It is never persisted independently of the ResultSet that produced it.
type ChartSpec struct {
	Kind         ChartKind   `json:"kind"`
	XField       *string     `json:"x_field,omitempty"`
	YField       *string     `json:"y_field,omitempty"`
	PrimaryValue interface{} `json:"primary_value,omitempty"`
	PrimaryLabel *string     `json:"primary_label,omitempty"`
}
