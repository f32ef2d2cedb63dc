// Package chart derives visualization directives from query result sets.
package chart

import (
	"fmt"

	"duck-ask/internal/domain"
)

const fallbackLabel = "Result"

// Classify picks a ChartSpec for rs. The function is pure: the same result
// set and requested kind always yield the same spec, which is what lets
// callers switch chart kinds without re-running the query.
//
// Rules, in order:
//   - no rows: kpi with primary value 0
//   - one row, one column: kpi with the single cell, whatever was requested
//   - one row, two or more columns: gauge over (label, value), unless bar or
//     kpi was requested explicitly
//   - more rows: the requested multi-point kind (bar when unset) over the
//     first two columns; kpi and gauge requests fall back to bar
func Classify(rs domain.ResultSet, requested domain.ChartKind) (domain.ChartSpec, error) {
	if err := Validate(rs); err != nil {
		return domain.ChartSpec{}, err
	}

	cols := rs.Columns
	switch n := len(rs.Rows); {
	case n == 0:
		return domain.ChartSpec{
			Kind:         domain.ChartKPI,
			PrimaryValue: 0,
			PrimaryLabel: strPtr(labelOr(cols[0])),
		}, nil

	case n == 1 && len(cols) == 1:
		return domain.ChartSpec{
			Kind:         domain.ChartKPI,
			PrimaryValue: rs.Rows[0][0],
			PrimaryLabel: strPtr(labelOr(cols[0])),
		}, nil

	case n == 1:
		row := rs.Rows[0]
		switch requested {
		case domain.ChartBar:
			return seriesSpec(domain.ChartBar, cols), nil
		case domain.ChartKPI:
			return domain.ChartSpec{
				Kind:         domain.ChartKPI,
				PrimaryValue: row[1],
				PrimaryLabel: strPtr(cellLabel(row[0])),
			}, nil
		}
		return domain.ChartSpec{
			Kind:         domain.ChartSingleValueGauge,
			PrimaryValue: row[1],
			PrimaryLabel: strPtr(cellLabel(row[0])),
		}, nil
	}

	kind := requested
	switch kind {
	case domain.ChartBar, domain.ChartLine, domain.ChartPie, domain.ChartScatter:
	default:
		kind = domain.ChartBar
	}
	return seriesSpec(kind, cols), nil
}

// Validate checks the structural invariants of a result set.
func Validate(rs domain.ResultSet) error {
	if len(rs.Columns) == 0 {
		return domain.ErrShape("result set has no columns")
	}
	for i, row := range rs.Rows {
		if len(row) != len(rs.Columns) {
			return domain.ErrShape("row %d has %d values, want %d", i, len(row), len(rs.Columns))
		}
	}
	return nil
}

func seriesSpec(kind domain.ChartKind, cols []string) domain.ChartSpec {
	y := cols[0]
	if len(cols) > 1 {
		y = cols[1]
	}
	return domain.ChartSpec{
		Kind:   kind,
		XField: strPtr(cols[0]),
		YField: strPtr(y),
	}
}

func labelOr(name string) string {
	if name == "" {
		return fallbackLabel
	}
	return name
}

func cellLabel(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return fallbackLabel
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

func strPtr(s string) *string { return &s }
