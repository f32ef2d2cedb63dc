package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"duck-ask/internal/chart"
	"duck-ask/internal/domain"
)

// getOutputFormat returns the effective output format from the root command's persistent flags.
func getOutputFormat(cmd *cobra.Command) string {
	v, _ := cmd.Root().PersistentFlags().GetString("output")
	return v
}

func validateOutputFormat(output string) error {
	if output != "" && output != "table" && output != "json" {
		return fmt.Errorf("unsupported output format %q: use 'table' or 'json'", output)
	}
	return nil
}

// PrintJSON writes v as indented JSON.
func PrintJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// PrintTable writes rows under upper-cased column headers.
func PrintTable(w io.Writer, columns []string, rows [][]string) {
	if len(columns) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := make([]string, len(columns))
	for i, c := range columns {
		header[i] = strings.ToUpper(c)
	}
	_, _ = fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, row := range rows {
		_, _ = fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	_ = tw.Flush()
}

func printSnapshot(w io.Writer, snap *domain.StatusSnapshot) {
	_, _ = fmt.Fprintf(w, "Request:  %s\n", snap.RequestID)
	_, _ = fmt.Fprintf(w, "Question: %s\n", snap.RawText)
	_, _ = fmt.Fprintf(w, "Source:   %s\n", snap.DataSourceRef)
	_, _ = fmt.Fprintf(w, "State:    %s (%s, %d%%)\n", snap.State, snap.Stage, snap.Percent)
	if snap.ClarificationQuestion != nil {
		_, _ = fmt.Fprintf(w, "Question from the assistant: %s\n", *snap.ClarificationQuestion)
		for i, s := range snap.Suggestions {
			_, _ = fmt.Fprintf(w, "  %d) %s\n", i+1, s)
		}
	}
	if snap.Error != nil {
		_, _ = fmt.Fprintf(w, "Error:    %s: %s\n", snap.Error.Kind, snap.Error.Message)
	}
}

func printChart(w io.Writer, spec domain.ChartSpec) {
	switch {
	case spec.XField != nil && spec.YField != nil:
		_, _ = fmt.Fprintf(w, "Chart: %s (%s by %s)\n", spec.Kind, *spec.YField, *spec.XField)
	case spec.PrimaryLabel != nil:
		_, _ = fmt.Fprintf(w, "Chart: %s  %s = %s\n", spec.Kind, *spec.PrimaryLabel, chart.FormatNumber(spec.PrimaryValue))
	default:
		_, _ = fmt.Fprintf(w, "Chart: %s  %s\n", spec.Kind, chart.FormatNumber(spec.PrimaryValue))
	}
}

func printOutcome(w io.Writer, out *domain.QueryOutcome) {
	rows := make([][]string, 0, len(out.ResultSet.Rows))
	for _, row := range out.ResultSet.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = cellString(v)
		}
		rows = append(rows, cells)
	}
	PrintTable(w, out.ResultSet.Columns, rows)
	if out.ResultSet.TotalRows > len(out.ResultSet.Rows) {
		_, _ = fmt.Fprintf(w, "(%d of %d rows)\n", len(out.ResultSet.Rows), out.ResultSet.TotalRows)
	}
	_, _ = fmt.Fprintln(w)
	printChart(w, out.ChartSpec)
}

func cellString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	}
}
