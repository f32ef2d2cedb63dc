package cli

import (
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"duck-ask/internal/domain"
)

// snapshotCmd builds a command that sends one request for a question id
// and prints the returned status.
func snapshotCmd(client *Client, use, short, method, suffix string, args cobra.PositionalArgs, body func([]string) interface{}) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			var req interface{}
			if body != nil {
				req = body(args)
			}
			var snap domain.StatusSnapshot
			if err := client.Do(cmd.Context(), method, queryPath(args[0], suffix), nil, req, &snap); err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(cmd.OutOrStdout(), &snap)
			}
			printSnapshot(cmd.OutOrStdout(), &snap)
			return nil
		},
	}
}

func newStatusCmd(client *Client) *cobra.Command {
	return snapshotCmd(client, "status <id>", "Show the progress of a question",
		http.MethodGet, "", cobra.ExactArgs(1), nil)
}

func newAnswerCmd(client *Client) *cobra.Command {
	return snapshotCmd(client, "answer <id> <answer>", "Answer a pending clarification question",
		http.MethodPost, "clarifications", cobra.MinimumNArgs(2), func(args []string) interface{} {
			return map[string]string{"answer": strings.Join(args[1:], " ")}
		})
}

func newCancelCmd(client *Client) *cobra.Command {
	return snapshotCmd(client, "cancel <id>", "Cancel a question that is still running",
		http.MethodPost, "cancel", cobra.ExactArgs(1), nil)
}

func newResultCmd(client *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "result <id>",
		Short: "Print the result table and chart of an answered question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var outcome domain.QueryOutcome
			if err := client.Do(cmd.Context(), http.MethodGet, queryPath(args[0], "result"), nil, nil, &outcome); err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(cmd.OutOrStdout(), &outcome)
			}
			printOutcome(cmd.OutOrStdout(), &outcome)
			return nil
		},
	}
}

func newChartCmd(client *Client) *cobra.Command {
	return &cobra.Command{
		Use:       "chart <id> <kind>",
		Short:     "Switch the chart kind of an answered question",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"kpi", "bar", "line", "pie", "scatter", "single_value_gauge"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var spec domain.ChartSpec
			if err := client.Do(cmd.Context(), http.MethodPost, queryPath(args[0], "chart"), nil,
				map[string]string{"kind": args[1]}, &spec); err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(cmd.OutOrStdout(), &spec)
			}
			printChart(cmd.OutOrStdout(), spec)
			return nil
		},
	}
}
