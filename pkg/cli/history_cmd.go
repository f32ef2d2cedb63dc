package cli

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"duck-ask/internal/domain"
)

// historyParams maps history flags to the query parameters they set.
var historyParams = map[string]string{
	"state":       "state",
	"source":      "data_source",
	"max-results": "max_results",
	"page-token":  "page_token",
}

type historyPage struct {
	Records       []domain.QueryExecutionRecord `json:"records"`
	TotalCount    int64                         `json:"total_count"`
	NextPageToken string                        `json:"next_page_token,omitempty"`
}

// changedParams returns the query parameters for the flags set on the
// command line. Flags left at their defaults are not sent.
func changedParams(flags *pflag.FlagSet, names map[string]string) url.Values {
	q := url.Values{}
	flags.Visit(func(f *pflag.Flag) {
		if param, ok := names[f.Name]; ok && f.Value.String() != "" {
			q.Set(param, f.Value.String())
		}
	})
	return q
}

func newHistoryCmd(client *Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past questions from the history store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := changedParams(cmd.Flags(), historyParams)

			var page historyPage
			if err := client.Do(cmd.Context(), http.MethodGet, "/history", q, nil, &page); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(out, &page)
			}

			rows := make([][]string, 0, len(page.Records))
			for _, rec := range page.Records {
				errKind := ""
				if rec.Error != nil {
					errKind = string(rec.Error.Kind)
				}
				rows = append(rows, []string{
					rec.Request.ID,
					string(rec.State),
					rec.Request.DataSourceRef,
					rec.Request.RawText,
					rec.StartedAt.Local().Format(time.DateTime),
					errKind,
				})
			}
			PrintTable(out, []string{"id", "state", "source", "question", "started", "error"}, rows)
			_, _ = fmt.Fprintf(out, "\n%d of %d question(s)\n", len(page.Records), page.TotalCount)
			if page.NextPageToken != "" {
				_, _ = fmt.Fprintf(out, "Next page: ask history --page-token %s\n", page.NextPageToken)
			}
			return nil
		},
	}
	cmd.Flags().String("state", "", "Only questions in this state (e.g. Completed, Failed)")
	cmd.Flags().StringP("source", "s", "", "Only questions against this data source")
	cmd.Flags().Int("max-results", 0, "Page size")
	cmd.Flags().String("page-token", "", "Token from a previous page")
	return cmd
}

func newSourcesCmd(client *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List the data sources questions can be asked against",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var list struct {
				DataSources []domain.DataSource `json:"data_sources"`
			}
			if err := client.Do(cmd.Context(), http.MethodGet, "/data-sources", nil, nil, &list); err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(cmd.OutOrStdout(), list)
			}
			rows := make([][]string, 0, len(list.DataSources))
			for _, src := range list.DataSources {
				rows = append(rows, []string{src.Name, src.Driver, src.Description})
			}
			PrintTable(cmd.OutOrStdout(), []string{"name", "driver", "description"}, rows)
			return nil
		},
	}
}
