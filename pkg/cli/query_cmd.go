package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"duck-ask/internal/domain"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultWaitTimeout  = 5 * time.Minute
)

func newQueryCmd(client *Client) *cobra.Command {
	var (
		source  string
		kind    string
		wait    bool
		poll    time.Duration
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Ask a question and wait for the answer",
		Long: `Submit a natural-language question against a data source.

With --wait (the default) the command polls until the question is answered.
When the server needs a clarification and stdin is a terminal, the question
is asked interactively; pick a numbered suggestion or type an answer.
Without a terminal the clarification is printed and the command exits; reply
later with "ask answer <id> <text>".`,
		Example: `  ask query "total sales by region" --source demo
  ask query "monthly sales trend" --source demo --kind line`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if kind != "" {
				if _, err := domain.ParseChartKind(kind); err != nil {
					return err
				}
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			jsonOut := getOutputFormat(cmd) == "json"

			var snap domain.StatusSnapshot
			body := map[string]string{"text": strings.Join(args, " "), "data_source": source}
			if err := client.Do(ctx, http.MethodPost, "/queries", nil, body, &snap); err != nil {
				return err
			}
			if !wait {
				if jsonOut {
					return PrintJSON(out, &snap)
				}
				printSnapshot(out, &snap)
				return nil
			}

			waitCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			final, err := follow(waitCtx, cmd, client, snap.RequestID, poll)
			if err != nil {
				return err
			}

			switch final.State {
			case domain.StateCompleted:
			case domain.StateAwaitingClarification:
				if jsonOut {
					return PrintJSON(out, final)
				}
				printSnapshot(out, final)
				_, _ = fmt.Fprintf(out, "\nReply with: ask answer %s \"<answer>\"\n", final.RequestID)
				return nil
			default:
				if jsonOut {
					_ = PrintJSON(out, final)
				} else {
					printSnapshot(out, final)
				}
				if final.Error != nil {
					return fmt.Errorf("question failed: %s: %s", final.Error.Kind, final.Error.Message)
				}
				return fmt.Errorf("question ended in state %s", final.State)
			}

			if kind != "" {
				if err := client.Do(ctx, http.MethodPost, queryPath(final.RequestID, "chart"), nil, map[string]string{"kind": kind}, nil); err != nil {
					return err
				}
			}
			var outcome domain.QueryOutcome
			if err := client.Do(ctx, http.MethodGet, queryPath(final.RequestID, "result"), nil, nil, &outcome); err != nil {
				return err
			}
			if jsonOut {
				return PrintJSON(out, &outcome)
			}
			_, _ = fmt.Fprintf(out, "%s\n\n", outcome.GeneratedQueryText)
			printOutcome(out, &outcome)
			return nil
		},
	}
	cmd.Flags().StringVarP(&source, "source", "s", "demo", "Data source to ask")
	cmd.Flags().StringVarP(&kind, "kind", "k", "", "Chart kind to switch to once answered (kpi, bar, line, pie, scatter, single_value_gauge)")
	cmd.Flags().BoolVar(&wait, "wait", true, "Wait for the answer")
	cmd.Flags().DurationVar(&poll, "poll-interval", defaultPollInterval, "Status poll interval")
	cmd.Flags().DurationVar(&timeout, "timeout", defaultWaitTimeout, "Give up waiting after this long")
	return cmd
}

// follow polls the status until the question is terminal, or until it
// awaits a clarification that cannot be asked interactively.
func follow(ctx context.Context, cmd *cobra.Command, client *Client, id string, poll time.Duration) (*domain.StatusSnapshot, error) {
	interactive := stdinIsTerminal(cmd.InOrStdin())
	in := bufio.NewReader(cmd.InOrStdin())
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		var snap domain.StatusSnapshot
		if err := client.Do(ctx, http.MethodGet, queryPath(id, ""), nil, nil, &snap); err != nil {
			return nil, err
		}
		switch {
		case snap.State.Terminal():
			return &snap, nil
		case snap.State == domain.StateAwaitingClarification:
			if !interactive {
				return &snap, nil
			}
			answer, err := prompt(cmd.ErrOrStderr(), in, &snap)
			if err != nil {
				return nil, err
			}
			if err := client.Do(ctx, http.MethodPost, queryPath(id, "clarifications"), nil, map[string]string{"answer": answer}, nil); err != nil {
				return nil, err
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}

// prompt asks the pending clarification question. A number picks the
// matching suggestion; anything else is sent as typed.
func prompt(w io.Writer, in *bufio.Reader, snap *domain.StatusSnapshot) (string, error) {
	question := "Please clarify your question."
	if snap.ClarificationQuestion != nil {
		question = *snap.ClarificationQuestion
	}
	_, _ = fmt.Fprintf(w, "? %s\n", question)
	for i, s := range snap.Suggestions {
		_, _ = fmt.Fprintf(w, "  %d) %s\n", i+1, s)
	}
	for {
		_, _ = fmt.Fprint(w, "> ")
		line, err := in.ReadString('\n')
		line = strings.TrimSpace(line)
		if line != "" {
			if n, convErr := strconv.Atoi(line); convErr == nil && n >= 1 && n <= len(snap.Suggestions) {
				return snap.Suggestions[n-1], nil
			}
			return line, nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", errors.New("no clarification answer given")
			}
			return "", fmt.Errorf("read answer: %w", err)
		}
	}
}
