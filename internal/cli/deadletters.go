package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/barryq93/wisdomgraph/internal/app"
	"github.com/barryq93/wisdomgraph/internal/db"
	"github.com/barryq93/wisdomgraph/internal/querylog"
	"github.com/barryq93/wisdomgraph/internal/utils"
	"github.com/spf13/cobra"
)

func newDeadLettersCmd(load configLoader, serviceOpts []db.Option) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dead-letters",
		Short: "Inspect and replay writes that failed on a transient error",
	}
	cmd.AddCommand(newDeadLettersListCmd(load), newDeadLettersReplayCmd(load, serviceOpts))
	return cmd
}

func newDeadLettersListCmd(load configLoader) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued dead letters, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateOutputFormat(output); err != nil {
				return err
			}
			config, err := load()
			if err != nil {
				return err
			}
			redact := querylog.DefaultConfig().Merge(config.QueryLogging).RedactFields
			dlq := app.NewDeadLetterQueue(config.GlobalConfig.LogPath, config.GlobalConfig.EncryptionKey, redact, nil)

			letters, err := dlq.List()
			if err != nil {
				return err
			}
			if output == "json" {
				return printJSON(cmd.OutOrStdout(), letters)
			}
			return printLettersTable(cmd.OutOrStdout(), letters)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")
	return cmd
}

func printLettersTable(out io.Writer, letters []app.DeadLetter) error {
	if len(letters) == 0 {
		fmt.Fprintln(out, "Dead letter queue is empty.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tQUERY\tKIND\tFAILED AT\tERROR")
	for _, l := range letters {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			l.ID, l.QueryName, l.ErrorKind, l.FailedAt.Format(time.RFC3339), utils.Truncate(firstLine(l.Error), 60))
	}
	return w.Flush()
}

func newDeadLettersReplayCmd(load configLoader, serviceOpts []db.Option) *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Re-run every queued write once; successful letters are removed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, err := load()
			if err != nil {
				return err
			}
			application, err := app.NewApplication(config, serviceOpts...)
			if err != nil {
				return err
			}
			defer application.Shutdown()

			result, err := application.ReplayDeadLetters(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Replayed: %d, skipped: %d, failed: %d\n", result.Replayed, result.Skipped, result.Failed)
			for _, e := range result.Errors {
				fmt.Fprintf(out, "  %s\n", e)
			}
			if result.Failed > 0 {
				return fmt.Errorf("%d dead letters failed to replay", result.Failed)
			}
			return nil
		},
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
