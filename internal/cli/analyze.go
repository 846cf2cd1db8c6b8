package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/barryq93/wisdomgraph/internal/querylog"
	"github.com/barryq93/wisdomgraph/internal/types"
	"github.com/spf13/cobra"
)

type analyzeFlags struct {
	minTime float64
	groupBy string
	top     int
	output  string
	logFile string
}

func newAnalyzeCmd(load configLoader) *cobra.Command {
	var f analyzeFlags

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Summarize slow queries from the query log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateOutputFormat(f.output); err != nil {
				return err
			}
			switch f.groupBy {
			case querylog.GroupByQueryName, querylog.GroupByRequestPath, querylog.GroupByUserID:
			default:
				return fmt.Errorf("unsupported group-by %q: use query_name, request_path or user_id", f.groupBy)
			}

			path := f.logFile
			if path == "" {
				path = defaultLogFile(load)
			}

			stats, err := querylog.AnalyzeFile(path, querylog.AnalyzeOptions{
				MinTimeMS: f.minTime,
				GroupBy:   f.groupBy,
				TopN:      f.top,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if f.output == "json" {
				return printJSON(out, stats)
			}
			return printStatsTable(out, path, f, stats)
		},
	}

	cmd.Flags().Float64Var(&f.minTime, "min-time", querylog.DefaultThresholdMS, "Minimum execution time in ms")
	cmd.Flags().StringVar(&f.groupBy, "group-by", querylog.GroupByQueryName, "Group by query_name, request_path or user_id")
	cmd.Flags().IntVar(&f.top, "top", querylog.DefaultTopN, "Number of groups to show")
	cmd.Flags().StringVarP(&f.output, "output", "o", "table", "Output format (table, json)")
	cmd.Flags().StringVar(&f.logFile, "log-file", "", "Query log to analyze (default from config)")
	return cmd
}

// defaultLogFile resolves the query log path from the config file, falling
// back to the built-in default when no config can be loaded.
func defaultLogFile(load configLoader) string {
	config, err := load()
	if err != nil {
		return querylog.DefaultLogFile
	}
	return querylog.DefaultConfig().Merge(types.QueryLogOptions{LogFile: config.QueryLogging.LogFile}).LogFile
}

func printStatsTable(out io.Writer, path string, f analyzeFlags, stats []querylog.Stat) error {
	fmt.Fprintf(out, "Analyzing %s (min %.0fms, grouped by %s)\n\n", path, f.minTime, f.groupBy)
	if len(stats) == 0 {
		fmt.Fprintln(out, "No slow queries found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tNAME\tCOUNT\tAVG (MS)\tMAX (MS)\tMIN (MS)\tLAST SEEN")
	for i, st := range stats {
		last := "-"
		if st.LastOccurred != nil {
			last = st.LastOccurred.Format(time.DateTime)
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%.2f\t%.2f\t%.2f\t%s\n",
			i+1, st.Name, st.Count, st.AvgTimeMS, st.MaxTimeMS, st.MinTimeMS, last)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	slowest := stats[0]
	if len(slowest.Examples) > 0 {
		ex := slowest.Examples[0]
		fmt.Fprintf(out, "\nSlowest example for %s:\n", slowest.Name)
		for _, key := range []string{"elapsed_ms", "request_path", "request_method", "request_id", "user_id", "params"} {
			if v, ok := ex[key]; ok && v != nil {
				fmt.Fprintf(out, "  %s: %v\n", key, v)
			}
		}
	}
	return nil
}
