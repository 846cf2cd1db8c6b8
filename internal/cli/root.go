// Package cli implements the wisdomgraph command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/barryq93/wisdomgraph/internal/app"
	"github.com/barryq93/wisdomgraph/internal/db"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// NewRootCmd builds the command tree. serviceOpts are passed to every graph
// service the commands create.
func NewRootCmd(serviceOpts ...db.Option) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "wisdomgraph",
		Short:         "Neo4j access layer with slow-query diagnostics",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "config.yml", "Path to configuration file")

	load := func() (app.Config, error) {
		return app.LoadConfig(configFile)
	}

	rootCmd.AddCommand(
		newServeCmd(load, serviceOpts),
		newAnalyzeCmd(load),
		newHealthCmd(load, serviceOpts),
		newDeadLettersCmd(load, serviceOpts),
		newEncryptPasswordCmd(),
	)
	return rootCmd
}

type configLoader func() (app.Config, error)

func setJSONLogging(w io.Writer) {
	logrus.SetFormatter(&logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyMsg:  "message",
			logrus.FieldKeyTime: "timestamp",
		},
	})
	logrus.SetOutput(w)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func validateOutputFormat(output string) error {
	if output != "table" && output != "json" {
		return fmt.Errorf("unsupported output format %q: use 'table' or 'json'", output)
	}
	return nil
}
