package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/barryq93/wisdomgraph/internal/db"
	"github.com/barryq93/wisdomgraph/internal/utils"
	"github.com/spf13/cobra"
)

var errUnhealthy = errors.New("neo4j health check failed")

func newHealthCmd(load configLoader, serviceOpts []db.Option) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that Neo4j answers a trivial query",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, err := load()
			if err != nil {
				return err
			}
			utils.SetLogLevel(config.GlobalConfig.LogLevel)

			service, err := db.NewService(config.Neo4j, serviceOpts...)
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = service.Close(ctx)
			}()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Checking Neo4j at %s (database %s)\n", config.Neo4j.URI, config.Neo4j.Database)
			start := time.Now()
			if !service.Health(cmd.Context()) {
				fmt.Fprintln(out, "Neo4j connection: FAILED")
				return errUnhealthy
			}
			fmt.Fprintf(out, "Neo4j connection: OK (%dms)\n", time.Since(start).Milliseconds())
			return nil
		},
	}
}
