package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/barryq93/wisdomgraph/internal/app"
	"github.com/barryq93/wisdomgraph/internal/db"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newServeCmd(load configLoader, serviceOpts []db.Option) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the health, metrics and admin HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			setJSONLogging(os.Stdout)

			config, err := load()
			if err != nil {
				return err
			}
			application, err := app.NewApplication(config, serviceOpts...)
			if err != nil {
				return err
			}
			application.Start()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigChan)

			select {
			case <-sigChan:
				logrus.Info("Shutdown signal received")
			case <-cmd.Context().Done():
				logrus.Info("Context cancelled, shutting down")
			}
			application.Shutdown()
			logrus.Info("Application shutdown complete")
			return nil
		},
	}
}
