package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vtpt/vtpt-meter/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API proxy in front of the remote script",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Keep draining the outbox while the proxy runs, so CLI-recorded
	// readings on the same host still reach the server.
	a.sync.Start(ctx)

	srv := server.New(a.client, a.cfg.Directory(), server.Config{
		Addr:            a.cfg.Server.Addr,
		AllowedOrigins:  a.cfg.Server.AllowedOrigins,
		ShutdownTimeout: a.cfg.Server.ShutdownTimeout.Std(),
	})
	return srv.Run(ctx)
}
