// Command dashboard_hub is a standalone dashboard endpoint. It accepts the
// snapshots smartbin posts and relays them to websocket clients on /ws.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/alienlienn/iot-smartbin/logging"
	"github.com/alienlienn/iot-smartbin/metrics"
	"github.com/alienlienn/iot-smartbin/web"
)

func main() {
	var (
		addr string
		logc logging.Config
	)
	cmd := &cobra.Command{
		Use:          "dashboard_hub",
		Short:        "Receive smart-bin snapshots and fan them out over websockets",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := logging.New(logc)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, addr, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8000", "listen address")
	cmd.Flags().StringVar(&logc.Level, "log-level", "info", "debug, info, warn or error")
	cmd.Flags().BoolVar(&logc.Development, "dev", false, "human readable logs")
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(ctx context.Context, addr string, logger *zap.Logger) error {
	m := metrics.New()
	srv := web.NewServer(web.NewHub(logger), m.Handler(), logger)
	if err := srv.Serve(ctx, addr); err != nil {
		logger.Error("Hub stopped", zap.Error(err))
		return err
	}
	return nil
}
