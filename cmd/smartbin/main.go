// Command smartbin is the gateway between the smart-bin mesh and the
// dashboard. It follows the mesh routing table, locates bins from beacon
// ranging, recommends alternatives for full bins and publishes snapshots.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/alienlienn/iot-smartbin/config"
	"github.com/alienlienn/iot-smartbin/fusion"
	"github.com/alienlienn/iot-smartbin/logging"
	"github.com/alienlienn/iot-smartbin/metrics"
	"github.com/alienlienn/iot-smartbin/periodic"
	"github.com/alienlienn/iot-smartbin/rbc"
	"github.com/alienlienn/iot-smartbin/routing"
	"github.com/alienlienn/iot-smartbin/server"
	"github.com/alienlienn/iot-smartbin/transport"
	"github.com/alienlienn/iot-smartbin/web"
)

type overrides struct {
	configPath string
	meshURL    string
	beaconURL  string
	sinkURL    string
	logLevel   string
}

func main() {
	if err := newCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var o overrides
	cmd := &cobra.Command{
		Use:          "smartbin",
		Short:        "Smart-bin mesh gateway",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(o)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.configPath, "config", "c", "", "YAML configuration file")
	f.StringVar(&o.meshURL, "mesh", "", "mesh status transport (serial:///dev/ttyUSB0, tcp://host:port, udp://:port)")
	f.StringVar(&o.beaconURL, "beacon", "", "beacon ranging transport")
	f.StringVar(&o.sinkURL, "sink", "", "dashboard URL that receives snapshots")
	f.StringVar(&o.logLevel, "log-level", "", "debug, info, warn or error")
	return cmd
}

func loadConfig(o overrides) (config.AppConfig, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, err
	}
	if o.meshURL != "" {
		cfg.Mesh.URL = o.meshURL
	}
	if o.beaconURL != "" {
		cfg.Beacon.URL = o.beaconURL
	}
	if o.sinkURL != "" {
		cfg.Publish.URL = o.sinkURL
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg config.AppConfig) error {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	mesh, err := transport.Open(cfg.Mesh.URL, cfg.Mesh.Options())
	if err != nil {
		logger.Error("Opening mesh transport", zap.String("url", cfg.Mesh.URL), zap.Error(err))
		return err
	}
	beacon, err := transport.Open(cfg.Beacon.URL, cfg.Beacon.Options())
	if err != nil {
		mesh.Close()
		logger.Error("Opening beacon transport", zap.String("url", cfg.Beacon.URL), zap.Error(err))
		return err
	}
	logger.Info("Transports opened", zap.String("mesh", cfg.Mesh.URL), zap.String("beacon", cfg.Beacon.URL))

	m := metrics.New()
	table := routing.NewTable()
	for _, id := range cfg.Routing.SeedNodes {
		table.Seed(routing.CanonicalID(id))
	}
	samples := fusion.NewSampleStore()

	g, gctx := errgroup.WithContext(ctx)

	meshIngestor := server.NewMeshIngestor(mesh, table, cfg.Ingest.PollInterval, logger, m)
	beaconIngestor := server.NewBeaconIngestor(beacon, table, samples, server.BeaconConfig{
		Anchors:      cfg.AnchorSet(),
		PathLoss:     cfg.PathLossModel(),
		PollInterval: cfg.Ingest.PollInterval,
	}, logger, m)
	g.Go(func() error { return ignoreCanceled(meshIngestor.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(beaconIngestor.Run(gctx)) })

	sender := rbc.NewSender(logger, m)
	if cfg.Publish.URL != "" {
		sender.AddSink(rbc.NewHTTPSink(cfg.Publish.URL, cfg.Publish.Timeout))
	}
	if cfg.Hub.Addr != "" {
		hub := web.NewHub(logger)
		sender.AddSink(rbc.NewBroadcastSink("local-hub", hub))
		srv := web.NewServer(hub, m.Handler(), logger)
		g.Go(func() error { return srv.Serve(gctx, cfg.Hub.Addr) })
	}
	if cfg.Metrics.Addr != "" {
		g.Go(func() error { return serveOps(gctx, cfg.Metrics.Addr, web.OpsRouter(table, m.Handler()), logger) })
	}

	supervisor := periodic.Start(
		routing.NewSupervisor(table, cfg.Routing.OfflineThreshold, logger, m),
		periodic.NewTicker(cfg.Routing.SweepInterval),
		cfg.Routing.SweepInterval,
		logger,
	)
	publisher := periodic.Start(
		rbc.NewPublisher(table, sender, logger, m),
		periodic.NewTicker(cfg.Publish.Interval),
		cfg.Publish.Timeout+time.Second,
		logger,
	)

	g.Go(func() error {
		<-gctx.Done()
		supervisor.Kill()
		publisher.Kill()
		// Closing unblocks the transport readers.
		mesh.Close()
		beacon.Close()
		return nil
	})

	logger.Info("Gateway running",
		zap.Int("seed_nodes", len(cfg.Routing.SeedNodes)),
		zap.Duration("offline_threshold", cfg.Routing.OfflineThreshold),
		zap.String("sink", cfg.Publish.URL))
	if err := g.Wait(); err != nil {
		logger.Error("Gateway stopped", zap.Error(err))
		return err
	}
	logger.Info("Gateway stopped")
	return nil
}

func serveOps(ctx context.Context, addr string, h http.Handler, logger *zap.Logger) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("Exposing ops API", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "serving ops API")
	}
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
