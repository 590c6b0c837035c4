package server

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/alienlienn/iot-smartbin/fusion"
	"github.com/alienlienn/iot-smartbin/metrics"
	"github.com/alienlienn/iot-smartbin/routing"
	"github.com/alienlienn/iot-smartbin/transport"
)

const beaconTransport = "beacon"

// BeaconConfig describes the ranging deployment.
type BeaconConfig struct {
	Anchors      [fusion.AnchorCount]fusion.Anchor
	PathLoss     *fusion.PathLoss
	PollInterval time.Duration
}

// BeaconIngestor turns ranging reports into node positions.
type BeaconIngestor struct {
	src     transport.Source
	table   *routing.Table
	samples *fusion.SampleStore
	cfg     BeaconConfig
	known   map[string]bool
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewBeaconIngestor(src transport.Source, table *routing.Table, samples *fusion.SampleStore, cfg BeaconConfig, logger *zap.Logger, m *metrics.Metrics) *BeaconIngestor {
	if cfg.PathLoss == nil {
		cfg.PathLoss = fusion.DefaultPathLoss()
	}
	known := make(map[string]bool, fusion.AnchorCount)
	for _, a := range cfg.Anchors {
		known[a.ID] = true
	}
	return &BeaconIngestor{
		src:     src,
		table:   table,
		samples: samples,
		cfg:     cfg,
		known:   known,
		logger:  logger.Named("beacon"),
		metrics: m,
	}
}

// Run reads the ranging link until ctx is done or the transport fails.
func (b *BeaconIngestor) Run(ctx context.Context) error {
	b.logger.Info("Beacon ingestor started", zap.Any("anchors", b.cfg.Anchors))
	return runLines(ctx, beaconTransport, b.src, b.cfg.PollInterval, b.handle)
}

func (b *BeaconIngestor) handle(_ context.Context, line string) {
	if line == "" {
		b.count(metrics.ResultIgnored)
		return
	}
	rep, err := ParseRangingReport(line)
	if err != nil {
		b.logger.Debug("Beacon diagnostic", zap.String("line", line), zap.Error(err))
		b.count(metrics.ResultMalformed)
		return
	}
	if !b.known[rep.Anchor] {
		b.logger.Debug("Report from unknown anchor", zap.String("anchor", rep.Anchor), zap.String("node", string(rep.Node)))
		b.count(metrics.ResultIgnored)
		return
	}
	b.count(metrics.ResultAccepted)

	if b.table.Touch(rep.Node) {
		b.logger.Info("Node discovered", zap.String("node", string(rep.Node)))
	}
	node := string(rep.Node)
	b.samples.Put(node, rep.Anchor, b.cfg.PathLoss.Distance(rep.Strength))

	ranges, ok := b.samples.Ranges(node, b.cfg.Anchors)
	if !ok {
		return
	}
	pos, err := fusion.Trilaterate(ranges)
	if err != nil {
		b.logger.Warn("Trilateration failed", zap.String("node", node), zap.Error(err))
		b.metrics.Trilateration.WithLabelValues(metrics.ResultDegenerate).Inc()
		return
	}
	b.table.SetCoordinate(rep.Node, pos)
	b.metrics.Trilateration.WithLabelValues(metrics.ResultOK).Inc()
	b.logger.Debug("Position updated", zap.String("node", node), zap.Float64("x", pos.X), zap.Float64("y", pos.Y))
}

func (b *BeaconIngestor) count(result string) {
	b.metrics.IngestLines.WithLabelValues(beaconTransport, result).Inc()
}
