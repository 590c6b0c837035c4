package server

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/alienlienn/iot-smartbin/metrics"
	"github.com/alienlienn/iot-smartbin/routing"
	"github.com/alienlienn/iot-smartbin/transport"
)

const meshTransport = "mesh"

// MeshIngestor applies routing-table dumps from the mesh root node.
type MeshIngestor struct {
	src     transport.Source
	table   *routing.Table
	poll    time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewMeshIngestor(src transport.Source, table *routing.Table, poll time.Duration, logger *zap.Logger, m *metrics.Metrics) *MeshIngestor {
	return &MeshIngestor{
		src:     src,
		table:   table,
		poll:    poll,
		logger:  logger.Named("mesh"),
		metrics: m,
	}
}

// Run reads the mesh link until ctx is done or the transport fails.
func (m *MeshIngestor) Run(ctx context.Context) error {
	m.logger.Info("Mesh ingestor started")
	return runLines(ctx, meshTransport, m.src, m.poll, m.handle)
}

func (m *MeshIngestor) handle(ctx context.Context, line string) {
	if IsRoutingHeader(line) {
		m.readBlock(ctx)
		return
	}
	if line != "" {
		m.logger.Debug("Mesh diagnostic", zap.String("line", line))
	}
	m.count(metrics.ResultIgnored)
}

// readBlock consumes the node lines of one dump. The block ends as soon as
// no further line is already pending.
func (m *MeshIngestor) readBlock(ctx context.Context) {
	for {
		line, ok := m.src.Next(ctx, 0)
		if !ok {
			return
		}
		if !IsNodeLine(line) {
			m.count(metrics.ResultIgnored)
			continue
		}
		hb, err := ParseMeshLine(line)
		if err != nil {
			m.logger.Debug("Skipping node line", zap.String("line", line), zap.Error(err))
			m.count(metrics.ResultMalformed)
			continue
		}
		status, created := m.table.ApplyHeartbeat(hb.Node, hb.LastSeen, hb.Status)
		m.count(metrics.ResultAccepted)
		if created {
			m.logger.Info("Node discovered",
				zap.String("node", string(hb.Node)),
				zap.String("status", string(status)),
				zap.Int("last_seen", hb.LastSeen))
			continue
		}
		m.logger.Debug("Heartbeat",
			zap.String("node", string(hb.Node)),
			zap.String("reported", string(hb.Status)),
			zap.String("status", string(status)),
			zap.Int("last_seen", hb.LastSeen))
	}
}

func (m *MeshIngestor) count(result string) {
	m.metrics.IngestLines.WithLabelValues(meshTransport, result).Inc()
}
