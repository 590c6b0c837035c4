package rbc

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/alienlienn/iot-smartbin/metrics"
	"github.com/alienlienn/iot-smartbin/routing"
)

// Publisher is the periodic task that snapshots the routing table and
// pushes it to the sinks.
type Publisher struct {
	table   *routing.Table
	sender  *Sender
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewPublisher(table *routing.Table, sender *Sender, logger *zap.Logger, m *metrics.Metrics) *Publisher {
	return &Publisher{
		table:   table,
		sender:  sender,
		logger:  logger.Named("publisher"),
		metrics: m,
	}
}

func (p *Publisher) Name() string { return "snapshot_publisher" }

func (p *Publisher) Run(ctx context.Context) {
	start := time.Now()
	nodes := p.table.Snapshot()
	body, err := FormatSnapshot(nodes)
	if err != nil {
		p.logger.Error("Encoding snapshot", zap.Error(err))
		return
	}
	delivered := p.sender.Send(ctx, body)
	p.metrics.PublishDuration.Observe(time.Since(start).Seconds())
	p.logger.Debug("Snapshot published",
		zap.Int("nodes", len(nodes)),
		zap.Int("delivered", delivered),
		zap.Int("sinks", p.sender.Sinks()))
}
