package routing

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/alienlienn/iot-smartbin/fusion"
	"github.com/alienlienn/iot-smartbin/metrics"
)

// DefaultOfflineThreshold is the heartbeat age after which a node is
// declared offline.
const DefaultOfflineThreshold = 120 * time.Second

// Supervisor ages out silent nodes and keeps the recommendations of full
// nodes current. It implements periodic.Task.
type Supervisor struct {
	table     *Table
	threshold time.Duration
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

func NewSupervisor(table *Table, threshold time.Duration, logger *zap.Logger, m *metrics.Metrics) *Supervisor {
	if threshold <= 0 {
		threshold = DefaultOfflineThreshold
	}
	return &Supervisor{
		table:     table,
		threshold: threshold,
		logger:    logger.Named("supervisor"),
		metrics:   m,
	}
}

func (s *Supervisor) Name() string { return "routing_supervisor" }

func (s *Supervisor) Run(_ context.Context) { s.Sweep() }

type sweepEvent struct {
	id       NodeID
	lastSeen int
	rec      *Recommendation
	kind     string
}

// Sweep runs one staleness pass followed by one recommendation pass under
// the table lock. Events are logged after the lock is released.
func (s *Supervisor) Sweep() {
	var events []sweepEvent
	counts := make(map[string]int)

	t := s.table
	t.mu.Lock()
	for _, id := range t.order {
		n := t.nodes[id]
		if n.Status == StatusOffline {
			continue
		}
		// Compared in seconds; ages beyond the Duration range must not wrap.
		if float64(n.LastSeen) > s.threshold.Seconds() {
			n.Status = StatusOffline
			events = append(events, sweepEvent{id: id, lastSeen: n.LastSeen, kind: "offline"})
		}
	}
	for _, id := range t.order {
		n := t.nodes[id]
		full := n.Status == StatusFull
		switch {
		case full:
			n.Recommendation = t.nearestLocked(n)
			if n.Recommendation != nil {
				events = append(events, sweepEvent{id: id, rec: n.Recommendation, kind: "recommend"})
			}
		case n.wasFull:
			n.Recommendation = nil
			events = append(events, sweepEvent{id: id, kind: "drained"})
		default:
			n.Recommendation = nil
		}
		n.wasFull = full
		counts[string(n.Status)]++
	}
	t.mu.Unlock()

	for _, e := range events {
		switch e.kind {
		case "offline":
			s.logger.Info("Node marked offline due to inactivity",
				zap.String("node", string(e.id)), zap.Int("last_seen", e.lastSeen))
		case "drained":
			s.logger.Info("Node is no longer full", zap.String("node", string(e.id)))
		case "recommend":
			s.logger.Debug("Recommendation updated", zap.String("node", string(e.id)),
				zap.String("next_nearest", string(e.rec.Target)),
				zap.String("direction", string(e.rec.Direction)))
		}
	}
	s.metrics.SetNodeCounts(counts)
}

// nearestLocked finds the closest node that can take over from a full one.
// Full, offline and unpositioned nodes are skipped; ties keep the node that
// was discovered first.
func (t *Table) nearestLocked(from *Node) *Recommendation {
	if from.Coord == nil {
		return nil
	}
	var best *Node
	bestDist := math.Inf(1)
	for _, id := range t.order {
		c := t.nodes[id]
		if id == from.ID || c.Status == StatusFull || c.Status == StatusOffline || c.Coord == nil {
			continue
		}
		if d := fusion.Euclidean(from.Coord, c.Coord); d < bestDist {
			best, bestDist = c, d
		}
	}
	if best == nil {
		return nil
	}
	return &Recommendation{Target: best.ID, Direction: fusion.Bearing(*from.Coord, *best.Coord)}
}
