package server

import (
	"context"
	"io"
	"math"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/alienlienn/iot-smartbin/fusion"
	"github.com/alienlienn/iot-smartbin/metrics"
	"github.com/alienlienn/iot-smartbin/routing"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// burstSource replays lines in bursts. Within a burst every line is
// immediately available; the next burst only arrives for a waiting read.
type burstSource struct {
	bursts [][]string
}

func (s *burstSource) Next(_ context.Context, wait time.Duration) (string, bool) {
	for len(s.bursts) > 0 && len(s.bursts[0]) == 0 {
		if wait <= 0 {
			return "", false
		}
		s.bursts = s.bursts[1:]
	}
	if len(s.bursts) == 0 {
		return "", false
	}
	line := s.bursts[0][0]
	s.bursts[0] = s.bursts[0][1:]
	return line, true
}

func (s *burstSource) Err() error {
	for _, b := range s.bursts {
		if len(b) > 0 {
			return nil
		}
	}
	return io.EOF
}

func (s *burstSource) Close() error { return nil }

func runMesh(t *testing.T, table *routing.Table, m *metrics.Metrics, bursts ...[]string) {
	t.Helper()
	ing := NewMeshIngestor(&burstSource{bursts: bursts}, table, time.Millisecond, zaptest.NewLogger(t), m)
	err := ing.Run(context.Background())
	require.True(t, errors.Is(err, io.EOF), "%v", err)
}

func TestMeshIngestorBlock(t *testing.T) {
	table := routing.NewTable()
	m := metrics.New()
	runMesh(t, table, m,
		[]string{
			"mesh root booted",
			"Routing Table:",
			"Node 1 (hop 1) Last seen: 12s ago Status: FULL",
			"Node 2 (hop 2) Last seen: 3.9s ago Status: ok",
			"--------",
			"Node 3 short",
		},
		[]string{"Node 4 (hop 1) Last seen: 1s ago Status: OK"},
	)

	require.Equal(t, 2, table.Len())
	n1, ok := table.Get("1")
	require.True(t, ok)
	assert.Equal(t, routing.StatusFull, n1.Status)
	assert.Equal(t, 12, n1.LastSeen)
	assert.Nil(t, n1.Coord)
	n2, _ := table.Get("2")
	assert.Equal(t, routing.StatusOK, n2.Status)
	assert.Equal(t, 3, n2.LastSeen)
	_, ok = table.Get("4")
	assert.False(t, ok, "node lines outside a block are diagnostics")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.IngestLines.WithLabelValues("mesh", metrics.ResultAccepted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestLines.WithLabelValues("mesh", metrics.ResultMalformed)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.IngestLines.WithLabelValues("mesh", metrics.ResultIgnored)))
}

func TestMeshIngestorOfflineTokenNeverDowngrades(t *testing.T) {
	table := routing.NewTable()
	table.Seed("5")
	table.ApplyHeartbeat("1", 2, routing.StatusOK)
	table.ApplyHeartbeat("2", 2, routing.StatusFull)

	runMesh(t, table, metrics.New(), []string{
		"Routing Table:",
		"Node 1 (hop 1) Last seen: 200s ago Status: OFFLINE",
		"Node 2 (hop 1) Last seen: 7s ago Status: offline",
		"Node 3 (hop 1) Last seen: 9s ago Status: OFFLINE",
		"Node 5 (hop 2) Last seen: 1s ago Status: EMPTY",
	})

	n1, _ := table.Get("1")
	assert.Equal(t, routing.StatusOK, n1.Status)
	assert.Equal(t, 200, n1.LastSeen, "age is refreshed even when the status is kept")
	n2, _ := table.Get("2")
	assert.Equal(t, routing.StatusFull, n2.Status)
	n3, _ := table.Get("3")
	assert.Equal(t, routing.StatusOffline, n3.Status, "new nodes take the parsed status")
	n5, _ := table.Get("5")
	assert.Equal(t, routing.StatusEmpty, n5.Status, "seeded node comes online")
}

func TestMeshIngestorStopsOnCancel(t *testing.T) {
	src := &burstSource{bursts: [][]string{{"Routing Table:", "Node 1 (hop 1) Last seen: 1s ago Status: OK"}}}
	table := routing.NewTable()
	ing := NewMeshIngestor(src, table, time.Millisecond, zaptest.NewLogger(t), metrics.New())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, ing.Run(ctx), context.Canceled)
	assert.Equal(t, 0, table.Len())
}

var deployedAnchors = [fusion.AnchorCount]fusion.Anchor{
	{ID: "B1", Coord: fusion.Coord{X: 7, Y: -3.5}},
	{ID: "B2", Coord: fusion.Coord{X: 2, Y: 5}},
	{ID: "B3", Coord: fusion.Coord{X: -6, Y: -3}},
}

// reportsFor renders the ranging lines the anchors would emit for a node
// sitting exactly at pos.
func reportsFor(node string, pos fusion.Coord, anchors [fusion.AnchorCount]fusion.Anchor) []string {
	model := fusion.DefaultPathLoss()
	var lines []string
	for _, a := range anchors {
		s := model.Strength(fusion.Euclidean(&a.Coord, &pos))
		lines = append(lines, `{"id":"`+a.ID+`","b":`+node+`,"r":`+formatFloat(s)+`}`)
	}
	return lines
}

func runBeacon(t *testing.T, table *routing.Table, anchors [fusion.AnchorCount]fusion.Anchor, m *metrics.Metrics, lines ...string) {
	t.Helper()
	cfg := BeaconConfig{Anchors: anchors, PollInterval: time.Millisecond}
	ing := NewBeaconIngestor(&burstSource{bursts: [][]string{lines}}, table, fusion.NewSampleStore(), cfg, zaptest.NewLogger(t), m)
	err := ing.Run(context.Background())
	require.True(t, errors.Is(err, io.EOF), "%v", err)
}

func TestBeaconIngestorLocatesNode(t *testing.T) {
	table := routing.NewTable()
	m := metrics.New()
	lines := reportsFor("3", fusion.Coord{X: 1, Y: 2}, deployedAnchors)
	runBeacon(t, table, deployedAnchors, m, append([]string{"beacon up"}, lines...)...)

	n, ok := table.Get("3")
	require.True(t, ok)
	assert.Equal(t, routing.StatusUnknown, n.Status)
	require.NotNil(t, n.Coord)
	assert.InDelta(t, 1.0, n.Coord.X, 1e-6)
	assert.InDelta(t, 2.0, n.Coord.Y, 1e-6)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Trilateration.WithLabelValues(metrics.ResultOK)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.IngestLines.WithLabelValues("beacon", metrics.ResultAccepted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestLines.WithLabelValues("beacon", metrics.ResultMalformed)))
}

func TestBeaconIngestorNeedsAllAnchors(t *testing.T) {
	table := routing.NewTable()
	m := metrics.New()
	lines := reportsFor(`"4"`, fusion.Coord{X: 0, Y: 0}, deployedAnchors)
	runBeacon(t, table, deployedAnchors, m,
		lines[0],
		lines[1],
		`{"id":"B9","b":4,"r":-70}`,
		`{"id":"B9","b":99,"r":-70}`,
	)

	n, ok := table.Get("4")
	require.True(t, ok, "node exists after its first report")
	assert.Nil(t, n.Coord)
	_, ok = table.Get("99")
	assert.False(t, ok, "unknown anchors do not create nodes")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.IngestLines.WithLabelValues("beacon", metrics.ResultIgnored)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Trilateration.WithLabelValues(metrics.ResultOK)))
}

func TestBeaconIngestorDegenerateGeometry(t *testing.T) {
	collinear := [fusion.AnchorCount]fusion.Anchor{
		{ID: "B1", Coord: fusion.Coord{X: 0, Y: 0}},
		{ID: "B2", Coord: fusion.Coord{X: 1, Y: 0}},
		{ID: "B3", Coord: fusion.Coord{X: 2, Y: 0}},
	}
	table := routing.NewTable()
	m := metrics.New()
	runBeacon(t, table, collinear, m, reportsFor("6", fusion.Coord{X: 1, Y: 1}, collinear)...)

	n, ok := table.Get("6")
	require.True(t, ok)
	assert.Nil(t, n.Coord, "coordinate untouched on solver failure")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Trilateration.WithLabelValues(metrics.ResultDegenerate)))
}

func TestBeaconIngestorKeepsLastPosition(t *testing.T) {
	table := routing.NewTable()
	first := reportsFor("8", fusion.Coord{X: 1, Y: 1}, deployedAnchors)
	moved := reportsFor("8", fusion.Coord{X: -2, Y: 0}, deployedAnchors)
	runBeacon(t, table, deployedAnchors, metrics.New(), append(first, moved[0])...)

	n, _ := table.Get("8")
	require.NotNil(t, n.Coord)
	// Solved again from B1's newest sample and the older B2/B3 samples.
	moved1 := math.Abs(n.Coord.X-1) > 1e-3 || math.Abs(n.Coord.Y-1) > 1e-3
	assert.True(t, moved1, "coordinate %+v", *n.Coord)
	assert.False(t, math.IsNaN(n.Coord.X) || math.IsNaN(n.Coord.Y))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func TestMeshAgesBeyondDurationGoOffline(t *testing.T) {
	table := routing.NewTable()
	m := metrics.New()
	runMesh(t, table, m, []string{
		"Routing Table:",
		"Node 1 (hop 1) Last seen: 10000000000s ago Status: OK",
		"Node 2 (hop 1) Last seen: 1e30s ago Status: OK",
		"Node 3 (hop 1) Last seen: 5s ago Status: FULL",
	})
	table.SetCoordinate("1", fusion.Coord{X: 0, Y: 0})
	table.SetCoordinate("3", fusion.Coord{X: 1, Y: 1})

	routing.NewSupervisor(table, routing.DefaultOfflineThreshold, zaptest.NewLogger(t), m).Sweep()

	for _, id := range []routing.NodeID{"1", "2"} {
		n, _ := table.Get(id)
		assert.Equal(t, routing.StatusOffline, n.Status, "node %s", id)
		assert.Positive(t, n.LastSeen, "node %s", id)
	}
	n3, _ := table.Get("3")
	assert.Nil(t, n3.Recommendation, "stale nodes are not candidates")
}

// loopSource cycles through lines forever. Every full cycle is one burst,
// so a routing block ends at the cycle boundary.
type loopSource struct {
	lines []string
	i     int
}

func (s *loopSource) Next(ctx context.Context, wait time.Duration) (string, bool) {
	if ctx.Err() != nil {
		return "", false
	}
	if wait <= 0 && s.i%len(s.lines) == 0 {
		return "", false
	}
	line := s.lines[s.i%len(s.lines)]
	s.i++
	return line, true
}

func (s *loopSource) Err() error   { return nil }
func (s *loopSource) Close() error { return nil }

func TestIngestorsSweepAndSnapshotConcurrently(t *testing.T) {
	table := routing.NewTable()
	table.Seed("1", "2", "3")
	m := metrics.New()
	logger := zap.NewNop()

	var beaconLines []string
	for i, pos := range []fusion.Coord{{X: 1, Y: 2}, {X: 4, Y: 6}, {X: -3, Y: 0}} {
		beaconLines = append(beaconLines, reportsFor(strconv.Itoa(i+1), pos, deployedAnchors)...)
	}
	mesh := NewMeshIngestor(&loopSource{lines: []string{
		"Routing Table:",
		"Node 1 (hop 1) Last seen: 2s ago Status: FULL",
		"Node 2 (hop 1) Last seen: 3s ago Status: OK",
		"Node 3 (hop 2) Last seen: 130s ago Status: EMPTY",
	}}, table, time.Millisecond, logger, m)
	beacon := NewBeaconIngestor(&loopSource{lines: beaconLines}, table, fusion.NewSampleStore(),
		BeaconConfig{Anchors: deployedAnchors, PollInterval: time.Millisecond}, logger, m)
	sup := routing.NewSupervisor(table, routing.DefaultOfflineThreshold, logger, m)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() { defer wg.Done(); errs[0] = mesh.Run(ctx) }()
	go func() { defer wg.Done(); errs[1] = beacon.Run(ctx) }()

	sweeps := 0
	for ctx.Err() == nil {
		sup.Sweep()
		snap := table.Snapshot()
		require.Len(t, snap, 3)
		for _, n := range snap {
			if n.Coord != nil {
				// Snapshots are copies; writing to them must not reach the table.
				n.Coord.X = 1e9
			}
		}
		sweeps++
	}
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}
	assert.Positive(t, sweeps)
	sup.Sweep()
	n1, _ := table.Get("1")
	require.NotNil(t, n1.Coord)
	assert.InDelta(t, 1.0, n1.Coord.X, 1e-6)
	require.NotNil(t, n1.Recommendation)
	assert.Equal(t, routing.NodeID("2"), n1.Recommendation.Target)
}
