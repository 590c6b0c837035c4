// Package rbc publishes routing-table snapshots to the dashboard sinks.
package rbc

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/alienlienn/iot-smartbin/routing"
)

// WireNode is the published form of one node.
type WireNode struct {
	LastSeen int         `json:"last_seen"`
	Status   string      `json:"status"`
	Coord    *[2]float64 `json:"coord"`
	// NextNearest is an integer for numeric node ids, a string otherwise.
	NextNearest          any    `json:"next_nearest,omitempty"`
	NextNearestDirection string `json:"next_nearest_direction,omitempty"`
}

// ToWire converts a routing-table entry.
func ToWire(n routing.Node) WireNode {
	w := WireNode{LastSeen: n.LastSeen, Status: string(n.Status)}
	if n.Coord != nil {
		w.Coord = &[2]float64{n.Coord.X, n.Coord.Y}
	}
	if r := n.Recommendation; r != nil {
		if v, ok := r.Target.Int(); ok {
			w.NextNearest = v
		} else {
			w.NextNearest = string(r.Target)
		}
		w.NextNearestDirection = string(r.Direction)
	}
	return w
}

// FormatSnapshot encodes nodes as one JSON object keyed by node id. Keys
// keep the order of nodes.
func FormatSnapshot(nodes []routing.Node) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, n := range nodes {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(string(n.ID))
		if err != nil {
			return nil, errors.Wrapf(err, "encoding id %q", n.ID)
		}
		val, err := json.Marshal(ToWire(n))
		if err != nil {
			return nil, errors.Wrapf(err, "encoding node %q", n.ID)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
