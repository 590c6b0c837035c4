package routing

import (
	"math"
	"strconv"
	"strings"

	"github.com/alienlienn/iot-smartbin/fusion"
)

// NodeID is the canonical node identifier. Integer identifiers are stored
// in base 10 without leading zeros so that "007", 7 and 7.0 all name the
// same node; anything else is kept as the trimmed string.
type NodeID string

// CanonicalID normalizes an identifier read from a transport.
func CanonicalID(raw string) NodeID {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return NodeID(strconv.FormatInt(n, 10))
	}
	return NodeID(raw)
}

// NumericID normalizes a JSON number. Whole numbers become integer ids.
func NumericID(v float64) NodeID {
	if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
		return NodeID(strconv.FormatInt(int64(v), 10))
	}
	return NodeID(strconv.FormatFloat(v, 'f', -1, 64))
}

// Int reports the id as an integer when it is one.
func (id NodeID) Int() (int64, bool) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	return n, err == nil
}

// Status is the fill or liveness state reported for a node.
type Status string

const (
	StatusOK      Status = "OK"
	StatusEmpty   Status = "EMPTY"
	StatusFull    Status = "FULL"
	StatusOffline Status = "OFFLINE"
	StatusUnknown Status = "UNKNOWN"
)

// ParseStatus canonicalizes a mesh status token. Tokens are free-form; only
// the case is normalized.
func ParseStatus(token string) Status {
	token = strings.ToUpper(strings.TrimSpace(token))
	if token == "" {
		return StatusUnknown
	}
	return Status(token)
}

// Recommendation points a full node at its nearest usable alternative.
type Recommendation struct {
	Target    NodeID
	Direction fusion.Cardinal
}

// Node is one routing-table entry.
type Node struct {
	ID     NodeID
	Status Status
	// LastSeen is the heartbeat age in seconds as reported by the mesh.
	LastSeen       int
	Coord          *fusion.Coord
	Recommendation *Recommendation

	wasFull bool
}

func (n *Node) clone() Node {
	out := *n
	if n.Coord != nil {
		c := *n.Coord
		out.Coord = &c
	}
	if n.Recommendation != nil {
		r := *n.Recommendation
		out.Recommendation = &r
	}
	return out
}
