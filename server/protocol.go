package server

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/alienlienn/iot-smartbin/routing"
)

const (
	RoutingHeader = "Routing Table:"
	nodePrefix    = "Node"

	minNodeTokens = 9
	lastToken     = "Last"
	agoToken      = "ago"

	// maxAge caps reported ages so they stay representable on every platform.
	maxAge = math.MaxInt32
)

// ErrMalformed marks a transport line that does not carry a usable record.
var ErrMalformed = errors.New("malformed line")

// Heartbeat is one node line of a mesh routing-table dump.
type Heartbeat struct {
	Node     routing.NodeID
	LastSeen int
	Status   routing.Status
}

// RangingReport is one signal-strength reading of a node by an anchor.
type RangingReport struct {
	Anchor   string
	Node     routing.NodeID
	Strength float64
}

// IsRoutingHeader reports whether line opens a routing-table block.
func IsRoutingHeader(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), RoutingHeader)
}

// IsNodeLine reports whether line is a candidate node line inside a block.
func IsNodeLine(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), nodePrefix)
}

// ParseMeshLine parses a node line such as
//
//	Node 3 (hop 1) Last seen: 12s ago Status: FULL
//
// The second token is the node id. The age is the first "<n>s" token
// followed by "ago", truncated to whole seconds. The status is the token
// after "Status" or "Status:", UNKNOWN when the marker ends the line.
func ParseMeshLine(line string) (Heartbeat, error) {
	parts := strings.Fields(line)
	if len(parts) < minNodeTokens || parts[0] != nodePrefix {
		return Heartbeat{}, errors.Wrapf(ErrMalformed, "node line has %d tokens", len(parts))
	}
	hasLast, marker := false, -1
	for i, p := range parts {
		switch {
		case p == lastToken:
			hasLast = true
		case marker < 0 && (p == "Status" || p == "Status:"):
			marker = i
		}
	}
	if !hasLast || marker < 0 {
		return Heartbeat{}, errors.Wrap(ErrMalformed, "node line without Last/Status markers")
	}
	id := routing.CanonicalID(parts[1])
	if id == "" {
		return Heartbeat{}, errors.Wrap(ErrMalformed, "empty node id")
	}
	age, ok := parseAge(parts)
	if !ok {
		return Heartbeat{}, errors.Wrap(ErrMalformed, "node line without age")
	}
	status := routing.StatusUnknown
	if marker+1 < len(parts) {
		status = routing.ParseStatus(parts[marker+1])
	}
	return Heartbeat{Node: id, LastSeen: age, Status: status}, nil
}

func parseAge(parts []string) (int, bool) {
	for i := 0; i < len(parts)-1; i++ {
		if parts[i+1] != agoToken || !strings.HasSuffix(parts[i], "s") {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSuffix(parts[i], "s"), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			continue
		}
		if v > maxAge {
			v = maxAge
		}
		return int(v), true
	}
	return 0, false
}

type rawReport struct {
	ID *string          `json:"id"`
	B  *json.RawMessage `json:"b"`
	R  *float64         `json:"r"`
}

// ParseRangingReport parses a ranging line such as
//
//	{"id":"B1","b":3,"r":-78}
//
// The node id "b" may be a number or a string.
func ParseRangingReport(line string) (RangingReport, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "{") {
		return RangingReport{}, errors.Wrap(ErrMalformed, "not a JSON object")
	}
	var raw rawReport
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return RangingReport{}, errors.Wrapf(ErrMalformed, "decoding report: %v", err)
	}
	if raw.ID == nil || raw.B == nil || raw.R == nil {
		return RangingReport{}, errors.Wrap(ErrMalformed, "report missing id, b or r")
	}
	anchor := strings.TrimSpace(*raw.ID)
	if anchor == "" {
		return RangingReport{}, errors.Wrap(ErrMalformed, "empty anchor id")
	}
	node, err := parseNodeField(*raw.B)
	if err != nil {
		return RangingReport{}, err
	}
	return RangingReport{Anchor: anchor, Node: node, Strength: *raw.R}, nil
}

func parseNodeField(b json.RawMessage) (routing.NodeID, error) {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return "", errors.Wrapf(ErrMalformed, "node id: %v", err)
		}
		if id := routing.CanonicalID(s); id != "" {
			return id, nil
		}
		return "", errors.Wrap(ErrMalformed, "empty node id")
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return "", errors.Wrapf(ErrMalformed, "node id %s", string(b))
	}
	return routing.NumericID(f), nil
}
