package fusion

import "sync"

// SampleStore keeps the newest range per (node, anchor). Samples are
// overwritten, never expired.
type SampleStore struct {
	mu      sync.RWMutex
	samples map[string]map[string]float64
}

func NewSampleStore() *SampleStore {
	return &SampleStore{samples: make(map[string]map[string]float64)}
}

// Put records the newest distance from anchor to node.
func (s *SampleStore) Put(node, anchor string, distance float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byAnchor, ok := s.samples[node]
	if !ok {
		byAnchor = make(map[string]float64, AnchorCount)
		s.samples[node] = byAnchor
	}
	byAnchor[anchor] = distance
}

func (s *SampleStore) Get(node, anchor string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.samples[node][anchor]
	return d, ok
}

// Ranges returns the node's ranges in the order of anchors, and false
// until every anchor has reported at least once.
func (s *SampleStore) Ranges(node string, anchors [AnchorCount]Anchor) ([AnchorCount]Range, bool) {
	var out [AnchorCount]Range
	s.mu.RLock()
	defer s.mu.RUnlock()
	byAnchor := s.samples[node]
	for i, a := range anchors {
		d, ok := byAnchor[a.ID]
		if !ok {
			return out, false
		}
		out[i] = Range{Anchor: a, Distance: d}
	}
	return out, true
}
