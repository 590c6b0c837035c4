package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleStoreRanges(t *testing.T) {
	anchors := anchorsAt(Coord{0, 0}, Coord{10, 0}, Coord{0, 10})
	s := NewSampleStore()

	s.Put("1", "A", 5)
	s.Put("1", "B", 7)
	_, ok := s.Ranges("1", anchors)
	assert.False(t, ok)

	s.Put("1", "C", 9)
	s.Put("1", "A", 6)
	got, ok := s.Ranges("1", anchors)
	require.True(t, ok)
	assert.Equal(t, 6.0, got[0].Distance)
	assert.Equal(t, 7.0, got[1].Distance)
	assert.Equal(t, 9.0, got[2].Distance)
	assert.Equal(t, "C", got[2].Anchor.ID)

	_, ok = s.Ranges("2", anchors)
	assert.False(t, ok)
	d, ok := s.Get("1", "B")
	assert.True(t, ok)
	assert.Equal(t, 7.0, d)
}
