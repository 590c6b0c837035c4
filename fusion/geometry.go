package fusion

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Coord is a planar position in metres.
type Coord struct {
	X, Y float64
}

// Anchor is a fixed ranging beacon with a surveyed position.
type Anchor struct {
	ID string
	Coord
}

// Euclidean returns the distance between a and b, or +Inf when either
// position is unknown.
func Euclidean(a, b *Coord) float64 {
	if a == nil || b == nil {
		return math.Inf(1)
	}
	return floats.Distance([]float64{a.X, a.Y}, []float64{b.X, b.Y}, 2)
}

// Bearing quantizes the direction from one point to another into one of
// eight cardinals. Angles are measured counter-clockwise from the x axis
// and a half-sector tie rounds to the larger index.
func Bearing(from, to Coord) Cardinal {
	return cardinalAt(math.Atan2(to.Y-from.Y, to.X-from.X) * 180.0 / math.Pi)
}

func cardinalAt(deg float64) Cardinal {
	if deg < 0 {
		deg += 360.0
	}
	idx := int(math.Floor(deg/bearingSectorDegree+0.5)) % len(cardinals)
	return cardinals[idx]
}

// BearingOf is Bearing for optional positions.
func BearingOf(from, to *Coord) Cardinal {
	if from == nil || to == nil {
		return Unknown
	}
	return Bearing(*from, *to)
}
