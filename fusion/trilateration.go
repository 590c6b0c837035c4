package fusion

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrGeometryDegenerate is returned when the anchors cannot fix a position,
// e.g. because they are collinear or share a location.
var ErrGeometryDegenerate = errors.New("degenerate anchor geometry")

// Range is one anchor's distance estimate to a node.
type Range struct {
	Anchor   Anchor
	Distance float64
}

// Trilaterate solves the position seen at the given ranges. The circle of
// the second anchor is subtracted from the first and the third from the
// second, leaving a 2x2 linear system. Ranges are used as given.
func Trilaterate(r [AnchorCount]Range) (Coord, error) {
	x1, y1, r1 := r[0].Anchor.X, r[0].Anchor.Y, r[0].Distance
	x2, y2, r2 := r[1].Anchor.X, r[1].Anchor.Y, r[1].Distance
	x3, y3, r3 := r[2].Anchor.X, r[2].Anchor.Y, r[2].Distance

	a := 2 * (x2 - x1)
	b := 2 * (y2 - y1)
	c := r1*r1 - r2*r2 - x1*x1 + x2*x2 - y1*y1 + y2*y2

	d := 2 * (x3 - x2)
	e := 2 * (y3 - y2)
	f := r2*r2 - r3*r3 - x2*x2 + x3*x3 - y2*y2 + y3*y3

	if a*e-b*d == 0 {
		return Coord{}, errors.Wrapf(ErrGeometryDegenerate, "anchors %s, %s, %s",
			r[0].Anchor.ID, r[1].Anchor.ID, r[2].Anchor.ID)
	}

	lhs := mat.NewDense(2, 2, []float64{a, b, d, e})
	rhs := mat.NewVecDense(2, []float64{c, f})
	var sol mat.VecDense
	if err := sol.SolveVec(lhs, rhs); err != nil {
		return Coord{}, errors.Wrap(ErrGeometryDegenerate, err.Error())
	}
	pos := Coord{X: sol.AtVec(0), Y: sol.AtVec(1)}
	if !finite(pos.X) || !finite(pos.Y) {
		return Coord{}, errors.Wrap(ErrGeometryDegenerate, "non-finite solution")
	}
	return pos, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
