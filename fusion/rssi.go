package fusion

import "math"

// PathLoss converts between received signal strength and range using the
// log-distance model d = RefDistance * 10^((RefStrength - s) / (10 * Exponent)).
type PathLoss struct {
	RefDistance float64
	RefStrength float64
	Exponent    float64
}

func NewPathLoss(refDistance, refStrength, exponent float64) *PathLoss {
	return &PathLoss{
		RefDistance: refDistance,
		RefStrength: refStrength,
		Exponent:    exponent,
	}
}

// DefaultPathLoss returns the model calibrated for the shipped anchors.
func DefaultPathLoss() *PathLoss {
	return NewPathLoss(DefaultRefDistance, DefaultRefStrength, DefaultPathLossExp)
}

// Distance returns the estimated range in metres for a signal strength in dBm.
func (p *PathLoss) Distance(strength float64) float64 {
	return p.RefDistance * math.Pow(10.0, (p.RefStrength-strength)/(10.0*p.Exponent))
}

// Strength is the inverse of Distance. Non-positive distances map to the
// reference strength.
func (p *PathLoss) Strength(distance float64) float64 {
	if distance <= 0 {
		return p.RefStrength
	}
	return p.RefStrength - 10.0*p.Exponent*math.Log10(distance/p.RefDistance)
}
