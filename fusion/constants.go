package fusion

// Path-loss defaults of the deployed anchors: the reference strength is
// what a receiver reports at RefDistance metres from a beacon.
const (
	DefaultRefDistance  = 4.0
	DefaultRefStrength  = -120.0
	DefaultPathLossExp  = 2.5
	AnchorCount         = 3
	bearingSectorDegree = 45.0
)

// Cardinal is an 8-way compass code.
type Cardinal string

const (
	East      Cardinal = "E"
	NorthEast Cardinal = "NE"
	North     Cardinal = "N"
	NorthWest Cardinal = "NW"
	West      Cardinal = "W"
	SouthWest Cardinal = "SW"
	South     Cardinal = "S"
	SouthEast Cardinal = "SE"
	Unknown   Cardinal = "Unknown"
)

// cardinals is indexed by counter-clockwise 45 degree sectors starting
// at the positive x axis, so index 0 is East rather than North.
var cardinals = [8]Cardinal{East, NorthEast, North, NorthWest, West, SouthWest, South, SouthEast}
