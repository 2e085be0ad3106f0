package l1grid

import "math"

// Connectivity selects the neighbourhood used for adjacency.
type Connectivity int

const (
	Conn8 Connectivity = iota
	Conn4
)

func (c Connectivity) String() string {
	if c == Conn4 {
		return "4-connected"
	}
	return "8-connected"
}

// Offset is one neighbour position relative to a cell. Dist is measured in
// cells; Code is the ESRI D8 direction code for the neighbour.
type Offset struct {
	DR   int
	DC   int
	Dist float64
	Code uint8
}

// d8 is the fixed neighbour order E, SE, S, SW, W, NW, N, NE. Every
// tie-break in the segmentation engine resolves to the earliest entry.
var d8 = [8]Offset{
	{DR: 0, DC: 1, Dist: 1, Code: 1},
	{DR: 1, DC: 1, Dist: math.Sqrt2, Code: 2},
	{DR: 1, DC: 0, Dist: 1, Code: 4},
	{DR: 1, DC: -1, Dist: math.Sqrt2, Code: 8},
	{DR: 0, DC: -1, Dist: 1, Code: 16},
	{DR: -1, DC: -1, Dist: math.Sqrt2, Code: 32},
	{DR: -1, DC: 0, Dist: 1, Code: 64},
	{DR: -1, DC: 1, Dist: math.Sqrt2, Code: 128},
}

var d4 = [4]Offset{d8[0], d8[2], d8[4], d8[6]}

// Neighbors returns the neighbour offsets for conn in their fixed order.
func Neighbors(conn Connectivity) []Offset {
	if conn == Conn4 {
		out := make([]Offset, len(d4))
		copy(out, d4[:])
		return out
	}
	out := make([]Offset, len(d8))
	copy(out, d8[:])
	return out
}

// D8 returns the offset for direction index i (0..7).
func D8(i int) Offset {
	return d8[i]
}

// Opposite returns the direction index pointing back along d8[i].
func Opposite(i int) int {
	return (i + 4) % 8
}
