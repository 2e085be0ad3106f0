package l1grid

import "math"

// DefaultHeightScale converts metres to centimetres for integer storage.
const DefaultHeightScale = 100

// EncodeHeight stores h as an integer in units of 1/scale.
func EncodeHeight(h float64, scale int) int32 {
	return int32(math.Round(h * float64(scale)))
}

// DecodeHeight reverses EncodeHeight.
func DecodeHeight(v int32, scale int) float64 {
	return float64(v) / float64(scale)
}

// RoundHeight quantises h to the precision an encode/decode cycle keeps.
func RoundHeight(h float64, scale int) float64 {
	return DecodeHeight(EncodeHeight(h, scale), scale)
}
