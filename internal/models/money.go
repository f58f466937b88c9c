package models

import "math"

// Round2 rounds to cents, half away from zero.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// RoundWhole rounds to a whole currency unit, half away from zero.
func RoundWhole(v float64) float64 {
	return math.Round(v)
}

// AmountsEqual compares two money values at cent precision.
func AmountsEqual(a, b float64) bool {
	return math.Abs(a-b) < 0.005
}
