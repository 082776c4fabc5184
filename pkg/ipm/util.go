package ipm

import "math"

func nonFinite(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}
