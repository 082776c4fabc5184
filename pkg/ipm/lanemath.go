package ipm

import "math"

// MulVecL computes y = A x for a lane-vectorised x (one CSR sweep,
// Lanes-wide accumulators throughout, per spec §4.5.4).
func (m *CSR) MulVecL(x []Vec) []Vec {
	y := make([]Vec, m.Rows)
	for r := 0; r < m.Rows; r++ {
		start, end := m.RowRange(r)
		var acc Vec
		for k := start; k < end; k++ {
			acc = acc.Add(x[m.ColIdx[k]].Scale(m.Values[k]))
		}
		y[r] = acc
	}
	return y
}

// MulTransposeVecL computes y = Aᵀ x for a lane-vectorised x.
func (m *CSR) MulTransposeVecL(x []Vec) []Vec {
	y := make([]Vec, m.Cols)
	for r := 0; r < m.Rows; r++ {
		start, end := m.RowRange(r)
		for k := start; k < end; k++ {
			y[m.ColIdx[k]] = y[m.ColIdx[k]].Add(x[r].Scale(m.Values[k]))
		}
	}
	return y
}

func fillVec(n int, v float64) []Vec {
	s := Splat(v)
	out := make([]Vec, n)
	for i := range out {
		out[i] = s
	}
	return out
}

func addVecSlices(a, b []Vec) []Vec {
	out := make([]Vec, len(a))
	for i := range a {
		out[i] = a[i].Add(b[i])
	}
	return out
}

func subVecSlices(a, b []Vec) []Vec {
	out := make([]Vec, len(a))
	for i := range a {
		out[i] = a[i].Sub(b[i])
	}
	return out
}

func mulVecSlices(a, b []Vec) []Vec {
	out := make([]Vec, len(a))
	for i := range a {
		out[i] = a[i].Mul(b[i])
	}
	return out
}

func recipVecSlice(a []Vec) []Vec {
	out := make([]Vec, len(a))
	for i := range a {
		out[i] = a[i].Recip()
	}
	return out
}

// norm2 returns the per-lane Euclidean norm of a slice of lane vectors.
func norm2(a []Vec) Vec {
	var acc Vec
	for _, v := range a {
		acc = acc.Add(v.Mul(v))
	}
	var r Vec
	for i := range r {
		r[i] = math.Sqrt(acc[i])
	}
	return r
}

// dot returns the per-lane dot product of two slices of lane vectors.
func dot(a, b []Vec) Vec {
	var acc Vec
	for i := range a {
		acc = acc.Add(a[i].Mul(b[i]))
	}
	return acc
}

func addScalar(a Vec, s float64) Vec { return a.Add(Splat(s)) }

func anyNonFiniteSlice(a []Vec) bool {
	for _, v := range a {
		if v.AnyNonFinite() {
			return true
		}
	}
	return false
}

func maxPositiveRatio(step, current Vec) Vec {
	// returns, per lane, max(0, -step/current)
	var r Vec
	for i := range r {
		if current[i] == 0 {
			continue
		}
		ratio := -step[i] / current[i]
		if ratio > r[i] {
			r[i] = ratio
		}
	}
	return r
}
