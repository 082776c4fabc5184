package ipm

import "math"

// Factor holds one iteration's numeric Cholesky factor L, stored in the
// Symbolic structure's flat layout: LValues[e] is the lane vector value
// for the entry at LColIdx[e] (spec §4.5.3).
type Factor struct {
	sym     *Symbolic
	LValues []Vec
}

// sqrtVec applies sqrt(|v|) lane-wise, matching the spec's diagonal
// update "L[i,j] ← √|v| if i=j" (the absolute value guards against
// transient negative diagonals from floating point noise near
// convergence rather than signalling real indefiniteness).
func sqrtVec(v Vec) Vec {
	var r Vec
	for i := range r {
		r[i] = math.Sqrt(math.Abs(v[i]))
	}
	return r
}

// NumericFactor computes L for the current iterate, given the permuted
// constraint matrix `permutedA`, the primal/dual iterates x,z (variable
// space, length n) and w,y (permuted row space, length m), and wSize the
// number of leading inequality rows carrying a slack (spec §4.5.3).
func NumericFactor(sym *Symbolic, permutedA *CSR, x, z, w, y []Vec, wSize int) *Factor {
	f := &Factor{sym: sym, LValues: make([]Vec, len(sym.LColIdx))}

	xOverZ := make([]Vec, len(x))
	for k := range x {
		xOverZ[k] = x[k].Div(z[k])
	}

	for i := 0; i < sym.M; i++ {
		start, end := sym.LRowPtr[i], sym.LRowPtr[i+1]
		for e := start; e < end; e++ {
			j := sym.LColIdx[e]

			var v Vec
			if i == j && i < wSize {
				v = w[i].Div(y[i])
			}

			for p := sym.ANormRowPtr[i]; p < sym.ANormRowPtr[i+1]; p++ {
				if sym.ANormCol[p] != j {
					continue
				}
				for _, pair := range sym.ANormIndices[p] {
					contrib := Splat(permutedA.Values[pair.OffsetI]).
						Mul(Splat(permutedA.Values[pair.OffsetJ])).
						Mul(xOverZ[permutedA.ColIdx[pair.OffsetI]])
					v = v.Add(contrib)
				}
				break
			}

			for _, dp := range sym.LDecompositionIndices[e] {
				v = v.Sub(f.LValues[dp.OffsetIK].Mul(f.LValues[dp.OffsetJK]))
			}

			if i == j {
				f.LValues[e] = sqrtVec(v)
			} else {
				f.LValues[e] = v.Div(f.LValues[sym.LDiagIndPtr[j]])
			}
		}
	}

	return f
}

// Solve computes delta such that L Lᵀ delta = rhs (rhs and delta both in
// permuted row space), via forward then back substitution using the
// Symbolic structure's precomputed indices — no index arithmetic occurs
// in this hot path (spec §4.5.3).
func (f *Factor) Solve(rhs []Vec) []Vec {
	m := f.sym.M
	y := make([]Vec, m)
	copy(y, rhs)

	// Forward substitution: L y = rhs.
	for i := 0; i < m; i++ {
		start, end := f.sym.LRowPtr[i], f.sym.LRowPtr[i+1]
		for e := start; e < end; e++ {
			j := f.sym.LColIdx[e]
			if j == i {
				continue
			}
			y[i] = y[i].Sub(f.LValues[e].Mul(y[j]))
		}
		y[i] = y[i].Div(f.LValues[f.sym.LDiagIndPtr[i]])
	}

	// Back substitution: Lᵀ x = y, traversing L's transpose via LTMap so
	// no column search is needed.
	x := make([]Vec, m)
	copy(x, y)
	for i := m - 1; i >= 0; i-- {
		start, end := f.sym.LTRowPtr[i], f.sym.LTRowPtr[i+1]
		for q := start; q < end; q++ {
			j := f.sym.LTColIdx[q]
			if j == i {
				continue
			}
			x[i] = x[i].Sub(f.LValues[f.sym.LTMap[q]].Mul(x[j]))
		}
		x[i] = x[i].Div(f.LValues[f.sym.LDiagIndPtr[i]])
	}

	return x
}
