package ipm

// CSR is a sparse matrix in compressed-sparse-row form: row i's non-zero
// columns are ColIdx[RowPtr[i]:RowPtr[i+1]] with values
// Values[RowPtr[i]:RowPtr[i+1]] in the same order. This is the storage
// format for the constraint matrix A, fixed for the duration of a run
// once Setup has built the symbolic factorisation against it (spec §4.5.3).
type CSR struct {
	Rows, Cols int
	RowPtr     []int
	ColIdx     []int
	Values     []float64
}

// NewCSR builds a CSR matrix from row-major (row, col, value) triplets.
// Triplets for the same (row, col) accumulate.
func NewCSR(rows, cols int, entries []Entry) *CSR {
	byRow := make([][]Entry, rows)
	for _, e := range entries {
		byRow[e.Row] = append(byRow[e.Row], e)
	}

	m := &CSR{Rows: rows, Cols: cols, RowPtr: make([]int, rows+1)}
	for r := 0; r < rows; r++ {
		merged := mergeEntries(byRow[r])
		for _, e := range merged {
			m.ColIdx = append(m.ColIdx, e.Col)
			m.Values = append(m.Values, e.Value)
		}
		m.RowPtr[r+1] = len(m.ColIdx)
	}
	return m
}

// Entry is a single (row, col, value) triplet used to build a CSR matrix.
type Entry struct {
	Row, Col int
	Value    float64
}

func mergeEntries(entries []Entry) []Entry {
	byCol := make(map[int]float64, len(entries))
	order := make([]int, 0, len(entries))
	for _, e := range entries {
		if _, seen := byCol[e.Col]; !seen {
			order = append(order, e.Col)
		}
		byCol[e.Col] += e.Value
	}
	out := make([]Entry, len(order))
	for i, col := range order {
		out[i] = Entry{Col: col, Value: byCol[col]}
	}
	return out
}

// RowRange returns the half-open [start, end) slice bounds into ColIdx
// and Values for row r.
func (m *CSR) RowRange(r int) (int, int) { return m.RowPtr[r], m.RowPtr[r+1] }

// MulVec computes y = A x for a dense vector x (one scalar problem; the
// IPM calls this once per lane or, in the lane-vectorised hot path, loops
// this shape over Lanes-wide accumulators — see MulVecL in lanemath.go).
func (m *CSR) MulVec(x []float64) []float64 {
	y := make([]float64, m.Rows)
	for r := 0; r < m.Rows; r++ {
		start, end := m.RowRange(r)
		var acc float64
		for k := start; k < end; k++ {
			acc += m.Values[k] * x[m.ColIdx[k]]
		}
		y[r] = acc
	}
	return y
}

// MulTransposeVec computes y = Aᵀ x.
func (m *CSR) MulTransposeVec(x []float64) []float64 {
	y := make([]float64, m.Cols)
	for r := 0; r < m.Rows; r++ {
		start, end := m.RowRange(r)
		for k := start; k < end; k++ {
			y[m.ColIdx[k]] += m.Values[k] * x[r]
		}
	}
	return y
}
