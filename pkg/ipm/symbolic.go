package ipm

import "sort"

// ANormPair is one contribution to M[i,j] = Σ_k A[i,k]·A[j,k]: the
// offsets, into A's flat Values array, of A[i,k] and A[j,k] respectively
// (spec §4.5.3 ANormIndices).
type ANormPair struct {
	OffsetI, OffsetJ int
}

// LDecompPair is one subtracted term L[i,k]·L[j,k] in the Cholesky update
// for L[i,j], given as offsets into L's flat Values array (spec §4.5.3
// LDecompositionIndices).
type LDecompPair struct {
	OffsetIK, OffsetJK int
}

// Symbolic holds every index precomputed once from A's sparsity pattern:
// the normal-equations assembly indices, the Cholesky factor's CSR
// pattern, and its transpose mapping for back substitution (spec §4.5.3,
// "the heart of the implementation").
type Symbolic struct {
	M int // size of the normal-equations matrix (number of constraint rows)

	// Perm maps a permuted row index to its original row index in the
	// caller-supplied A; InvPerm is its inverse. Computed by a minimum
	// degree elimination ordering to reduce fill in L.
	Perm, InvPerm []int

	// ANormIndices[p] is the list of ANormPair contributions to M's p-th
	// stored (i,j) entry, aligned with ANormRow/ANormCol.
	ANormIndices    [][]ANormPair
	ANormRow        []int
	ANormCol        []int
	// ANormRowPtr delimits, for each row i, the range of p-indices in
	// ANormIndices/ANormRow/ANormCol belonging to that row (i.e. M's own
	// CSR row pointer, before any Cholesky fill-in).
	ANormRowPtr []int

	// L's lower-triangular CSR pattern (with fill-in).
	LRowPtr     []int
	LColIdx     []int
	LDiagIndPtr []int // absolute index, into LColIdx (and the factor's LValues), of row i's diagonal entry

	// LT is L's pattern re-expressed as CSR over columns (i.e. an upper
	// triangular traversal), for the back-substitution pass.
	LTRowPtr []int
	LTColIdx []int
	LTMap    []int // LTMap[q] is the offset into L's flat Values array holding the value for LTColIdx[q]'s (transposed) entry

	// LDecompositionIndices[e] lists the L[i,k]·L[j,k] products to
	// subtract when computing L's e-th stored entry (aligned with LColIdx
	// order, flattened row by row).
	LDecompositionIndices [][]LDecompPair
}

// BuildSymbolic computes the full Symbolic structure for the normal
// equations matrix M = A·Aᵀ (sparsity only; numeric weighting happens
// every iteration in cholesky.go). a is the unpermuted constraint matrix;
// the returned Symbolic carries its own row permutation.
//
// wSize is the number of leading inequality rows in a's original row
// order (spec §4.5 standard form). The minimum-degree order is computed
// over the whole matrix for quality, then stably partitioned so
// inequality rows still occupy the permuted matrix's first wSize
// positions — the iteration driver relies on that prefix to know which
// rows carry a slack.
func BuildSymbolic(a *CSR, wSize int) *Symbolic {
	m := a.Rows

	order := minimumDegreeOrder(a)
	perm := make([]int, 0, m)
	for _, idx := range order {
		if idx < wSize {
			perm = append(perm, idx)
		}
	}
	for _, idx := range order {
		if idx >= wSize {
			perm = append(perm, idx)
		}
	}
	invPerm := make([]int, m)
	for newIdx, oldIdx := range perm {
		invPerm[oldIdx] = newIdx
	}

	permuted := permuteRows(a, perm)

	s := &Symbolic{M: m, Perm: perm, InvPerm: invPerm}
	s.buildANorm(permuted)
	s.buildCholeskyPattern()
	s.buildTranspose()
	s.buildDecompositionIndices()
	return s
}

// PermuteRows reorders a's rows by perm (perm[newIdx] = oldIdx), for
// callers outside this package that need to feed ipm.Solve the same
// permuted matrix BuildSymbolic computed its factorisation against.
func PermuteRows(a *CSR, perm []int) *CSR { return permuteRows(a, perm) }

// PermuteVec reorders b (original row order) into perm's order — the
// right-hand side must be permuted the same way as the matrix whose
// Symbolic it is solved against.
func PermuteVec(b []Vec, perm []int) []Vec {
	out := make([]Vec, len(b))
	for newIdx, oldIdx := range perm {
		out[newIdx] = b[oldIdx]
	}
	return out
}

// permuteRows returns a CSR with rows reordered by perm (perm[newIdx] =
// oldIdx); column indices (variable space) are untouched.
func permuteRows(a *CSR, perm []int) *CSR {
	out := &CSR{Rows: a.Rows, Cols: a.Cols, RowPtr: make([]int, a.Rows+1)}
	for newIdx, oldIdx := range perm {
		start, end := a.RowRange(oldIdx)
		out.ColIdx = append(out.ColIdx, a.ColIdx[start:end]...)
		out.Values = append(out.Values, a.Values[start:end]...)
		out.RowPtr[newIdx+1] = len(out.ColIdx)
	}
	return out
}

// buildANorm computes M's symbolic pattern (lower triangle, i>=j) and the
// ANormPair contribution lists, by grouping A's nonzeros by column: every
// pair of rows sharing a nonzero column k contributes to M[i,j].
func (s *Symbolic) buildANorm(a *CSR) {
	type rowOffset struct{ row, offset int }
	colRows := make([][]rowOffset, a.Cols)
	for r := 0; r < a.Rows; r++ {
		start, end := a.RowRange(r)
		for off := start; off < end; off++ {
			c := a.ColIdx[off]
			colRows[c] = append(colRows[c], rowOffset{row: r, offset: off})
		}
	}

	pairs := make(map[[2]int][]ANormPair)
	for _, rows := range colRows {
		for x := 0; x < len(rows); x++ {
			for y := 0; y <= x; y++ {
				i, j := rows[x].row, rows[y].row
				if i < j {
					i, j = j, i
				}
				key := [2]int{i, j}
				var offI, offJ int
				if rows[x].row >= rows[y].row {
					offI, offJ = rows[x].offset, rows[y].offset
				} else {
					offI, offJ = rows[y].offset, rows[x].offset
				}
				pairs[key] = append(pairs[key], ANormPair{OffsetI: offI, OffsetJ: offJ})
			}
		}
	}

	keys := make([][2]int, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool {
		if keys[a][0] != keys[b][0] {
			return keys[a][0] < keys[b][0]
		}
		return keys[a][1] < keys[b][1]
	})

	s.ANormRowPtr = make([]int, s.M+1)
	for _, k := range keys {
		s.ANormRow = append(s.ANormRow, k[0])
		s.ANormCol = append(s.ANormCol, k[1])
		s.ANormIndices = append(s.ANormIndices, pairs[k])
		s.ANormRowPtr[k[0]+1]++
	}
	for i := 0; i < s.M; i++ {
		s.ANormRowPtr[i+1] += s.ANormRowPtr[i]
	}
}

// buildCholeskyPattern runs symbolic (up-looking) Cholesky factorisation
// over M's pattern, producing L's final CSR pattern including fill-in.
func (s *Symbolic) buildCholeskyPattern() {
	m := s.M
	// colPattern[j] accumulates the set of rows i>j with L[i,j] != 0,
	// built incrementally as columns are eliminated left to right.
	colPattern := make([]map[int]bool, m)
	rowPattern := make([][]int, m) // row i's column set, columns <= i
	for i := range colPattern {
		colPattern[i] = make(map[int]bool)
	}

	for i := 0; i < m; i++ {
		set := make(map[int]bool)
		for p := s.ANormRowPtr[i]; p < s.ANormRowPtr[i+1]; p++ {
			set[s.ANormCol[p]] = true
		}
		for j := range colPattern[i] {
			set[j] = true
		}
		set[i] = true

		cols := make([]int, 0, len(set))
		for c := range set {
			cols = append(cols, c)
		}
		sort.Ints(cols)
		rowPattern[i] = cols

		for _, j := range cols {
			if j < i {
				colPattern[j][i] = true
			}
		}
	}

	s.LRowPtr = make([]int, m+1)
	s.LDiagIndPtr = make([]int, m)
	for i := 0; i < m; i++ {
		s.LColIdx = append(s.LColIdx, rowPattern[i]...)
		s.LRowPtr[i+1] = len(s.LColIdx)
		for pos, c := range rowPattern[i] {
			if c == i {
				s.LDiagIndPtr[i] = s.LRowPtr[i] + pos
			}
		}
	}
}

// buildTranspose derives LT's CSR-over-columns structure and the LTMap
// back into L's flat storage.
func (s *Symbolic) buildTranspose() {
	m := s.M
	counts := make([]int, m)
	for i := 0; i < m; i++ {
		start, end := s.LRowPtr[i], s.LRowPtr[i+1]
		for _, c := range s.LColIdx[start:end] {
			counts[c]++
		}
	}
	s.LTRowPtr = make([]int, m+1)
	for c := 0; c < m; c++ {
		s.LTRowPtr[c+1] = s.LTRowPtr[c] + counts[c]
	}

	s.LTColIdx = make([]int, len(s.LColIdx))
	s.LTMap = make([]int, len(s.LColIdx))
	cursor := append([]int(nil), s.LTRowPtr[:m]...)
	for i := 0; i < m; i++ {
		start, end := s.LRowPtr[i], s.LRowPtr[i+1]
		for off := start; off < end; off++ {
			c := s.LColIdx[off]
			q := cursor[c]
			s.LTColIdx[q] = i
			s.LTMap[q] = off
			cursor[c]++
		}
	}
}

// buildDecompositionIndices computes, for every L[i,j] entry, the list of
// (L[i,k], L[j,k]) products for k < j present in both row i's and row
// j's patterns — the subtraction terms in the Cholesky update formula.
func (s *Symbolic) buildDecompositionIndices() {
	m := s.M
	s.LDecompositionIndices = make([][]LDecompPair, len(s.LColIdx))

	// rowCol2Offset[i][c] = offset into LColIdx/LValues for L[i,c].
	rowCol2Offset := make([]map[int]int, m)
	for i := 0; i < m; i++ {
		start, end := s.LRowPtr[i], s.LRowPtr[i+1]
		rowCol2Offset[i] = make(map[int]int, end-start)
		for off := start; off < end; off++ {
			rowCol2Offset[i][s.LColIdx[off]] = off
		}
	}

	for i := 0; i < m; i++ {
		start, end := s.LRowPtr[i], s.LRowPtr[i+1]
		for e := start; e < end; e++ {
			j := s.LColIdx[e]
			if j > i {
				continue
			}
			var pairs []LDecompPair
			// common k < j present in both row i and row j.
			for k, offIK := range rowCol2Offset[i] {
				if k >= j {
					continue
				}
				if offJK, ok := rowCol2Offset[j][k]; ok {
					pairs = append(pairs, LDecompPair{OffsetIK: offIK, OffsetJK: offJK})
				}
			}
			sort.Slice(pairs, func(a, b int) bool { return pairs[a].OffsetIK < pairs[b].OffsetIK })
			s.LDecompositionIndices[e] = pairs
		}
	}
}
