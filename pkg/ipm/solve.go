package ipm

import "fmt"

// Config collects the primal-dual path-following method's tunables (spec
// §4.5.1). BarrierDecay is held constant across iterations per the spec
// ("δ = 0.1, held constant").
type Config struct {
	MaxIterations int
	BarrierDecay  float64
	PrimalTol     float64
	DualTol       float64
	OptimalityTol float64
	StepRatio     float64
}

// DefaultConfig returns the spec's stated defaults: 1e-8 tolerances,
// δ=0.1, step ratio 0.9995.
func DefaultConfig() Config {
	return Config{
		MaxIterations: 200,
		BarrierDecay:  0.1,
		PrimalTol:     1e-8,
		DualTol:       1e-8,
		OptimalityTol: 1e-8,
		StepRatio:     0.9995,
	}
}

// Result is the lock-step outcome of solving up to Lanes scenarios
// against the same symbolic structure.
type Result struct {
	X          []Vec // primal solution, length n (variable space, unpermuted)
	Iterations int
	Converged  [Lanes]bool
}

// NonConvergenceError reports that one or more lanes failed to converge
// within MaxIterations (spec §4.5.4): the whole batch is reported failed
// even though some lanes may have reached feasibility.
type NonConvergenceError struct {
	Iterations int
	Converged  [Lanes]bool
}

func (e *NonConvergenceError) Error() string {
	failed := 0
	for _, ok := range e.Converged {
		if !ok {
			failed++
		}
	}
	return fmt.Sprintf("ipm: %d/%d lanes failed to converge after %d iterations", failed, Lanes, e.Iterations)
}

// NonFiniteError reports a NaN/Inf residual, aborted immediately rather
// than continuing to iterate (spec §4.5.4).
type NonFiniteError struct {
	Iteration int
	Stage     string
}

func (e *NonFiniteError) Error() string {
	return fmt.Sprintf("ipm: non-finite residual at iteration %d (%s)", e.Iteration, e.Stage)
}

// Solve runs the primal-dual path-following method to convergence for up
// to Lanes independent right-hand sides (b, c) sharing the symbolic
// factorisation of permutedA (spec §4.5). permutedA's rows must already
// be in sym's permuted order (ipm.BuildSymbolic's Perm); b is supplied in
// that same permuted row order. The first wSize rows of b/y carry a
// slack (inequality rows); the rest are equalities.
//
// c has length n (one entry per variable/column of A); b has length
// sym.M (one entry per row).
func Solve(sym *Symbolic, permutedA *CSR, c, b []Vec, wSize int, cfg Config) (*Result, error) {
	n := len(c)
	m := len(b)

	x := fillVec(n, 1000)
	z := fillVec(n, 1000)
	y := fillVec(m, 1000)
	w := fillVec(wSize, 1000)

	var converged [Lanes]bool
	iter := 0
	for ; iter < cfg.MaxIterations; iter++ {
		wFull := padInequality(w, m, wSize)

		ax := permutedA.MulVecL(x)
		rp := subVecSlices(subVecSlices(b, ax), wFull)
		if anyNonFiniteSlice(rp) {
			return nil, &NonFiniteError{Iteration: iter, Stage: "primal_residual"}
		}

		aty := permutedA.MulTransposeVecL(y)
		rd := addVecSlices(subVecSlices(c, aty), z)
		if anyNonFiniteSlice(rd) {
			return nil, &NonFiniteError{Iteration: iter, Stage: "dual_residual"}
		}

		normX := norm2(x)
		normY := norm2(y)
		primalFeas := norm2(rp).Div(addScalar(normX, 1))
		dualFeas := norm2(rd).Div(addScalar(normY, 1))

		gapNum := dot(z, x)
		for i := 0; i < wSize; i++ {
			gapNum = gapNum.Add(w[i].Mul(y[i]))
		}
		denom := float64(n + wSize)
		gamma := gapNum.Scale(1 / denom)
		optMeasure := gamma.Div(addScalar(normX.Add(normY), 1))

		for l := 0; l < Lanes; l++ {
			if primalFeas[l] <= cfg.PrimalTol && dualFeas[l] <= cfg.DualTol && optMeasure[l] <= cfg.OptimalityTol {
				converged[l] = true
			}
		}
		if AllTrue(converged) {
			break
		}

		mu := gamma.Scale(cfg.BarrierDecay)

		factor := NumericFactor(sym, permutedA, x, z, wFull, y, wSize)

		invX := recipVecSlice(x)
		inner := make([]Vec, n) // c - Aᵀy + μ X⁻¹ e
		for k := 0; k < n; k++ {
			inner[k] = c[k].Sub(aty[k]).Add(mu.Mul(invX[k]))
		}
		xOverZ := mulVecSlices(x, recipVecSlice(z))
		weighted := mulVecSlices(xOverZ, inner)
		aWeighted := permutedA.MulVecL(weighted)

		invY := recipVecSlice(y[:wSize])
		ineqTerm := make([]Vec, m)
		for i := 0; i < wSize; i++ {
			ineqTerm[i] = mu.Mul(invY[i]).Sub(w[i])
		}

		rhs := make([]Vec, m)
		for i := 0; i < m; i++ {
			rhs[i] = rp[i].Scale(-1).Add(aWeighted[i]).Add(ineqTerm[i])
		}

		deltaY := factor.Solve(rhs)
		if anyNonFiniteSlice(deltaY) {
			return nil, &NonFiniteError{Iteration: iter, Stage: "normal_equations"}
		}

		atDeltaY := permutedA.MulTransposeVecL(deltaY)
		deltaX := make([]Vec, n)
		for k := 0; k < n; k++ {
			deltaX[k] = xOverZ[k].Mul(inner[k].Sub(atDeltaY[k]))
		}

		zOverX := mulVecSlices(z, invX)
		deltaZ := make([]Vec, n)
		for k := 0; k < n; k++ {
			deltaZ[k] = mu.Mul(invX[k]).Sub(z[k]).Sub(zOverX[k].Mul(deltaX[k]))
		}

		deltaW := make([]Vec, wSize)
		yOverW := make([]Vec, wSize) // W/Y, used for the Δw update below
		for i := 0; i < wSize; i++ {
			yOverW[i] = w[i].Mul(invY[i])
			deltaW[i] = mu.Mul(invY[i]).Sub(w[i]).Sub(yOverW[i].Mul(deltaY[i]))
		}

		theta := stepLength(cfg.StepRatio, x, deltaX, z, deltaZ, y, deltaY, w, deltaW)
		for l := 0; l < Lanes; l++ {
			if converged[l] {
				theta[l] = 0
			}
		}

		x = addVecSlices(x, scaleEach(deltaX, theta))
		z = addVecSlices(z, scaleEach(deltaZ, theta))
		y = addVecSlices(y, scaleEach(deltaY, theta))
		w = addVecSlices(w, scaleEach(deltaW, theta))
	}

	if !AllTrue(converged) {
		return nil, &NonConvergenceError{Iterations: iter, Converged: converged}
	}

	return &Result{X: x, Iterations: iter, Converged: converged}, nil
}

// padInequality extends w (length wSize) to length m, with zero entries
// on the equality rows — those rows carry no slack (spec §4.5 standard
// form, "w >= 0 on inequality rows").
func padInequality(w []Vec, m, wSize int) []Vec {
	out := make([]Vec, m)
	copy(out[:wSize], w)
	return out
}

// stepLength computes, per lane, min(1, stepRatio / max(-Δ/v)_+) over
// every (value, delta) pair so the update stays strictly interior (spec
// §4.5.2).
func stepLength(ratio float64, x, dx, z, dz, y, dy, w, dw []Vec) Vec {
	var maxRatio Vec
	accumulate := func(v, d []Vec) {
		for i := range v {
			r := maxPositiveRatio(d[i], v[i])
			for l := 0; l < Lanes; l++ {
				if r[l] > maxRatio[l] {
					maxRatio[l] = r[l]
				}
			}
		}
	}
	accumulate(x, dx)
	accumulate(z, dz)
	accumulate(y, dy)
	accumulate(w, dw)

	var theta Vec
	for l := 0; l < Lanes; l++ {
		if maxRatio[l] <= 0 {
			theta[l] = 1
			continue
		}
		t := ratio / maxRatio[l]
		if t > 1 {
			t = 1
		}
		theta[l] = t
	}
	return theta
}

func scaleEach(v []Vec, theta Vec) []Vec {
	out := make([]Vec, len(v))
	for i := range v {
		out[i] = v[i].Mul(theta)
	}
	return out
}
