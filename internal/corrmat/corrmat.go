package corrmat

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/wonny/scengen/internal/contracts"
)

// DefaultEigenFloor 고유값 하한 (PSD projection)
const DefaultEigenFloor = 1e-8

// maxJitterAttempts bounds the diagonal jitter loop in Cholesky
const maxJitterAttempts = 8

var ErrNotSquare = errors.New("correlation matrix is not square")

// Identity returns a flat n×n identity matrix
func Identity(n int) []float64 {
	out := make([]float64, n*n)
	for i := 0; i < n; i++ {
		out[i*n+i] = 1
	}
	return out
}

// Dim returns n for a flat n×n matrix
func Dim(flat []float64) (int, error) {
	n := int(math.Round(math.Sqrt(float64(len(flat)))))
	if n*n != len(flat) {
		return 0, fmt.Errorf("%w: %d elements", ErrNotSquare, len(flat))
	}
	return n, nil
}

// ToSym builds a symmetric matrix from a flat row-major slice, averaging
// the two triangles
func ToSym(flat []float64) (*mat.SymDense, error) {
	n, err := Dim(flat)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: empty matrix", ErrNotSquare)
	}
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, 0.5*(flat[i*n+j]+flat[j*n+i]))
		}
	}
	return sym, nil
}

// Flatten converts a symmetric matrix back to flat row-major form
func Flatten(m mat.Symmetric) []float64 {
	n := m.SymmetricDim()
	out := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out[i*n+j] = m.At(i, j)
		}
	}
	return out
}

// Nearest projects R onto the nearest valid correlation matrix:
// clip eigenvalues at floor, rebuild, then rescale to a unit diagonal.
// Non-finite entries are replaced by 0 (off-diagonal) before projection.
func Nearest(flat []float64, floor float64) ([]float64, error) {
	n, err := Dim(flat)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	if floor <= 0 {
		floor = DefaultEigenFloor
	}

	clean := make([]float64, len(flat))
	copy(clean, flat)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := clean[i*n+j]
			if i == j {
				clean[i*n+j] = 1
			} else if math.IsNaN(v) || math.IsInf(v, 0) {
				clean[i*n+j] = 0
			}
		}
	}

	sym, err := ToSym(clean)
	if err != nil {
		return nil, err
	}

	var es mat.EigenSym
	if ok := es.Factorize(sym, true); !ok {
		return nil, fmt.Errorf("%w: eigen decomposition failed", contracts.ErrNumericalInstability)
	}
	vals := es.Values(nil)
	var vecs mat.Dense
	es.VectorsTo(&vecs)

	for i := range vals {
		if vals[i] < floor {
			vals[i] = floor
		}
	}

	// V · diag(λ) · Vᵀ
	var scaled mat.Dense
	scaled.Apply(func(_, j int, v float64) float64 { return v * vals[j] }, &vecs)
	var rebuilt mat.Dense
	rebuilt.Mul(&scaled, vecs.T())

	out := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			d := math.Sqrt(rebuilt.At(i, i) * rebuilt.At(j, j))
			v := 0.0
			if d > 0 {
				v = rebuilt.At(i, j) / d
			}
			out[i*n+j] = v
		}
	}
	for i := 0; i < n; i++ {
		out[i*n+i] = 1
		for j := i + 1; j < n; j++ {
			avg := 0.5 * (out[i*n+j] + out[j*n+i])
			avg = math.Max(-1, math.Min(1, avg))
			out[i*n+j] = avg
			out[j*n+i] = avg
		}
	}
	return out, nil
}

// MinEigenvalue returns the smallest eigenvalue of the symmetrised matrix
func MinEigenvalue(flat []float64) (float64, error) {
	if len(flat) == 0 {
		return 0, nil
	}
	sym, err := ToSym(flat)
	if err != nil {
		return 0, err
	}
	var es mat.EigenSym
	if ok := es.Factorize(sym, false); !ok {
		return 0, fmt.Errorf("%w: eigen decomposition failed", contracts.ErrNumericalInstability)
	}
	vals := es.Values(nil)
	lo := vals[0]
	for _, v := range vals[1:] {
		if v < lo {
			lo = v
		}
	}
	return lo, nil
}

// Validate checks symmetry, unit diagonal and PSD (min eigenvalue ≥ -tol)
func Validate(flat []float64, tol float64) error {
	n, err := Dim(flat)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if math.Abs(flat[i*n+i]-1) > tol {
			return fmt.Errorf("%w: diagonal[%d]=%g", contracts.ErrNumericalInstability, i, flat[i*n+i])
		}
		for j := i + 1; j < n; j++ {
			if math.Abs(flat[i*n+j]-flat[j*n+i]) > tol {
				return fmt.Errorf("%w: asymmetric at (%d,%d)", contracts.ErrNumericalInstability, i, j)
			}
		}
	}
	minEig, err := MinEigenvalue(flat)
	if err != nil {
		return err
	}
	if minEig < -tol {
		return fmt.Errorf("%w: min eigenvalue %g", contracts.ErrNumericalInstability, minEig)
	}
	return nil
}

// Cholesky returns the lower factor L (R = L·Lᵀ). When R is not positive
// definite the diagonal is inflated by a growing jitter and the result is
// re-normalised; corrected reports whether jitter was needed.
func Cholesky(flat []float64) (l *mat.TriDense, corrected bool, err error) {
	sym, err := ToSym(flat)
	if err != nil {
		return nil, false, err
	}
	n := sym.SymmetricDim()

	jitter := 0.0
	for attempt := 0; attempt <= maxJitterAttempts; attempt++ {
		work := mat.NewSymDense(n, nil)
		work.CopySym(sym)
		if jitter > 0 {
			scale := 1 / (1 + jitter)
			for i := 0; i < n; i++ {
				for j := i; j < n; j++ {
					v := sym.At(i, j)
					if i == j {
						work.SetSym(i, j, 1)
					} else {
						work.SetSym(i, j, v*scale)
					}
				}
			}
		}

		var chol mat.Cholesky
		if ok := chol.Factorize(work); ok {
			var lower mat.TriDense
			chol.LTo(&lower)
			return &lower, attempt > 0, nil
		}

		if jitter == 0 {
			jitter = 1e-10
		} else {
			jitter *= 10
		}
	}
	return nil, true, fmt.Errorf("%w: cholesky failed after %d jitter attempts",
		contracts.ErrNumericalInstability, maxJitterAttempts)
}

// Prepare projects R, then factors it. Falls back to the identity factor
// (independence) when every attempt fails.
func Prepare(flat []float64) (proj []float64, l *mat.TriDense, degraded bool, err error) {
	n, err := Dim(flat)
	if err != nil {
		return nil, nil, false, err
	}
	if n == 0 {
		return nil, nil, false, nil
	}
	proj, err = Nearest(flat, DefaultEigenFloor)
	if err == nil {
		var corrected bool
		l, corrected, err = Cholesky(proj)
		if err == nil {
			return proj, l, corrected, nil
		}
	}
	id := Identity(n)
	l, _, _ = Cholesky(id)
	return id, l, true, nil
}
