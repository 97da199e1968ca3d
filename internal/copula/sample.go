package copula

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat/distuv"
)

// SampleSize nSim = min(limit, rows); 0 when fewer than 2 rows are available
func SampleSize(rows, limit int) int {
	n := rows
	if n > limit {
		n = limit
	}
	if n < 2 {
		return 0
	}
	return n
}

// Sample draws one vector of correlated uniforms for regime r (column order
// = Model.Products). Independence when the regime copula is `none`.
func (m *Model) Sample(rng *rand.Rand, r int) []float64 {
	d := m.Dim()
	out := make([]float64, d)
	if d == 0 {
		return out
	}

	z := make([]float64, d)
	for j := range z {
		z[j] = rng.NormFloat64()
	}

	rc := m.Regime(r)
	if rc == nil || rc.Family == FamilyNone || rc.chol == nil {
		for j, v := range z {
			out[j] = ClampUniform(distuv.UnitNormal.CDF(v))
		}
		return out
	}

	// x = L·z
	x := make([]float64, d)
	for i := 0; i < d; i++ {
		s := 0.0
		for j := 0; j <= i; j++ {
			s += rc.chol.At(i, j) * z[j]
		}
		x[i] = s
	}

	switch rc.Family {
	case FamilyT:
		nu := float64(rc.DF)
		scale := math.Sqrt(nu / chiSquare(rng, rc.DF))
		dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: nu}
		for j, v := range x {
			out[j] = ClampUniform(dist.CDF(v * scale))
		}
	default:
		for j, v := range x {
			out[j] = ClampUniform(distuv.UnitNormal.CDF(v))
		}
	}
	return out
}

// Simulate draws n rows from regime r
func (m *Model) Simulate(rng *rand.Rand, r, n int) [][]float64 {
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = m.Sample(rng, r)
	}
	return rows
}

// chiSquare χ²_ν draw from rng (never exactly 0)
func chiSquare(rng *rand.Rand, df int) float64 {
	if df < 1 {
		df = 1
	}
	s := distuv.ChiSquared{K: float64(df), Src: rng}.Rand()
	if s <= 0 {
		s = math.SmallestNonzeroFloat64
	}
	return s
}
