package corrmat

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestNearest_ProjectsInvalidMatrix(t *testing.T) {
	// pairwise correlations that cannot coexist (not PSD)
	bad := []float64{
		1, 0.9, -0.9,
		0.9, 1, 0.9,
		-0.9, 0.9, 1,
	}
	minBefore, err := MinEigenvalue(bad)
	require.NoError(t, err)
	require.Less(t, minBefore, 0.0)

	proj, err := Nearest(bad, DefaultEigenFloor)
	require.NoError(t, err)
	require.NoError(t, Validate(proj, 1e-8))

	for i := 0; i < 3; i++ {
		assert.Equal(t, 1.0, proj[i*3+i])
	}
}

func TestNearest_KeepsValidMatrix(t *testing.T) {
	good := []float64{
		1, 0.5,
		0.5, 1,
	}
	proj, err := Nearest(good, DefaultEigenFloor)
	require.NoError(t, err)
	assert.InDeltaSlice(t, good, proj, 1e-9)
}

func TestNearest_ReplacesNonFinite(t *testing.T) {
	proj, err := Nearest([]float64{1, math.NaN(), math.NaN(), 1}, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 0, 1}, proj)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(Identity(3), 1e-8))
	assert.Error(t, Validate([]float64{2, 0, 0, 1}, 1e-8), "diagonal")
	assert.Error(t, Validate([]float64{1, 0.2, 0.3, 1}, 1e-8), "asymmetric")
	assert.Error(t, Validate([]float64{1, 0, 0}, 1e-8), "not square")
}

func TestCholesky_Reconstructs(t *testing.T) {
	r := []float64{
		1, 0.6, 0.3,
		0.6, 1, 0.2,
		0.3, 0.2, 1,
	}
	l, corrected, err := Cholesky(r)
	require.NoError(t, err)
	assert.False(t, corrected)

	var llt mat.Dense
	llt.Mul(l, l.T())
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			assert.InDelta(t, r[i*3+j], llt.At(i, j), 1e-12)
		}
	}
}

func TestCholesky_JittersSingular(t *testing.T) {
	// perfectly correlated pair is PSD but singular
	l, _, err := Cholesky([]float64{1, 1, 1, 1})
	require.NoError(t, err)
	require.NotNil(t, l)
}

func TestPrepare(t *testing.T) {
	proj, l, _, err := Prepare([]float64{1, 0.4, 0.4, 1})
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.InDeltaSlice(t, []float64{1, 0.4, 0.4, 1}, proj, 1e-9)

	proj, l, degraded, err := Prepare(nil)
	require.NoError(t, err)
	assert.Nil(t, proj)
	assert.Nil(t, l)
	assert.False(t, degraded)
}
