package estimate

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/pollcast/internal/model"
)

func TestStandardError(t *testing.T) {
	se, err := StandardError(0.5, 100)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, se, 1e-12)

	se, err = StandardError(0.2, 400)
	require.NoError(t, err)
	assert.InDelta(t, 0.02, se, 1e-12)

	se, err = StandardError(1, 50)
	require.NoError(t, err)
	assert.Zero(t, se)
}

func TestStandardError_DomainErrors(t *testing.T) {
	tests := []struct {
		name string
		p    float64
		n    float64
	}{
		{"zero sample", 0.5, 0},
		{"negative sample", 0.5, -10},
		{"NaN sample", 0.5, math.NaN()},
		{"proportion above one", 1.2, 100},
		{"negative proportion", -0.1, 100},
		{"NaN proportion", math.NaN(), 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := StandardError(tt.p, tt.n)
			require.Error(t, err)
			assert.True(t, errors.Is(err, model.ErrDomain))

			var de *model.DomainError
			require.ErrorAs(t, err, &de)
			assert.NotEmpty(t, de.Field)
		})
	}
}

func TestBound(t *testing.T) {
	b, err := Bound(0.5, 100, Confidence95)
	require.NoError(t, err)
	assert.InDelta(t, 0.098, b, 1e-12)

	_, err = Bound(0.5, 0, Confidence95)
	assert.ErrorIs(t, err, model.ErrDomain)
}

func TestMarginError(t *testing.T) {
	se, err := MarginError(0.2, 400)
	require.NoError(t, err)
	assert.InDelta(t, math.Sqrt(0.6*0.4/400), se, 1e-15)

	se, err = MarginError(-1, 400)
	require.NoError(t, err)
	assert.Zero(t, se)

	_, err = MarginError(1.2, 400)
	assert.ErrorIs(t, err, model.ErrDomain)
}

func TestWinProbability(t *testing.T) {
	p, err := WinProbability(0, 500)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, p, 1e-15)

	// margin 0.1 at n=100: se(0.55) = sqrt(0.2475/100)
	p, err = WinProbability(0.1, 100)
	require.NoError(t, err)
	want := 0.5 * (1 + math.Erf(0.1/(math.Sqrt2*math.Sqrt(0.2475/100))))
	assert.InDelta(t, want, p, 1e-15)
	assert.Greater(t, p, 0.9)

	// symmetric around zero
	q, err := WinProbability(-0.1, 100)
	require.NoError(t, err)
	assert.InDelta(t, 1, p+q, 1e-12)
}

func TestWinProbability_GrowsWithSampleSize(t *testing.T) {
	small, err := WinProbability(0.02, 100)
	require.NoError(t, err)
	large, err := WinProbability(0.02, 2000)
	require.NoError(t, err)
	assert.Greater(t, large, small)
}

func TestWinProbability_Extremes(t *testing.T) {
	p, err := WinProbability(1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1.0, p)

	p, err = WinProbability(-1, 10)
	require.NoError(t, err)
	assert.Equal(t, 0.0, p)
}

func TestWinProbability_DomainErrors(t *testing.T) {
	_, err := WinProbability(0.1, 0)
	assert.ErrorIs(t, err, model.ErrDomain)

	_, err = WinProbability(1.5, 100)
	assert.ErrorIs(t, err, model.ErrDomain)

	_, err = WinProbability(math.NaN(), 100)
	assert.ErrorIs(t, err, model.ErrDomain)
}
