package normalize

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/abcflow/pkg/errors"
)

func scaleAll(t *testing.T, n Normalizer, rows [][]float64) [][]float64 {
	t.Helper()
	out := make([][]float64, len(rows))
	for i, r := range rows {
		s, err := n.Scale(r)
		require.NoError(t, err)
		out[i] = s
	}
	return out
}

func TestMax_DividesByHistoricalMax(t *testing.T) {
	n := NewMax()
	out := scaleAll(t, n, [][]float64{{2, 4}, {1, 8}})

	assert.Equal(t, []float64{1, 1}, out[0])
	assert.Equal(t, []float64{0.5, 1.0}, out[1])
	assert.Equal(t, 2, n.Len())
}

func TestMax_HistoryIsNotRescaledInPlace(t *testing.T) {
	n := NewMax()
	scaleAll(t, n, [][]float64{{2}, {1}})
	out, err := n.Scale([]float64{2})
	require.NoError(t, err)
	// The max is still 2 because stored rows keep their raw values.
	assert.Equal(t, []float64{1}, out)
}

func TestMax_ZeroChannelLeftUnscaled(t *testing.T) {
	n := NewMax()
	out := scaleAll(t, n, [][]float64{{0, 3}, {0, 6}})
	assert.Equal(t, []float64{0, 1}, out[1])
}

func TestMax_ScaleInvariance(t *testing.T) {
	history := []float64{4, 7, 1}
	candidates := []float64{3, 2}

	rank := func(factor float64) []float64 {
		n := NewMax()
		for _, v := range history {
			_, err := n.Scale([]float64{v * factor})
			require.NoError(t, err)
		}
		out := make([]float64, len(candidates))
		for i, c := range candidates {
			s, err := n.Scale([]float64{c * factor})
			require.NoError(t, err)
			out[i] = s[0]
		}
		return out
	}

	base := rank(1)
	scaled := rank(1000)
	require.Len(t, scaled, 2)
	for i := range base {
		assert.InDelta(t, base[i], scaled[i], 1e-12)
	}
	assert.Equal(t, base[0] <= 0.3, scaled[0] <= 0.3)
	assert.Equal(t, base[1] <= 0.3, scaled[1] <= 0.3)
}

func TestMax_NaNDoesNotCorruptOtherChannels(t *testing.T) {
	n := NewMax()
	out := scaleAll(t, n, [][]float64{{math.NaN(), 2}, {1, 4}})

	assert.True(t, math.IsNaN(out[0][0]))
	assert.Equal(t, 1.0, out[0][1])
	assert.Equal(t, []float64{1, 1}, out[1])
}

func TestZScore_ConstantChannelUnscaled(t *testing.T) {
	n := NewZScore()
	out := scaleAll(t, n, [][]float64{{5, 1}, {5, 3}, {5, 5}})

	last := out[2]
	assert.Equal(t, 5.0, last[0])
	assert.False(t, math.IsNaN(last[0]))
	assert.False(t, math.IsInf(last[0], 0))
	// Channel 1: mean 3, population std sqrt(8/3).
	assert.InDelta(t, 2/math.Sqrt(8.0/3.0), last[1], 1e-12)
}

func TestZScore_SingleRowUnscaled(t *testing.T) {
	n := NewZScore()
	out, err := n.Scale([]float64{7})
	require.NoError(t, err)
	assert.Equal(t, []float64{7}, out)
}

func TestZScore_AllNaNChannel(t *testing.T) {
	n := NewZScore()
	out := scaleAll(t, n, [][]float64{{math.NaN(), 1}, {math.NaN(), 3}})
	assert.True(t, math.IsNaN(out[1][0]))
	assert.InDelta(t, 1.0, out[1][1], 1e-12)
}

func TestIdentity_ReturnsRawCopy(t *testing.T) {
	n := NewIdentity()
	raw := []float64{3, 4}
	out, err := n.Scale(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, out)
	out[0] = 99
	assert.Equal(t, 3.0, raw[0])
	assert.Equal(t, 1, n.Len())
}

func TestDimensionFixedAfterFirstCall(t *testing.T) {
	for _, kind := range []Kind{KindMax, KindZScore, KindNone} {
		kind := kind
		t.Run(string(kind), func(t *testing.T) {
			t.Parallel()
			n := MustNew(kind)
			_, err := n.Scale([]float64{1, 2})
			require.NoError(t, err)

			_, err = n.Scale([]float64{1})
			assert.True(t, errors.IsCode(err, errors.ErrCodeDimensionMismatch))
			assert.Equal(t, 1, n.Len())

			_, err = n.Scale(nil)
			assert.True(t, errors.IsCode(err, errors.ErrCodeDimensionMismatch))

			n.Reset()
			assert.Equal(t, 0, n.Len())
			_, err = n.Scale([]float64{1})
			assert.NoError(t, err)
		})
	}
}

func TestNew(t *testing.T) {
	n, err := New("MAX")
	require.NoError(t, err)
	assert.IsType(t, &MaxNormalizer{}, n)

	n, err = New("")
	require.NoError(t, err)
	assert.IsType(t, &IdentityNormalizer{}, n)

	_, err = New("median")
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidConfig))
	assert.Panics(t, func() { MustNew("median") })
}

//Personal.AI order the ending
