package summary

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/abcflow/internal/abc/common"
	"github.com/turtacn/abcflow/pkg/errors"
)

func TestIdentity(t *testing.T) {
	out, err := Identity{}.Summarize(common.Trajectory{{1, 2}, {3}})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, out)

	_, err = Identity{}.Summarize(nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeDimensionMismatch))
}

func TestMean(t *testing.T) {
	out, err := Mean{}.Summarize(common.Trajectory{{1, 3}, {10, 20, 30}})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 20}, out)

	_, err = Mean{}.Summarize(common.Trajectory{{}})
	assert.True(t, errors.IsCode(err, errors.ErrCodeDimensionMismatch))
}

func TestBurstiness(t *testing.T) {
	// mean 2, population std 1 → r = 0.5
	row := []float64{1, 3, 1, 3}

	out, err := Burstiness{}.Summarize(common.Trajectory{row})
	require.NoError(t, err)
	assert.InDelta(t, (0.5-1)/(0.5+1), out[0], 1e-12)

	out, err = Burstiness{Improved: true}.Summarize(common.Trajectory{row})
	require.NoError(t, err)
	sp, sm := math.Sqrt(5), math.Sqrt(3)
	assert.InDelta(t, (sp*0.5-sm)/((sp-2)*0.5+sm), out[0], 1e-12)
}

func TestBurstiness_RegularSignal(t *testing.T) {
	out, err := Burstiness{}.Summarize(common.Trajectory{{4, 4, 4}})
	require.NoError(t, err)
	assert.Equal(t, -1.0, out[0])
}

func TestByName(t *testing.T) {
	for name, want := range map[string]common.Summarizer{
		"identity":            Identity{},
		"MEAN":                Mean{},
		"burstiness":          Burstiness{},
		"burstiness_improved": Burstiness{Improved: true},
	} {
		got, err := ByName(name)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
	_, err := ByName("autoencoder")
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnknownCollaborator))
}

//Personal.AI order the ending
