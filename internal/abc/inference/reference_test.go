package inference

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/abcflow/internal/abc/common"
	"github.com/turtacn/abcflow/internal/abc/distance"
	"github.com/turtacn/abcflow/internal/abc/summary"
	"github.com/turtacn/abcflow/internal/testutil"
	apperrors "github.com/turtacn/abcflow/pkg/errors"
)

func rampData(n int) []common.Trajectory {
	out := make([]common.Trajectory, n)
	for i := range out {
		out[i] = common.Trajectory{{float64(i)}}
	}
	return out
}

func TestComputeReference_TwoLevelMean(t *testing.T) {
	// Chunk means 4.5, 14.5 and 22; their mean differs from the flat mean 12.
	ref, err := ComputeReference(context.Background(), rampData(25), summary.Identity{}, 10)
	require.NoError(t, err)
	require.Len(t, ref, 1)
	assert.InDelta(t, 41.0/3.0, ref[0], 1e-12)

	ref, err = ComputeReference(context.Background(), rampData(25), summary.Identity{}, 100)
	require.NoError(t, err)
	assert.InDelta(t, 12.0, ref[0], 1e-12)
}

func TestComputeReference_Errors(t *testing.T) {
	_, err := ComputeReference(context.Background(), nil, summary.Identity{}, 10)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidConfig))

	_, err = ComputeReference(context.Background(), rampData(3), summary.Identity{}, 0)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidConfig))

	bad := common.SummarizerFunc(func(common.Trajectory) ([]float64, error) { return nil, errors.New("nope") })
	_, err = ComputeReference(context.Background(), rampData(3), bad, 2)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeReferenceFailed))

	ragged := []common.Trajectory{{{1}}, {{1, 2}}}
	_, err = ComputeReference(context.Background(), ragged, summary.Identity{}, 1)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeReferenceFailed))
}

func TestReferenceKey(t *testing.T) {
	a := ReferenceKey(rampData(5), summary.Identity{}, 10)
	assert.Equal(t, a, ReferenceKey(rampData(5), summary.Identity{}, 10))
	assert.NotEqual(t, a, ReferenceKey(rampData(5), summary.Mean{}, 10))
	assert.NotEqual(t, a, ReferenceKey(rampData(5), summary.Identity{}, 3))
	assert.NotEqual(t, a, ReferenceKey(rampData(6), summary.Identity{}, 10))
	assert.Len(t, a, 64)
}

func TestReferenceKey_SummarizerSettings(t *testing.T) {
	data := []common.Trajectory{{{1, 3, 0, 7, 2}}, {{4, 0, 0, 9, 1}}}
	classic := ReferenceKey(data, summary.Burstiness{}, 10)
	improved := ReferenceKey(data, summary.Burstiness{Improved: true}, 10)
	assert.NotEqual(t, classic, improved)
	assert.Equal(t, improved, ReferenceKey(data, summary.Burstiness{Improved: true}, 10))

	// The two settings really produce different references.
	refClassic, err := ComputeReference(context.Background(), data, summary.Burstiness{}, 10)
	require.NoError(t, err)
	refImproved, err := ComputeReference(context.Background(), data, summary.Burstiness{Improved: true}, 10)
	require.NoError(t, err)
	assert.NotEqual(t, refClassic, refImproved)
}

type countingSummarizer struct {
	calls atomic.Int64
}

func (c *countingSummarizer) Summarize(t common.Trajectory) ([]float64, error) {
	c.calls.Add(1)
	return summary.Identity{}.Summarize(t)
}

func TestSampler_ReferenceComputedOnce(t *testing.T) {
	sum := &countingSummarizer{}
	s := NewRejectionSampler(rampData(12), indexPrior(3), &testutil.CountingSimulator{}, sum, distance.Absolute{})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Reference(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(12), sum.calls.Load())
}

func TestSampler_ReferenceErrorNotCached(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	sum := common.SummarizerFunc(func(tr common.Trajectory) ([]float64, error) {
		if fail.Load() {
			return nil, errors.New("transient")
		}
		return summary.Identity{}.Summarize(tr)
	})
	s := NewRejectionSampler(rampData(2), indexPrior(3), &testutil.CountingSimulator{}, sum, distance.Absolute{})

	_, err := s.Reference(context.Background())
	require.Error(t, err)

	fail.Store(false)
	ref, err := s.Reference(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5}, ref)
}

type memoryReferenceCache struct {
	mu          sync.Mutex
	values      map[string][]float64
	getErr      error
	invalidated []string
}

func (m *memoryReferenceCache) GetReference(_ context.Context, key string) ([]float64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memoryReferenceCache) PutReference(_ context.Context, key string, v []float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = map[string][]float64{}
	}
	m.values[key] = v
	return nil
}

func (m *memoryReferenceCache) Invalidate(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated = append(m.invalidated, key)
	delete(m.values, key)
	return nil
}

func TestSampler_ReferenceCacheShared(t *testing.T) {
	cache := &memoryReferenceCache{}
	metrics := common.NewInMemoryEngineMetrics()

	first := &countingSummarizer{}
	s1 := NewRejectionSampler(rampData(4), indexPrior(1), &testutil.CountingSimulator{}, first, distance.Absolute{},
		WithReferenceCache(cache), WithMetrics(metrics))
	ref1, err := s1.Reference(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), first.calls.Load())

	second := &countingSummarizer{}
	s2 := NewRejectionSampler(rampData(4), indexPrior(1), &testutil.CountingSimulator{}, second, distance.Absolute{},
		WithReferenceCache(cache), WithMetrics(metrics))
	ref2, err := s2.Reference(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), second.calls.Load())
	assert.Equal(t, ref1, ref2)
	assert.Equal(t, 0.5, metrics.GetCurrentStats().CacheHitRate)
}

func TestSampler_ReferenceCacheFailureFallsBack(t *testing.T) {
	cache := &memoryReferenceCache{getErr: errors.New("redis down")}
	logger := testutil.NewMockLogger()
	s := NewRejectionSampler(rampData(2), indexPrior(1), &testutil.CountingSimulator{}, summary.Identity{}, distance.Absolute{},
		WithReferenceCache(cache), WithLogger(logger))

	ref, err := s.Reference(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5}, ref)
	assert.True(t, logger.HasMessage("warn", "reference cache lookup failed"))
}

func TestSampler_UnusableCachedReferenceIsInvalidated(t *testing.T) {
	data := rampData(2)
	key := ReferenceKey(data, summary.Identity{}, DefaultChunkSize)

	for name, stored := range map[string][]float64{
		"nan":   {math.NaN()},
		"empty": {},
	} {
		t.Run(name, func(t *testing.T) {
			cache := &memoryReferenceCache{values: map[string][]float64{key: stored}}
			s := NewRejectionSampler(data, indexPrior(1), &testutil.CountingSimulator{}, summary.Identity{}, distance.Absolute{},
				WithReferenceCache(cache))

			ref, err := s.Reference(context.Background())
			require.NoError(t, err)
			assert.Equal(t, []float64{0.5}, ref)
			assert.Equal(t, []string{key}, cache.invalidated)
			assert.Equal(t, []float64{0.5}, cache.values[key])
		})
	}
}

func TestSampler_UndecodableCachedReferenceIsInvalidated(t *testing.T) {
	cache := &memoryReferenceCache{getErr: apperrors.New(apperrors.ErrCodeSerialization, "bad json")}
	logger := testutil.NewMockLogger()
	s := NewRejectionSampler(rampData(2), indexPrior(1), &testutil.CountingSimulator{}, summary.Identity{}, distance.Absolute{},
		WithReferenceCache(cache), WithLogger(logger))

	ref, err := s.Reference(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5}, ref)
	require.Len(t, cache.invalidated, 1)
	assert.True(t, logger.HasMessage("warn", "invalidating cached reference summary"))
}

//Personal.AI order the ending
