package common

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBatchProcessor_Defaults(t *testing.T) {
	bp := NewBatchProcessor[string, string]()
	assert.NotNil(t, bp)
}

func TestProcessAll_PreservesOrder(t *testing.T) {
	bp := NewBatchProcessor[int, int](WithMaxConcurrency(4))
	items := make([]int, 50)
	for i := range items {
		items[i] = i
	}
	fn := func(ctx context.Context, item int) (int, error) {
		// Later items finish first.
		time.Sleep(time.Duration(50-item) * 100 * time.Microsecond)
		return item * 10, nil
	}

	out, err := bp.ProcessAll(context.Background(), items, fn)
	require.NoError(t, err)
	require.Len(t, out, 50)
	for i, v := range out {
		assert.Equal(t, i*10, v)
	}
}

func TestProcessAll_NilFunc(t *testing.T) {
	bp := NewBatchProcessor[int, int]()
	_, err := bp.ProcessAll(context.Background(), []int{1}, nil)
	assert.Error(t, err)
}

func TestProcessAll_Empty(t *testing.T) {
	bp := NewBatchProcessor[int, int]()
	out, err := bp.ProcessAll(context.Background(), nil, func(ctx context.Context, i int) (int, error) { return i, nil })
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestProcessAll_ConcurrencyLimit(t *testing.T) {
	var current, peak int32
	bp := NewBatchProcessor[int, int](WithMaxConcurrency(2))

	fn := func(ctx context.Context, item int) (int, error) {
		c := atomic.AddInt32(&current, 1)
		defer atomic.AddInt32(&current, -1)
		for {
			p := atomic.LoadInt32(&peak)
			if c <= p || atomic.CompareAndSwapInt32(&peak, p, c) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return item, nil
	}

	_, err := bp.ProcessAll(context.Background(), []int{1, 2, 3, 4, 5, 6}, fn)
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestProcessAll_ItemTimeout(t *testing.T) {
	fn := func(ctx context.Context, item int) (int, error) {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(time.Second):
			return item, nil
		}
	}

	m := NewInMemoryEngineMetrics()
	bp := NewBatchProcessor[int, int](WithItemTimeout(5*time.Millisecond), WithBatchMetrics(m))
	_, err := bp.ProcessAll(context.Background(), []int{1}, fn)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	batches := m.Batches()
	require.Len(t, batches, 1)
	assert.Equal(t, 1, batches[0].TimeoutItems)
}

func TestProcessAll_FailFast(t *testing.T) {
	bp := NewBatchProcessor[int, int](WithMaxConcurrency(1))
	var calls int32
	boom := errors.New("boom")
	fn := func(ctx context.Context, item int) (int, error) {
		atomic.AddInt32(&calls, 1)
		if item == 2 {
			return 0, boom
		}
		return item, nil
	}

	out, err := bp.ProcessAll(context.Background(), []int{0, 1, 2, 3, 4, 5, 6, 7}, fn)
	assert.Nil(t, out)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var ie *ItemError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, 2, ie.Index)
	assert.Less(t, atomic.LoadInt32(&calls), int32(8))
}

func TestProcessAll_ParentCancelled(t *testing.T) {
	bp := NewBatchProcessor[int, int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := bp.ProcessAll(ctx, []int{1, 2, 3}, func(ctx context.Context, i int) (int, error) { return i, nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProcessAll_RecoversPanic(t *testing.T) {
	bp := NewBatchProcessor[int, int]()
	_, err := bp.ProcessAll(context.Background(), []int{1}, func(ctx context.Context, i int) (int, error) {
		panic("simulator bug")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "simulator bug")
}

func TestRetryPolicy_RetriesUntilSuccess(t *testing.T) {
	bp := NewBatchProcessor[int, int](WithRetryPolicy(2, time.Millisecond))
	var calls int32
	fn := func(ctx context.Context, item int) (int, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return 0, errors.New("transient")
		}
		return item, nil
	}

	out, err := bp.ProcessAll(context.Background(), []int{7}, fn)
	require.NoError(t, err)
	assert.Equal(t, []int{7}, out)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRetryPolicy_GivesUpAfterMaxRetries(t *testing.T) {
	bp := NewBatchProcessor[int, int](WithRetryPolicy(1, 0))
	var calls int32
	failing := errors.New("still broken")
	_, err := bp.ProcessAll(context.Background(), []int{1}, func(ctx context.Context, i int) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, failing
	})
	assert.ErrorIs(t, err, failing)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRetryPolicy_WithoutPolicyFailsFirstTime(t *testing.T) {
	bp := NewBatchProcessor[int, int](WithRetryPolicy(0, time.Millisecond))
	var calls int32
	_, err := bp.ProcessAll(context.Background(), []int{1}, func(ctx context.Context, i int) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, errors.New("once")
	})
	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestShouldRetry(t *testing.T) {
	policy := &RetryPolicy{MaxRetries: 3}
	assert.True(t, shouldRetry(errors.New("transient"), policy))
	assert.False(t, shouldRetry(context.Canceled, policy))
	assert.False(t, shouldRetry(context.DeadlineExceeded, policy))
	assert.False(t, shouldRetry(errors.New("transient"), nil))
}

func TestCalculateBackoff_Capped(t *testing.T) {
	policy := &RetryPolicy{InitialBackoff: 10 * time.Millisecond, MaxBackoff: 20 * time.Millisecond}
	for attempt := 0; attempt < 6; attempt++ {
		d := calculateBackoff(attempt, policy)
		assert.LessOrEqual(t, d, 25*time.Millisecond)
		assert.GreaterOrEqual(t, d, time.Duration(0))
	}
	assert.Equal(t, time.Duration(0), calculateBackoff(1, nil))
}

func TestProcessAll_RecordsMetrics(t *testing.T) {
	m := NewInMemoryEngineMetrics()
	bp := NewBatchProcessor[int, int](WithBatchMetrics(m), WithBatchName("trials"))

	_, err := bp.ProcessAll(context.Background(), []int{1, 2}, func(ctx context.Context, i int) (int, error) { return i, nil })
	require.NoError(t, err)

	batches := m.Batches()
	require.Len(t, batches, 1)
	assert.Equal(t, "trials", batches[0].BatchName)
	assert.Equal(t, 2, batches[0].SuccessItems)
}

func TestItemStatus_String(t *testing.T) {
	assert.Equal(t, "SUCCESS", ItemStatusSuccess.String())
	assert.Equal(t, "TIMEOUT", ItemStatusTimeout.String())
	assert.Equal(t, "UNKNOWN(9)", ItemStatus(9).String())
}

//Personal.AI order the ending
