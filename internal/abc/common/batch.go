package common

import (
	"context"
	stdliberrors "errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/turtacn/abcflow/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/abcflow/pkg/errors"
)

// ItemError reports which item of a fail-fast batch failed first.
type ItemError struct {
	Index int
	Err   error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// ---------------------------------------------------------------------------
// ItemStatus enumeration
// ---------------------------------------------------------------------------

// ItemStatus represents the outcome status of a single batch item.
type ItemStatus int

const (
	ItemStatusSuccess   ItemStatus = iota // processing completed successfully
	ItemStatusFailed                      // processing failed with an error
	ItemStatusTimeout                     // processing exceeded its timeout
	ItemStatusCancelled                   // processing was cancelled
)

// String returns the human-readable representation of an ItemStatus.
func (s ItemStatus) String() string {
	switch s {
	case ItemStatusSuccess:
		return "SUCCESS"
	case ItemStatusFailed:
		return "FAILED"
	case ItemStatusTimeout:
		return "TIMEOUT"
	case ItemStatusCancelled:
		return "CANCELLED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// ---------------------------------------------------------------------------
// Generic types
// ---------------------------------------------------------------------------

// ProcessFunc processes a single item.
type ProcessFunc[T, R any] func(ctx context.Context, item T) (R, error)

// ItemResult holds the outcome of processing a single item within a batch.
type ItemResult[R any] struct {
	Index      int        `json:"index"`
	Result     R          `json:"result"`
	Error      error      `json:"error,omitempty"`
	Attempts   int        `json:"attempts"`
	DurationMs float64    `json:"duration_ms"`
	Status     ItemStatus `json:"status"`
}

// BatchResult aggregates the outcomes of an entire batch, in input order.
type BatchResult[R any] struct {
	Results           []*ItemResult[R] `json:"results"`
	TotalCount        int              `json:"total_count"`
	SuccessCount      int              `json:"success_count"`
	FailureCount      int              `json:"failure_count"`
	TotalDurationMs   float64          `json:"total_duration_ms"`
	AvgItemDurationMs float64          `json:"avg_item_duration_ms"`
}

// ---------------------------------------------------------------------------
// BatchProcessor interface
// ---------------------------------------------------------------------------

// BatchProcessor maps a function over a slice in parallel and hands results
// back in the order of the input.
type BatchProcessor[T, R any] interface {
	// ProcessAll runs fn for every item.  The first item error that survives
	// the retry policy cancels the remaining items and is returned as an
	// *ItemError.  No partial results are returned.
	ProcessAll(ctx context.Context, items []T, fn ProcessFunc[T, R]) ([]R, error)
}

// ---------------------------------------------------------------------------
// RetryPolicy
// ---------------------------------------------------------------------------

// RetryPolicy governs how failed items are retried.  A retried trial is
// called again with the same item, so a simulator that is a pure function of
// its inputs only benefits when the failure was transient.
type RetryPolicy struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// shouldRetry rejects context errors: a cancelled or timed out item is not
// retried.
func shouldRetry(err error, policy *RetryPolicy) bool {
	if policy == nil || err == nil {
		return false
	}
	return !stdliberrors.Is(err, context.Canceled) && !stdliberrors.Is(err, context.DeadlineExceeded)
}

// calculateBackoff returns the delay before the attempt-th retry: exponential
// back-off with ±25 % jitter, capped at MaxBackoff.
func calculateBackoff(attempt int, policy *RetryPolicy) time.Duration {
	if policy == nil || policy.InitialBackoff <= 0 {
		return 0
	}
	multiplier := policy.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	base := float64(policy.InitialBackoff) * math.Pow(multiplier, float64(attempt))
	if policy.MaxBackoff > 0 && base > float64(policy.MaxBackoff) {
		base = float64(policy.MaxBackoff)
	}
	jitter := base * 0.25 * (rand.Float64()*2 - 1)
	d := time.Duration(base + jitter)
	if d < 0 {
		d = 0
	}
	return d
}

// ---------------------------------------------------------------------------
// BatchOption functional options
// ---------------------------------------------------------------------------

type batchConfig struct {
	name           string
	maxConcurrency int
	itemTimeout    time.Duration
	retryPolicy    *RetryPolicy
	metrics        EngineMetrics
	logger         logging.Logger
}

func defaultBatchConfig() *batchConfig {
	return &batchConfig{
		name:           "batch-processor",
		maxConcurrency: runtime.NumCPU(),
	}
}

// BatchOption configures a batchProcessor.
type BatchOption func(*batchConfig)

// WithBatchName labels metrics emitted by the processor.
func WithBatchName(name string) BatchOption {
	return func(c *batchConfig) {
		if name != "" {
			c.name = name
		}
	}
}

// WithMaxConcurrency sets the maximum number of items processed concurrently.
func WithMaxConcurrency(n int) BatchOption {
	return func(c *batchConfig) {
		if n > 0 {
			c.maxConcurrency = n
		}
	}
}

// WithItemTimeout sets the per-item processing timeout.  Zero disables it.
func WithItemTimeout(d time.Duration) BatchOption {
	return func(c *batchConfig) {
		if d > 0 {
			c.itemTimeout = d
		}
	}
}

// WithRetryPolicy configures retry behaviour for failed items.
func WithRetryPolicy(maxRetries int, backoff time.Duration) BatchOption {
	return func(c *batchConfig) {
		if maxRetries > 0 {
			c.retryPolicy = &RetryPolicy{
				MaxRetries:        maxRetries,
				InitialBackoff:    backoff,
				MaxBackoff:        backoff * 16,
				BackoffMultiplier: 2.0,
			}
		}
	}
}

// WithBatchMetrics injects a metrics collector.
func WithBatchMetrics(m EngineMetrics) BatchOption {
	return func(c *batchConfig) {
		c.metrics = m
	}
}

// WithBatchLogger injects a logger.
func WithBatchLogger(l logging.Logger) BatchOption {
	return func(c *batchConfig) {
		c.logger = l
	}
}

// ---------------------------------------------------------------------------
// batchProcessor implementation
// ---------------------------------------------------------------------------

type batchProcessor[T, R any] struct {
	cfg     *batchConfig
	metrics EngineMetrics
	logger  logging.Logger
}

// NewBatchProcessor creates a new BatchProcessor with the supplied options.
func NewBatchProcessor[T, R any](opts ...BatchOption) BatchProcessor[T, R] {
	cfg := defaultBatchConfig()
	for _, o := range opts {
		o(cfg)
	}
	if cfg.metrics == nil {
		cfg.metrics = NewNoopEngineMetrics()
	}
	if cfg.logger == nil {
		cfg.logger = logging.NewNopLogger()
	}
	return &batchProcessor[T, R]{
		cfg:     cfg,
		metrics: cfg.metrics,
		logger:  cfg.logger,
	}
}

// ProcessAll implements BatchProcessor.
func (bp *batchProcessor[T, R]) ProcessAll(
	ctx context.Context,
	items []T,
	fn ProcessFunc[T, R],
) ([]R, error) {
	if fn == nil {
		return nil, errors.InvalidParam("process function must not be nil")
	}

	n := len(items)
	out := make([]R, n)
	if n == 0 {
		return out, nil
	}

	batchStart := time.Now()
	results := make([]*ItemResult[R], n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bp.cfg.maxConcurrency)
	for i := 0; i < n; i++ {
		idx, item := i, items[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[idx] = &ItemResult[R]{Index: idx, Error: err, Status: classifyCtxError(err)}
				return nil
			}
			ir := bp.processOneItem(gctx, idx, item, fn)
			results[idx] = ir
			if ir.Status != ItemStatusSuccess {
				return &ItemError{Index: idx, Err: ir.Error}
			}
			out[idx] = ir.Result
			return nil
		})
	}
	err := g.Wait()

	br := buildBatchResult(results, time.Since(batchStart))
	bp.record(ctx, br)

	if err != nil {
		return nil, err
	}
	// The parent context may have been cancelled while the last items were
	// being skipped without an item error.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// processOneItem: per-item logic with retry
// ---------------------------------------------------------------------------

func (bp *batchProcessor[T, R]) processOneItem(
	batchCtx context.Context,
	idx int,
	item T,
	fn ProcessFunc[T, R],
) *ItemResult[R] {
	itemStart := time.Now()

	maxAttempts := 1
	if bp.cfg.retryPolicy != nil && bp.cfg.retryPolicy.MaxRetries > 0 {
		maxAttempts = 1 + bp.cfg.retryPolicy.MaxRetries
	}

	var lastErr error
	attempt := 0
	for ; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if delay := calculateBackoff(attempt-1, bp.cfg.retryPolicy); delay > 0 {
				select {
				case <-batchCtx.Done():
					return &ItemResult[R]{
						Index:      idx,
						Error:      batchCtx.Err(),
						Attempts:   attempt,
						Status:     classifyCtxError(batchCtx.Err()),
						DurationMs: msSince(itemStart),
					}
				case <-time.After(delay):
				}
			}
			bp.logger.Debug("retrying batch item",
				logging.String("batch", bp.cfg.name),
				logging.Int("index", idx),
				logging.Int("attempt", attempt),
				logging.Err(lastErr))
		}

		itemCtx, itemCancel := batchCtx, context.CancelFunc(func() {})
		if bp.cfg.itemTimeout > 0 {
			itemCtx, itemCancel = context.WithTimeout(batchCtx, bp.cfg.itemTimeout)
		}
		result, err := bp.invoke(itemCtx, item, fn)
		itemCancel()

		if err == nil {
			return &ItemResult[R]{
				Index:      idx,
				Result:     result,
				Attempts:   attempt + 1,
				Status:     ItemStatusSuccess,
				DurationMs: msSince(itemStart),
			}
		}

		lastErr = err
		if attempt < maxAttempts-1 && shouldRetry(err, bp.cfg.retryPolicy) {
			continue
		}
		attempt++
		break
	}

	return &ItemResult[R]{
		Index:      idx,
		Error:      lastErr,
		Attempts:   attempt,
		Status:     classifyError(batchCtx, lastErr),
		DurationMs: msSince(itemStart),
	}
}

// invoke converts a panicking collaborator into an item error so one bad
// trial cannot take the process down.
func (bp *batchProcessor[T, R]) invoke(ctx context.Context, item T, fn ProcessFunc[T, R]) (result R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, item)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (bp *batchProcessor[T, R]) record(ctx context.Context, br *BatchResult[R]) {
	var timeouts, cancelled int
	for _, r := range br.Results {
		switch r.Status {
		case ItemStatusTimeout:
			timeouts++
		case ItemStatusCancelled:
			cancelled++
		}
	}
	bp.metrics.RecordBatchProcessing(ctx, &BatchMetricParams{
		BatchName:         bp.cfg.name,
		TotalItems:        br.TotalCount,
		SuccessItems:      br.SuccessCount,
		FailedItems:       br.FailureCount - timeouts - cancelled,
		TimeoutItems:      timeouts,
		CancelledItems:    cancelled,
		TotalDurationMs:   br.TotalDurationMs,
		AvgItemDurationMs: br.AvgItemDurationMs,
		MaxConcurrency:    bp.cfg.maxConcurrency,
	})
}

func buildBatchResult[R any](results []*ItemResult[R], totalDuration time.Duration) *BatchResult[R] {
	compact := make([]*ItemResult[R], 0, len(results))
	for _, r := range results {
		if r != nil {
			compact = append(compact, r)
		}
	}
	br := &BatchResult[R]{
		Results:         compact,
		TotalCount:      len(compact),
		TotalDurationMs: float64(totalDuration.Microseconds()) / 1000.0,
	}
	var sumItemMs float64
	for _, r := range compact {
		if r.Status == ItemStatusSuccess {
			br.SuccessCount++
		} else {
			br.FailureCount++
		}
		sumItemMs += r.DurationMs
	}
	if br.TotalCount > 0 {
		br.AvgItemDurationMs = sumItemMs / float64(br.TotalCount)
	}
	return br
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000.0
}

func classifyCtxError(err error) ItemStatus {
	if err == nil {
		return ItemStatusSuccess
	}
	if stdliberrors.Is(err, context.DeadlineExceeded) {
		return ItemStatusTimeout
	}
	return ItemStatusCancelled
}

func classifyError(batchCtx context.Context, err error) ItemStatus {
	if err == nil {
		return ItemStatusSuccess
	}
	if stdliberrors.Is(err, context.DeadlineExceeded) {
		return ItemStatusTimeout
	}
	if stdliberrors.Is(err, context.Canceled) {
		return ItemStatusCancelled
	}
	switch batchCtx.Err() {
	case context.DeadlineExceeded:
		return ItemStatusTimeout
	case context.Canceled:
		return ItemStatusCancelled
	}
	return ItemStatusFailed
}

//Personal.AI order the ending
