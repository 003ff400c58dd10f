package inference

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sync"

	"github.com/turtacn/abcflow/internal/abc/common"
	"github.com/turtacn/abcflow/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/abcflow/pkg/errors"
)

// ReferenceCache stores reference summaries keyed by ReferenceKey.
// Entries that cannot be decoded or hold non-finite values are invalidated
// and recomputed.
type ReferenceCache interface {
	GetReference(ctx context.Context, key string) ([]float64, bool, error)
	PutReference(ctx context.Context, key string, summary []float64) error
	Invalidate(ctx context.Context, key string) error
}

// ReferenceKey fingerprints the observed data, the chunk size and the
// summarizer's type and configured fields.  Summarizers whose output depends
// on state fmt cannot print should implement fmt.Stringer.
func ReferenceKey(data []common.Trajectory, summarizer common.Summarizer, chunkSize int) string {
	h := sha256.New()
	fmt.Fprintf(h, "%T|%+v|%d|%d", summarizer, summarizer, chunkSize, len(data))
	var buf [8]byte
	for _, t := range data {
		binary.LittleEndian.PutUint64(buf[:], uint64(len(t)))
		h.Write(buf[:])
		for _, row := range t {
			binary.LittleEndian.PutUint64(buf[:], uint64(len(row)))
			h.Write(buf[:])
			for _, v := range row {
				binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
				h.Write(buf[:])
			}
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ComputeReference reduces the observed data to the reference summary in two
// levels: trajectories are summarized and averaged per chunk of chunkSize,
// then the chunk means are averaged.  Chunks are reduced in parallel.
func ComputeReference(ctx context.Context, data []common.Trajectory, summarizer common.Summarizer, chunkSize int, opts ...common.BatchOption) ([]float64, error) {
	if len(data) == 0 {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "observed data is empty")
	}
	if chunkSize <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "chunk size must be positive, got %d", chunkSize)
	}

	chunks := make([][]common.Trajectory, 0, (len(data)+chunkSize-1)/chunkSize)
	for start := 0; start < len(data); start += chunkSize {
		end := start + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[start:end])
	}

	opts = append([]common.BatchOption{common.WithBatchName("reference")}, opts...)
	processor := common.NewBatchProcessor[[]common.Trajectory, []float64](opts...)
	means, err := processor.ProcessAll(ctx, chunks, func(ctx context.Context, chunk []common.Trajectory) ([]float64, error) {
		summaries := make([][]float64, len(chunk))
		for i, t := range chunk {
			s, err := summarizer.Summarize(t)
			if err != nil {
				return nil, err
			}
			summaries[i] = s
		}
		return common.MeanVector(summaries)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.Wrap(ctxErr, errors.ErrCodeCancelled, "reference computation cancelled")
		}
		return nil, errors.Wrap(err, errors.ErrCodeReferenceFailed, "reference summary computation failed")
	}
	ref, err := common.MeanVector(means)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeReferenceFailed, "chunk summaries disagree")
	}
	return ref, nil
}

// referenceHolder computes the reference summary once per sampler.  A failed
// computation is not cached.
type referenceHolder struct {
	mu    sync.Mutex
	value []float64
}

func (h *referenceHolder) get(ctx context.Context, e *engine) ([]float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.value != nil {
		return h.value, nil
	}

	var key string
	if cache := e.cfg.referenceCache; cache != nil {
		key = ReferenceKey(e.data, e.summarizer, e.cfg.chunkSize)
		cached, ok, err := cache.GetReference(ctx, key)
		switch {
		case errors.IsCode(err, errors.ErrCodeSerialization):
			e.cfg.metrics.RecordReferenceCache(ctx, false)
			dropReference(ctx, e, cache, key, err)
		case err != nil:
			e.logger.Warn("reference cache lookup failed", logging.Err(err))
		case ok && !finite(cached):
			e.cfg.metrics.RecordReferenceCache(ctx, false)
			dropReference(ctx, e, cache, key, errors.Newf(errors.ErrCodeSerialization, "cached reference %v is not usable", cached))
		case ok:
			e.cfg.metrics.RecordReferenceCache(ctx, true)
			e.logger.Debug("reference summary loaded from cache", logging.String("key", key))
			h.value = cached
			return h.value, nil
		default:
			e.cfg.metrics.RecordReferenceCache(ctx, false)
		}
	}

	ref, err := ComputeReference(ctx, e.data, e.summarizer, e.cfg.chunkSize,
		common.WithMaxConcurrency(e.cfg.concurrency),
		common.WithBatchMetrics(e.cfg.metrics),
		common.WithBatchLogger(e.logger))
	if err != nil {
		return nil, err
	}
	e.logger.Info("reference summary computed",
		logging.Int("trajectories", len(e.data)),
		logging.Int("chunk_size", e.cfg.chunkSize),
		logging.Float64s("reference", ref))

	if cache := e.cfg.referenceCache; cache != nil {
		if err := cache.PutReference(ctx, key, ref); err != nil {
			e.logger.Warn("reference cache store failed", logging.Err(err))
		}
	}
	h.value = ref
	return h.value, nil
}

func dropReference(ctx context.Context, e *engine, cache ReferenceCache, key string, cause error) {
	e.logger.Warn("invalidating cached reference summary", logging.String("key", key), logging.Err(cause))
	if err := cache.Invalidate(ctx, key); err != nil {
		e.logger.Warn("reference cache invalidation failed", logging.Err(err))
	}
}

func finite(v []float64) bool {
	if len(v) == 0 {
		return false
	}
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

//Personal.AI order the ending
