package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/turtacn/abcflow/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/abcflow/pkg/errors"
)

var ErrSerializationFailed = errors.New(errors.ErrCodeSerialization, "serialization failed")

// ReferenceCache stores reference summary vectors in Redis as JSON arrays
// under <prefix>ref:<key>.  It satisfies inference.ReferenceCache.
//
// Concurrent lookups of the same key from one process collapse into a single
// round trip.
type ReferenceCache struct {
	client *Client
	logger logging.Logger
	prefix string
	ttl    time.Duration
	jitter bool
	group  singleflight.Group
}

type CacheOption func(*ReferenceCache)

func WithPrefix(prefix string) CacheOption {
	return func(c *ReferenceCache) { c.prefix = prefix }
}

// WithTTL sets the entry lifetime; zero keeps entries forever.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *ReferenceCache) { c.ttl = ttl }
}

// WithTTLJitter toggles the ±10% TTL spread that keeps entries written
// together from expiring together.
func WithTTLJitter(enabled bool) CacheOption {
	return func(c *ReferenceCache) { c.jitter = enabled }
}

func NewReferenceCache(client *Client, log logging.Logger, opts ...CacheOption) *ReferenceCache {
	if log == nil {
		log = logging.NewNopLogger()
	}
	c := &ReferenceCache{
		client: client,
		logger: log,
		prefix: "abcflow:",
		ttl:    24 * time.Hour,
		jitter: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ReferenceCache) fullKey(key string) string {
	return c.prefix + "ref:" + key
}

func (c *ReferenceCache) jitterTTL(ttl time.Duration) time.Duration {
	if ttl == 0 || !c.jitter {
		return ttl
	}
	jitter := float64(ttl) * 0.1 * (rand.Float64()*2 - 1)
	return ttl + time.Duration(jitter)
}

type lookup struct {
	summary []float64
	found   bool
}

// GetReference returns the cached summary for key.  A missing key is reported
// as found=false with a nil error.
func (c *ReferenceCache) GetReference(ctx context.Context, key string) ([]float64, bool, error) {
	fullKey := c.fullKey(key)
	v, err, shared := c.group.Do(fullKey, func() (interface{}, error) {
		data, err := c.client.Get(ctx, fullKey).Bytes()
		if err == redis.Nil {
			return lookup{}, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeCacheError, "failed to read reference summary")
		}
		var summary []float64
		if err := json.Unmarshal(data, &summary); err != nil {
			return nil, ErrSerializationFailed.WithCause(err)
		}
		return lookup{summary: summary, found: true}, nil
	})
	if err != nil {
		return nil, false, err
	}
	res := v.(lookup)
	if shared {
		c.logger.Debug("reference lookup shared", logging.String("key", key))
	}
	if !res.found {
		return nil, false, nil
	}
	// Callers own the returned slice; shared results must not alias.
	return append([]float64(nil), res.summary...), true, nil
}

// PutReference stores summary under key.
func (c *ReferenceCache) PutReference(ctx context.Context, key string, summary []float64) error {
	if len(summary) == 0 {
		return errors.New(errors.ErrCodeBadRequest, "refusing to cache an empty reference summary")
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return ErrSerializationFailed.WithCause(err)
	}
	if err := c.client.Set(ctx, c.fullKey(key), data, c.jitterTTL(c.ttl)).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "failed to write reference summary")
	}
	return nil
}

// Invalidate removes the entry for key.
func (c *ReferenceCache) Invalidate(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.fullKey(key)).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "failed to delete reference summary")
	}
	return nil
}

//Personal.AI order the ending
