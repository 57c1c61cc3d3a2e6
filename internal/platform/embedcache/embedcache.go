package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/consilience-ai/consilience-backend/internal/platform/logger"
	"github.com/consilience-ai/consilience-backend/internal/platform/openai"
)

const keyPrefix = "emb:"

// DefaultTTL bounds how long a cached vector may serve reads. Embeddings are
// deterministic per model, so the TTL mostly limits cache bloat.
const DefaultTTL = 24 * time.Hour

// cachedClient fronts Embed with a Redis lookaside cache. Completion methods
// pass straight through to the wrapped client. Cache failures never fail the
// request: a broken Redis degrades to uncached embedding calls.
type cachedClient struct {
	openai.Client

	rdb   *redis.Client
	log   *logger.Logger
	model string
	ttl   time.Duration
}

// Wrap decorates inner with an embedding cache. A nil rdb returns inner
// unchanged so callers can wire it unconditionally.
func Wrap(inner openai.Client, rdb *redis.Client, log *logger.Logger, embedModel string, ttl time.Duration) openai.Client {
	if rdb == nil {
		return inner
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &cachedClient{
		Client: inner,
		rdb:    rdb,
		log:    log.With("service", "EmbedCache"),
		model:  embedModel,
		ttl:    ttl,
	}
}

// Key derives the cache key for one input. The model is part of the hash so
// switching embedding models never serves stale vectors.
func Key(model, text string) string {
	sum := sha256.Sum256([]byte(model + "|" + text))
	return keyPrefix + hex.EncodeToString(sum[:])
}

func (c *cachedClient) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}

	keys := make([]string, len(inputs))
	for i, in := range inputs {
		keys[i] = Key(c.model, in)
	}

	out := make([][]float32, len(inputs))
	missing := make([]int, 0, len(inputs))

	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		c.log.Warn("Embed cache read failed; bypassing cache", "error", err.Error())
		for i := range inputs {
			missing = append(missing, i)
		}
	} else {
		for i, v := range vals {
			s, ok := v.(string)
			if !ok || s == "" {
				missing = append(missing, i)
				continue
			}
			var vec []float32
			if uErr := json.Unmarshal([]byte(s), &vec); uErr != nil || len(vec) == 0 {
				missing = append(missing, i)
				continue
			}
			out[i] = vec
		}
	}

	if len(missing) == 0 {
		return out, nil
	}

	texts := make([]string, len(missing))
	for i, idx := range missing {
		texts[i] = inputs[idx]
	}
	fresh, err := c.Client.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}

	pipe := c.rdb.Pipeline()
	for i, idx := range missing {
		out[idx] = fresh[i]
		raw, mErr := json.Marshal(fresh[i])
		if mErr != nil {
			continue
		}
		pipe.Set(ctx, keys[idx], raw, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn("Embed cache write failed", "error", err.Error())
	}

	return out, nil
}
