package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const cacheKeyPrefix = "smartnotes:ai:"

// CachedAssistant stores Assistant results in Redis. Identical concurrent
// misses share one upstream call. Errors are never cached, and a Redis
// failure falls back to calling the wrapped Assistant directly.
type CachedAssistant struct {
	next     Assistant
	client   *redis.Client
	ttl      time.Duration
	model    string
	group    singleflight.Group
	logger   *slog.Logger
	recorder Recorder
}

type CacheOption func(*CachedAssistant)

func WithCacheLogger(l *slog.Logger) CacheOption {
	return func(c *CachedAssistant) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithCacheRecorder(r Recorder) CacheOption {
	return func(c *CachedAssistant) {
		if r != nil {
			c.recorder = r
		}
	}
}

// NewCachedAssistant wraps next. A nil client disables caching but keeps
// the singleflight collapsing.
func NewCachedAssistant(next Assistant, client *redis.Client, ttl time.Duration, opts ...CacheOption) *CachedAssistant {
	c := &CachedAssistant{
		next:     next,
		client:   client,
		ttl:      ttl,
		model:    DefaultModel,
		logger:   slog.Default(),
		recorder: nopRecorder{},
	}
	if m, ok := next.(interface{ Model() string }); ok {
		c.model = m.Model()
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CachedAssistant) Summarize(ctx context.Context, text string) (string, error) {
	key := c.key("summary", text)
	v, err := c.fetch(ctx, "summarize", key, func(ctx context.Context) ([]byte, error) {
		s, err := c.next.Summarize(ctx, text)
		if err != nil {
			return nil, err
		}
		return []byte(s), nil
	})
	if err != nil {
		return "", err
	}
	return string(v), nil
}

func (c *CachedAssistant) SuggestTags(ctx context.Context, text string, maxTags int) ([]string, error) {
	if maxTags <= 0 {
		maxTags = DefaultMaxTags
	}
	key := c.key("tags:"+strconv.Itoa(maxTags), text)
	v, err := c.fetch(ctx, "tags", key, func(ctx context.Context) ([]byte, error) {
		tags, err := c.next.SuggestTags(ctx, text, maxTags)
		if err != nil {
			return nil, err
		}
		return json.Marshal(tags)
	})
	if err != nil {
		return nil, err
	}
	var tags []string
	if err := json.Unmarshal(v, &tags); err != nil {
		return nil, err
	}
	if tags == nil {
		tags = []string{}
	}
	return tags, nil
}

func (c *CachedAssistant) key(kind, text string) string {
	sum := sha256.Sum256([]byte(kind + "|" + c.model + "|" + text))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}

func (c *CachedAssistant) fetch(ctx context.Context, op, key string, load func(context.Context) ([]byte, error)) ([]byte, error) {
	if v, ok := c.get(ctx, op, key); ok {
		return v, nil
	}

	// The shared call must outlive any single caller's cancellation; the
	// HTTP client timeout bounds it.
	flight := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		v, err := load(flight)
		if err != nil {
			return nil, err
		}
		c.set(flight, op, key, v)
		return v, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

func (c *CachedAssistant) get(ctx context.Context, op, key string) ([]byte, bool) {
	if c.client == nil {
		return nil, false
	}
	v, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		c.recorder.AICache(op, "hit")
		return v, true
	case errors.Is(err, redis.Nil):
		c.recorder.AICache(op, "miss")
	default:
		c.recorder.AICache(op, "error")
		c.logger.Warn("ai cache read failed", "op", op, "error", err)
	}
	return nil, false
}

func (c *CachedAssistant) set(ctx context.Context, op, key string, v []byte) {
	if c.client == nil {
		return
	}
	if err := c.client.Set(ctx, key, v, c.ttl).Err(); err != nil {
		c.logger.Warn("ai cache write failed", "op", op, "error", err)
	}
}
