package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/postwire/postwire-backend/internal/metrics"
	"github.com/postwire/postwire-backend/internal/posts"
	"github.com/postwire/postwire-backend/pkg/kv"
	memkv "github.com/postwire/postwire-backend/pkg/kv/memory"
	rediskv "github.com/postwire/postwire-backend/pkg/kv/redis"
)

// Cache keyspace layout. Each cached post is a hash under an opaque cache key,
// with a uuid secondary index and a set of live cache keys for enumeration.
const (
	keyRecordPrefix = "posts:cache:rec:"
	keyUUIDPrefix   = "posts:cache:uuid:"
	keyPKSet        = "posts:cache:pks"
)

// DefaultTTL is the fixed expiration applied to every cache record at store
// time. It is refreshed only by a full re-store, never by a patch.
const DefaultTTL = 24 * time.Hour

// PostsCache is the cache store adapter for posts. It is unaware of the
// durable store; the coherence service owns cross-store consistency.
type PostsCache struct {
	store   kv.Store
	ttl     time.Duration
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

// NewPostsCache connects to Redis at addr. When Redis is unavailable it falls
// back to an in-memory store so the service keeps working degraded.
func NewPostsCache(addr string, ttl time.Duration, logger *zap.SugaredLogger, m *metrics.Metrics) (*PostsCache, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	backend, err := rediskv.New(addr)
	if err != nil {
		if logger != nil {
			logger.Warnw("Redis unavailable; using in-memory cache", "addr", addr, "error", err)
		}
		return &PostsCache{
			store:   memkv.New(time.Minute),
			ttl:     ttl,
			logger:  logger,
			metrics: m,
		}, nil
	}

	return &PostsCache{
		store:   backend,
		ttl:     ttl,
		logger:  logger,
		metrics: m,
	}, nil
}

// NewPostsCacheWithStore builds a cache on an explicit kv backend. Used by
// tests and by callers that manage the backend lifecycle themselves.
func NewPostsCacheWithStore(store kv.Store, ttl time.Duration, logger *zap.SugaredLogger, m *metrics.Metrics) *PostsCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &PostsCache{
		store:   store,
		ttl:     ttl,
		logger:  logger,
		metrics: m,
	}
}

// Store serializes the post into its cache representation, persists it with
// the fixed TTL and returns the record including its assigned cache key.
func (c *PostsCache) Store(ctx context.Context, post posts.Post) (*posts.CachedPost, error) {
	cacheKey := newCacheKey()
	cached := posts.NewCachedPost(post, cacheKey)

	recKey := keyRecordPrefix + cacheKey
	if err := c.store.HSet(ctx, recKey, cachedFields(cached)); err != nil {
		return nil, &posts.CacheError{Op: "store", Err: err}
	}
	if _, err := c.store.Expire(ctx, recKey, c.ttl); err != nil {
		return nil, &posts.CacheError{Op: "store", Err: err}
	}
	if err := c.store.SetString(ctx, keyUUIDPrefix+post.UUID, cacheKey, c.ttl); err != nil {
		return nil, &posts.CacheError{Op: "store", Err: err}
	}
	if _, err := c.store.SAdd(ctx, keyPKSet, []byte(cacheKey)); err != nil {
		return nil, &posts.CacheError{Op: "store", Err: err}
	}

	if c.logger != nil {
		c.logger.Debugw("Cached post", "uuid", post.UUID, "cache_key", cacheKey, "ttl", c.ttl)
	}
	return cached, nil
}

// FindByCacheKey looks up a record by its opaque cache key. A missing or
// expired record returns posts.ErrNotFound.
func (c *PostsCache) FindByCacheKey(ctx context.Context, cacheKey string) (*posts.CachedPost, error) {
	fields, err := c.store.HGetAll(ctx, keyRecordPrefix+cacheKey)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			c.recordMiss(ctx, cacheKey)
			return nil, posts.ErrNotFound
		}
		return nil, &posts.CacheError{Op: "find_by_cache_key", Err: err}
	}

	c.recordHit(ctx, cacheKey)
	return deserializePost(cacheKey, fields), nil
}

// FindByUUID resolves a record through the uuid secondary index.
func (c *PostsCache) FindByUUID(ctx context.Context, postUUID string) (*posts.CachedPost, error) {
	cacheKey, err := c.store.GetString(ctx, keyUUIDPrefix+postUUID)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			c.recordMiss(ctx, postUUID)
			return nil, posts.ErrNotFound
		}
		return nil, &posts.CacheError{Op: "find_by_uuid", Err: err}
	}

	fields, err := c.store.HGetAll(ctx, keyRecordPrefix+cacheKey)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			// Record expired but the index survived; drop the stale index
			c.store.Del(ctx, keyUUIDPrefix+postUUID)
			c.store.SRem(ctx, keyPKSet, []byte(cacheKey))
			c.recordMiss(ctx, postUUID)
			return nil, posts.ErrNotFound
		}
		return nil, &posts.CacheError{Op: "find_by_uuid", Err: err}
	}

	c.recordHit(ctx, postUUID)
	return deserializePost(cacheKey, fields), nil
}

// FindAll enumerates every non-expired cached post. A count of 0 is the
// designated cache-empty signal. Cache keys whose record has expired are
// pruned from the enumeration set lazily.
func (c *PostsCache) FindAll(ctx context.Context) ([]posts.CachedPost, int, error) {
	members, err := c.store.SMembers(ctx, keyPKSet)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, 0, nil
		}
		return nil, 0, &posts.CacheError{Op: "find_all", Err: err}
	}

	var result []posts.CachedPost
	for _, member := range members {
		cacheKey := string(member)
		fields, err := c.store.HGetAll(ctx, keyRecordPrefix+cacheKey)
		if err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				c.store.SRem(ctx, keyPKSet, member)
				continue
			}
			return nil, 0, &posts.CacheError{Op: "find_all", Err: err}
		}
		result = append(result, *deserializePost(cacheKey, fields))
	}

	return result, len(result), nil
}

// DeleteByUUID removes the cache entry for the uuid. Absence is not an error.
func (c *PostsCache) DeleteByUUID(ctx context.Context, postUUID string) error {
	cacheKey, err := c.store.GetString(ctx, keyUUIDPrefix+postUUID)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil
		}
		return &posts.CacheError{Op: "delete_by_uuid", Err: err}
	}

	if _, err := c.store.Del(ctx, keyRecordPrefix+cacheKey, keyUUIDPrefix+postUUID); err != nil {
		return &posts.CacheError{Op: "delete_by_uuid", Err: err}
	}
	if _, err := c.store.SRem(ctx, keyPKSet, []byte(cacheKey)); err != nil {
		return &posts.CacheError{Op: "delete_by_uuid", Err: err}
	}

	return nil
}

// PatchByUUID rewrites the mutable fields on the cached record. The record's
// cache key and remaining TTL are left untouched. Returns false when no cache
// entry exists for the uuid.
func (c *PostsCache) PatchByUUID(ctx context.Context, postUUID string, merged posts.Post) (bool, error) {
	cacheKey, err := c.store.GetString(ctx, keyUUIDPrefix+postUUID)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return false, nil
		}
		return false, &posts.CacheError{Op: "patch_by_uuid", Err: err}
	}

	recKey := keyRecordPrefix + cacheKey
	exists, err := c.store.Exists(ctx, recKey)
	if err != nil {
		return false, &posts.CacheError{Op: "patch_by_uuid", Err: err}
	}
	if exists == 0 {
		return false, nil
	}

	serialized := posts.NewCachedPost(merged, cacheKey)
	fields := map[string][]byte{
		"title":      []byte(serialized.Title),
		"content":    []byte(serialized.Content),
		"published":  []byte(serialized.Published),
		"rating":     []byte(serialized.Rating),
		"updated_at": []byte(serialized.UpdatedAt),
	}
	if err := c.store.HSet(ctx, recKey, fields); err != nil {
		return false, &posts.CacheError{Op: "patch_by_uuid", Err: err}
	}

	return true, nil
}

// Ping checks cache backend health.
func (c *PostsCache) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}

// Close releases the underlying backend.
func (c *PostsCache) Close() error {
	return c.store.Close()
}

func (c *PostsCache) recordHit(ctx context.Context, key string) {
	if c.metrics != nil {
		c.metrics.RecordCacheHit(ctx, key)
	}
}

func (c *PostsCache) recordMiss(ctx context.Context, key string) {
	if c.metrics != nil {
		c.metrics.RecordCacheMiss(ctx, key)
	}
}

// newCacheKey generates the opaque handle assigned to a stored record. It is
// deliberately unrelated to the post's uuid.
func newCacheKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func cachedFields(cached *posts.CachedPost) map[string][]byte {
	return map[string][]byte{
		"id":         []byte(cached.ID),
		"uuid":       []byte(cached.UUID),
		"title":      []byte(cached.Title),
		"content":    []byte(cached.Content),
		"published":  []byte(cached.Published),
		"rating":     []byte(cached.Rating),
		"created_at": []byte(cached.CreatedAt),
		"updated_at": []byte(cached.UpdatedAt),
		"deleted_at": []byte(cached.DeletedAt),
	}
}

func deserializePost(cacheKey string, fields map[string][]byte) *posts.CachedPost {
	return &posts.CachedPost{
		CacheKey:  cacheKey,
		ID:        string(fields["id"]),
		UUID:      string(fields["uuid"]),
		Title:     string(fields["title"]),
		Content:   string(fields["content"]),
		Published: string(fields["published"]),
		Rating:    string(fields["rating"]),
		CreatedAt: string(fields["created_at"]),
		UpdatedAt: string(fields["updated_at"]),
		DeletedAt: string(fields["deleted_at"]),
	}
}
