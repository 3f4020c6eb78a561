// Package coherence implements the cache-aside protocol that keeps the
// durable post store and the post cache coherent across create, read, update
// and delete operations. The durable store is the correctness boundary: cache
// writes are best-effort on create and delete, mandatory on patch.
package coherence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/postwire/postwire-backend/internal/posts"
	"github.com/postwire/postwire-backend/internal/util"
)

// PostRepository is the durable store adapter contract.
type PostRepository interface {
	Insert(ctx context.Context, title, content string, rating float64, published bool) (*posts.Post, error)
	FindAll(ctx context.Context) ([]posts.Post, error)
	FindByUUID(ctx context.Context, uuid string) (*posts.Post, error)
	DeleteByUUID(ctx context.Context, uuid string) (int64, error)
	PatchByUUID(ctx context.Context, uuid string, merged posts.Post) (int64, error)
}

// PostCache is the cache store adapter contract.
type PostCache interface {
	Store(ctx context.Context, post posts.Post) (*posts.CachedPost, error)
	FindByCacheKey(ctx context.Context, cacheKey string) (*posts.CachedPost, error)
	FindByUUID(ctx context.Context, uuid string) (*posts.CachedPost, error)
	FindAll(ctx context.Context) ([]posts.CachedPost, int, error)
	DeleteByUUID(ctx context.Context, uuid string) error
	PatchByUUID(ctx context.Context, uuid string, merged posts.Post) (bool, error)
}

// Service owns the coherence invariant between Post and CachedPost. Neither
// adapter is aware of the other; there is no cross-store transaction, which is
// exactly why cache failures are tolerated on some paths and fatal on others.
type Service struct {
	repo   PostRepository
	cache  PostCache
	logger *zap.SugaredLogger
	now    func() time.Time

	// repopulating coalesces concurrent cache repopulations per uuid,
	// so a burst of misses for the same post stores at most one entry.
	repopulating util.Group
}

func NewService(repo PostRepository, cache PostCache, logger *zap.SugaredLogger) *Service {
	return &Service{
		repo:   repo,
		cache:  cache,
		logger: logger,
		now:    time.Now,
	}
}

// CreateInput carries the caller-supplied fields for a new post.
type CreateInput struct {
	Title     string
	Content   string
	Rating    float64
	Published bool
}

// CreateResult is the outcome of a successful create. CacheKey is empty when
// the best-effort cache population failed.
type CreateResult struct {
	Post     posts.Post
	CacheKey string
}

// GetResult is the outcome of a read. Found is false when the uuid is absent
// from the durable store; Message then carries the diagnostic payload.
type GetResult struct {
	Found     bool
	Post      posts.Post
	CacheKey  string
	FromCache bool
	Message   string
}

// ListResult is the outcome of an enumeration. Source reports which store
// served the records.
type ListResult struct {
	Posts  []posts.Post
	Count  int
	Source string
}

// DeleteResult reports how many durable rows were affected (0 or 1).
type DeleteResult struct {
	Affected int64
}

// Create inserts the post durably and then populates the cache. A durable
// failure aborts; a cache failure is logged and swallowed, because durability
// is the correctness boundary, not cache presence.
func (s *Service) Create(ctx context.Context, in CreateInput) (*CreateResult, error) {
	post, err := s.repo.Insert(ctx, in.Title, in.Content, in.Rating, in.Published)
	if err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}

	result := &CreateResult{Post: *post}

	cached, err := s.cache.Store(ctx, *post)
	if err != nil {
		s.logger.Warnw("Cache population failed after durable insert; continuing",
			"uuid", post.UUID,
			"error", err,
		)
		return result, nil
	}

	result.CacheKey = cached.CacheKey
	return result, nil
}

// Get resolves a post, preferring a caller-supplied cache key. A key that
// resolves to a different post's record fails with ErrCacheKeyMismatch rather
// than silently falling back; serving unrelated data under a false success is
// worse than an explicit error. A key that resolves to nothing is an ordinary
// miss and the durable store is consulted.
func (s *Service) Get(ctx context.Context, postUUID, cacheKey string) (*GetResult, error) {
	if cacheKey != "" {
		cached, err := s.cache.FindByCacheKey(ctx, cacheKey)
		switch {
		case err == nil:
			if cached.UUID != postUUID {
				s.logger.Warnw("Cache key resolved to a different post",
					"requested_uuid", postUUID,
					"cached_uuid", cached.UUID,
					"cache_key", cacheKey,
				)
				return nil, posts.ErrCacheKeyMismatch
			}
			post, perr := cached.ToPost()
			if perr != nil {
				return nil, &posts.CacheError{Op: "find_by_cache_key", Err: perr}
			}
			return &GetResult{
				Found:     true,
				Post:      post,
				CacheKey:  cached.CacheKey,
				FromCache: true,
			}, nil
		case errors.Is(err, posts.ErrNotFound):
			// Expired or evicted; treat as a full miss, not an error
		default:
			return nil, fmt.Errorf("get post by cache key: %w", err)
		}
	}

	post, err := s.repo.FindByUUID(ctx, postUUID)
	if err != nil {
		if errors.Is(err, posts.ErrNotFound) {
			return &GetResult{
				Found:   false,
				Message: fmt.Sprintf("No post with the uuid %s was found.", postUUID),
			}, nil
		}
		return nil, fmt.Errorf("get post: %w", err)
	}

	// Check the uuid index before re-caching so a wrong or expired cache key
	// does not create a duplicate entry under a second key for the same post.
	resolvedKey := s.repopulate(ctx, *post)

	return &GetResult{
		Found:    true,
		Post:     *post,
		CacheKey: resolvedKey,
	}, nil
}

// repopulate returns the cache key for the post's existing cache entry, or
// stores a new entry when none exists. Failures are logged and reported as an
// empty key; repopulation is best-effort.
func (s *Service) repopulate(ctx context.Context, post posts.Post) string {
	key, _, _ := s.repopulating.Do(post.UUID, func() (interface{}, error) {
		existing, err := s.cache.FindByUUID(ctx, post.UUID)
		if err == nil {
			return existing.CacheKey, nil
		}
		if !errors.Is(err, posts.ErrNotFound) {
			s.logger.Warnw("Cache uuid lookup failed during read fallback", "uuid", post.UUID, "error", err)
			return "", nil
		}

		stored, err := s.cache.Store(ctx, post)
		if err != nil {
			s.logger.Warnw("Cache repopulation failed during read fallback", "uuid", post.UUID, "error", err)
			return "", nil
		}
		return stored.CacheKey, nil
	})
	return key.(string)
}

// List enumerates posts. Any non-empty cache enumeration short-circuits the
// whole response to cache contents; only a fully empty cache falls back to the
// durable store, and the fallback does not repopulate the cache synchronously.
func (s *Service) List(ctx context.Context) (*ListResult, error) {
	cachedPosts, count, err := s.cache.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list posts from cache: %w", err)
	}

	if count == 0 {
		s.logger.Debugw("Cache empty; listing posts from the durable store")
		stored, err := s.repo.FindAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("list posts: %w", err)
		}
		return &ListResult{
			Posts:  stored,
			Count:  len(stored),
			Source: "database",
		}, nil
	}

	result := make([]posts.Post, 0, count)
	for i := range cachedPosts {
		post, err := cachedPosts[i].ToPost()
		if err != nil {
			return nil, &posts.CacheError{Op: "find_all", Err: err}
		}
		result = append(result, post)
	}

	return &ListResult{
		Posts:  result,
		Count:  len(result),
		Source: "cache",
	}, nil
}

// Patch merges the partial fields over the current durable record and applies
// the merged record to both stores. Unlike Create, a cache failure here is
// fatal: after a successful patch the two stores must agree, so a cache write
// that cannot be confirmed aborts the operation.
func (s *Service) Patch(ctx context.Context, postUUID string, patch posts.PostPatch) (*posts.Post, error) {
	current, err := s.repo.FindByUUID(ctx, postUUID)
	if err != nil {
		if errors.Is(err, posts.ErrNotFound) {
			return nil, posts.ErrNotFound
		}
		return nil, fmt.Errorf("patch post: %w", err)
	}

	merged := *current
	patch.Apply(&merged, s.now().UTC())

	affected, err := s.repo.PatchByUUID(ctx, postUUID, merged)
	if err != nil {
		return nil, fmt.Errorf("patch post: %w", err)
	}
	if affected != 1 {
		return nil, &posts.StorageError{
			Op:  "patch_by_uuid",
			Err: fmt.Errorf("expected exactly 1 row affected, got %d", affected),
		}
	}

	ok, err := s.cache.PatchByUUID(ctx, postUUID, merged)
	if err != nil {
		return nil, fmt.Errorf("patch post cache: %w", err)
	}
	if !ok {
		// The cache entry expired between the durable write and now; restore
		// coherence by storing a fresh entry, and fail the operation if even
		// that cannot be confirmed.
		if _, err := s.cache.Store(ctx, merged); err != nil {
			return nil, fmt.Errorf("patch post cache: %w", err)
		}
	}

	// Re-read the durable record as confirmation of final state
	updated, err := s.repo.FindByUUID(ctx, postUUID)
	if err != nil {
		return nil, fmt.Errorf("patch post confirmation read: %w", err)
	}

	return updated, nil
}

// Delete soft-deletes the durable record and removes the cache entry. The
// cache delete is best-effort and absence is not an error; the operation
// succeeds regardless of cache outcome. Deleting an absent uuid reports 0
// affected rows without failing.
func (s *Service) Delete(ctx context.Context, postUUID string) (*DeleteResult, error) {
	affected, err := s.repo.DeleteByUUID(ctx, postUUID)
	if err != nil {
		return nil, fmt.Errorf("delete post: %w", err)
	}

	if err := s.cache.DeleteByUUID(ctx, postUUID); err != nil {
		s.logger.Warnw("Cache delete failed after durable delete; continuing",
			"uuid", postUUID,
			"error", err,
		)
	}

	return &DeleteResult{Affected: affected}, nil
}
