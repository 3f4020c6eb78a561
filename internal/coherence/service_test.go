package coherence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/postwire/postwire-backend/internal/posts"
	"github.com/postwire/postwire-backend/internal/store"
	memkv "github.com/postwire/postwire-backend/pkg/kv/memory"
)

// fakeRepo is an in-memory durable store with injectable failures.
type fakeRepo struct {
	mu   sync.Mutex
	seq  int64
	rows map[string]*posts.Post

	insertErr        error
	findErr          error
	patchErr         error
	deleteErr        error
	patchAffectedSet bool
	patchAffected    int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: make(map[string]*posts.Post)}
}

func (r *fakeRepo) Insert(ctx context.Context, title, content string, rating float64, published bool) (*posts.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.insertErr != nil {
		return nil, r.insertErr
	}

	r.seq++
	now := time.Now().UTC().Truncate(time.Microsecond)
	post := &posts.Post{
		ID:        r.seq,
		UUID:      uuid.NewString(),
		Title:     title,
		Content:   content,
		Published: published,
		Rating:    rating,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.rows[post.UUID] = post

	clone := *post
	return &clone, nil
}

func (r *fakeRepo) FindAll(ctx context.Context) ([]posts.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.findErr != nil {
		return nil, r.findErr
	}

	var result []posts.Post
	for _, post := range r.rows {
		if post.DeletedAt == nil {
			result = append(result, *post)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r *fakeRepo) FindByUUID(ctx context.Context, postUUID string) (*posts.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.findErr != nil {
		return nil, r.findErr
	}

	post, ok := r.rows[postUUID]
	if !ok || post.DeletedAt != nil {
		return nil, posts.ErrNotFound
	}
	clone := *post
	return &clone, nil
}

func (r *fakeRepo) DeleteByUUID(ctx context.Context, postUUID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deleteErr != nil {
		return 0, r.deleteErr
	}

	post, ok := r.rows[postUUID]
	if !ok || post.DeletedAt != nil {
		return 0, nil
	}
	now := time.Now().UTC()
	post.DeletedAt = &now
	post.UpdatedAt = now
	return 1, nil
}

func (r *fakeRepo) PatchByUUID(ctx context.Context, postUUID string, merged posts.Post) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.patchErr != nil {
		return 0, r.patchErr
	}
	if r.patchAffectedSet {
		return r.patchAffected, nil
	}

	post, ok := r.rows[postUUID]
	if !ok || post.DeletedAt != nil {
		return 0, nil
	}
	post.Title = merged.Title
	post.Content = merged.Content
	post.Published = merged.Published
	post.Rating = merged.Rating
	post.UpdatedAt = merged.UpdatedAt
	return 1, nil
}

// flakyCache decorates a real cache adapter with injectable failures so tests
// can exercise the best-effort versus fatal policies.
type flakyCache struct {
	PostCache
	failStore   bool
	failPatch   bool
	failDelete  bool
	failFindAll bool
}

func (c *flakyCache) Store(ctx context.Context, post posts.Post) (*posts.CachedPost, error) {
	if c.failStore {
		return nil, &posts.CacheError{Op: "store", Err: fmt.Errorf("connection refused")}
	}
	return c.PostCache.Store(ctx, post)
}

func (c *flakyCache) PatchByUUID(ctx context.Context, postUUID string, merged posts.Post) (bool, error) {
	if c.failPatch {
		return false, &posts.CacheError{Op: "patch_by_uuid", Err: fmt.Errorf("connection refused")}
	}
	return c.PostCache.PatchByUUID(ctx, postUUID, merged)
}

func (c *flakyCache) DeleteByUUID(ctx context.Context, postUUID string) error {
	if c.failDelete {
		return &posts.CacheError{Op: "delete_by_uuid", Err: fmt.Errorf("connection refused")}
	}
	return c.PostCache.DeleteByUUID(ctx, postUUID)
}

func (c *flakyCache) FindAll(ctx context.Context) ([]posts.CachedPost, int, error) {
	if c.failFindAll {
		return nil, 0, &posts.CacheError{Op: "find_all", Err: fmt.Errorf("connection refused")}
	}
	return c.PostCache.FindAll(ctx)
}

func newTestService(t *testing.T) (*Service, *fakeRepo, *flakyCache) {
	t.Helper()

	backend := memkv.NewStore()
	t.Cleanup(func() { backend.Close() })

	cache := &flakyCache{
		PostCache: store.NewPostsCacheWithStore(backend, time.Minute, zap.NewNop().Sugar(), nil),
	}
	repo := newFakeRepo()

	return NewService(repo, cache, zap.NewNop().Sugar()), repo, cache
}

func TestCreateThenRead(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{Title: "A", Content: "B", Rating: 4.5, Published: true})
	require.NoError(t, err)
	require.NotEmpty(t, created.CacheKey)
	require.NotEmpty(t, created.Post.UUID)

	// Read without a cache key: served through the uuid index
	got, err := svc.Get(ctx, created.Post.UUID, "")
	require.NoError(t, err)
	require.True(t, got.Found)
	assert.Equal(t, created.Post.Title, got.Post.Title)
	assert.Equal(t, created.Post.Content, got.Post.Content)
	assert.Equal(t, created.Post.Rating, got.Post.Rating)
	assert.Equal(t, created.Post.Published, got.Post.Published)
	assert.Equal(t, created.CacheKey, got.CacheKey)

	// Read with the returned cache key: served from the cache directly
	fromCache, err := svc.Get(ctx, created.Post.UUID, created.CacheKey)
	require.NoError(t, err)
	require.True(t, fromCache.Found)
	assert.True(t, fromCache.FromCache)
	assert.Equal(t, created.Post.Title, fromCache.Post.Title)
	assert.Equal(t, created.Post.Rating, fromCache.Post.Rating)
	assert.Equal(t, created.Post.UUID, fromCache.Post.UUID)
}

func TestCacheKeyMismatch(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, CreateInput{Title: "first", Published: true})
	require.NoError(t, err)
	second, err := svc.Create(ctx, CreateInput{Title: "second", Published: true})
	require.NoError(t, err)

	// Asking for the first post with the second post's cache key must fail
	// loudly, never silently fall back to the uuid path.
	_, err = svc.Get(ctx, first.Post.UUID, second.CacheKey)
	assert.ErrorIs(t, err, posts.ErrCacheKeyMismatch)

	// The correct pairing still works
	got, err := svc.Get(ctx, second.Post.UUID, second.CacheKey)
	require.NoError(t, err)
	assert.True(t, got.FromCache)
}

func TestCreateBestEffortCache(t *testing.T) {
	svc, _, cache := newTestService(t)
	ctx := context.Background()

	cache.failStore = true
	created, err := svc.Create(ctx, CreateInput{Title: "durable only", Published: true})
	require.NoError(t, err)
	assert.Empty(t, created.CacheKey)

	// The durable record is still retrievable while the cache is down
	got, err := svc.Get(ctx, created.Post.UUID, "")
	require.NoError(t, err)
	require.True(t, got.Found)
	assert.Equal(t, "durable only", got.Post.Title)
	assert.Empty(t, got.CacheKey)

	// Once the cache recovers, the next read repopulates it
	cache.failStore = false
	got, err = svc.Get(ctx, created.Post.UUID, "")
	require.NoError(t, err)
	require.True(t, got.Found)
	assert.NotEmpty(t, got.CacheKey)

	cached, err := cache.FindByUUID(ctx, created.Post.UUID)
	require.NoError(t, err)
	assert.Equal(t, got.CacheKey, cached.CacheKey)
}

func TestReadDoesNotDuplicateCacheEntries(t *testing.T) {
	svc, _, cache := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{Title: "once", Published: true})
	require.NoError(t, err)

	// Repeated uuid reads must reuse the existing entry, not mint new keys
	for i := 0; i < 3; i++ {
		got, err := svc.Get(ctx, created.Post.UUID, "")
		require.NoError(t, err)
		assert.Equal(t, created.CacheKey, got.CacheKey)
	}

	_, count, err := cache.FindAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestConcurrentMissesRepopulateOnce(t *testing.T) {
	svc, _, cache := newTestService(t)
	ctx := context.Background()

	cache.failStore = true
	created, err := svc.Create(ctx, CreateInput{Title: "cold", Published: true})
	require.NoError(t, err)
	cache.failStore = false

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := svc.Get(ctx, created.Post.UUID, "")
			assert.NoError(t, err)
			assert.True(t, got.Found)
		}()
	}
	wg.Wait()

	_, count, err := cache.FindAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestGetNotFound(t *testing.T) {
	svc, _, _ := newTestService(t)

	got, err := svc.Get(context.Background(), uuid.NewString(), "")
	require.NoError(t, err)
	assert.False(t, got.Found)
	assert.Contains(t, got.Message, "was found")
}

func TestPatchUpdatesBothStores(t *testing.T) {
	svc, repo, cache := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{Title: "before", Content: "body", Rating: 1, Published: true})
	require.NoError(t, err)

	title := "after"
	rating := 3.5
	updated, err := svc.Patch(ctx, created.Post.UUID, posts.PostPatch{Title: &title, Rating: &rating})
	require.NoError(t, err)
	assert.Equal(t, "after", updated.Title)
	assert.Equal(t, 3.5, updated.Rating)
	assert.Equal(t, "body", updated.Content)
	assert.True(t, updated.UpdatedAt.After(created.Post.UpdatedAt))

	// Durable store reflects the patch
	durable, err := repo.FindByUUID(ctx, created.Post.UUID)
	require.NoError(t, err)
	assert.Equal(t, "after", durable.Title)
	assert.Equal(t, 3.5, durable.Rating)

	// Cache reflects the same values under the original cache key
	cached, err := cache.FindByUUID(ctx, created.Post.UUID)
	require.NoError(t, err)
	assert.Equal(t, created.CacheKey, cached.CacheKey)
	assert.Equal(t, "after", cached.Title)
	assert.Equal(t, "3.5", cached.Rating)
}

func TestPatchFailsWhenCachePatchFails(t *testing.T) {
	svc, _, cache := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{Title: "before", Published: true})
	require.NoError(t, err)

	cache.failPatch = true
	cache.failStore = true

	title := "after"
	_, err = svc.Patch(ctx, created.Post.UUID, posts.PostPatch{Title: &title})
	require.Error(t, err)
	assert.True(t, posts.IsCacheError(err))
}

func TestPatchRestoresExpiredCacheEntry(t *testing.T) {
	svc, _, cache := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{Title: "before", Published: true})
	require.NoError(t, err)

	// Simulate autonomous expiry between the durable write and the cache patch
	require.NoError(t, cache.DeleteByUUID(ctx, created.Post.UUID))

	title := "after"
	updated, err := svc.Patch(ctx, created.Post.UUID, posts.PostPatch{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "after", updated.Title)

	cached, err := cache.FindByUUID(ctx, created.Post.UUID)
	require.NoError(t, err)
	assert.Equal(t, "after", cached.Title)
}

func TestPatchNotFound(t *testing.T) {
	svc, _, _ := newTestService(t)

	title := "whatever"
	_, err := svc.Patch(context.Background(), uuid.NewString(), posts.PostPatch{Title: &title})
	assert.ErrorIs(t, err, posts.ErrNotFound)
}

func TestPatchRowsAffectedMismatch(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{Title: "before", Published: true})
	require.NoError(t, err)

	repo.patchAffectedSet = true
	repo.patchAffected = 0

	title := "after"
	_, err = svc.Patch(ctx, created.Post.UUID, posts.PostPatch{Title: &title})
	require.Error(t, err)
	assert.True(t, posts.IsStorageError(err))
}

func TestListFallbackThreshold(t *testing.T) {
	svc, repo, cache := newTestService(t)
	ctx := context.Background()

	// Seed the durable store directly so nothing lands in the cache
	_, err := repo.Insert(ctx, "one", "", 0, true)
	require.NoError(t, err)
	_, err = repo.Insert(ctx, "two", "", 0, true)
	require.NoError(t, err)

	listed, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, "database", listed.Source)
	assert.Equal(t, 2, listed.Count)

	// A single cached entry short-circuits the whole response to the cache,
	// even though the durable store holds more records.
	third, err := svc.Create(ctx, CreateInput{Title: "three", Published: true})
	require.NoError(t, err)

	listed, err = svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, "cache", listed.Source)
	require.Equal(t, 1, listed.Count)
	assert.Equal(t, third.Post.UUID, listed.Posts[0].UUID)

	// Cache wiped again: back to the full durable enumeration
	require.NoError(t, cache.DeleteByUUID(ctx, third.Post.UUID))

	listed, err = svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, "database", listed.Source)
	assert.Equal(t, 3, listed.Count)
}

func TestDeleteIdempotence(t *testing.T) {
	svc, _, cache := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{Title: "doomed", Published: true})
	require.NoError(t, err)

	res, err := svc.Delete(ctx, created.Post.UUID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Affected)

	// Second delete: 0 affected, no error, cache absence tolerated
	res, err = svc.Delete(ctx, created.Post.UUID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Affected)

	// The record is gone from both stores
	got, err := svc.Get(ctx, created.Post.UUID, "")
	require.NoError(t, err)
	assert.False(t, got.Found)
	_, err = cache.FindByUUID(ctx, created.Post.UUID)
	assert.ErrorIs(t, err, posts.ErrNotFound)
}

func TestDeleteSucceedsWhenCacheIsDown(t *testing.T) {
	svc, _, cache := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{Title: "doomed", Published: true})
	require.NoError(t, err)

	cache.failDelete = true
	res, err := svc.Delete(ctx, created.Post.UUID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Affected)
}

// Concurrent patches carry no optimistic-concurrency token, so the last writer
// wins independently per store. This test documents that each store ends up
// with one writer's complete value set rather than a torn mix of fields.
func TestConcurrentPatchLastWriterWins(t *testing.T) {
	svc, repo, cache := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{Title: "start", Content: "start", Published: true})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, value := range []string{"writer-a", "writer-b"} {
		wg.Add(1)
		go func(v string) {
			defer wg.Done()
			_, _ = svc.Patch(ctx, created.Post.UUID, posts.PostPatch{Title: &v, Content: &v})
		}(value)
	}
	wg.Wait()

	durable, err := repo.FindByUUID(ctx, created.Post.UUID)
	require.NoError(t, err)
	assert.Contains(t, []string{"writer-a", "writer-b"}, durable.Title)
	assert.Equal(t, durable.Title, durable.Content)

	cached, err := cache.FindByUUID(ctx, created.Post.UUID)
	require.NoError(t, err)
	assert.Contains(t, []string{"writer-a", "writer-b"}, cached.Title)
	assert.Equal(t, cached.Title, cached.Content)
}
