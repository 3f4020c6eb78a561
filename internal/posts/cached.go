package posts

import (
	"fmt"
	"strconv"
	"time"
)

// NewCachedPost serializes a Post into its cache representation under the
// given opaque cache key.
func NewCachedPost(p Post, cacheKey string) *CachedPost {
	deletedAt := "NULL"
	if p.DeletedAt != nil {
		deletedAt = p.DeletedAt.UTC().Format(time.RFC3339Nano)
	}

	published := "FALSE"
	if p.Published {
		published = "TRUE"
	}

	return &CachedPost{
		CacheKey:  cacheKey,
		ID:        strconv.FormatInt(p.ID, 10),
		UUID:      p.UUID,
		Title:     p.Title,
		Content:   p.Content,
		Published: published,
		Rating:    strconv.FormatFloat(p.Rating, 'f', -1, 64),
		CreatedAt: p.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt: p.UpdatedAt.UTC().Format(time.RFC3339Nano),
		DeletedAt: deletedAt,
	}
}

// ToPost parses the string-serialized cache fields back into a typed Post.
// A malformed record yields an error rather than a zero-valued post.
func (c *CachedPost) ToPost() (Post, error) {
	id, err := strconv.ParseInt(c.ID, 10, 64)
	if err != nil {
		return Post{}, fmt.Errorf("parse cached id %q: %w", c.ID, err)
	}

	rating, err := strconv.ParseFloat(c.Rating, 64)
	if err != nil {
		return Post{}, fmt.Errorf("parse cached rating %q: %w", c.Rating, err)
	}

	createdAt, err := time.Parse(time.RFC3339Nano, c.CreatedAt)
	if err != nil {
		return Post{}, fmt.Errorf("parse cached created_at %q: %w", c.CreatedAt, err)
	}

	updatedAt, err := time.Parse(time.RFC3339Nano, c.UpdatedAt)
	if err != nil {
		return Post{}, fmt.Errorf("parse cached updated_at %q: %w", c.UpdatedAt, err)
	}

	var deletedAt *time.Time
	if c.DeletedAt != "" && c.DeletedAt != "NULL" {
		t, err := time.Parse(time.RFC3339Nano, c.DeletedAt)
		if err != nil {
			return Post{}, fmt.Errorf("parse cached deleted_at %q: %w", c.DeletedAt, err)
		}
		deletedAt = &t
	}

	return Post{
		ID:        id,
		UUID:      c.UUID,
		Title:     c.Title,
		Content:   c.Content,
		Published: c.IsPublished(),
		Rating:    rating,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
		DeletedAt: deletedAt,
	}, nil
}
