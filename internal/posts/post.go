package posts

import (
	"time"
)

// Post is the durable representation of a post. Identity fields (ID, UUID)
// are assigned by the database at insert time and never change afterwards.
type Post struct {
	ID        int64      `json:"id" db:"id"`
	UUID      string     `json:"uuid" db:"uuid"`
	Title     string     `json:"title" db:"title"`
	Content   string     `json:"content" db:"content"`
	Published bool       `json:"published" db:"published"`
	Rating    float64    `json:"rating" db:"rating"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// CachedPost is the denormalized, string-serialized projection of a Post held
// in the cache store. Published is serialized as "TRUE"/"FALSE" and DeletedAt
// as the literal "NULL" when absent. CacheKey is the opaque handle assigned by
// the cache store; it is distinct from both ID and UUID.
type CachedPost struct {
	CacheKey  string `json:"cache_key"`
	ID        string `json:"id"`
	UUID      string `json:"uuid"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	Published string `json:"published"`
	Rating    string `json:"rating"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	DeletedAt string `json:"deleted_at"`
}

// IsPublished reports whether the serialized published flag is the TRUE literal.
func (c *CachedPost) IsPublished() bool {
	return c.Published == "TRUE"
}

// PostPatch is a typed partial update. Nil fields are left untouched when the
// patch is applied over an existing record.
type PostPatch struct {
	Title     *string  `json:"title,omitempty"`
	Content   *string  `json:"content,omitempty"`
	Published *bool    `json:"published,omitempty"`
	Rating    *float64 `json:"rating,omitempty"`
}

// IsEmpty reports whether the patch carries no fields at all.
func (p PostPatch) IsEmpty() bool {
	return p.Title == nil && p.Content == nil && p.Published == nil && p.Rating == nil
}

// Apply overlays the set fields of the patch onto post and refreshes
// UpdatedAt. Identity fields and CreatedAt are never touched.
func (p PostPatch) Apply(post *Post, now time.Time) {
	if p.Title != nil {
		post.Title = *p.Title
	}
	if p.Content != nil {
		post.Content = *p.Content
	}
	if p.Published != nil {
		post.Published = *p.Published
	}
	if p.Rating != nil {
		post.Rating = *p.Rating
	}
	post.UpdatedAt = now
}
