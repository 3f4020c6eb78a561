package api

import (
	"time"

	"github.com/postwire/postwire-backend/internal/posts"
)

// AppResponse is the envelope every JSON endpoint answers with.
type AppResponse struct {
	Status  bool           `json:"status"`
	Message string         `json:"message,omitempty"`
	Data    any            `json:"data,omitempty"`
	Errors  map[string]any `json:"errors,omitempty"`
	Meta    *ResponseMeta  `json:"meta,omitempty"`
}

type ResponseMeta struct {
	Started   *MetaStarted   `json:"started,omitempty"`
	Completed *MetaCompleted `json:"completed,omitempty"`
	Model     *MetaModel     `json:"model,omitempty"`
}

type MetaStarted struct {
	At   string `json:"at"`
	With string `json:"with"`
}

type MetaCompleted struct {
	At string `json:"at"`
}

// MetaModel carries service-layer metadata about the resolved records.
type MetaModel struct {
	CacheKey   string `json:"cache_key,omitempty"`
	Source     string `json:"source,omitempty"`
	TotalPosts *int   `json:"total_posts,omitempty"`
}

type CreatePostRequest struct {
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	Published *bool    `json:"published,omitempty"`
	Rating    *float64 `json:"rating,omitempty"`
}

type PatchPostRequest struct {
	Title     *string  `json:"title,omitempty"`
	Content   *string  `json:"content,omitempty"`
	Published *bool    `json:"published,omitempty"`
	Rating    *float64 `json:"rating,omitempty"`
}

type PostResponse struct {
	ID        int64   `json:"id"`
	UUID      string  `json:"uuid"`
	Title     string  `json:"title"`
	Content   string  `json:"content"`
	Published bool    `json:"published"`
	Rating    float64 `json:"rating"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

func newPostResponse(p posts.Post) PostResponse {
	return PostResponse{
		ID:        p.ID,
		UUID:      p.UUID,
		Title:     p.Title,
		Content:   p.Content,
		Published: p.Published,
		Rating:    p.Rating,
		CreatedAt: p.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt: p.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func newPostResponseList(records []posts.Post) []PostResponse {
	out := make([]PostResponse, 0, len(records))
	for _, p := range records {
		out = append(out, newPostResponse(p))
	}
	return out
}
