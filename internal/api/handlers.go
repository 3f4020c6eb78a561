package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/postwire/postwire-backend/internal/coherence"
	"github.com/postwire/postwire-backend/internal/posts"
)

// PostService is the coherence-service surface the handlers depend on.
type PostService interface {
	Create(ctx context.Context, in coherence.CreateInput) (*coherence.CreateResult, error)
	Get(ctx context.Context, postUUID, cacheKey string) (*coherence.GetResult, error)
	List(ctx context.Context) (*coherence.ListResult, error)
	Patch(ctx context.Context, postUUID string, patch posts.PostPatch) (*posts.Post, error)
	Delete(ctx context.Context, postUUID string) (*coherence.DeleteResult, error)
}

// Pinger is implemented by the durable and cache adapters for readiness checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	svc     PostService
	durable Pinger
	cache   Pinger
	logger  *zap.SugaredLogger
}

func NewHandler(svc PostService, durable, cache Pinger, logger *zap.SugaredLogger) *Handler {
	return &Handler{
		svc:     svc,
		durable: durable,
		cache:   cache,
		logger:  logger,
	}
}

// Post endpoints

func (h *Handler) CreatePost(w http.ResponseWriter, r *http.Request) {
	started := newMetaStarted(r)

	var req CreatePostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", map[string]any{"body": err.Error()})
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		h.writeError(w, http.StatusBadRequest, "title must not be empty", map[string]any{"title": "required"})
		return
	}

	in := coherence.CreateInput{
		Title:     req.Title,
		Content:   req.Content,
		Published: true,
	}
	if req.Published != nil {
		in.Published = *req.Published
	}
	if req.Rating != nil {
		in.Rating = *req.Rating
	}

	result, err := h.svc.Create(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, AppResponse{
		Status:  true,
		Message: "The post was created successfully.",
		Data:    newPostResponse(result.Post),
		Meta: &ResponseMeta{
			Started:   started,
			Completed: newMetaCompleted(),
			Model:     &MetaModel{CacheKey: result.CacheKey},
		},
	})
}

func (h *Handler) GetPost(w http.ResponseWriter, r *http.Request) {
	started := newMetaStarted(r)

	postUUID := chi.URLParam(r, "uuid")
	if _, err := uuid.Parse(postUUID); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid uuid", map[string]any{"uuid": postUUID})
		return
	}
	cacheKey := r.URL.Query().Get("ckey")

	result, err := h.svc.Get(r.Context(), postUUID, cacheKey)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if !result.Found {
		h.writeJSON(w, http.StatusBadRequest, AppResponse{
			Status:  false,
			Message: result.Message,
			Meta:    &ResponseMeta{Started: started, Completed: newMetaCompleted()},
		})
		return
	}

	source := "database"
	if result.FromCache {
		source = "cache"
	}

	h.writeJSON(w, http.StatusOK, AppResponse{
		Status: true,
		Data:   newPostResponse(result.Post),
		Meta: &ResponseMeta{
			Started:   started,
			Completed: newMetaCompleted(),
			Model:     &MetaModel{CacheKey: result.CacheKey, Source: source},
		},
	})
}

func (h *Handler) ListPosts(w http.ResponseWriter, r *http.Request) {
	started := newMetaStarted(r)

	result, err := h.svc.List(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	total := result.Count
	h.writeJSON(w, http.StatusOK, AppResponse{
		Status: true,
		Data:   newPostResponseList(result.Posts),
		Meta: &ResponseMeta{
			Started:   started,
			Completed: newMetaCompleted(),
			Model:     &MetaModel{Source: result.Source, TotalPosts: &total},
		},
	})
}

func (h *Handler) PatchPost(w http.ResponseWriter, r *http.Request) {
	started := newMetaStarted(r)

	postUUID := chi.URLParam(r, "uuid")
	if _, err := uuid.Parse(postUUID); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid uuid", map[string]any{"uuid": postUUID})
		return
	}

	var req PatchPostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", map[string]any{"body": err.Error()})
		return
	}
	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		h.writeError(w, http.StatusBadRequest, "title must not be empty", map[string]any{"title": "required"})
		return
	}

	patch := posts.PostPatch{
		Title:     req.Title,
		Content:   req.Content,
		Published: req.Published,
		Rating:    req.Rating,
	}
	if patch.IsEmpty() {
		h.writeError(w, http.StatusBadRequest, "patch must set at least one field", nil)
		return
	}

	updated, err := h.svc.Patch(r.Context(), postUUID, patch)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, AppResponse{
		Status:  true,
		Message: "The post was updated successfully.",
		Data:    newPostResponse(*updated),
		Meta:    &ResponseMeta{Started: started, Completed: newMetaCompleted()},
	})
}

func (h *Handler) DeletePost(w http.ResponseWriter, r *http.Request) {
	postUUID := chi.URLParam(r, "uuid")
	if _, err := uuid.Parse(postUUID); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid uuid", map[string]any{"uuid": postUUID})
		return
	}

	if _, err := h.svc.Delete(r.Context(), postUUID); err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Health and ops endpoints

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.durable.Ping(ctx); err != nil {
		h.logger.Errorw("Readiness check failed", "component", "database", "error", err)
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	if err := h.cache.Ping(ctx); err != nil {
		h.logger.Errorw("Readiness check failed", "component", "cache", "error", err)
		http.Error(w, "cache unavailable", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("READY"))
}

// Utility methods

func (h *Handler) writeJSON(w http.ResponseWriter, status int, resp AppResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string, errs map[string]any) {
	h.logger.Errorw("API error", "message", message, "status", status)

	h.writeJSON(w, status, AppResponse{
		Status:  false,
		Message: message,
		Errors:  errs,
		Meta:    &ResponseMeta{Completed: newMetaCompleted()},
	})
}

// writeServiceError maps service-layer error kinds onto HTTP status codes.
// Client-caused failures surface as 400, infrastructure failures as 500.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, posts.ErrCacheKeyMismatch):
		h.writeError(w, http.StatusBadRequest, "The supplied cache key belongs to a different post.",
			map[string]any{"ckey": "mismatch"})
	case errors.Is(err, posts.ErrNotFound):
		h.writeError(w, http.StatusBadRequest, "The requested post was not found.", nil)
	case posts.IsStorageError(err):
		h.writeError(w, http.StatusInternalServerError, "The durable store rejected the operation.", nil)
	case posts.IsCacheError(err):
		h.writeError(w, http.StatusInternalServerError, "The cache store rejected the operation.", nil)
	default:
		h.writeError(w, http.StatusInternalServerError, "Internal server error.", nil)
	}
}

func newMetaStarted(r *http.Request) *MetaStarted {
	return &MetaStarted{
		At:   time.Now().UTC().Format(time.RFC3339Nano),
		With: r.Method + " " + r.URL.Path,
	}
}

func newMetaCompleted() *MetaCompleted {
	return &MetaCompleted{At: time.Now().UTC().Format(time.RFC3339Nano)}
}
