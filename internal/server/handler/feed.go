package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/babylonsim/babylond/internal/domain"
)

// FeedService defines the methods the feed handler requires from the service
// layer.
type FeedService interface {
	CreatePost(ctx context.Context, post domain.Post) (domain.Post, error)
	GetPost(ctx context.Context, id string) (domain.Post, error)
	ListFeed(ctx context.Context, opts domain.ListOpts) ([]domain.Post, error)
	ListByAuthor(ctx context.Context, authorID string, opts domain.ListOpts) ([]domain.Post, error)
	LikePost(ctx context.Context, id string) error
}

// FeedHandler serves the social feed endpoints.
type FeedHandler struct {
	feed   FeedService
	logger *slog.Logger
}

// NewFeedHandler creates a FeedHandler with the given service and logger.
func NewFeedHandler(feed FeedService, logger *slog.Logger) *FeedHandler {
	return &FeedHandler{
		feed:   feed,
		logger: logHandler(logger, "feed"),
	}
}

// createPostRequest is the body for publishing a post.
type createPostRequest struct {
	AuthorID string `json:"author_id"`
	Body     string `json:"body"`
	MarketID string `json:"market_id"`
	ReplyTo  string `json:"reply_to"`
	RepostOf string `json:"repost_of"`
}

// CreatePost publishes a post, reply, or repost.
// POST /api/posts
func (h *FeedHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	var req createPostRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	post, err := h.feed.CreatePost(r.Context(), domain.Post{
		AuthorID: req.AuthorID,
		Body:     req.Body,
		MarketID: req.MarketID,
		ReplyTo:  req.ReplyTo,
		RepostOf: req.RepostOf,
	})
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "create post failed",
			slog.String("author_id", req.AuthorID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create post")
		return
	}

	writeJSON(w, http.StatusCreated, post)
}

// GetPost returns a single post by ID.
// GET /api/posts/{id}
func (h *FeedHandler) GetPost(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing post id")
		return
	}

	post, err := h.feed.GetPost(r.Context(), id)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "get post failed",
			slog.String("post_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get post")
		return
	}

	writeJSON(w, http.StatusOK, post)
}

// ListFeed returns the global feed, newest first.
// GET /api/feed
func (h *FeedHandler) ListFeed(w http.ResponseWriter, r *http.Request) {
	posts, err := h.feed.ListFeed(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list feed failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list feed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"posts": posts})
}

// ListUserPosts returns one author's posts, newest first.
// GET /api/users/{id}/posts
func (h *FeedHandler) ListUserPosts(w http.ResponseWriter, r *http.Request) {
	authorID := pathParam(r, "id")
	if authorID == "" {
		writeError(w, http.StatusBadRequest, "missing user id")
		return
	}

	posts, err := h.feed.ListByAuthor(r.Context(), authorID, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list user posts failed",
			slog.String("user_id", authorID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list posts")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"posts": posts})
}

// LikePost bumps a post's like counter.
// POST /api/posts/{id}/like
func (h *FeedHandler) LikePost(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing post id")
		return
	}

	if err := h.feed.LikePost(r.Context(), id); err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "like post failed",
			slog.String("post_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to like post")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "liked"})
}
