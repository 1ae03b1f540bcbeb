package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/babylonsim/babylond/internal/domain"
)

// maxPostLen caps post bodies in runes.
const maxPostLen = 500

// postRateLimit bounds posts per author per minute.
const (
	postRateLimit  = 10
	postRateWindow = time.Minute
)

// FeedService handles the social feed: posts, replies, reposts, and likes.
type FeedService struct {
	posts   domain.PostStore
	users   domain.UserStore
	limiter domain.RateLimiter
	bus     domain.SignalBus
	logger  *slog.Logger
}

// NewFeedService creates a FeedService with all required dependencies.
func NewFeedService(
	posts domain.PostStore,
	users domain.UserStore,
	limiter domain.RateLimiter,
	bus domain.SignalBus,
	logger *slog.Logger,
) *FeedService {
	return &FeedService{
		posts:   posts,
		users:   users,
		limiter: limiter,
		bus:     bus,
		logger:  logger,
	}
}

// CreatePost publishes a new post, optionally attached to a market or as a
// reply/repost of an existing post.
func (s *FeedService) CreatePost(ctx context.Context, post domain.Post) (domain.Post, error) {
	post.Body = strings.TrimSpace(post.Body)
	if post.Body == "" && post.RepostOf == "" {
		return domain.Post{}, fmt.Errorf("feed_service: post body must not be empty: %w", domain.ErrInvalidTrade)
	}
	if utf8.RuneCountInString(post.Body) > maxPostLen {
		return domain.Post{}, fmt.Errorf("feed_service: post body exceeds %d characters: %w",
			maxPostLen, domain.ErrInvalidTrade)
	}
	if post.AuthorID == "" {
		return domain.Post{}, fmt.Errorf("feed_service: author id must not be empty: %w", domain.ErrInvalidTrade)
	}

	// Confirm the author exists before rate-limit accounting.
	if _, err := s.users.GetByID(ctx, post.AuthorID); err != nil {
		return domain.Post{}, fmt.Errorf("feed_service: load author %q: %w", post.AuthorID, err)
	}

	allowed, err := s.limiter.Allow(ctx, "post:"+post.AuthorID, postRateLimit, postRateWindow)
	if err != nil {
		return domain.Post{}, fmt.Errorf("feed_service: rate limit check: %w", err)
	}
	if !allowed {
		return domain.Post{}, domain.ErrRateLimited
	}

	post.ID = uuid.New().String()
	post.Likes = 0
	post.Replies = 0
	post.Reposts = 0
	post.CreatedAt = time.Now().UTC()

	if err := s.posts.Create(ctx, post); err != nil {
		return domain.Post{}, fmt.Errorf("feed_service: create post: %w", err)
	}

	evt, _ := json.Marshal(map[string]any{
		"event":     "post_created",
		"post_id":   post.ID,
		"author_id": post.AuthorID,
		"market_id": post.MarketID,
		"reply_to":  post.ReplyTo,
	})
	if err := s.bus.Publish(ctx, "feed", evt); err != nil {
		s.logger.WarnContext(ctx, "feed_service: publish event failed",
			slog.String("post_id", post.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "feed_service: post created",
		slog.String("post_id", post.ID),
		slog.String("author_id", post.AuthorID),
	)

	return post, nil
}

// GetPost retrieves a post by ID.
func (s *FeedService) GetPost(ctx context.Context, id string) (domain.Post, error) {
	p, err := s.posts.GetByID(ctx, id)
	if err != nil {
		return domain.Post{}, fmt.Errorf("feed_service: get post %q: %w", id, err)
	}
	return p, nil
}

// ListFeed returns the global feed, newest first.
func (s *FeedService) ListFeed(ctx context.Context, opts domain.ListOpts) ([]domain.Post, error) {
	posts, err := s.posts.ListFeed(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("feed_service: list feed: %w", err)
	}
	return posts, nil
}

// ListByAuthor returns one author's posts, newest first.
func (s *FeedService) ListByAuthor(ctx context.Context, authorID string, opts domain.ListOpts) ([]domain.Post, error) {
	posts, err := s.posts.ListByAuthor(ctx, authorID, opts)
	if err != nil {
		return nil, fmt.Errorf("feed_service: list by author %q: %w", authorID, err)
	}
	return posts, nil
}

// LikePost bumps a post's like counter.
func (s *FeedService) LikePost(ctx context.Context, id string) error {
	if err := s.posts.IncrementLikes(ctx, id); err != nil {
		return fmt.Errorf("feed_service: like post %q: %w", id, err)
	}
	return nil
}
