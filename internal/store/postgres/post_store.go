package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/babylonsim/babylond/internal/domain"
)

// PostStore implements domain.PostStore using PostgreSQL.
type PostStore struct {
	pool *pgxpool.Pool
}

// NewPostStore creates a new PostStore backed by the given connection pool.
func NewPostStore(pool *pgxpool.Pool) *PostStore {
	return &PostStore{pool: pool}
}

const postCols = `id, author_id, body, market_id, reply_to, repost_of,
	likes, replies, reposts, created_at`

func scanPost(row pgx.Row) (domain.Post, error) {
	var (
		p        domain.Post
		marketID *string
		replyTo  *string
		repostOf *string
	)
	err := row.Scan(
		&p.ID, &p.AuthorID, &p.Body,
		&marketID, &replyTo, &repostOf,
		&p.Likes, &p.Replies, &p.Reposts, &p.CreatedAt,
	)
	if err != nil {
		return domain.Post{}, err
	}
	if marketID != nil {
		p.MarketID = *marketID
	}
	if replyTo != nil {
		p.ReplyTo = *replyTo
	}
	if repostOf != nil {
		p.RepostOf = *repostOf
	}
	return p, nil
}

// nullable maps an empty string to a SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Create inserts a new post and bumps the parent's reply/repost counters.
func (s *PostStore) Create(ctx context.Context, p domain.Post) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin post tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO posts (id, author_id, body, market_id, reply_to,
		                    repost_of, likes, replies, reposts, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 0, 0, 0, $7)`,
		p.ID, p.AuthorID, p.Body,
		nullable(p.MarketID), nullable(p.ReplyTo), nullable(p.RepostOf),
		p.CreatedAt,
	); err != nil {
		return fmt.Errorf("postgres: insert post %s: %w", p.ID, err)
	}

	if p.ReplyTo != "" {
		if _, err := tx.Exec(ctx,
			`UPDATE posts SET replies = replies + 1 WHERE id = $1`, p.ReplyTo,
		); err != nil {
			return fmt.Errorf("postgres: bump replies on %s: %w", p.ReplyTo, err)
		}
	}
	if p.RepostOf != "" {
		if _, err := tx.Exec(ctx,
			`UPDATE posts SET reposts = reposts + 1 WHERE id = $1`, p.RepostOf,
		); err != nil {
			return fmt.Errorf("postgres: bump reposts on %s: %w", p.RepostOf, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit post tx: %w", err)
	}
	return nil
}

// GetByID retrieves a post by primary key.
func (s *PostStore) GetByID(ctx context.Context, id string) (domain.Post, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+postCols+` FROM posts WHERE id = $1`, id)
	p, err := scanPost(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Post{}, domain.ErrNotFound
		}
		return domain.Post{}, fmt.Errorf("postgres: get post %s: %w", id, err)
	}
	return p, nil
}

// ListFeed returns the global feed, newest first.
func (s *PostStore) ListFeed(ctx context.Context, opts domain.ListOpts) ([]domain.Post, error) {
	return s.list(ctx, "", "", opts)
}

// ListByAuthor returns one author's posts, newest first.
func (s *PostStore) ListByAuthor(ctx context.Context, authorID string, opts domain.ListOpts) ([]domain.Post, error) {
	return s.list(ctx, "author_id", authorID, opts)
}

func (s *PostStore) list(ctx context.Context, col, val string, opts domain.ListOpts) ([]domain.Post, error) {
	query := `SELECT ` + postCols + ` FROM posts`
	args := []any{}
	argIdx := 1

	if col != "" {
		query += fmt.Sprintf(" WHERE %s = $%d", col, argIdx)
		args = append(args, val)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list posts: %w", err)
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan post: %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list posts rows: %w", err)
	}
	return posts, nil
}

// IncrementLikes bumps a post's like counter.
func (s *PostStore) IncrementLikes(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE posts SET likes = likes + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: like post %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
