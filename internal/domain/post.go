package domain

import "time"

// Post is a feed entry. Posts may reference a market (trade commentary),
// reply to another post, or repost one.
type Post struct {
	ID        string
	AuthorID  string
	Body      string
	MarketID  string // optional market reference
	ReplyTo   string // optional parent post ID
	RepostOf  string // optional reposted post ID
	Likes     int64
	Replies   int64
	Reposts   int64
	CreatedAt time.Time
}
