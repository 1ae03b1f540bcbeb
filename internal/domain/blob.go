package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver exports trade history of long-resolved markets to cold storage
// and deletes the archived rows.
type Archiver interface {
	ArchiveResolved(ctx context.Context, before time.Time) (int64, error)
}
