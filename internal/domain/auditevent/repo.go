package auditevent

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("audit entry not found")

// Repository is append-only. It exposes no update or delete.
type Repository interface {
	// Append seals e onto the end of the chain. On success e carries its
	// Seq, PrevDigest and Digest.
	Append(ctx context.Context, e *Entry) error
	GetByID(ctx context.Context, id string) (*Entry, error)
	GetBySeq(ctx context.Context, seq int64) (*Entry, error)
	// Range returns up to limit entries with Seq greater than afterSeq in
	// chain order.
	Range(ctx context.Context, afterSeq int64, limit int) ([]*Entry, error)
	Head(ctx context.Context) (ChainHead, error)
	// Search returns matching entries newest first and the total match count.
	Search(ctx context.Context, f Filter, limit, offset int) ([]*Entry, int, error)
}
