package importer

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"github.com/snackman/pizza-content-sub000/internal/domain"
)

// RawItem is one untyped item from a third-party API. Adapters keep their
// own concrete shapes behind this interface and convert them to a
// ContentDraft in Transform, so raw JSON never leaks into the core path.
type RawItem interface {
	// ItemID identifies the item in per-item error reports.
	ItemID() string
}

// Source is the adapter contract: a fetch function returning raw items and
// a transform mapping one raw item to a draft (nil draft means the adapter
// rejected the item). Transform may perform secondary network lookups and
// must be assumed fallible per item.
type Source interface {
	Platform() string
	Identifier() string
	DisplayName() string
	Fetch(ctx context.Context) ([]RawItem, error)
	Transform(ctx context.Context, item RawItem) (*domain.ContentDraft, error)
}

type ContentStore interface {
	Insert(ctx context.Context, rec *domain.ContentRecord) (int64, error)
}

type SourceStore interface {
	GetOrCreate(ctx context.Context, platform, identifier, displayName string) (*domain.ImportSource, error)
	TouchLastFetched(ctx context.Context, id int64, at time.Time) error
}

type ImportLogStore interface {
	Open(ctx context.Context, sourceID int64, startedAt time.Time) (int64, error)
	Finish(ctx context.Context, logID int64, log *domain.ImportLog) error
}

type Deduplicator interface {
	LoadCache(ctx context.Context) error
	Exists(ctx context.Context, rawURL string) (bool, error)
	AddToCache(rawURL string)
}

type Tagger interface {
	ExtractFromContent(d *domain.ContentDraft) []string
}

// Limiter wraps the fetch call. Sharing one instance across several
// importers of the same platform enforces one global budget.
type Limiter interface {
	Execute(ctx context.Context, fn func(ctx context.Context) error) error
}

type Publisher interface {
	Publish(ctx context.Context, rec *domain.ContentRecord) error
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
