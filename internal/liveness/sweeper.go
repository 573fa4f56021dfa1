package liveness

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/snackman/pizza-content-sub000/internal/domain"
)

// RecordStore is the slice of the content store the sweeper needs.
type RecordStore interface {
	ListRecentRecords(ctx context.Context, limit int) ([]domain.ContentRecord, error)
	MarkDead(ctx context.Context, id int64, reason string) error
}

// Sweeper runs the liveness pass over already-imported records. It is a
// separate, later pass, never part of the import loop itself.
type Sweeper struct {
	checker     *Checker
	store       RecordStore
	batchSize   int
	concurrency int
	logger      *slog.Logger
}

// SweepStats summarizes one sweep.
type SweepStats struct {
	Checked int
	Dead    int
}

func NewSweeper(checker *Checker, store RecordStore, batchSize, concurrency int, logger *slog.Logger) *Sweeper {
	if batchSize <= 0 {
		batchSize = 100
	}
	if concurrency <= 0 {
		concurrency = 5
	}
	return &Sweeper{
		checker:     checker,
		store:       store,
		batchSize:   batchSize,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Run probes the most recently imported records and flags dead ones.
func (s *Sweeper) Run(ctx context.Context) (*SweepStats, error) {
	records, err := s.store.ListRecentRecords(ctx, s.batchSize)
	if err != nil {
		return nil, fmt.Errorf("list records for liveness sweep: %w", err)
	}

	byURL := make(map[string]domain.ContentRecord, len(records))
	urls := make([]string, 0, len(records))
	for _, rec := range records {
		if _, dup := byURL[rec.URL]; dup {
			continue
		}
		byURL[rec.URL] = rec
		urls = append(urls, rec.URL)
	}

	stats := &SweepStats{}
	for br := range s.checker.CheckBatch(ctx, urls, s.concurrency) {
		stats.Checked++
		if br.Result.OK {
			continue
		}

		rec := byURL[br.URL]
		s.logger.Info("content url dead",
			"id", rec.ID,
			"url", br.URL,
			"status", br.Result.Status,
			"reason", br.Result.Reason,
		)
		if err := s.store.MarkDead(ctx, rec.ID, br.Result.Reason); err != nil {
			s.logger.Error("failed to mark record dead", "id", rec.ID, "error", err)
			continue
		}
		stats.Dead++
	}

	if err := ctx.Err(); err != nil {
		return stats, err
	}

	s.logger.Info("liveness sweep completed", "checked", stats.Checked, "dead", stats.Dead)
	return stats, nil
}
