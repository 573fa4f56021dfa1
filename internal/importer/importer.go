package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/snackman/pizza-content-sub000/internal/domain"
	"github.com/snackman/pizza-content-sub000/internal/storage"
)

// runState tracks the lifecycle of one import run.
type runState int

const (
	stateUninitialized runState = iota
	stateInitializing
	stateFetching
	stateProcessing
	stateFinalized
)

// Options are the per-run toggles of the importer.
type Options struct {
	// DryRun logs intended actions and counts them as imported without
	// touching the store.
	DryRun bool
	// Verbose traces every skip decision at debug level.
	Verbose bool
}

// Importer drives one import run against one source: ensure the source row
// exists, open a run log, fetch raw items through the rate limiter, and for
// each item transform, dedup, tag, normalize and persist. An Importer is
// single-use; construct a fresh one per run.
type Importer struct {
	source    Source
	content   ContentStore
	sources   SourceStore
	logs      ImportLogStore
	dedup     Deduplicator
	tagger    Tagger
	limiter   Limiter
	publisher Publisher
	txManager TransactionManager
	logger    *slog.Logger
	opts      Options

	state     runState
	sourceRow *domain.ImportSource
	logID     int64
	startedAt time.Time
	// degraded means the bookkeeping tables are absent (pre-migration
	// store); source/log writes are skipped but content import proceeds.
	degraded bool
}

func New(
	source Source,
	content ContentStore,
	sources SourceStore,
	logs ImportLogStore,
	dedup Deduplicator,
	tagger Tagger,
	limiter Limiter,
	publisher Publisher,
	txManager TransactionManager,
	logger *slog.Logger,
	opts Options,
) *Importer {
	return &Importer{
		source:    source,
		content:   content,
		sources:   sources,
		logs:      logs,
		dedup:     dedup,
		tagger:    tagger,
		limiter:   limiter,
		publisher: publisher,
		txManager: txManager,
		logger: logger.With(
			"platform", source.Platform(),
			"source", source.Identifier(),
		),
		opts: opts,
	}
}

// initialize idempotently ensures the ImportSource row exists, opens the run
// log, and warms the dedup cache. Missing bookkeeping tables degrade the run
// instead of failing it.
func (imp *Importer) initialize(ctx context.Context) error {
	if imp.state != stateUninitialized {
		return nil
	}
	imp.state = stateInitializing
	imp.startedAt = time.Now()

	src, err := imp.sources.GetOrCreate(ctx,
		imp.source.Platform(), imp.source.Identifier(), imp.source.DisplayName())
	switch {
	case errors.Is(err, storage.ErrMissingTable):
		imp.logger.Warn("import_sources table missing, bookkeeping disabled for this run", "error", err)
		imp.degraded = true
	case err != nil:
		return fmt.Errorf("ensure import source: %w", err)
	default:
		imp.sourceRow = src
	}

	if !imp.degraded {
		logID, err := imp.logs.Open(ctx, imp.sourceRow.ID, imp.startedAt)
		switch {
		case errors.Is(err, storage.ErrMissingTable):
			imp.logger.Warn("import_logs table missing, bookkeeping disabled for this run", "error", err)
			imp.degraded = true
		case err != nil:
			return fmt.Errorf("open import log: %w", err)
		default:
			imp.logID = logID
		}
	}

	if err := imp.dedup.LoadCache(ctx); err != nil {
		if !errors.Is(err, storage.ErrMissingTable) {
			return err
		}
		imp.logger.Warn("content table missing, dedup cache starts empty", "error", err)
	}

	return nil
}

// Run executes the import. The returned stats are non-nil even on fatal
// failure, so callers always get the run's counts alongside the error.
func (imp *Importer) Run(ctx context.Context) (*domain.ImportStats, error) {
	stats := &domain.ImportStats{
		Platform:         imp.source.Platform(),
		SourceIdentifier: imp.source.Identifier(),
	}

	if err := imp.initialize(ctx); err != nil {
		imp.finalize(ctx, domain.ImportStatusFailed, err.Error(), stats)
		return stats, fmt.Errorf("initialize import: %w", err)
	}

	imp.state = stateFetching
	var items []RawItem
	err := imp.limiter.Execute(ctx, func(ctx context.Context) error {
		var ferr error
		items, ferr = imp.source.Fetch(ctx)
		return ferr
	})
	if err != nil {
		imp.finalize(ctx, domain.ImportStatusFailed, err.Error(), stats)
		return stats, fmt.Errorf("fetch items: %w", err)
	}

	stats.Found = len(items)
	imp.state = stateProcessing
	imp.logger.Info("fetched items", "count", stats.Found)

	// Items are processed sequentially: source ordering is preserved and
	// each item's failure is isolated from the rest of the run.
	for _, item := range items {
		if err := imp.processItem(ctx, item, stats); err != nil {
			stats.Errors = append(stats.Errors, domain.ItemError{
				ItemID:  item.ItemID(),
				Message: err.Error(),
			})
			imp.logger.Error("item failed", "item", item.ItemID(), "error", err)
		}
	}

	imp.finalize(ctx, domain.ImportStatusCompleted, "", stats)
	stats.Duration = time.Since(imp.startedAt)

	imp.logger.Info("import run completed",
		"found", stats.Found,
		"imported", stats.Imported,
		"skipped", stats.Skipped,
		"errors", len(stats.Errors),
		"duration", stats.Duration,
		"dry_run", imp.opts.DryRun,
	)

	return stats, nil
}

func (imp *Importer) processItem(ctx context.Context, item RawItem, stats *domain.ImportStats) error {
	draft, err := imp.source.Transform(ctx, item)
	if err != nil {
		return fmt.Errorf("transform: %w", err)
	}
	if draft == nil {
		stats.Skipped++
		if imp.opts.Verbose {
			imp.logger.Debug("item rejected by adapter", "item", item.ItemID())
		}
		return nil
	}

	if draft.SourceURL != "" {
		exists, err := imp.dedup.Exists(ctx, draft.SourceURL)
		if err != nil {
			return fmt.Errorf("dedup lookup: %w", err)
		}
		if exists {
			stats.Skipped++
			if imp.opts.Verbose {
				imp.logger.Debug("duplicate source url", "item", item.ItemID(), "url", draft.SourceURL)
			}
			return nil
		}
	}

	if len(draft.Tags) == 0 {
		draft.Tags = imp.tagger.ExtractFromContent(draft)
	}

	rec := domain.RecordFromDraft(draft)

	if imp.opts.DryRun {
		imp.logger.Info("dry run: would import",
			"item", item.ItemID(),
			"title", rec.Title,
			"source_url", rec.SourceURL,
			"tags", rec.Tags,
		)
		stats.Imported++
		return nil
	}

	if _, err := imp.content.Insert(ctx, rec); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			// Raced with another process, or the same run produced two
			// drafts normalizing to one URL. A skip, not an error.
			stats.Skipped++
			imp.dedup.AddToCache(draft.SourceURL)
			if imp.opts.Verbose {
				imp.logger.Debug("store rejected duplicate", "item", item.ItemID(), "url", draft.SourceURL)
			}
			return nil
		}
		return fmt.Errorf("persist: %w", err)
	}

	if draft.SourceURL != "" {
		imp.dedup.AddToCache(draft.SourceURL)
	}
	stats.Imported++

	if imp.publisher != nil {
		if err := imp.publisher.Publish(ctx, rec); err != nil {
			// The record is already persisted; a publish failure must not
			// fail the item.
			imp.logger.Warn("publish failed", "item", item.ItemID(), "error", err)
		}
	}

	return nil
}

// finalize writes the run's outcome exactly once: final counts and
// completion time to the log, last_fetched_at to the source, atomically.
func (imp *Importer) finalize(ctx context.Context, status, errMsg string, stats *domain.ImportStats) {
	if imp.state == stateFinalized {
		return
	}
	imp.state = stateFinalized

	if imp.degraded || imp.logID == 0 {
		if imp.degraded {
			imp.logger.Warn("bookkeeping degraded, skipping import log finalization", "status", status)
		}
		return
	}

	now := time.Now()
	log := &domain.ImportLog{
		Status:        status,
		ItemsFound:    stats.Found,
		ItemsImported: stats.Imported,
		ItemsSkipped:  stats.Skipped,
		CompletedAt:   &now,
	}
	if errMsg != "" {
		log.ErrorMessage = &errMsg
	}

	err := imp.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := imp.logs.Finish(txCtx, imp.logID, log); err != nil {
			return fmt.Errorf("finish import log: %w", err)
		}
		return imp.sources.TouchLastFetched(txCtx, imp.sourceRow.ID, now)
	})
	if err != nil {
		imp.logger.Error("failed to finalize import log", "error", err)
	}
}
