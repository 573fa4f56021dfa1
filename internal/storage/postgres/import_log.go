package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/snackman/pizza-content-sub000/internal/domain"
)

type ImportLogStore struct {
	db *sqlx.DB
}

func NewImportLogStore(db *sqlx.DB) *ImportLogStore {
	return &ImportLogStore{db: db}
}

// Open creates the bookkeeping row for a run in running status.
func (s *ImportLogStore) Open(ctx context.Context, sourceID int64, startedAt time.Time) (int64, error) {
	query := `
		INSERT INTO import_logs (source_id, status, started_at)
		VALUES ($1, $2, $3)
		RETURNING id`

	var id int64
	err := s.db.QueryRowxContext(ctx, query, sourceID, domain.ImportStatusRunning, startedAt).Scan(&id)
	if err != nil {
		return 0, mapError(err)
	}
	return id, nil
}

// Finish writes the run's final counts and completion time. Called exactly
// once per run, for completed and failed outcomes alike.
func (s *ImportLogStore) Finish(ctx context.Context, logID int64, log *domain.ImportLog) error {
	query := `
		UPDATE import_logs
		SET status = $1,
		    items_found = $2,
		    items_imported = $3,
		    items_skipped = $4,
		    error_message = $5,
		    completed_at = $6
		WHERE id = $7`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		log.Status,
		log.ItemsFound,
		log.ItemsImported,
		log.ItemsSkipped,
		log.ErrorMessage,
		log.CompletedAt,
		logID,
	)
	if err != nil {
		return mapError(err)
	}
	return nil
}

// GetByID is used by tests and operational tooling to inspect a run.
func (s *ImportLogStore) GetByID(ctx context.Context, id int64) (*domain.ImportLog, error) {
	var log domain.ImportLog
	query := `
		SELECT id, source_id, status, items_found, items_imported,
		       items_skipped, error_message, started_at, completed_at
		FROM import_logs
		WHERE id = $1`

	if err := s.db.GetContext(ctx, &log, query, id); err != nil {
		return nil, mapError(err)
	}
	return &log, nil
}
