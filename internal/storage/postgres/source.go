package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/snackman/pizza-content-sub000/internal/domain"
)

type SourceStore struct {
	db *sqlx.DB
}

func NewSourceStore(db *sqlx.DB) *SourceStore {
	return &SourceStore{db: db}
}

// GetOrCreate looks up an import source by (platform, source_identifier) and
// creates it on first use. Concurrent first runs race on the unique key; the
// insert is ON CONFLICT DO NOTHING with a re-read so both callers converge
// on the same row.
func (s *SourceStore) GetOrCreate(ctx context.Context, platform, identifier, displayName string) (*domain.ImportSource, error) {
	src, err := s.get(ctx, platform, identifier)
	if err == nil {
		return src, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, mapError(err)
	}

	query := `
		INSERT INTO import_sources (platform, source_identifier, display_name, is_active)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (platform, source_identifier) DO NOTHING`

	if _, err := s.db.ExecContext(ctx, query, platform, identifier, displayName); err != nil {
		return nil, mapError(err)
	}

	src, err = s.get(ctx, platform, identifier)
	if err != nil {
		return nil, mapError(err)
	}
	return src, nil
}

func (s *SourceStore) get(ctx context.Context, platform, identifier string) (*domain.ImportSource, error) {
	var src domain.ImportSource
	query := `
		SELECT id, platform, source_identifier, display_name, is_active,
		       last_fetched_at, created_at
		FROM import_sources
		WHERE platform = $1 AND source_identifier = $2`

	err := s.db.GetContext(ctx, &src, query, platform, identifier)
	if err != nil {
		return nil, err
	}
	return &src, nil
}

// TouchLastFetched records that a run against this source just completed.
func (s *SourceStore) TouchLastFetched(ctx context.Context, id int64, at time.Time) error {
	_, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		"UPDATE import_sources SET last_fetched_at = $1 WHERE id = $2",
		at, id,
	)
	if err != nil {
		return mapError(err)
	}
	return nil
}
