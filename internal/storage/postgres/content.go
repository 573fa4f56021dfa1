package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/snackman/pizza-content-sub000/internal/domain"
	"github.com/snackman/pizza-content-sub000/internal/storage"
)

const (
	pqUniqueViolation = "23505"
	pqUndefinedTable  = "42P01"
)

type ContentStore struct {
	db *sqlx.DB
}

func NewContentStore(db *sqlx.DB) *ContentStore {
	return &ContentStore{db: db}
}

// Insert persists a canonical record. A uniqueness violation on source_url
// comes back as storage.ErrDuplicate.
func (s *ContentStore) Insert(ctx context.Context, rec *domain.ContentRecord) (int64, error) {
	query := `
		INSERT INTO content (
			type, title, url, thumbnail_url, source_url, source_platform,
			description, tags, status, is_viral
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
		RETURNING id`

	var id int64
	err := GetExecutor(ctx, s.db).QueryRowxContext(ctx, query,
		rec.Type,
		rec.Title,
		rec.URL,
		rec.ThumbnailURL,
		rec.SourceURL,
		rec.SourcePlatform,
		rec.Description,
		pq.Array(rec.Tags),
		rec.Status,
		rec.IsViral,
	).Scan(&id)
	if err != nil {
		return 0, mapError(err)
	}

	return id, nil
}

// ListSourceURLs returns the source_url of every persisted record. It feeds
// the dedup cache's one-time full scan.
func (s *ContentStore) ListSourceURLs(ctx context.Context) ([]string, error) {
	var urls []string
	err := s.db.SelectContext(ctx, &urls, "SELECT source_url FROM content")
	if err != nil {
		return nil, mapError(err)
	}
	return urls, nil
}

// ListRecentRecords returns the most recently imported approved records for
// the liveness sweep.
func (s *ContentStore) ListRecentRecords(ctx context.Context, limit int) ([]domain.ContentRecord, error) {
	query := `
		SELECT id, type, title, url, thumbnail_url, source_url, source_platform,
		       description, tags, status, is_viral, created_at
		FROM content
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.db.QueryxContext(ctx, query, domain.ContentStatusApproved, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var records []domain.ContentRecord
	for rows.Next() {
		var rec domain.ContentRecord
		err := rows.Scan(
			&rec.ID, &rec.Type, &rec.Title, &rec.URL, &rec.ThumbnailURL,
			&rec.SourceURL, &rec.SourcePlatform, &rec.Description,
			pq.Array(&rec.Tags), &rec.Status, &rec.IsViral, &rec.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// MarkDead flags a record whose media URL no longer resolves.
func (s *ContentStore) MarkDead(ctx context.Context, id int64, reason string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE content SET status = $1, dead_reason = $2 WHERE id = $3",
		domain.ContentStatusDead, reason, id,
	)
	if err != nil {
		return fmt.Errorf("mark content %d dead: %w", id, mapError(err))
	}
	return nil
}

// mapError translates pq error codes into storage sentinels so callers can
// branch without importing the driver.
func mapError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation:
			return fmt.Errorf("%w: %s", storage.ErrDuplicate, pqErr.Detail)
		case pqUndefinedTable:
			return fmt.Errorf("%w: %s", storage.ErrMissingTable, pqErr.Message)
		}
	}
	return err
}
