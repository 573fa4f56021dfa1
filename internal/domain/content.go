package domain

import "time"

// Content status values. The pipeline only ever inserts approved records;
// the liveness sweep may later move a record to dead.
const (
	ContentStatusApproved = "approved"
	ContentStatusDead     = "dead"
)

// DefaultTag is applied when a draft carries no tags of its own.
const DefaultTag = "pizza"

// ImportSource identifies one recurring import configuration, keyed by
// (platform, source_identifier). Created lazily on the first run of a
// configuration and never deleted by the pipeline.
type ImportSource struct {
	ID               int64      `db:"id"`
	Platform         string     `db:"platform"` // e.g. "reddit", "giphy"
	SourceIdentifier string     `db:"source_identifier"`
	DisplayName      string     `db:"display_name"`
	IsActive         bool       `db:"is_active"`
	LastFetchedAt    *time.Time `db:"last_fetched_at"`
	CreatedAt        time.Time  `db:"created_at"`
}

// ImportLog status values.
const (
	ImportStatusRunning   = "running"
	ImportStatusCompleted = "completed"
	ImportStatusFailed    = "failed"
)

// ImportLog is the bookkeeping row for one import run. It is created at run
// start in running status and written exactly once more at run end.
type ImportLog struct {
	ID            int64      `db:"id"`
	SourceID      int64      `db:"source_id"`
	Status        string     `db:"status"`
	ItemsFound    int        `db:"items_found"`
	ItemsImported int        `db:"items_imported"`
	ItemsSkipped  int        `db:"items_skipped"`
	ErrorMessage  *string    `db:"error_message"`
	StartedAt     time.Time  `db:"started_at"`
	CompletedAt   *time.Time `db:"completed_at"`
}

// ContentDraft is the in-memory candidate record produced by a source
// adapter's transform step. A nil draft means the adapter rejected the item.
type ContentDraft struct {
	Type           string
	Title          string
	URL            string
	ThumbnailURL   string
	SourceURL      string
	SourcePlatform string
	Description    string
	Tags           []string
	IsViral        bool
}

// ContentRecord is the persisted canonical form of a draft with defaults
// applied. No two records share the same normalized SourceURL.
type ContentRecord struct {
	ID             int64     `db:"id"`
	Type           string    `db:"type"`
	Title          string    `db:"title"`
	URL            string    `db:"url"`
	ThumbnailURL   string    `db:"thumbnail_url"`
	SourceURL      string    `db:"source_url"`
	SourcePlatform string    `db:"source_platform"`
	Description    string    `db:"description"`
	Tags           []string  `db:"tags"`
	Status         string    `db:"status"`
	IsViral        bool      `db:"is_viral"`
	CreatedAt      time.Time `db:"created_at"`
}

// RecordFromDraft applies field defaults to a draft: thumbnail falls back to
// the media URL, missing tags fall back to the base tag, status is fixed.
func RecordFromDraft(d *ContentDraft) *ContentRecord {
	rec := &ContentRecord{
		Type:           d.Type,
		Title:          d.Title,
		URL:            d.URL,
		ThumbnailURL:   d.ThumbnailURL,
		SourceURL:      d.SourceURL,
		SourcePlatform: d.SourcePlatform,
		Description:    d.Description,
		Tags:           d.Tags,
		Status:         ContentStatusApproved,
		IsViral:        d.IsViral,
	}
	if rec.ThumbnailURL == "" {
		rec.ThumbnailURL = d.URL
	}
	if len(rec.Tags) == 0 {
		rec.Tags = []string{DefaultTag}
	}
	return rec
}
