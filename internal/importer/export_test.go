package importer

import (
	"context"
	"time"

	"github.com/snackman/pizza-content-sub000/internal/domain"
)

// Finalize exposes finalize to the external test package.
func (imp *Importer) Finalize(ctx context.Context, status, errMsg string, stats *domain.ImportStats) {
	imp.finalize(ctx, status, errMsg, stats)
}

// StartedAt exposes startedAt to the external test package.
func (imp *Importer) StartedAt() time.Time {
	return imp.startedAt
}
