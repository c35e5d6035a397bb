package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/flowquant/flowrisk/internal/domain"
)

// Archiver periodically moves aged risk reports from the database to cold
// storage.
type Archiver struct {
	blobArchiver  domain.Archiver
	retentionDays int
	logger        *slog.Logger
}

// NewArchiver creates a new Archiver.
func NewArchiver(blobArchiver domain.Archiver, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		retentionDays: retentionDays,
		logger:        logger,
	}
}

// Run executes a single archive run. The cutoff is now minus the retention
// window.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
	a.logger.Info("starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	archived, err := a.blobArchiver.ArchiveReports(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving reports before %v: %w", cutoff, err)
	}

	a.logger.Info("archive run complete", slog.Int64("reports_archived", archived))
	return nil
}

