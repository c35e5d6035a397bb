package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/flowquant/flowrisk/internal/domain"
)

// archiveBatchSize bounds how many reports are loaded into memory per page.
const archiveBatchSize = 5000

// multipartThreshold is the page size above which the upload switches to the
// multipart manager.
const (
	multipartThreshold = 8 << 20
	multipartPartSize  = 5 << 20
)

// ReportArchiver implements domain.Archiver by paging aged risk reports out of
// the report store, serializing each page to JSONL, and uploading it to S3.
// Rows are deleted from the primary store only after every page has been
// uploaded, so a failed upload never loses history.
type ReportArchiver struct {
	writer  domain.BlobWriter
	reports domain.ReportStore
	audit   domain.AuditStore
}

// NewReportArchiver creates a new ReportArchiver.
func NewReportArchiver(writer domain.BlobWriter, reports domain.ReportStore, audit domain.AuditStore) *ReportArchiver {
	return &ReportArchiver{
		writer:  writer,
		reports: reports,
		audit:   audit,
	}
}

var _ domain.Archiver = (*ReportArchiver)(nil)

// ArchiveReports moves all reports evaluated before the cutoff to object
// storage and removes them from the database. It returns the number of
// archived reports. A cutoff with no matching reports is a no-op.
func (a *ReportArchiver) ArchiveReports(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	part := 0

	for {
		reports, err := a.reports.ListBefore(ctx, before, archiveBatchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive reports query: %w", err)
		}
		if len(reports) == 0 {
			break
		}

		buf, err := marshalJSONL(reports)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive reports marshal: %w", err)
		}

		path := archivePath(before, part)
		if len(buf) >= multipartThreshold {
			err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), multipartPartSize)
		} else {
			err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
		}
		if err != nil {
			return total, fmt.Errorf("s3blob: archive reports upload: %w", err)
		}

		// Delete exactly the page we just uploaded. The page is oldest-first,
		// so its last row's timestamp bounds it from above.
		pageCutoff := reports[len(reports)-1].EvaluatedAt.Add(time.Nanosecond)
		if pageCutoff.After(before) {
			pageCutoff = before
		}
		deleted, err := a.reports.DeleteBefore(ctx, pageCutoff)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive reports delete: %w", err)
		}

		total += deleted
		part++

		if len(reports) < archiveBatchSize {
			break
		}
	}

	if total == 0 {
		return 0, nil
	}

	if err := a.audit.Log(ctx, "archive.reports", map[string]any{
		"count":  total,
		"parts":  part,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return total, fmt.Errorf("s3blob: archive reports audit log: %w", err)
	}

	return total, nil
}

// archivePath builds the S3 key for one archive page, partitioned by the
// year-month of the cutoff time.
//
//	archive/reports/2026-08/part-0000.jsonl
func archivePath(before time.Time, part int) string {
	return fmt.Sprintf("archive/reports/%s/part-%04d.jsonl", before.Format("2006-01"), part)
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
