package handler

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/flowquant/flowrisk/internal/domain"
)

// archivePrefix is where the report archiver writes its JSONL pages.
const archivePrefix = "archive/reports/"

// ArchiveHandler serves the archived report pages from object storage.
type ArchiveHandler struct {
	blobs  domain.BlobReader
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler over the given blob reader.
func NewArchiveHandler(blobs domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{
		blobs:  blobs,
		logger: logger,
	}
}

// archiveObject is the JSON wire shape of one archived page listing.
type archiveObject struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// ListArchive lists the archived report pages, optionally narrowed to one
// year-month partition.
// GET /api/archive?month=2026-08
func (h *ArchiveHandler) ListArchive(w http.ResponseWriter, r *http.Request) {
	prefix := archivePrefix
	if month := r.URL.Query().Get("month"); month != "" {
		prefix += month + "/"
	}

	infos, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list archive failed",
			slog.String("prefix", prefix),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list archive")
		return
	}

	objects := make([]archiveObject, 0, len(infos))
	for _, info := range infos {
		objects = append(objects, archiveObject{
			Path:         info.Path,
			Size:         info.Size,
			LastModified: info.LastModified,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"objects": objects})
}

// GetArchivePage streams one archived JSONL page.
// GET /api/archive/{month}/{file}
func (h *ArchiveHandler) GetArchivePage(w http.ResponseWriter, r *http.Request) {
	path := archivePrefix + pathParam(r, "month") + "/" + pathParam(r, "file")

	ok, err := h.blobs.Exists(r.Context(), path)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: archive stat failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read archive")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "archive page not found")
		return
	}

	body, err := h.blobs.Get(r.Context(), path)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: archive get failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read archive")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "handler: archive stream interrupted",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}
