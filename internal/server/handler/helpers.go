package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/flowquant/flowrisk/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseListOpts extracts standard pagination and time-range parameters from
// the query string. Defaults: limit=50 (max 500), offset=0. since and until
// accept RFC 3339 timestamps.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}

	if v := q.Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			opts.Since = &t
		}
	}
	if v := q.Get("until"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			opts.Until = &t
		}
	}

	return opts
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// snapshotResponse is the JSON wire shape of one tracked position snapshot.
type snapshotResponse struct {
	ID          string              `json:"id"`
	Wallet      string              `json:"wallet"`
	Kind        domain.PositionKind `json:"kind"`
	Position    domain.Position     `json:"position"`
	CollectedAt time.Time           `json:"collected_at"`
}

func toSnapshotResponse(snap domain.PositionSnapshot) snapshotResponse {
	return snapshotResponse{
		ID:          snap.ID,
		Wallet:      snap.Wallet,
		Kind:        snap.Kind,
		Position:    snap.Position,
		CollectedAt: snap.CollectedAt,
	}
}

func toSnapshotResponses(snaps []domain.PositionSnapshot) []snapshotResponse {
	out := make([]snapshotResponse, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, toSnapshotResponse(snap))
	}
	return out
}
