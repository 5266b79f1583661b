// Package handler exposes the validation cache over a JSON API for the
// reporting dashboard.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"kidscreen/internal/cache"
	"kidscreen/internal/i18n"
	"kidscreen/internal/model"
	"kidscreen/internal/rollup"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	cache *cache.Service
}

// New creates a new Handler.
func New(c *cache.Service) *Handler {
	return &Handler{cache: c}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Get("/api/status", h.handleStatus)
	r.Get("/api/summary", h.handleSummary)
	r.Get("/api/students", h.handleStudentList)
	r.Get("/api/students/{studentID}", h.handleStudent)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Built       bool      `json:"built"`
	Stale       bool      `json:"stale"`
	BuildID     string    `json:"build_id,omitempty"`
	BuiltAt     time.Time `json:"built_at,omitzero"`
	Students    int       `json:"students"`
	Description string    `json:"description"`
}

// handleStatus reports cache provenance without failing on a missing cache:
// the dashboard's status widget must render either way.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := h.cache.LoadStale()
	if errors.Is(err, cache.ErrCacheMiss) {
		writeJSON(w, http.StatusOK, statusResponse{
			Description: i18n.T(r.Context(), "StatusNotStarted"),
		})
		return
	}
	if err != nil {
		serveError(w, err)
		return
	}
	resp := statusResponse{
		Built:       true,
		Stale:       snap.Stale,
		BuildID:     snap.BuildID,
		BuiltAt:     snap.BuiltAt,
		Students:    len(snap.Entries),
		Description: i18n.Tp(r.Context(), "StudentsValidated", len(snap.Entries)),
	}
	if snap.Stale {
		resp.Description = i18n.Td(r.Context(), "StaleDataNotice",
			map[string]any{"BuiltAt": snap.BuiltAt.Format(time.RFC3339)})
	}
	writeJSON(w, http.StatusOK, resp)
}

type summaryResponse struct {
	model.Summary
	Stale   bool      `json:"stale"`
	BuiltAt time.Time `json:"built_at"`
}

// handleSummary serves a hierarchy rollup. Stale data is served with a flag
// rather than refused; the dashboard prefers yesterday's numbers over an
// empty page.
func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	key, ok := groupKey(r.URL.Query().Get("by"))
	if !ok {
		http.Error(w, "unknown grouping; use district, group, school, class or grade", http.StatusBadRequest)
		return
	}
	snap, err := h.cache.LoadStale()
	if err != nil {
		serveError(w, err)
		return
	}

	entries := make([]model.ValidationCacheEntry, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		entries = append(entries, e)
	}
	writeJSON(w, http.StatusOK, summaryResponse{
		Summary: rollup.RollUp(entries, key),
		Stale:   snap.Stale,
		BuiltAt: snap.BuiltAt,
	})
}

type studentListItem struct {
	Key           string                 `json:"key"`
	StudentID     string                 `json:"student_id"`
	Grade         model.Grade            `json:"grade"`
	School        string                 `json:"school"`
	Class         string                 `json:"class"`
	Status        model.CompletionStatus `json:"status"`
	StatusLabel   string                 `json:"status_label"`
	CompletionPct int                    `json:"completion_pct"`
}

func (h *Handler) handleStudentList(w http.ResponseWriter, r *http.Request) {
	snap, err := h.cache.LoadStale()
	if err != nil {
		serveError(w, err)
		return
	}

	items := make([]studentListItem, 0, len(snap.Entries))
	for key, e := range snap.Entries {
		status := e.OverallStatus()
		items = append(items, studentListItem{
			Key:           key,
			StudentID:     e.StudentID,
			Grade:         e.Grade,
			School:        e.Demographics.School,
			Class:         e.Demographics.Class,
			Status:        status,
			StatusLabel:   i18n.StatusLabel(r.Context(), string(status)),
			CompletionPct: e.CompletionPct,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })

	writeJSON(w, http.StatusOK, map[string]any{
		"students": items,
		"stale":    snap.Stale,
	})
}

// handleStudent returns every cached entry for one student ID. A student
// re-tested across school years legitimately has one entry per grade band.
func (h *Handler) handleStudent(w http.ResponseWriter, r *http.Request) {
	studentID := chi.URLParam(r, "studentID")
	snap, err := h.cache.LoadStale()
	if err != nil {
		serveError(w, err)
		return
	}

	var entries []model.ValidationCacheEntry
	for _, e := range snap.Entries {
		if e.StudentID == studentID {
			entries = append(entries, e)
		}
	}
	if len(entries) == 0 {
		http.Error(w, "student not found", http.StatusNotFound)
		return
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Grade < entries[j].Grade })

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"stale":   snap.Stale,
	})
}

func groupKey(by string) (rollup.GroupKey, bool) {
	switch rollup.GroupKey(by) {
	case rollup.ByDistrict, rollup.ByGroup, rollup.BySchool, rollup.ByClass, rollup.ByGrade:
		return rollup.GroupKey(by), true
	}
	return "", false
}

func serveError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cache.ErrCacheMiss):
		http.Error(w, "validation cache not built yet", http.StatusServiceUnavailable)
	case errors.Is(err, cache.ErrSchemaMismatch), errors.Is(err, cache.ErrCorrupt):
		http.Error(w, "validation cache needs a rebuild", http.StatusServiceUnavailable)
	default:
		slog.Error("cache read failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
