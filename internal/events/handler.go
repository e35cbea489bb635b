package events

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

// Handler exposes the event log to administrators.
type Handler struct {
	logger *Logger
}

// NewHandler creates a new Handler instance
func NewHandler(logger *Logger) *Handler {
	return &Handler{logger: logger}
}

// RegisterRoutes mounts the event query endpoint. Callers must gate it
// behind authentication and an admin role check.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/events", h.Query)
}

// Query handles event log queries
// GET /api/v1/events?category=&type=&level=&user_id=&from=&to=&limit=
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	results := h.logger.Query(r.Context(), filter)

	h.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"events": results,
		"count":  len(results),
	})
}

func filterFromQuery(r *http.Request) (Filter, error) {
	q := r.URL.Query()
	filter := Filter{
		Category: Category(q.Get("category")),
		Type:     q.Get("type"),
		Level:    Level(q.Get("level")),
		UserID:   q.Get("user_id"),
	}

	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return Filter{}, fmt.Errorf("invalid value for query parameter: from")
		}
		filter.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return Filter{}, fmt.Errorf("invalid value for query parameter: to")
		}
		filter.To = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Filter{}, fmt.Errorf("invalid value for query parameter: limit")
		}
		filter.Limit = n
	}

	return filter, nil
}

func (h *Handler) writeSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":   true,
		"data":      data,
		"timestamp": time.Now().UTC(),
	})
}

func (h *Handler) writeError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"timestamp": time.Now().UTC(),
	})
}
