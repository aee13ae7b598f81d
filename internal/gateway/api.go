// ABOUTME: HTTP API handlers for reading the recorded message log
// ABOUTME: Provides GET /api/messages with integration, request and time filters

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/wxcallback/internal/store"
)

// maxListLimit mirrors the store's cap so oversized requests fail loudly
// instead of being silently truncated.
const maxListLimit = 1000

// MessageLogResponse is one entry in the JSON response for GET /api/messages.
type MessageLogResponse struct {
	ID          string `json:"id"`
	RequestID   string `json:"request_id"`
	Integration string `json:"integration"`
	Direction   string `json:"direction"`
	Source      string `json:"source,omitempty"`
	Body        string `json:"body"`
	CreatedAt   string `json:"created_at"`
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// parseMessageLogFilter builds a filter from the request query.
// Supported parameters: integration, request_id, since (RFC 3339), limit.
func (g *Gateway) parseMessageLogFilter(r *http.Request) (store.MessageLogFilter, int, error) {
	var f store.MessageLogFilter
	q := r.URL.Query()

	if name := q.Get("integration"); name != "" {
		if _, err := g.router.Route(name); err != nil {
			return f, http.StatusNotFound, errors.New("integration not found")
		}
		f.Integration = &name
	}

	if requestID := q.Get("request_id"); requestID != "" {
		f.RequestID = &requestID
	}

	if sinceStr := q.Get("since"); sinceStr != "" {
		since, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			return f, http.StatusBadRequest, errors.New("since must be an RFC 3339 timestamp")
		}
		f.Since = &since
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 || limit > maxListLimit {
			return f, http.StatusBadRequest, errors.New("limit must be an integer between 1 and 1000")
		}
		f.Limit = limit
	}

	return f, http.StatusOK, nil
}

// handleListMessages handles GET /api/messages.
// It returns the most recent message log entries, newest first.
func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request) {
	if g.recorder == nil || g.store == nil {
		g.sendJSONError(w, http.StatusNotFound, "message log is not enabled")
		return
	}

	filter, status, err := g.parseMessageLogFilter(r)
	if err != nil {
		g.sendJSONError(w, status, err.Error())
		return
	}

	entries, err := g.store.ListMessageLog(r.Context(), filter)
	if err != nil {
		g.logger.Error("failed to list message log", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := make([]MessageLogResponse, len(entries))
	for i, e := range entries {
		response[i] = MessageLogResponse{
			ID:          e.ID,
			RequestID:   e.RequestID,
			Integration: e.Integration,
			Direction:   e.Direction,
			Source:      e.Source,
			Body:        e.Body,
			CreatedAt:   e.CreatedAt.Format(time.RFC3339Nano),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}
