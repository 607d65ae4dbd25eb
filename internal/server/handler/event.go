package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/iambrands/ai-ml-trading-bot/internal/service"
)

// EventSource reads journal events from the durable stream.
type EventSource interface {
	Events(ctx context.Context, lastID string, count int) ([]service.Event, error)
}

// EventHandler pages through the journal event stream.
type EventHandler struct {
	source EventSource
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(source EventSource, logger *slog.Logger) *EventHandler {
	return &EventHandler{source: source, logger: logHandler(logger, "events")}
}

type listEventsResponse struct {
	Events []service.Event `json:"events"`
	NextID string          `json:"next_id"`
}

// ListEvents returns up to count events after the given stream ID. Clients
// resume by passing next_id back as after.
// GET /api/events?after=0&count=100
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	after := q.Get("after")
	if after == "" {
		after = "0"
	}
	count := 100
	if v := q.Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "count must be a positive integer")
			return
		}
		count = min(n, 1000)
	}

	events, err := h.source.Events(r.Context(), after, count)
	if err != nil {
		if errors.Is(err, service.ErrNoEventStream) {
			writeError(w, http.StatusServiceUnavailable, "event stream not configured")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: list events failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	next := after
	if len(events) > 0 {
		next = events[len(events)-1].ID
	}
	if events == nil {
		events = []service.Event{}
	}
	writeJSON(w, http.StatusOK, listEventsResponse{Events: events, NextID: next})
}
