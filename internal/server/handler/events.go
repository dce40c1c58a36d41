package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/yieldmarket/internal/domain"
)

// EventReader lists committed events, newest first.
type EventReader interface {
	List(ctx context.Context, topic string, opts domain.ListOpts) ([]domain.Event, error)
}

type EventHandler struct {
	events EventReader
	logger *slog.Logger
}

func NewEventHandler(events EventReader, logger *slog.Logger) *EventHandler {
	return &EventHandler{events: events, logger: logger}
}

// ListEvents returns recent events, optionally for one topic and after
// ?since= (RFC 3339).
// GET /api/events?limit=50&topic=market:0x..
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	if s := r.URL.Query().Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		opts.Since = &t
	}
	list, err := h.events.List(r.Context(), r.URL.Query().Get("topic"), opts)
	if err != nil {
		writeDomainError(w, r, h.logger, "list events", err)
		return
	}
	if list == nil {
		list = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": list,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}
