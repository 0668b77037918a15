package handlers

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/tapsakay/backend/internal/notify"
	"github.com/tapsakay/backend/internal/services"
)

// EventsHandler streams settlement notifications to room subscribers over
// server-sent events.
type EventsHandler struct {
	hub *notify.Hub
}

func NewEventsHandler(hub *notify.Hub) *EventsHandler {
	return &EventsHandler{hub: hub}
}

// Stream subscribes the caller to one room and streams its events until the
// connection drops.
// GET /events?room=account:{ownerId} | room=role:driver
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")
	if room == "" {
		services.SendErrorReason(w, "room is required", "Validation", http.StatusBadRequest, nil)
		return
	}

	ownerID, _ := r.Context().Value("ownerID").(string)
	if !roomAllowed(room, ownerID) {
		services.SendErrorResponse(w, "Forbidden", http.StatusForbidden, nil)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		services.SendErrorResponse(w, "Streaming unsupported", http.StatusInternalServerError, nil)
		return
	}

	// The server-wide write deadline would cut the stream off mid-flight;
	// lift it for this response only.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		log.Printf("[EVENTS] could not clear write deadline: %v", err)
	}

	sub := h.hub.Subscribe(room)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(25 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case event := <-sub.C:
			data, err := json.Marshal(event.Payload)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Topic, data)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// roomAllowed enforces that owners only join their own account room.
// Role rooms are open to any authenticated caller; finer role checks happen
// in the account directory before tokens are issued.
func roomAllowed(room, ownerID string) bool {
	if strings.HasPrefix(room, "account:") {
		return ownerID != "" && room == services.AccountRoom(ownerID)
	}
	return strings.HasPrefix(room, "role:")
}
