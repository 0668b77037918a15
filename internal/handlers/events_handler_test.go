package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tapsakay/backend/internal/notify"
)

// streamRecorder exposes the write deadline control that the stream relies
// on to outlive the server-wide timeout.
type streamRecorder struct {
	*httptest.ResponseRecorder
	mu        sync.Mutex
	deadlines []time.Time
}

func (r *streamRecorder) SetWriteDeadline(t time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deadlines = append(r.deadlines, t)
	return nil
}

func (r *streamRecorder) clearedDeadline() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.deadlines {
		if d.IsZero() {
			return true
		}
	}
	return false
}

func TestEventsHandler_Stream(t *testing.T) {
	t.Run("delivers room events and lifts the write deadline", func(t *testing.T) {
		hub := notify.NewHub(nil)
		defer hub.Close()
		handler := NewEventsHandler(hub)

		ctx, cancel := context.WithCancel(context.WithValue(context.Background(), "ownerID", "user-1"))
		req := httptest.NewRequest(http.MethodGet, "/events?room=account:user-1", nil).WithContext(ctx)
		rec := &streamRecorder{ResponseRecorder: httptest.NewRecorder()}

		done := make(chan struct{})
		go func() {
			defer close(done)
			handler.Stream(rec, req)
		}()

		// wait for the subscription before publishing
		time.Sleep(50 * time.Millisecond)
		hub.Publish("account:user-1", "wallet_updated", map[string]any{"balance": int64(3500)})
		time.Sleep(50 * time.Millisecond)

		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("stream did not stop on context cancellation")
		}

		assert.True(t, rec.clearedDeadline(), "stream must clear the server write deadline")
		assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

		body := rec.Body.String()
		assert.True(t, strings.Contains(body, "event: wallet_updated"), "body: %q", body)
		assert.True(t, strings.Contains(body, `"balance":3500`), "body: %q", body)
	})

	t.Run("missing room", func(t *testing.T) {
		handler := NewEventsHandler(notify.NewHub(nil))

		req := httptest.NewRequest(http.MethodGet, "/events", nil)
		rec := httptest.NewRecorder()
		handler.Stream(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("cannot join another owner's account room", func(t *testing.T) {
		handler := NewEventsHandler(notify.NewHub(nil))

		ctx := context.WithValue(context.Background(), "ownerID", "user-2")
		req := httptest.NewRequest(http.MethodGet, "/events?room=account:user-1", nil).WithContext(ctx)
		rec := httptest.NewRecorder()
		handler.Stream(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("role rooms are open to authenticated callers", func(t *testing.T) {
		require.True(t, roomAllowed("role:driver", "driver-1"))
		require.True(t, roomAllowed("role:driver", "user-1"))
		require.False(t, roomAllowed("account:user-1", "user-2"))
		require.False(t, roomAllowed("payouts", "user-1"))
	})
}
