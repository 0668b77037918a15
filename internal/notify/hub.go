// Package notify fans settlement events out to room subscribers. The hub is
// handed to the settlement engine at construction time; nothing here reaches
// back into storage or watches collections.
package notify

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const subscriberBuffer = 64

// Event is one published notification. Events are ephemeral; nothing
// persists them.
type Event struct {
	Room    string    `json:"room"`
	Topic   string    `json:"topic"`
	Payload any       `json:"payload"`
	At      time.Time `json:"at"`
}

// Subscription is one subscriber's event feed. Events for a single room
// arrive in publish order, which under concurrent settlements can differ
// from commit order; payloads that need commit ordering carry an account
// version for the subscriber to reconcile on. A subscriber that stops
// draining loses events rather than blocking publishers.
type Subscription struct {
	C     <-chan Event
	ch    chan Event
	rooms []string
	hub   *Hub
}

// Close detaches the subscription from its rooms.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
}

// Hub routes events to in-process subscribers grouped by room, and mirrors
// them onto a redis channel per room so other instances can bridge them.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Subscription]struct{}

	bridge chan Event
	redis  *redis.Client
	done   chan struct{}
}

// NewHub creates a hub. rdb may be nil; the redis mirror is then disabled.
func NewHub(rdb *redis.Client) *Hub {
	h := &Hub{
		rooms:  make(map[string]map[*Subscription]struct{}),
		bridge: make(chan Event, 1024),
		redis:  rdb,
		done:   make(chan struct{}),
	}
	if rdb != nil {
		go h.runBridge()
	}
	return h
}

// Subscribe joins the given rooms.
func (h *Hub) Subscribe(rooms ...string) *Subscription {
	sub := &Subscription{
		ch:    make(chan Event, subscriberBuffer),
		rooms: rooms,
		hub:   h,
	}
	sub.C = sub.ch

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, room := range rooms {
		if h.rooms[room] == nil {
			h.rooms[room] = make(map[*Subscription]struct{})
		}
		h.rooms[room][sub] = struct{}{}
	}
	return sub
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, room := range sub.rooms {
		if subs := h.rooms[room]; subs != nil {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(h.rooms, room)
			}
		}
	}
}

// Publish delivers an event to every current subscriber of room. It never
// blocks the caller: a full subscriber channel drops the event for that
// subscriber only.
func (h *Hub) Publish(room, topic string, payload any) {
	event := Event{Room: room, Topic: topic, Payload: payload, At: time.Now().UTC()}

	h.mu.RLock()
	for sub := range h.rooms[room] {
		select {
		case sub.ch <- event:
		default:
			log.Printf("[NOTIFY] dropping %s for lagging subscriber of %s", topic, room)
		}
	}
	h.mu.RUnlock()

	if h.redis != nil {
		select {
		case h.bridge <- event:
		default:
			log.Printf("[NOTIFY] redis bridge backlog full, dropping %s for %s", topic, room)
		}
	}
}

// runBridge forwards events to redis one at a time, preserving the publish
// order the engine committed in.
func (h *Hub) runBridge() {
	ctx := context.Background()
	for {
		select {
		case event := <-h.bridge:
			data, err := json.Marshal(event)
			if err != nil {
				log.Printf("[NOTIFY] failed to encode event for redis: %v", err)
				continue
			}
			if err := h.redis.Publish(ctx, "notify:"+event.Room, data).Err(); err != nil {
				log.Printf("[NOTIFY] redis publish failed for %s: %v", event.Room, err)
			}
		case <-h.done:
			return
		}
	}
}

// Close stops the redis bridge. In-process subscriptions stay usable until
// individually closed.
func (h *Hub) Close() {
	close(h.done)
}
