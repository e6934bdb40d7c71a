// Package notify fans out domain events to in-process subscribers, keeps the
// notification inbox, and mirrors every event onto the pubsub events channel
// for the SSE stream.
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hoshinoume/terravale/server/cache"
	"go.uber.org/zap"
)

// Event types emitted by the trading engine.
const (
	EventItemLocked      = "item-locked"
	EventItemUnlocked    = "item-unlocked"
	EventTradeCompleted  = "trade-completed"
	EventTradeCancelled  = "trade-cancelled"
	EventAssetMinted     = "asset-minted"
	EventNewNotification = "new-notification"
	EventNewActivity     = "new-activity"
)

// EventsChannel is the pubsub channel every event is mirrored onto.
const EventsChannel = "events"

// Event is one typed domain event.
type Event struct {
	Type    string                 `json:"type"`
	At      time.Time              `json:"at"`
	Payload map[string]interface{} `json:"payload"`
}

// Action is a tagged descriptor the UI dispatches on, instead of a stored
// callback. Payload shape depends on Kind.
type Action struct {
	Kind    string                 `json:"kind"` // e.g. "open-trade", "view-asset"
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Notification is one inbox entry for a wallet.
type Notification struct {
	ID        string    `json:"id"`
	Wallet    string    `json:"wallet"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Action    *Action   `json:"action,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// Handler receives events for one subscription.
type Handler func(Event)

type subscription struct {
	eventType string
	handler   Handler
}

// Notifier is the process-wide event fan-out. Handlers run synchronously on
// the publishing goroutine; slow consumers should hand off themselves.
type Notifier struct {
	mu            sync.RWMutex
	subs          map[string]subscription // subscriptionID → sub
	notifications map[string][]*Notification
	pubsub        cache.PubSub
	logger        *zap.Logger
}

// New creates a Notifier. pubsub may be nil in tests; events then stay
// in-process only.
func New(pubsub cache.PubSub, logger *zap.Logger) *Notifier {
	return &Notifier{
		subs:          make(map[string]subscription),
		notifications: make(map[string][]*Notification),
		pubsub:        pubsub,
		logger:        logger,
	}
}

// Subscribe registers handler for events of eventType ("" matches all) and
// returns the subscription id.
func (n *Notifier) Subscribe(eventType string, handler Handler) string {
	id := uuid.NewString()
	n.mu.Lock()
	n.subs[id] = subscription{eventType: eventType, handler: handler}
	n.mu.Unlock()
	return id
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (n *Notifier) Unsubscribe(subscriptionID string) {
	n.mu.Lock()
	delete(n.subs, subscriptionID)
	n.mu.Unlock()
}

// Publish fans out an event to matching subscribers and the pubsub channel.
func (n *Notifier) Publish(eventType string, payload map[string]interface{}) {
	ev := Event{Type: eventType, At: time.Now(), Payload: payload}

	n.mu.RLock()
	handlers := make([]Handler, 0, len(n.subs))
	for _, s := range n.subs {
		if s.eventType == "" || s.eventType == eventType {
			handlers = append(handlers, s.handler)
		}
	}
	n.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					n.logger.Error("event handler panicked",
						zap.String("event", eventType), zap.Any("recover", r))
				}
			}()
			h(ev)
		}()
	}

	if n.pubsub != nil {
		raw, _ := json.Marshal(ev)
		if err := n.pubsub.Publish(context.Background(), EventsChannel, string(raw)); err != nil {
			n.logger.Warn("event publish failed",
				zap.String("event", eventType), zap.Error(err))
		}
	}
}

// Notify stores an inbox entry for wallet and emits new-notification.
func (n *Notifier) Notify(wallet, title, body string, action *Action) *Notification {
	note := &Notification{
		ID:        uuid.NewString(),
		Wallet:    wallet,
		Title:     title,
		Body:      body,
		Action:    action,
		CreatedAt: time.Now(),
	}
	n.mu.Lock()
	n.notifications[wallet] = append(n.notifications[wallet], note)
	n.mu.Unlock()

	n.Publish(EventNewNotification, map[string]interface{}{
		"id":     note.ID,
		"wallet": wallet,
		"title":  title,
	})
	return note
}

// Notifications returns wallet's inbox, optionally unread entries only.
func (n *Notifier) Notifications(wallet string, unreadOnly bool) []Notification {
	n.mu.RLock()
	defer n.mu.RUnlock()
	var out []Notification
	for _, note := range n.notifications[wallet] {
		if unreadOnly && note.Read {
			continue
		}
		out = append(out, *note)
	}
	return out
}

// MarkRead flags one notification as read. Returns false if unknown.
func (n *Notifier) MarkRead(wallet, id string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, note := range n.notifications[wallet] {
		if note.ID == id {
			note.Read = true
			return true
		}
	}
	return false
}
