package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPublishFiltersByEventType(t *testing.T) {
	n := New(nil, zap.NewNop())

	var locked, all []string
	n.Subscribe(EventItemLocked, func(ev Event) {
		locked = append(locked, ev.Type)
	})
	n.Subscribe("", func(ev Event) {
		all = append(all, ev.Type)
	})

	n.Publish(EventItemLocked, map[string]interface{}{"asset_id": "a"})
	n.Publish(EventTradeCompleted, nil)

	assert.Equal(t, []string{EventItemLocked}, locked)
	assert.Equal(t, []string{EventItemLocked, EventTradeCompleted}, all)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	n := New(nil, zap.NewNop())

	count := 0
	id := n.Subscribe("", func(Event) { count++ })

	n.Publish(EventAssetMinted, nil)
	n.Unsubscribe(id)
	n.Publish(EventAssetMinted, nil)

	assert.Equal(t, 1, count)

	// Unknown ids are ignored.
	n.Unsubscribe("nope")
}

func TestPublishSurvivesPanickingHandler(t *testing.T) {
	n := New(nil, zap.NewNop())

	n.Subscribe("", func(Event) { panic("bad handler") })
	delivered := false
	n.Subscribe("", func(Event) { delivered = true })

	assert.NotPanics(t, func() { n.Publish(EventTradeCancelled, nil) })
	assert.True(t, delivered, "one bad handler must not starve the rest")
}

func TestInboxLifecycle(t *testing.T) {
	n := New(nil, zap.NewNop())

	var events []Event
	n.Subscribe(EventNewNotification, func(ev Event) { events = append(events, ev) })

	note := n.Notify("0xalice", "Trade completed", "details", &Action{
		Kind:    "view-trade",
		Payload: map[string]interface{}{"proposal_id": "p1"},
	})
	n.Notify("0xalice", "Item minted", "details", nil)
	n.Notify("0xbob", "Trade proposal received", "details", nil)

	// Each Notify emitted a new-notification event.
	require.Len(t, events, 3)
	assert.Equal(t, note.ID, events[0].Payload["id"])

	require.Len(t, n.Notifications("0xalice", false), 2)
	assert.Len(t, n.Notifications("0xbob", false), 1)
	assert.Empty(t, n.Notifications("0xcarol", false))

	// Mark one read; the unread view shrinks, the full view does not.
	require.True(t, n.MarkRead("0xalice", note.ID))
	unread := n.Notifications("0xalice", true)
	require.Len(t, unread, 1)
	assert.Equal(t, "Item minted", unread[0].Title)
	assert.Len(t, n.Notifications("0xalice", false), 2)

	// Wrong wallet or unknown id marks nothing.
	assert.False(t, n.MarkRead("0xbob", note.ID))
	assert.False(t, n.MarkRead("0xalice", "nope"))
}

func TestNotificationsReturnsCopies(t *testing.T) {
	n := New(nil, zap.NewNop())
	n.Notify("0xalice", "Title", "body", nil)

	got := n.Notifications("0xalice", false)
	require.Len(t, got, 1)
	got[0].Read = true

	assert.False(t, n.Notifications("0xalice", false)[0].Read)
}
