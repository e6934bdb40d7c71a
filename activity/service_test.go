package activity

import (
	"context"
	"testing"

	"github.com/hoshinoume/terravale/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLogStopFlushesAndRecentFilters(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, zap.NewNop())
	ctx := context.Background()

	svc.Log(Entry{
		TraceID:    "trace-1",
		Actor:      "0xalice",
		Action:     "trade.accept",
		Payload:    map[string]string{"proposal_id": "p1"},
		DurationMs: 12,
	})
	svc.Log(Entry{Actor: "0xbob", Action: "mint.enqueue"})
	svc.Log(Entry{Actor: "0xalice", Action: "trade.cancel", Error: "proposal is cancelled"})

	// Stop drains the channel, so everything is on disk afterwards.
	svc.Stop(ctx)

	all, err := svc.Recent(ctx, "", 50)
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Newest first.
	assert.Equal(t, "trade.cancel", all[0].Action)
	assert.Equal(t, "trade.accept", all[2].Action)
	assert.Equal(t, "trace-1", all[2].TraceID)
	assert.Equal(t, 12, all[2].DurationMs)
	assert.JSONEq(t, `{"proposal_id":"p1"}`, string(all[2].Payload))

	alice, err := svc.Recent(ctx, "0xalice", 50)
	require.NoError(t, err)
	require.Len(t, alice, 2)
	for _, e := range alice {
		assert.Equal(t, "0xalice", e.Actor)
	}
}

func TestRecentLimitBounds(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		svc.Log(Entry{Actor: "0xalice", Action: "lock.acquire"})
	}
	svc.Stop(ctx)

	// Out-of-range limits fall back to the default of 50.
	got, err := svc.Recent(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, got, 50)

	got, err = svc.Recent(ctx, "", 201)
	require.NoError(t, err)
	assert.Len(t, got, 50)

	got, err = svc.Recent(ctx, "", 5)
	require.NoError(t, err)
	assert.Len(t, got, 5)
}

func TestStopIsIdempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, zap.NewNop())
	ctx := context.Background()

	svc.Stop(ctx)
	assert.NotPanics(t, func() { svc.Stop(ctx) })
}
