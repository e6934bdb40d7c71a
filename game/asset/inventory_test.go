package asset

import (
	"context"
	"testing"

	"github.com/hoshinoume/terravale/server/errs"
	"github.com/hoshinoume/terravale/server/model"
	"github.com/hoshinoume/terravale/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestInventory(t *testing.T) *Inventory {
	t.Helper()
	return NewInventory(testutil.SetupTestDB(t), zap.NewNop())
}

func seedAsset(t *testing.T, inv *Inventory, id, owner string) {
	t.Helper()
	require.NoError(t, inv.Create(context.Background(), &model.Asset{
		ID:     id,
		Name:   id,
		Kind:   model.KindResource,
		Rarity: model.RarityCommon,
		Owner:  owner,
		Stats:  model.StatsJSON([]int{10}),
	}))
}

func TestInventoryLookup(t *testing.T) {
	inv := newTestInventory(t)
	ctx := context.Background()
	seedAsset(t, inv, "hoe-1", "0xalice")
	seedAsset(t, inv, "hoe-2", "0xalice")
	seedAsset(t, inv, "axe-1", "0xbob")

	mine, err := inv.PlayerInventory(ctx, "0xalice")
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	a, err := inv.ItemByID(ctx, "axe-1")
	require.NoError(t, err)
	assert.Equal(t, "0xbob", a.Owner)

	_, err = inv.ItemByID(ctx, "ghost")
	assert.Equal(t, errs.CodeNotFound, errs.CodeOf(err))
	assert.True(t, errs.IsKind(err, errs.Validation))
}

func TestTransferAppendsOwnerHistory(t *testing.T) {
	inv := newTestInventory(t)
	ctx := context.Background()
	seedAsset(t, inv, "hoe-1", "0xalice")

	require.NoError(t, inv.Transfer(ctx, []string{"hoe-1"}, "0xbob"))
	a, err := inv.ItemByID(ctx, "hoe-1")
	require.NoError(t, err)
	assert.Equal(t, "0xbob", a.Owner)
	assert.Equal(t, []string{"0xalice"}, model.OwnerHistoryOf(a))

	// A second hop keeps the full chain.
	require.NoError(t, inv.Transfer(ctx, []string{"hoe-1"}, "0xcarol"))
	a, err = inv.ItemByID(ctx, "hoe-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"0xalice", "0xbob"}, model.OwnerHistoryOf(a))
}

func TestTransferMissingAssetAbortsBatch(t *testing.T) {
	inv := newTestInventory(t)
	ctx := context.Background()
	seedAsset(t, inv, "hoe-1", "0xalice")

	err := inv.Transfer(ctx, []string{"hoe-1", "ghost"}, "0xbob")
	require.Error(t, err)
	assert.Equal(t, errs.CodeNotFound, errs.CodeOf(err))

	// The transaction rolled back, so the first asset kept its owner.
	a, err := inv.ItemByID(ctx, "hoe-1")
	require.NoError(t, err)
	assert.Equal(t, "0xalice", a.Owner)
}

func TestMarkMinted(t *testing.T) {
	inv := newTestInventory(t)
	ctx := context.Background()
	seedAsset(t, inv, "hoe-1", "0xalice")

	require.NoError(t, inv.MarkMinted(ctx, "hoe-1", "0xtok1"))
	a, err := inv.ItemByID(ctx, "hoe-1")
	require.NoError(t, err)
	assert.True(t, a.Minted())
	assert.Equal(t, "0xtok1", a.TokenID)
}
