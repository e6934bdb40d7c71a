package rest_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hoshinoume/terravale/server/api/rest"
	"github.com/hoshinoume/terravale/server/game/asset"
	"github.com/hoshinoume/terravale/server/game/flow"
	"github.com/hoshinoume/terravale/server/game/lock"
	"github.com/hoshinoume/terravale/server/game/notify"
	"github.com/hoshinoume/terravale/server/game/trade"
	"github.com/hoshinoume/terravale/server/ledger"
	"github.com/hoshinoume/terravale/server/model"
	"github.com/hoshinoume/terravale/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type tradingEnv struct {
	router *gin.Engine
	inv    *asset.Inventory
	locks  *lock.Manager
	chain  *ledger.MemoryLedger
}

// newTradingEnv wires the full trading stack behind a router authenticated
// as the given wallet.
func newTradingEnv(t *testing.T, wallet string) *tradingEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	logger := zap.NewNop()

	notifier := notify.New(nil, logger)
	locks := lock.NewManager(0, notifier, logger)
	chain := ledger.NewMemoryLedger(10)
	executor := flow.NewLedgerExecutor(chain, "0xpkg", "marketplace", &ledger.StaticSigner{Addr: "0xoperator"})
	flows := flow.NewEngine(executor, flow.Config{}, logger)
	inv := asset.NewInventory(db, logger)
	engine := trade.NewEngine(inv, locks, trade.Config{MaxSlots: 6, BalanceTolerance: 5, SuggestionLimit: 5}, logger)
	history := trade.NewHistory(c, 10, logger)

	stall := &trade.Catalog{
		Name: "market-stall",
		Items: []model.Asset{
			{ID: "npc-hoe", Name: "npc-hoe", Kind: model.KindWeapon, Rarity: model.RarityCommon,
				Owner: "npc:market-stall", Stats: model.StatsJSON([]int{10})},
		},
	}
	npc := trade.NewNPCCoordinator(db, engine, locks, flows, inv, history, notifier,
		[]*trade.Catalog{stall}, logger)
	marketplace := trade.NewMarketplace(db, engine, locks, flows, inv, history, notifier,
		c, time.Hour, logger)

	h := rest.NewTradingHandler(&rest.TradeServices{
		Engine:      engine,
		Locks:       locks,
		NPC:         npc,
		Marketplace: marketplace,
		History:     history,
		Inventory:   inv,
	})

	r := gin.New()
	g := r.Group("/api/trading", fakeAuth(wallet))
	g.POST("/locks", h.Lock)
	g.GET("/locks", h.Locks)
	g.POST("/unlock", h.Unlock)
	g.GET("/npc/:name", h.Catalog)
	g.POST("/npc/:name/validate", h.ValidateNPC)
	g.GET("/npc/:name/suggest", h.SuggestNPC)
	g.POST("/npc/:name/execute", h.ExecuteNPC)
	g.POST("/proposals", h.CreateProposal)
	g.GET("/proposals", h.ListProposals)
	g.GET("/proposals/:id", h.GetProposal)
	g.POST("/proposals/:id/accept", h.AcceptProposal)
	g.DELETE("/proposals/:id", h.CancelProposal)
	g.GET("/history/:counterparty", h.History)

	return &tradingEnv{router: r, inv: inv, locks: locks, chain: chain}
}

func (env *tradingEnv) seed(t *testing.T, id, owner string, stats ...int) {
	t.Helper()
	if len(stats) == 0 {
		stats = []int{10}
	}
	require.NoError(t, env.inv.Create(context.Background(), &model.Asset{
		ID: id, Name: id, Kind: model.KindWeapon, Rarity: model.RarityCommon,
		Owner: owner, Stats: model.StatsJSON(stats),
	}))
}

func deleteJSON(r *gin.Engine, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodDelete, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestLockUnlockRoundtrip(t *testing.T) {
	env := newTradingEnv(t, "0xalice")
	env.seed(t, "hoe-1", "0xalice")

	w := postJSON(env.router, "/api/trading/locks", map[string]string{"asset_id": "hoe-1"})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	key, ok := resp["key"].(map[string]interface{})
	require.True(t, ok)
	lockID, _ := key["lock_id"].(string)
	keyID, _ := key["key_id"].(string)
	require.NotEmpty(t, lockID)
	require.NotEmpty(t, keyID)

	// A second lock on the same asset conflicts.
	w = postJSON(env.router, "/api/trading/locks", map[string]string{"asset_id": "hoe-1"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_locked", decode(t, w)["code"])

	// The listing shows the lock but never the key.
	w = getJSON(env.router, "/api/trading/locks")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), keyID)
	assert.Equal(t, float64(1), decode(t, w)["count"])

	// Wrong key cannot release, right key can.
	w = postJSON(env.router, "/api/trading/unlock", map[string]string{"lock_id": lockID, "key_id": "forged"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "key_mismatch", decode(t, w)["code"])

	w = postJSON(env.router, "/api/trading/unlock", map[string]string{"lock_id": lockID, "key_id": keyID})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hoe-1", decode(t, w)["asset_id"])
	assert.False(t, env.locks.IsLocked("hoe-1"))
}

func TestLockSomeoneElsesItem(t *testing.T) {
	env := newTradingEnv(t, "0xalice")
	env.seed(t, "axe-1", "0xbob")

	w := postJSON(env.router, "/api/trading/locks", map[string]string{"asset_id": "axe-1"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = postJSON(env.router, "/api/trading/locks", map[string]string{"asset_id": "ghost"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNPCCatalogAndValidate(t *testing.T) {
	env := newTradingEnv(t, "0xalice")
	env.seed(t, "hoe-1", "0xalice")

	w := getJSON(env.router, "/api/trading/npc/market-stall")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "market-stall", resp["name"])
	items, _ := resp["items"].([]interface{})
	require.Len(t, items, 1)
	item := items[0].(map[string]interface{})
	assert.Equal(t, float64(3), item["value"])

	w = getJSON(env.router, "/api/trading/npc/nowhere")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = postJSON(env.router, "/api/trading/npc/market-stall/validate", map[string]interface{}{
		"offered":   []string{"hoe-1"},
		"requested": []string{"npc-hoe"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	result := decode(t, w)
	assert.Equal(t, true, result["valid"])
	assert.Equal(t, float64(0), result["difference"])
}

func TestNPCExecuteOverRouter(t *testing.T) {
	env := newTradingEnv(t, "0xalice")
	env.seed(t, "hoe-1", "0xalice")

	w := postJSON(env.router, "/api/trading/npc/market-stall/execute", map[string]interface{}{
		"offered":   []string{"hoe-1"},
		"requested": []string{"npc-hoe"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	rec, _ := resp["trade"].(map[string]interface{})
	require.NotNil(t, rec)
	assert.Equal(t, "completed", rec["status"])

	a, err := env.inv.ItemByID(context.Background(), "hoe-1")
	require.NoError(t, err)
	assert.Equal(t, "npc:market-stall", a.Owner)
}

func TestNPCExecuteLedgerFailureSurfaces502(t *testing.T) {
	env := newTradingEnv(t, "0xalice")
	env.seed(t, "hoe-1", "0xalice")
	env.chain.FailWith("execute_swap", "object not found")

	w := postJSON(env.router, "/api/trading/npc/market-stall/execute", map[string]interface{}{
		"offered":   []string{"hoe-1"},
		"requested": []string{"npc-hoe"},
	})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "ledger_error", decode(t, w)["code"])
}

func TestProposalLifecycleOverRouter(t *testing.T) {
	alice := newTradingEnv(t, "0xalice")
	alice.seed(t, "hoe-1", "0xalice")
	alice.seed(t, "axe-1", "0xbob")

	w := postJSON(alice.router, "/api/trading/proposals", map[string]interface{}{
		"offered":   []string{"hoe-1"},
		"requested": []string{"axe-1"},
		"target":    "0xbob",
		"message":   "swap tools?",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	resp := decode(t, w)
	p, _ := resp["proposal"].(map[string]interface{})
	require.NotNil(t, p)
	id, _ := p["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "pending", p["status"])

	// Proposer items locked; listing and fetch work.
	assert.True(t, alice.locks.IsLocked("hoe-1"))
	w = getJSON(alice.router, "/api/trading/proposals?status=pending")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])
	w = getJSON(alice.router, "/api/trading/proposals/"+id)
	assert.Equal(t, http.StatusOK, w.Code)

	// Accepting your own proposal is rejected.
	w = postJSON(alice.router, "/api/trading/proposals/"+id+"/accept", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// The proposer can cancel, after which the lock is gone.
	w = deleteJSON(alice.router, "/api/trading/proposals/"+id)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, alice.locks.IsLocked("hoe-1"))

	w = deleteJSON(alice.router, "/api/trading/proposals/"+id)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestProposalValidationFailures(t *testing.T) {
	env := newTradingEnv(t, "0xalice")
	env.seed(t, "hoe-1", "0xalice")

	// Unknown requested item against a target.
	w := postJSON(env.router, "/api/trading/proposals", map[string]interface{}{
		"offered":   []string{"hoe-1"},
		"requested": []string{"ghost"},
		"target":    "0xbob",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Binding rejects empty sides outright.
	w = postJSON(env.router, "/api/trading/proposals", map[string]interface{}{
		"offered":   []string{},
		"requested": []string{"x"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHistoryAfterNPCTrade(t *testing.T) {
	env := newTradingEnv(t, "0xalice")
	env.seed(t, "hoe-1", "0xalice")

	w := postJSON(env.router, "/api/trading/npc/market-stall/execute", map[string]interface{}{
		"offered":   []string{"hoe-1"},
		"requested": []string{"npc-hoe"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	// NPC trades are keyed by the merchant's name.
	w = getJSON(env.router, "/api/trading/history/market-stall")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, float64(1), resp["count"])
}
