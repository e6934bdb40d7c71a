package rest_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hoshinoume/terravale/server/activity"
	"github.com/hoshinoume/terravale/server/api/rest"
	"github.com/hoshinoume/terravale/server/game/asset"
	"github.com/hoshinoume/terravale/server/game/flow"
	"github.com/hoshinoume/terravale/server/game/lock"
	"github.com/hoshinoume/terravale/server/game/mint"
	"github.com/hoshinoume/terravale/server/game/notify"
	"github.com/hoshinoume/terravale/server/game/trade"
	"github.com/hoshinoume/terravale/server/ledger"
	"github.com/hoshinoume/terravale/server/model"
	"github.com/hoshinoume/terravale/server/scheduler"
	"github.com/hoshinoume/terravale/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newAdminRouter(t *testing.T, adminKey string) (*gin.Engine, *gorm.DB, *lock.Manager) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	logger := zap.NewNop()

	notifier := notify.New(nil, logger)
	locks := lock.NewManager(0, notifier, logger)
	chain := ledger.NewMemoryLedger(1)
	executor := flow.NewLedgerExecutor(chain, "0xpkg", "marketplace", &ledger.StaticSigner{Addr: "0xoperator"})
	flows := flow.NewEngine(executor, flow.Config{}, logger)
	inv := asset.NewInventory(db, logger)
	engine := trade.NewEngine(inv, locks, trade.Config{MaxSlots: 6, BalanceTolerance: 5}, logger)
	history := trade.NewHistory(c, 10, logger)
	marketplace := trade.NewMarketplace(db, engine, locks, flows, inv, history, notifier, c, time.Hour, logger)
	queue := mint.NewQueue(mint.Config{Collection: "Asset"}, inv, asset.NewMemoryRegistry(), flows, notifier, logger)
	activities := activity.New(db, logger)
	t.Cleanup(func() { activities.Stop(context.Background()) })
	sched := scheduler.New(logger)
	t.Cleanup(sched.Stop)

	h := rest.NewAdminHandler(db, locks, marketplace, queue, activities, sched, logger)
	r := gin.New()
	g := r.Group("/api/admin", rest.AdminAuth(adminKey))
	g.GET("/metrics", h.Metrics)
	g.POST("/sweep", h.Sweep)
	g.POST("/mint/:id", h.MintNow)
	g.GET("/activity", h.Activity)
	g.POST("/accounts/:id/ban", h.BanAccount)
	g.GET("/scheduler", h.ListSchedulerTasks)

	require.NoError(t, db.Create(&model.Account{
		Username: "mallory", PasswordHash: "x", Wallet: "0xmallory", Status: 1,
	}).Error)

	return r, db, locks
}

func TestAdminAuthDisabledWithoutKey(t *testing.T) {
	r, _, _ := newAdminRouter(t, "")
	w := getJSON(r, "/api/admin/metrics", "X-Admin-Key", "anything")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAdminAuthRejectsWrongKey(t *testing.T) {
	r, _, _ := newAdminRouter(t, "hunter2")

	w := getJSON(r, "/api/admin/metrics")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = getJSON(r, "/api/admin/metrics", "X-Admin-Key", "wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminMetricsAndSweep(t *testing.T) {
	r, _, locks := newAdminRouter(t, "hunter2")

	_, err := locks.Lock("hoe-1", "0xalice")
	require.NoError(t, err)

	w := getJSON(r, "/api/admin/metrics", "X-Admin-Key", "hunter2")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, float64(1), resp["live_locks"])
	assert.Equal(t, float64(0), resp["pending_proposals"])
	assert.Equal(t, float64(0), resp["mint_pending"])

	w = postJSON(r, "/api/admin/sweep", nil, "X-Admin-Key", "hunter2")
	require.Equal(t, http.StatusOK, w.Code)
	resp = decode(t, w)
	// Nothing has expired yet; the sweep just reports zero.
	assert.Equal(t, float64(0), resp["expired_locks"])
	assert.Equal(t, float64(0), resp["expired_proposals"])
}

func TestAdminBanAccount(t *testing.T) {
	r, _, _ := newAdminRouter(t, "hunter2")

	w := postJSON(r, "/api/admin/accounts/1/ban", map[string]bool{"ban": true}, "X-Admin-Key", "hunter2")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decode(t, w)["status"])

	w = postJSON(r, "/api/admin/accounts/1/ban", map[string]bool{"ban": false}, "X-Admin-Key", "hunter2")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["status"])

	w = postJSON(r, "/api/admin/accounts/999/ban", map[string]bool{"ban": true}, "X-Admin-Key", "hunter2")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = postJSON(r, "/api/admin/accounts/abc/ban", nil, "X-Admin-Key", "hunter2")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminBanRejectsMalformedBody(t *testing.T) {
	r, db, _ := newAdminRouter(t, "hunter2")

	w := postJSON(r, "/api/admin/accounts/1/ban", map[string]bool{"ban": true}, "X-Admin-Key", "hunter2")
	require.Equal(t, http.StatusOK, w.Code)

	// A body that does not parse must not fall through to the unban default.
	req := httptest.NewRequest(http.MethodPost, "/api/admin/accounts/1/ban", strings.NewReader("{oops"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Key", "hunter2")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var acct model.Account
	require.NoError(t, db.First(&acct, 1).Error)
	assert.Equal(t, 0, acct.Status, "the ban must survive a malformed request")
}

func TestAdminActivityEndpoint(t *testing.T) {
	r, _, _ := newAdminRouter(t, "hunter2")

	w := getJSON(r, "/api/admin/activity", "X-Admin-Key", "hunter2")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decode(t, w)["count"])
}
