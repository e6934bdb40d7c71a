package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/hoshinoume/terravale/server/activity"
	apirest "github.com/hoshinoume/terravale/server/api/rest"
	"github.com/hoshinoume/terravale/server/api/sse"
	"github.com/hoshinoume/terravale/server/cache"
	"github.com/hoshinoume/terravale/server/config"
	dbadapter "github.com/hoshinoume/terravale/server/db"
	"github.com/hoshinoume/terravale/server/game/asset"
	"github.com/hoshinoume/terravale/server/game/flow"
	"github.com/hoshinoume/terravale/server/game/lock"
	"github.com/hoshinoume/terravale/server/game/mint"
	"github.com/hoshinoume/terravale/server/game/notify"
	"github.com/hoshinoume/terravale/server/game/trade"
	"github.com/hoshinoume/terravale/server/ledger"
	mw "github.com/hoshinoume/terravale/server/middleware"
	"github.com/hoshinoume/terravale/server/model"
	"github.com/hoshinoume/terravale/server/scheduler"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	// Warn loudly if admin endpoints will be disabled.
	if cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_key is not set; admin endpoints are disabled")
	}

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	logger.Info("DB initialized")

	// ---- Activity log ----
	activitySvc := activity.New(db, logger)
	defer activitySvc.Stop(context.Background())

	// ---- Cache / PubSub ----
	cacheConfig := cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	c, err := cache.NewCache(cacheConfig)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	pubsub, err := cache.NewPubSub(cacheConfig)
	if err != nil {
		log.Fatalf("pubsub: %v", err)
	}
	logger.Info("Cache initialized")

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	defer sched.Stop()

	// ---- Ledger ----
	var chain ledger.Client
	if cfg.Ledger.RPCAddr != "" {
		chain = ledger.NewRPCClient(cfg.Ledger.RPCAddr)
		logger.Info("Ledger RPC client ready", zap.String("addr", cfg.Ledger.RPCAddr))
	} else {
		chain = ledger.NewMemoryLedger(100)
		logger.Warn("ledger.rpc_addr is not set; using the in-process ledger")
	}
	var signer ledger.Signer
	if cfg.Ledger.SignerAddr != "" {
		signer = &ledger.StaticSigner{Addr: cfg.Ledger.SignerAddr}
	} else {
		logger.Warn("ledger.signer_addr is not set; flows will fail until one is configured")
	}

	// ---- Engine ----
	notifier := notify.New(pubsub, logger)
	locks := lock.NewManager(cfg.Trading.LockTTL, notifier, logger)
	executor := flow.NewLedgerExecutor(chain, cfg.Ledger.Package, "marketplace", signer)
	flows := flow.NewEngine(executor, flow.Config{
		GasEstimates: cfg.Ledger.GasEstimates,
		GasPrice:     cfg.Ledger.GasPrice,
	}, logger)

	inventory := asset.NewInventory(db, logger)
	registry := asset.NewDBRegistry(db)
	tradeEngine := trade.NewEngine(inventory, locks, trade.Config{
		MaxSlots:         cfg.Trading.MaxSlots,
		BalanceTolerance: cfg.Trading.BalanceTolerance,
		SuggestionLimit:  cfg.Trading.SuggestionLimit,
	}, logger)
	history := trade.NewHistory(c, cfg.Trading.HistoryCap, logger)

	npc := trade.NewNPCCoordinator(db, tradeEngine, locks, flows, inventory, history, notifier, defaultCatalogs(), logger)
	marketplace := trade.NewMarketplace(db, tradeEngine, locks, flows, inventory, history, notifier, c, cfg.Trading.ProposalTTL, logger)

	mintQueue := mint.NewQueue(mint.Config{
		QueueSize:   cfg.Mint.QueueSize,
		JobInterval: cfg.Mint.JobInterval,
		Collection:  cfg.Mint.Collection,
	}, inventory, registry, flows, notifier, logger)
	mintQueue.Start(context.Background())
	defer mintQueue.Stop()

	// Completed and cancelled trades land in the activity feed.
	notifier.Subscribe(notify.EventTradeCompleted, func(e notify.Event) {
		activitySvc.Log(activity.Entry{Action: e.Type, Payload: e.Payload})
	})
	notifier.Subscribe(notify.EventTradeCancelled, func(e notify.Event) {
		activitySvc.Log(activity.Entry{Action: e.Type, Payload: e.Payload})
	})
	notifier.Subscribe(notify.EventAssetMinted, func(e notify.Event) {
		activitySvc.Log(activity.Entry{Action: e.Type, Payload: e.Payload})
	})

	// ---- Periodic Scheduler Tasks ----
	sched.AddTicker("lock_sweep", cfg.Trading.SweepInterval, func() {
		if n := locks.Sweep(); n > 0 {
			logger.Info("expired locks swept", zap.Int("count", n))
		}
	})
	sched.AddTicker("proposal_sweep", cfg.Trading.SweepInterval, func() {
		marketplace.SweepExpired()
	})
	sched.AddTicker("retention_sweep", cfg.Trading.Retention, func() {
		marketplace.SweepTerminal(cfg.Trading.Retention)
		flows.SweepTerminal(cfg.Trading.Retention)
	})

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))

	// One shared limiter; registered after Auth on player groups so the
	// budget follows the wallet, and on the auth group where it keys by IP.
	limit := mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst)

	// Health check
	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	// ---- REST API routes ----
	authH := apirest.NewAuthHandler(db, c, cfg.Security)
	assetsH := apirest.NewAssetsHandler(inventory, registry, chain)
	tradingH := apirest.NewTradingHandler(&apirest.TradeServices{
		Engine:      tradeEngine,
		Locks:       locks,
		NPC:         npc,
		Marketplace: marketplace,
		History:     history,
		Inventory:   inventory,
	})
	mintH := apirest.NewMintHandler(mintQueue, inventory)
	flowsH := apirest.NewFlowsHandler(flows)
	notificationsH := apirest.NewNotificationsHandler(notifier)
	adminH := apirest.NewAdminHandler(db, locks, marketplace, mintQueue, activitySvc, sched, logger)

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.Use(limit)
		authG.POST("/login", authH.Login)
		authG.POST("/logout", mw.Auth(cfg.Security, c), authH.Logout)
		authG.POST("/refresh", mw.Auth(cfg.Security, c), authH.Refresh)

		assetsG := api.Group("/assets")
		assetsG.Use(mw.Auth(cfg.Security, c), limit)
		assetsG.GET("", assetsH.List)
		assetsG.POST("", assetsH.Create)
		assetsG.GET("/ledger", assetsH.Owned)
		assetsG.GET("/:id", assetsH.Get)

		tradingG := api.Group("/trading")
		tradingG.Use(mw.Auth(cfg.Security, c), limit)
		tradingG.POST("/locks", tradingH.Lock)
		tradingG.POST("/unlock", tradingH.Unlock)
		tradingG.GET("/locks", tradingH.Locks)
		tradingG.GET("/npc/:name", tradingH.Catalog)
		tradingG.POST("/npc/:name/validate", tradingH.ValidateNPC)
		tradingG.GET("/npc/:name/suggest", tradingH.SuggestNPC)
		tradingG.POST("/npc/:name/execute", tradingH.ExecuteNPC)
		tradingG.POST("/proposals", tradingH.CreateProposal)
		tradingG.GET("/proposals", tradingH.ListProposals)
		tradingG.GET("/proposals/:id", tradingH.GetProposal)
		tradingG.POST("/proposals/:id/accept", tradingH.AcceptProposal)
		tradingG.DELETE("/proposals/:id", tradingH.CancelProposal)
		tradingG.GET("/history/:counterparty", tradingH.History)

		mintG := api.Group("/mint")
		mintG.Use(mw.Auth(cfg.Security, c), limit)
		mintG.POST("", mintH.Enqueue)
		mintG.POST("/batch", mintH.EnqueueBatch)
		mintG.GET("/status", mintH.Status)

		flowsG := api.Group("/flows")
		flowsG.Use(mw.Auth(cfg.Security, c), limit)
		flowsG.GET("", flowsH.List)
		flowsG.GET("/:id", flowsH.Get)
		flowsG.POST("/:id/cancel", flowsH.Cancel)

		notifG := api.Group("/notifications")
		notifG.Use(mw.Auth(cfg.Security, c), limit)
		notifG.GET("", notificationsH.List)
		notifG.POST("/:id/read", notificationsH.MarkRead)

		adminG := api.Group("/admin")
		adminG.Use(mw.IPWhitelist(cfg.Server.AdminIPs))
		adminG.Use(apirest.AdminAuth(cfg.Server.AdminKey))
		adminG.GET("/metrics", adminH.Metrics)
		adminG.POST("/sweep", adminH.Sweep)
		adminG.POST("/mint/:id", adminH.MintNow)
		adminG.GET("/activity", adminH.Activity)
		adminG.POST("/accounts/:id/ban", adminH.BanAccount)
		adminG.GET("/scheduler", adminH.ListSchedulerTasks)
	}

	// ---- SSE ----
	sseH := sse.NewHandler(pubsub, c, cfg.Security, logger)
	r.GET("/sse", sseH.ServeSSE)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info("Server listening", zap.String("addr", addr))
	if err := r.Run(addr); err != nil {
		log.Fatalf("server: %v", err)
	}
}

// defaultCatalogs seeds the built-in merchants. Catalog items are templates
// with stable ids so clients can reference them across restarts.
func defaultCatalogs() []*trade.Catalog {
	return []*trade.Catalog{
		{
			Name: "market-stall",
			Items: []model.Asset{
				{
					ID: "npc-market-hoe", Name: "Field Hoe", Kind: model.KindWeapon,
					Rarity: model.RarityCommon, Stats: model.StatsJSON([]int{10}),
				},
				{
					ID: "npc-market-scarecrow", Name: "Scarecrow Charm", Kind: model.KindArmor,
					Rarity: model.RarityCommon, Stats: model.StatsJSON([]int{15}),
				},
				{
					ID: "npc-market-feed", Name: "Animal Feed", Kind: model.KindConsumable,
					Rarity: model.RarityCommon, Stats: model.StatsJSON([]int{10}),
				},
				{
					ID: "npc-market-timber", Name: "Timber Bundle", Kind: model.KindResource,
					Rarity: model.RarityCommon, Stats: model.StatsJSON([]int{20}),
				},
			},
		},
		{
			Name: "traveling-trader",
			Items: []model.Asset{
				{
					ID: "npc-trader-sickle", Name: "Moonlit Sickle", Kind: model.KindWeapon,
					Rarity: model.RarityRare, Stats: model.StatsJSON([]int{25, 5}),
				},
				{
					ID: "npc-trader-cloak", Name: "Harvest Cloak", Kind: model.KindArmor,
					Rarity: model.RarityRare, Stats: model.StatsJSON([]int{30}),
				},
				{
					ID: "npc-trader-elixir", Name: "Golden Elixir", Kind: model.KindConsumable,
					Rarity: model.RarityEpic, Stats: model.StatsJSON([]int{40, 10}),
				},
			},
		},
	}
}
