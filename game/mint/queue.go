package mint

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hoshinoume/terravale/server/errs"
	"github.com/hoshinoume/terravale/server/game/asset"
	"github.com/hoshinoume/terravale/server/game/flow"
	"github.com/hoshinoume/terravale/server/game/notify"
	"github.com/hoshinoume/terravale/server/model"
	"go.uber.org/zap"
)

// Config sizes the queue and paces the worker.
type Config struct {
	QueueSize   int
	JobInterval time.Duration // pause between consecutive mints
	Collection  string        // on-ledger type the minted tokens belong to
}

// job is one queued mint request.
type job struct {
	assetID  string
	enqueued time.Time
}

// Queue mints game items onto the ledger one at a time. A single worker
// drains the channel in FIFO order with a throttle between jobs, so a burst
// of harvests never floods the ledger endpoint. Duplicate requests for an
// asset that is already minted or already queued are dropped.
type Queue struct {
	cfg      Config
	jobs     chan job
	inv      *asset.Inventory
	registry asset.Registry
	flows    *flow.Engine
	notifier *notify.Notifier
	logger   *zap.Logger

	mu       sync.Mutex
	inFlight map[string]bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	dropped int64
}

// NewQueue creates a mint queue. Call Start to launch the worker.
func NewQueue(cfg Config, inv *asset.Inventory, registry asset.Registry, flows *flow.Engine, notifier *notify.Notifier, logger *zap.Logger) *Queue {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.JobInterval <= 0 {
		cfg.JobInterval = time.Second
	}
	return &Queue{
		cfg:      cfg,
		jobs:     make(chan job, cfg.QueueSize),
		inv:      inv,
		registry: registry,
		flows:    flows,
		notifier: notifier,
		logger:   logger,
		inFlight: make(map[string]bool),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (q *Queue) Start(ctx context.Context) {
	go q.run(ctx)
}

// Stop drains nothing: the worker exits after its current job.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stop) })
	<-q.done
}

// Enqueue queues assetID for minting. Already-minted and already-queued
// assets are ignored without error; a full queue drops the request and
// reports a conflict so the caller can retry later.
func (q *Queue) Enqueue(assetID string) error {
	if q.registry.IsRegistered(assetID) {
		return nil
	}
	q.mu.Lock()
	if q.inFlight[assetID] {
		q.mu.Unlock()
		return nil
	}
	q.inFlight[assetID] = true
	q.mu.Unlock()

	select {
	case q.jobs <- job{assetID: assetID, enqueued: time.Now()}:
		return nil
	default:
		q.mu.Lock()
		delete(q.inFlight, assetID)
		q.dropped++
		dropped := q.dropped
		q.mu.Unlock()
		q.logger.Warn("mint queue full, request dropped",
			zap.String("asset_id", assetID), zap.Int64("dropped_total", dropped))
		return errs.Conflictf(errs.CodeInvalidState, "mint queue is full")
	}
}

// EnqueueBatch queues every id, collecting per-id failures into one error.
func (q *Queue) EnqueueBatch(assetIDs []string) error {
	var failed []string
	for _, id := range assetIDs {
		if err := q.Enqueue(id); err != nil {
			failed = append(failed, id)
		}
	}
	if len(failed) > 0 {
		return errs.Conflictf(errs.CodeInvalidState, "dropped %d of %d mint requests: %s",
			len(failed), len(assetIDs), strings.Join(failed, ", "))
	}
	return nil
}

// MintNow mints synchronously, bypassing the queue and its throttle. Meant
// for admin and test paths; gameplay goes through Enqueue.
func (q *Queue) MintNow(ctx context.Context, assetID string) (string, error) {
	if tokenID, ok := q.registry.TokenID(assetID); ok {
		return tokenID, nil
	}
	return q.mint(ctx, assetID)
}

// Pending reports how many jobs are queued or being minted.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inFlight)
}

// Dropped reports how many requests have been dropped since start.
func (q *Queue) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)
	throttle := time.NewTicker(q.cfg.JobInterval)
	defer throttle.Stop()

	for {
		select {
		case <-q.stop:
			return
		case <-ctx.Done():
			return
		case j := <-q.jobs:
			if _, err := q.mint(ctx, j.assetID); err != nil {
				q.logger.Error("mint failed",
					zap.String("asset_id", j.assetID),
					zap.Duration("queued_for", time.Since(j.enqueued)),
					zap.Error(err))
			}
			select {
			case <-throttle.C:
			case <-q.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

// mint runs the mint flow for one asset and records the resulting token.
func (q *Queue) mint(ctx context.Context, assetID string) (string, error) {
	defer func() {
		q.mu.Lock()
		delete(q.inFlight, assetID)
		q.mu.Unlock()
	}()

	a, err := q.inv.ItemByID(ctx, assetID)
	if err != nil {
		return "", err
	}
	if a.Minted() {
		return a.TokenID, nil
	}

	f, err := q.flows.Execute(ctx, flow.KindMint, map[string]interface{}{
		"asset_id":   a.ID,
		"owner":      a.Owner,
		"kind":       a.Kind,
		"rarity":     a.Rarity,
		"stats":      model.StatsOf(a),
		"collection": q.cfg.Collection,
	})
	if err != nil {
		return "", err
	}
	if f.Status != flow.StatusCompleted {
		return "", errs.Externalf(errs.CodeLedger, nil, "mint flow %s: %s", f.Status, f.Error).
			With("flow_id", f.ID)
	}

	tokenID := createdToken(f, q.cfg.Collection)
	if tokenID == "" {
		return "", errs.Externalf(errs.CodeLedger, nil, "mint flow %s produced no token object", f.ID)
	}

	if err := q.registry.Register(a.ID, tokenID); err != nil {
		return "", err
	}
	if err := q.inv.MarkMinted(ctx, a.ID, tokenID); err != nil {
		return "", err
	}

	q.notifier.Publish(notify.EventAssetMinted, map[string]interface{}{
		"asset_id": a.ID,
		"token_id": tokenID,
		"owner":    a.Owner,
		"flow_id":  f.ID,
	})
	q.notifier.Notify(a.Owner, "Item minted",
		"your item is now on the ledger", &notify.Action{
			Kind:    "view-item",
			Payload: map[string]interface{}{"asset_id": a.ID, "token_id": tokenID},
		})
	q.logger.Info("asset minted",
		zap.String("asset_id", a.ID),
		zap.String("token_id", tokenID),
		zap.Int64("gas_used", f.GasUsed))
	return tokenID, nil
}

// createdToken picks the minted token out of the flow's object changes:
// the first created object whose type matches the collection, or the first
// created object at all when no collection is configured.
func createdToken(f *flow.Flow, collection string) string {
	for _, c := range f.ObjectChanges {
		if c.Kind != "created" {
			continue
		}
		if collection == "" || strings.Contains(c.Type, collection) {
			return c.ObjectID
		}
	}
	for _, c := range f.ObjectChanges {
		if c.Kind == "created" {
			return c.ObjectID
		}
	}
	return ""
}
