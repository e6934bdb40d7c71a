package trade

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hoshinoume/terravale/server/cache"
	"github.com/hoshinoume/terravale/server/errs"
	"github.com/hoshinoume/terravale/server/game/flow"
	"github.com/hoshinoume/terravale/server/game/lock"
	"github.com/hoshinoume/terravale/server/game/notify"
	"github.com/hoshinoume/terravale/server/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Proposal statuses.
const (
	ProposalPending   = "pending"
	ProposalCompleted = "completed"
	ProposalCancelled = "cancelled"
	ProposalExpired   = "expired"
)

// settleGuardTTL bounds how long a proposal stays claimed by one accept
// attempt before the guard key lapses.
const settleGuardTTL = 30 * time.Second

// Proposal is one open player-to-player trade offer. An empty Target means
// any player may accept. Proposer items are locked for the proposal's whole
// lifetime; the keys never leave the coordinator.
type Proposal struct {
	ID             string    `json:"id"`
	Proposer       string    `json:"proposer"`
	Target         string    `json:"target,omitempty"`
	OfferedItems   []string  `json:"offered_items"`
	RequestedItems []string  `json:"requested_items"`
	Message        string    `json:"message,omitempty"`
	Status         string    `json:"status"`
	AcceptedBy     string    `json:"accepted_by,omitempty"`
	FlowID         string    `json:"flow_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`

	keys []*lock.Key

	// settling marks a proposal claimed by an in-flight Accept. Cancel and
	// the expiry sweep refuse to touch a claimed proposal, so a settlement
	// flow's result can never race a terminal transition.
	settling bool

	// resolvedAt is set on the terminal transition; the retention sweep
	// evicts terminal proposals past their retention window.
	resolvedAt time.Time
}

func (p *Proposal) snapshot() *Proposal {
	cp := *p
	cp.keys = nil
	cp.OfferedItems = append([]string(nil), p.OfferedItems...)
	cp.RequestedItems = append([]string(nil), p.RequestedItems...)
	return &cp
}

// Marketplace coordinates player-to-player trades through proposals.
type Marketplace struct {
	mu        sync.Mutex
	proposals map[string]*Proposal

	db       *gorm.DB
	engine   *Engine
	locks    *lock.Manager
	flows    *flow.Engine
	inv      InventoryWriter
	history  *History
	notifier *notify.Notifier
	cache    cache.Cache
	ttl      time.Duration
	logger   *zap.Logger
}

// NewMarketplace creates a Marketplace. proposalTTL bounds how long an
// unanswered proposal holds its locks.
func NewMarketplace(
	db *gorm.DB,
	engine *Engine,
	locks *lock.Manager,
	flows *flow.Engine,
	inventory InventoryWriter,
	history *History,
	notifier *notify.Notifier,
	c cache.Cache,
	proposalTTL time.Duration,
	logger *zap.Logger,
) *Marketplace {
	if proposalTTL <= 0 {
		proposalTTL = 24 * time.Hour
	}
	return &Marketplace{
		proposals: make(map[string]*Proposal),
		db:        db,
		engine:    engine,
		locks:     locks,
		flows:     flows,
		inv:       inventory,
		history:   history,
		notifier:  notifier,
		cache:     c,
		ttl:       proposalTTL,
		logger:    logger,
	}
}

// Create validates and opens a proposal, locking the proposer's items for
// its lifetime. With a target set, requested items are validated against the
// target's inventory; open proposals defer that check to Accept.
func (m *Marketplace) Create(ctx context.Context, proposer string, offeredIDs, requestedIDs []string, target, message string) (*Proposal, error) {
	var available map[string]*model.Asset
	if target != "" {
		if target == proposer {
			return nil, errs.Validationf(errs.CodeInvalidState, "cannot trade with yourself")
		}
		inv, err := m.engine.inv.PlayerInventory(ctx, target)
		if err != nil {
			return nil, err
		}
		available = make(map[string]*model.Asset, len(inv))
		for i := range inv {
			available[inv[i].ID] = &inv[i]
		}
		result, err := m.engine.Validate(ctx, proposer, offeredIDs, requestedIDs, available)
		if err != nil {
			return nil, err
		}
		if !result.Valid {
			return nil, errs.Validationf(result.Error, "proposal rejected: %s", result.Detail).
				With("difference", result.Difference)
		}
	} else {
		// Open proposal: only the proposer's side can be checked now.
		if err := m.engine.ValidateOffered(ctx, proposer, offeredIDs); err != nil {
			return nil, err
		}
		if len(requestedIDs) == 0 || len(requestedIDs) > m.engine.cfg.MaxSlots {
			return nil, errs.Validationf(errs.CodeUnbalanced, "requested items must fill 1 to %d slots", m.engine.cfg.MaxSlots)
		}
	}

	keys, err := m.locks.LockMany(offeredIDs, proposer)
	if err != nil {
		m.locks.UnlockAll(keys)
		return nil, err
	}

	now := time.Now()
	p := &Proposal{
		ID:             uuid.NewString(),
		Proposer:       proposer,
		Target:         target,
		OfferedItems:   append([]string(nil), offeredIDs...),
		RequestedItems: append([]string(nil), requestedIDs...),
		Message:        message,
		Status:         ProposalPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.ttl),
		keys:           keys,
	}
	m.mu.Lock()
	m.proposals[p.ID] = p
	m.mu.Unlock()

	if target != "" {
		m.notifier.Notify(target, "Trade proposal received",
			proposer+" wants to trade with you", &notify.Action{
				Kind:    "view-proposal",
				Payload: map[string]interface{}{"proposal_id": p.ID},
			})
	}
	m.logger.Info("proposal created",
		zap.String("proposal_id", p.ID),
		zap.String("proposer", proposer),
		zap.String("target", target))
	return p.snapshot(), nil
}

// Accept settles a pending proposal for acceptor. A cache guard serializes
// concurrent attempts on the same proposal; the loser gets a conflict error.
func (m *Marketplace) Accept(ctx context.Context, acceptor, proposalID string) (*model.TradeRecord, error) {
	ok, err := m.cache.SetNX(ctx, "settle:"+proposalID, acceptor, settleGuardTTL)
	if err != nil {
		return nil, errs.Externalf(errs.CodeLedger, err, "settlement guard unavailable")
	}
	if !ok {
		return nil, errs.Conflictf(errs.CodeInvalidState, "proposal %s is being settled", proposalID)
	}
	defer func() {
		if err := m.cache.Del(ctx, "settle:"+proposalID); err != nil {
			m.logger.Warn("settlement guard release failed",
				zap.String("proposal_id", proposalID), zap.Error(err))
		}
	}()

	m.mu.Lock()
	p, found := m.proposals[proposalID]
	if !found {
		m.mu.Unlock()
		return nil, errs.Validationf(errs.CodeNotFound, "proposal %s not found", proposalID)
	}
	if p.Status != ProposalPending {
		status := p.Status
		m.mu.Unlock()
		return nil, errs.Conflictf(errs.CodeInvalidState, "proposal is %s", status)
	}
	if time.Now().After(p.ExpiresAt) {
		p.Status = ProposalExpired
		p.resolvedAt = time.Now()
		keys := p.keys
		p.keys = nil
		m.mu.Unlock()
		m.locks.UnlockAll(keys)
		return nil, errs.Conflictf(errs.CodeInvalidState, "proposal has expired")
	}
	if p.Target != "" && p.Target != acceptor {
		m.mu.Unlock()
		return nil, errs.Validationf(errs.CodeInvalidState, "proposal is directed at another player")
	}
	if p.Proposer == acceptor {
		m.mu.Unlock()
		return nil, errs.Validationf(errs.CodeInvalidState, "cannot accept your own proposal")
	}
	p.settling = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		p.settling = false
		m.mu.Unlock()
	}()

	// Validate from the acceptor's side: they give the requested items and
	// receive the offered ones, so the balance check is symmetric with the
	// proposer's view. The proposer's items are exempt from the lock check
	// since the proposal itself holds those locks.
	available, err := m.proposerSide(ctx, p)
	if err != nil {
		return nil, err
	}
	result, err := m.engine.Validate(ctx, acceptor, p.RequestedItems, p.OfferedItems, available)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		return nil, errs.Validationf(result.Error, "acceptance rejected: %s", result.Detail).
			With("difference", result.Difference)
	}

	acceptorKeys, err := m.locks.LockMany(p.RequestedItems, acceptor)
	if err != nil {
		// This attempt's partial locks are released; the proposal and the
		// proposer's locks stay intact for another attempt.
		m.locks.UnlockAll(acceptorKeys)
		return nil, err
	}

	f, ferr := m.flows.Execute(ctx, flow.KindExecuteSwap, map[string]interface{}{
		"proposal_id": p.ID,
		"proposer":    p.Proposer,
		"acceptor":    acceptor,
		"offered":     p.OfferedItems,
		"requested":   p.RequestedItems,
	})
	if ferr != nil || f.Status != flow.StatusCompleted {
		m.locks.UnlockAll(acceptorKeys)
		m.finish(p, ProposalCancelled, acceptor, flowID(f))
		rec := m.record(ctx, p, acceptor, result, model.TradeCancelled, flowID(f))
		m.notifier.Publish(notify.EventTradeCancelled, map[string]interface{}{
			"proposal_id": p.ID,
			"proposer":    p.Proposer,
			"acceptor":    acceptor,
		})
		if ferr != nil {
			return rec, ferr
		}
		return rec, errs.Externalf(errs.CodeLedger, nil, "swap flow %s: %s", f.Status, f.Error).
			With("flow_id", f.ID)
	}

	// Commit the terminal status before moving ownership. A proposal that
	// reached a terminal state through any other path keeps it and the
	// settlement result is discarded.
	if !m.finish(p, ProposalCompleted, acceptor, f.ID) {
		m.locks.UnlockAll(acceptorKeys)
		return nil, errs.Conflictf(errs.CodeInvalidState, "proposal is %s", m.status(p))
	}

	if err := m.inv.Transfer(ctx, p.OfferedItems, acceptor); err != nil {
		m.logger.Error("offered transfer failed after settlement",
			zap.String("proposal_id", p.ID), zap.Error(err))
	}
	if err := m.inv.Transfer(ctx, p.RequestedItems, p.Proposer); err != nil {
		m.logger.Error("requested transfer failed after settlement",
			zap.String("proposal_id", p.ID), zap.Error(err))
	}

	m.locks.UnlockAll(acceptorKeys)

	rec := m.record(ctx, p, acceptor, result, model.TradeCompleted, f.ID)
	now := time.Now()
	m.history.Append(ctx, HistoryEntry{
		ProposalID:    p.ID,
		Proposer:      p.Proposer,
		Counterparty:  acceptor,
		OfferedItems:  p.OfferedItems,
		ReceivedItems: p.RequestedItems,
		Status:        model.TradeCompleted,
		At:            now,
	})
	m.history.Append(ctx, HistoryEntry{
		ProposalID:    p.ID,
		Proposer:      acceptor,
		Counterparty:  p.Proposer,
		OfferedItems:  p.RequestedItems,
		ReceivedItems: p.OfferedItems,
		Status:        model.TradeCompleted,
		At:            now,
	})
	m.notifier.Publish(notify.EventTradeCompleted, map[string]interface{}{
		"proposal_id": p.ID,
		"proposer":    p.Proposer,
		"acceptor":    acceptor,
		"flow_id":     f.ID,
	})
	m.notifier.Notify(p.Proposer, "Trade completed",
		acceptor+" accepted your proposal", &notify.Action{
			Kind:    "view-trade",
			Payload: map[string]interface{}{"proposal_id": p.ID},
		})
	return rec, nil
}

// Cancel withdraws a pending proposal. Only the proposer may cancel; the
// proposer's locks are released synchronously.
func (m *Marketplace) Cancel(ctx context.Context, proposer, proposalID string) error {
	m.mu.Lock()
	p, found := m.proposals[proposalID]
	if !found {
		m.mu.Unlock()
		return errs.Validationf(errs.CodeNotFound, "proposal %s not found", proposalID)
	}
	if p.Proposer != proposer {
		m.mu.Unlock()
		return errs.Validationf(errs.CodeInvalidState, "only the proposer can cancel")
	}
	if p.Status != ProposalPending {
		status := p.Status
		m.mu.Unlock()
		return errs.Conflictf(errs.CodeInvalidState, "proposal is %s", status)
	}
	if p.settling {
		m.mu.Unlock()
		return errs.Conflictf(errs.CodeInvalidState, "proposal %s is being settled", proposalID)
	}
	p.Status = ProposalCancelled
	p.resolvedAt = time.Now()
	keys := p.keys
	p.keys = nil
	m.mu.Unlock()

	m.locks.UnlockAll(keys)
	m.notifier.Publish(notify.EventTradeCancelled, map[string]interface{}{
		"proposal_id": p.ID,
		"proposer":    proposer,
		"reason":      "cancelled",
	})
	m.logger.Info("proposal cancelled", zap.String("proposal_id", proposalID))
	return nil
}

// Get returns a snapshot of one proposal.
func (m *Marketplace) Get(proposalID string) (*Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, found := m.proposals[proposalID]
	if !found {
		return nil, errs.Validationf(errs.CodeNotFound, "proposal %s not found", proposalID)
	}
	return p.snapshot(), nil
}

// List returns proposals newest first. Empty filter values match anything.
// A wallet matches as proposer, explicit target, or any open proposal.
func (m *Marketplace) List(status, wallet string) []Proposal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Proposal, 0, len(m.proposals))
	for _, p := range m.proposals {
		if status != "" && p.Status != status {
			continue
		}
		if wallet != "" && p.Proposer != wallet && p.Target != wallet && p.Target != "" {
			continue
		}
		out = append(out, *p.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// SweepExpired moves past-deadline pending proposals to expired and releases
// their locks. Returns how many were expired. Run from the scheduler.
func (m *Marketplace) SweepExpired() int {
	now := time.Now()
	var expired []*Proposal
	m.mu.Lock()
	for _, p := range m.proposals {
		if p.Status == ProposalPending && !p.settling && now.After(p.ExpiresAt) {
			p.Status = ProposalExpired
			p.resolvedAt = now
			expired = append(expired, p)
		}
	}
	m.mu.Unlock()

	for _, p := range expired {
		m.locks.UnlockAll(p.keys)
		p.keys = nil
		m.notifier.Publish(notify.EventTradeCancelled, map[string]interface{}{
			"proposal_id": p.ID,
			"proposer":    p.Proposer,
			"reason":      "expired",
		})
		m.notifier.Notify(p.Proposer, "Trade proposal expired",
			"your proposal was not accepted in time", nil)
	}
	if len(expired) > 0 {
		m.logger.Info("proposals expired", zap.Int("count", len(expired)))
	}
	return len(expired)
}

// SweepTerminal evicts completed, cancelled, and expired proposals that went
// terminal more than retention ago. The in-memory map only has to carry live
// proposals plus a short tail of resolved ones; the durable trade record in
// the DB outlives eviction. Returns how many were evicted.
func (m *Marketplace) SweepTerminal(retention time.Duration) int {
	cutoff := time.Now().Add(-retention)
	evicted := 0
	m.mu.Lock()
	for id, p := range m.proposals {
		if p.Status == ProposalPending {
			continue
		}
		if !p.resolvedAt.IsZero() && p.resolvedAt.Before(cutoff) {
			delete(m.proposals, id)
			evicted++
		}
	}
	m.mu.Unlock()
	if evicted > 0 {
		m.logger.Info("terminal proposals evicted", zap.Int("count", evicted))
	}
	return evicted
}

// proposerSide loads the proposer's current inventory as a lookup set,
// confirming the offered items are still intact.
func (m *Marketplace) proposerSide(ctx context.Context, p *Proposal) (map[string]*model.Asset, error) {
	inv, err := m.engine.inv.PlayerInventory(ctx, p.Proposer)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*model.Asset, len(inv))
	for i := range inv {
		out[inv[i].ID] = &inv[i]
	}
	return out, nil
}

// finish moves p to a terminal status and releases the proposer's locks.
// The transition only fires from pending; a proposal that is already
// terminal is left untouched and finish reports false.
func (m *Marketplace) finish(p *Proposal, status, acceptor, fid string) bool {
	m.mu.Lock()
	if p.Status != ProposalPending {
		m.mu.Unlock()
		return false
	}
	p.Status = status
	p.AcceptedBy = acceptor
	p.FlowID = fid
	p.resolvedAt = time.Now()
	keys := p.keys
	p.keys = nil
	m.mu.Unlock()
	m.locks.UnlockAll(keys)
	return true
}

func (m *Marketplace) status(p *Proposal) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return p.Status
}

func (m *Marketplace) record(ctx context.Context, p *Proposal, acceptor string, v *ValidationResult, status, fid string) *model.TradeRecord {
	rec := &model.TradeRecord{
		ProposalID:   p.ID,
		Proposer:     p.Proposer,
		Counterparty: acceptor,
		// From the stored proposal's point of view: what the proposer gave
		// and what they received.
		OfferedItems:  model.StringsJSON(p.OfferedItems),
		ReceivedItems: model.StringsJSON(p.RequestedItems),
		OfferedValue:  v.RequestedValue,
		ReceivedValue: v.OfferedValue,
		Status:        status,
		FlowID:        fid,
	}
	if err := m.db.WithContext(ctx).Create(rec).Error; err != nil {
		m.logger.Warn("trade record write failed", zap.Error(err))
	}
	return rec
}
