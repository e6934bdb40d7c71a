// Package flow models every ledger-mutating operation as an inspectable
// step state machine with gas accounting. The coordinators and the mint
// queue run their ledger work through it so in-flight operations are
// addressable, cancellable, and renderable as UI progress.
package flow

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hoshinoume/terravale/server/errs"
	"github.com/hoshinoume/terravale/server/ledger"
	"go.uber.org/zap"
)

// Kind names a flow's operation family.
type Kind string

const (
	KindPurchase      Kind = "purchase"
	KindList          Kind = "list"
	KindCancelListing Kind = "cancel-listing"
	KindMint          Kind = "mint"
	KindCreateEscrow  Kind = "create-escrow"
	KindExecuteSwap   Kind = "execute-swap"
	KindCancelEscrow  Kind = "cancel-escrow"
)

// Status is a flow's lifecycle phase. Terminal statuses are final.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusConfirming Status = "confirming"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Step is one named unit of work. Function is the ledger entry function the
// production executor submits; Description feeds UI progress display only.
type Step struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Function    string `json:"function"`
}

// steps maps each kind to its fixed ordered step list.
var steps = map[Kind][]Step{
	KindPurchase: {
		{Name: "check-balance", Description: "Checking wallet balance", Function: "balance_of"},
		{Name: "submit-purchase", Description: "Submitting purchase", Function: "purchase"},
	},
	KindList: {
		{Name: "approve-transfer", Description: "Approving marketplace transfer", Function: "approve"},
		{Name: "create-listing", Description: "Creating listing", Function: "create_listing"},
	},
	KindCancelListing: {
		{Name: "cancel-listing", Description: "Cancelling listing", Function: "cancel_listing"},
	},
	KindMint: {
		{Name: "mint-asset", Description: "Registering item on the ledger", Function: "mint_asset"},
	},
	KindCreateEscrow: {
		{Name: "approve-escrow", Description: "Approving escrow transfer", Function: "approve"},
		{Name: "create-escrow", Description: "Placing items in escrow", Function: "create_escrow"},
	},
	KindExecuteSwap: {
		{Name: "create-escrow", Description: "Placing items in escrow", Function: "create_escrow"},
		// Point of no return: once execute_swap commits on the ledger,
		// ownership has changed regardless of what happens locally.
		{Name: "execute-swap", Description: "Executing swap", Function: "execute_swap"},
	},
	KindCancelEscrow: {
		{Name: "cancel-escrow", Description: "Releasing escrowed items", Function: "cancel_escrow"},
	},
}

// Steps returns the step list for kind, nil for unknown kinds.
func Steps(kind Kind) []Step {
	s, ok := steps[kind]
	if !ok {
		return nil
	}
	out := make([]Step, len(s))
	copy(out, s)
	return out
}

// Flow is one operation in flight. Snapshot copies are handed out; the
// engine owns the live record.
type Flow struct {
	ID            string                 `json:"id"`
	Kind          Kind                   `json:"kind"`
	Steps         []Step                 `json:"steps"`
	CurrentStep   int                    `json:"current_step"`
	Status        Status                 `json:"status"`
	StartedAt     time.Time              `json:"started_at"`
	EndedAt       *time.Time             `json:"ended_at,omitempty"`
	GasUsed       int64                  `json:"gas_used"`
	GasCost       int64                  `json:"gas_cost"`
	LedgerTxID    string                 `json:"ledger_tx_id,omitempty"`
	ObjectChanges []ledger.ObjectChange  `json:"object_changes,omitempty"`
	Events        []string               `json:"events,omitempty"`
	Error         string                 `json:"error,omitempty"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
}

// StepResult is what executing one step yields.
type StepResult struct {
	TxID          string
	GasUsed       int64
	ObjectChanges []ledger.ObjectChange
}

// StepExecutor runs one step's underlying call. Production submits through
// the ledger client; tests inject deterministic executors.
type StepExecutor interface {
	ExecuteStep(ctx context.Context, f *Flow, step Step) (*StepResult, error)
	// AwaitFinality blocks until txID is final. Called for the last step
	// while the flow shows confirming.
	AwaitFinality(ctx context.Context, txID string) error
}

// Config carries gas fallbacks for ledgers that do not report usage.
type Config struct {
	GasEstimates map[string]int64 // keyed by kind name
	GasPrice     int64
}

// Engine runs flows. Any number may be in flight concurrently; the flows
// map is the only shared state and is mutex-guarded.
type Engine struct {
	mu       sync.Mutex
	flows    map[string]*Flow
	executor StepExecutor
	cfg      Config
	logger   *zap.Logger
}

// NewEngine creates an Engine using executor for every step.
func NewEngine(executor StepExecutor, cfg Config, logger *zap.Logger) *Engine {
	if cfg.GasPrice <= 0 {
		cfg.GasPrice = 1
	}
	return &Engine{
		flows:    make(map[string]*Flow),
		executor: executor,
		cfg:      cfg,
		logger:   logger,
	}
}

// Execute creates a flow for kind and drives it to a terminal status. The
// returned snapshot reflects the final state. A failed step captures its
// error, sets endedAt, and stops the flow; committed ledger mutations are
// not rolled back.
func (e *Engine) Execute(ctx context.Context, kind Kind, payload map[string]interface{}) (*Flow, error) {
	stepList := Steps(kind)
	if stepList == nil {
		return nil, errs.Validationf("bad_kind", "unknown flow kind %q", kind)
	}

	f := &Flow{
		ID:          uuid.NewString(),
		Kind:        kind,
		Steps:       stepList,
		CurrentStep: -1,
		Status:      StatusPending,
		StartedAt:   time.Now(),
		Payload:     payload,
	}
	e.mu.Lock()
	e.flows[f.ID] = f
	e.mu.Unlock()

	e.logger.Info("flow started",
		zap.String("flow_id", f.ID), zap.String("kind", string(kind)))

	e.setStatus(f.ID, StatusProcessing)

	for i, step := range stepList {
		if !e.advance(f.ID, i) {
			// Cancelled between steps; discard late work.
			return e.Get(f.ID)
		}

		snap, _ := e.Get(f.ID)
		result, err := e.executor.ExecuteStep(ctx, snap, step)
		if err != nil {
			e.fail(f.ID, step, err)
			return e.Get(f.ID)
		}
		e.record(f.ID, step, result)

		last := i == len(stepList)-1
		if last && result.TxID != "" {
			if !e.transition(f.ID, StatusProcessing, StatusConfirming) {
				return e.Get(f.ID)
			}
			if err := e.executor.AwaitFinality(ctx, result.TxID); err != nil {
				e.fail(f.ID, step, err)
				return e.Get(f.ID)
			}
		}
	}

	e.complete(f.ID)
	return e.Get(f.ID)
}

// Get returns a snapshot of the flow, or a not_found error.
func (e *Engine) Get(id string) (*Flow, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f, ok := e.flows[id]
	if !ok {
		return nil, errs.Validationf(errs.CodeNotFound, "flow %s not found", id)
	}
	snap := *f
	snap.Steps = append([]Step(nil), f.Steps...)
	snap.Events = append([]string(nil), f.Events...)
	snap.ObjectChanges = append([]ledger.ObjectChange(nil), f.ObjectChanges...)
	return &snap, nil
}

// List returns snapshots of every flow, newest first.
func (e *Engine) List() []Flow {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Flow, 0, len(e.flows))
	for _, f := range e.flows {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Cancel marks the flow cancelled unless it already completed or failed.
// An in-flight ledger call is not interrupted; its late result is discarded
// because the flow is terminal by the time it lands.
func (e *Engine) Cancel(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	f, ok := e.flows[id]
	if !ok {
		return errs.Validationf(errs.CodeNotFound, "flow %s not found", id)
	}
	if f.Status == StatusCompleted || f.Status == StatusFailed {
		return errs.Conflictf(errs.CodeInvalidState,
			"flow %s is already %s", id, f.Status).With("status", string(f.Status))
	}
	if f.Status == StatusCancelled {
		return nil
	}
	f.Status = StatusCancelled
	now := time.Now()
	f.EndedAt = &now
	return nil
}

// SweepTerminal evicts terminal flows that ended more than retention ago,
// bounding the in-memory flow map. Returns how many were evicted. Run from
// the scheduler; callers that need a flow's outcome later read the trade
// record instead.
func (e *Engine) SweepTerminal(retention time.Duration) int {
	cutoff := time.Now().Add(-retention)
	e.mu.Lock()
	defer e.mu.Unlock()
	evicted := 0
	for id, f := range e.flows {
		if f.Status.Terminal() && f.EndedAt != nil && f.EndedAt.Before(cutoff) {
			delete(e.flows, id)
			evicted++
		}
	}
	return evicted
}

// ---- internal transitions; each takes the engine mutex ----

func (e *Engine) setStatus(id string, s Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if f, ok := e.flows[id]; ok && !f.Status.Terminal() {
		f.Status = s
	}
}

// advance bumps CurrentStep to idx. Returns false if the flow went terminal
// (cancelled) in the meantime.
func (e *Engine) advance(id string, idx int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	f, ok := e.flows[id]
	if !ok || f.Status.Terminal() {
		return false
	}
	f.CurrentStep = idx
	return true
}

func (e *Engine) transition(id string, from, to Status) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	f, ok := e.flows[id]
	if !ok || f.Status != from {
		return false
	}
	f.Status = to
	return true
}

func (e *Engine) record(id string, step Step, result *StepResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f, ok := e.flows[id]
	if !ok || f.Status.Terminal() {
		return
	}
	gas := result.GasUsed
	if gas <= 0 {
		gas = e.cfg.GasEstimates[string(f.Kind)]
	}
	f.GasUsed += gas
	f.GasCost = f.GasUsed * e.cfg.GasPrice
	if result.TxID != "" {
		f.LedgerTxID = result.TxID
	}
	f.ObjectChanges = append(f.ObjectChanges, result.ObjectChanges...)
	f.Events = append(f.Events, step.Name)
}

func (e *Engine) fail(id string, step Step, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f, ok := e.flows[id]
	if !ok || f.Status.Terminal() {
		// Late failure for a flow already terminal (e.g. cancelled while a
		// ledger call was in flight): drop it.
		return
	}
	f.Status = StatusFailed
	f.Error = err.Error()
	now := time.Now()
	f.EndedAt = &now
	e.logger.Warn("flow failed",
		zap.String("flow_id", id),
		zap.String("step", step.Name),
		zap.Error(err))
}

func (e *Engine) complete(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f, ok := e.flows[id]
	if !ok || f.Status.Terminal() {
		return
	}
	f.Status = StatusCompleted
	now := time.Now()
	f.EndedAt = &now
	e.logger.Info("flow completed",
		zap.String("flow_id", id),
		zap.Int64("gas_used", f.GasUsed))
}
