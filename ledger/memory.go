package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryLedger is an in-process Client used when no RPC address is
// configured (development and tests). Every call succeeds, object ids are
// fabricated, and finality is immediate. Failures can be scripted per
// function name so error paths stay testable.
type MemoryLedger struct {
	mu      sync.Mutex
	gas     int64
	objects map[string]OwnedObject // objectID → object
	txs     map[string]bool        // txID → finalized
	fail    map[string]string      // function → error message
	calls   []Call
}

// NewMemoryLedger creates a MemoryLedger charging gasPerCall per submission.
func NewMemoryLedger(gasPerCall int64) *MemoryLedger {
	return &MemoryLedger{
		gas:     gasPerCall,
		objects: make(map[string]OwnedObject),
		txs:     make(map[string]bool),
		fail:    make(map[string]string),
	}
}

// FailWith makes every subsequent call to function fail with msg.
// An empty msg clears the script.
func (m *MemoryLedger) FailWith(function, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg == "" {
		delete(m.fail, function)
		return
	}
	m.fail[function] = msg
}

// Calls returns a copy of every submitted call, in order.
func (m *MemoryLedger) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MemoryLedger) Submit(ctx context.Context, call Call) (*SubmitResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := CheckSigner(call.Signer); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)

	if msg, ok := m.fail[call.Function]; ok {
		return &SubmitResult{
			TxID:    uuid.NewString(),
			Success: false,
			GasUsed: m.gas,
			Error:   msg,
		}, nil
	}

	txID := uuid.NewString()
	m.txs[txID] = true
	result := &SubmitResult{TxID: txID, Success: true, GasUsed: m.gas}

	// Minting fabricates a new owned object so registries have something
	// real to map.
	if strings.HasPrefix(call.Function, "mint") {
		obj := OwnedObject{
			ObjectID: fmt.Sprintf("0x%s", strings.ReplaceAll(uuid.NewString(), "-", "")),
			Type:     call.Module + "::Asset",
			Owner:    call.Signer.Address(),
		}
		m.objects[obj.ObjectID] = obj
		result.ObjectChanges = []ObjectChange{{
			Kind:     "created",
			ObjectID: obj.ObjectID,
			Owner:    obj.Owner,
			Type:     obj.Type,
		}}
	}
	return result, nil
}

func (m *MemoryLedger) WaitForFinality(ctx context.Context, txID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.txs[txID] {
		return fmt.Errorf("ledger: unknown tx %s", txID)
	}
	return nil
}

func (m *MemoryLedger) QueryOwnedAssets(ctx context.Context, owner, typeFilter string) ([]OwnedObject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []OwnedObject
	for _, obj := range m.objects {
		if obj.Owner != owner {
			continue
		}
		if typeFilter != "" && obj.Type != typeFilter {
			continue
		}
		out = append(out, obj)
	}
	return out, nil
}
