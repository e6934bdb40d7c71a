package flow

import (
	"context"

	"github.com/hoshinoume/terravale/server/errs"
	"github.com/hoshinoume/terravale/server/ledger"
)

// LedgerExecutor is the production StepExecutor: each step becomes one
// signed ledger call.
type LedgerExecutor struct {
	client ledger.Client
	pkg    string
	module string
	signer ledger.Signer
}

// NewLedgerExecutor creates a LedgerExecutor submitting against the given
// package/module with signer.
func NewLedgerExecutor(client ledger.Client, pkg, module string, signer ledger.Signer) *LedgerExecutor {
	return &LedgerExecutor{client: client, pkg: pkg, module: module, signer: signer}
}

func (x *LedgerExecutor) ExecuteStep(ctx context.Context, f *Flow, step Step) (*StepResult, error) {
	if err := ledger.CheckSigner(x.signer); err != nil {
		return nil, err
	}
	args := []interface{}{f.Payload}
	result, err := x.client.Submit(ctx, ledger.Call{
		Package:  x.pkg,
		Module:   x.module,
		Function: step.Function,
		Args:     args,
		Signer:   x.signer,
	})
	if err != nil {
		return nil, errs.Externalf(errs.CodeLedger, err, "submit %s", step.Function)
	}
	if !result.Success {
		return nil, errs.Externalf(errs.CodeLedger, nil, "%s rejected: %s", step.Function, result.Error)
	}
	return &StepResult{
		TxID:          result.TxID,
		GasUsed:       result.GasUsed,
		ObjectChanges: result.ObjectChanges,
	}, nil
}

func (x *LedgerExecutor) AwaitFinality(ctx context.Context, txID string) error {
	if err := x.client.WaitForFinality(ctx, txID); err != nil {
		return errs.Externalf(errs.CodeLedger, err, "await finality for %s", txID)
	}
	return nil
}
